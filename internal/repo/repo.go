package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to Supabase (Postgres) resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	// Supabase's pooler does not keep prepared statements between checkouts.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the postgres/ migrations of filesystem.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	return ApplyMigrations(ctx, r.pool, sub)
}

// UpsertUserByWA stores or updates the user profile based on WhatsApp ID.
func (r *PostgresRepository) UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (wa_id, wa_jid, display_name, phone_number, timezone, updated_at)
VALUES ($1, $2, $3, $4, COALESCE($5, 'America/Sao_Paulo'), NOW())
ON CONFLICT (wa_id) DO UPDATE SET
    wa_jid = COALESCE(EXCLUDED.wa_jid, users.wa_jid),
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    phone_number = COALESCE(EXCLUDED.phone_number, users.phone_number),
    timezone = COALESCE($5, users.timezone),
    updated_at = NOW()
RETURNING id, wa_id, wa_jid, display_name, phone_number, timezone, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q,
		profile.WAID,
		profile.WAJID,
		profile.DisplayName,
		profile.PhoneNumber,
		profile.Timezone,
	)

	var u User
	if err := row.Scan(&u.ID, &u.WAID, &u.WAJID, &u.DisplayName, &u.PhoneNumber, &u.Timezone, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// GetUserByWA returns the user linked to a WhatsApp ID.
func (r *PostgresRepository) GetUserByWA(ctx context.Context, waID string) (*User, error) {
	const q = `
SELECT id, wa_id, wa_jid, display_name, phone_number, timezone, created_at, updated_at
FROM users
WHERE wa_id = $1
LIMIT 1;
`
	var u User
	err := r.pool.QueryRow(ctx, q, waID).Scan(&u.ID, &u.WAID, &u.WAJID, &u.DisplayName, &u.PhoneNumber, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by wa: %w", err)
	}
	return &u, nil
}

// LinkWhatsApp moves a WhatsApp ID onto an existing user. It is the only user field updated in place.
func (r *PostgresRepository) LinkWhatsApp(ctx context.Context, userID, waID string) error {
	const q = `UPDATE users SET wa_id = $2, updated_at = NOW() WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, userID, waID)
	if err != nil {
		return fmt.Errorf("link whatsapp: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("link whatsapp %s: %w", userID, ErrNotFound)
	}
	return nil
}

// InsertMessage stores a message record for auditing purposes.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	payload, err := toJSON(msg.RawPayload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO messages (user_id, direction, message_type, content, raw_payload)
VALUES ($1, $2, $3, $4, $5);
`
	_, err = r.pool.Exec(ctx, q,
		msg.UserID,
		msg.Direction,
		msg.Type,
		msg.Content,
		jsonParam(payload),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func jsonParam(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}
