package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const providerGemini = "gemini"

var errNoGeminiKeys = errors.New("no gemini keys provided")

// configuredKeys trims and dedupes keys, keeping the first position of each.
func configuredKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// SyncGeminiKeys makes the api_keys table mirror the configured key list: listed
// keys get their position as priority, keys no longer listed are deleted.
// Cooldowns of surviving keys are kept.
func (r *PostgresRepository) SyncGeminiKeys(ctx context.Context, keys []string) error {
	keys = configuredKeys(keys)
	if len(keys) == 0 {
		return errNoGeminiKeys
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const upsert = `
INSERT INTO api_keys (provider, value, priority)
VALUES ($1, $2, $3)
ON CONFLICT (provider, value) DO UPDATE
SET priority = EXCLUDED.priority,
    updated_at = NOW();`
		for priority, key := range keys {
			if _, err := tx.Exec(ctx, upsert, providerGemini, key, priority); err != nil {
				return fmt.Errorf("upsert gemini key %d: %w", priority, err)
			}
		}

		const retire = `DELETE FROM api_keys WHERE provider = $1 AND NOT (value = ANY($2));`
		ct, err := tx.Exec(ctx, retire, providerGemini, keys)
		if err != nil {
			return fmt.Errorf("retire gemini keys: %w", err)
		}
		if n := ct.RowsAffected(); n > 0 {
			r.logger.Info("retired gemini keys no longer configured", "count", n)
		}
		return nil
	})
}

// ListActiveGeminiKeys returns every configured Gemini key, highest priority first.
// Keys in cooldown are included; callers skip them.
func (r *PostgresRepository) ListActiveGeminiKeys(ctx context.Context) ([]APIKey, error) {
	const q = `
SELECT id, provider, value, priority, cooldown_until, created_at, updated_at
FROM api_keys
WHERE provider = $1
ORDER BY priority, created_at;
`
	rows, err := r.pool.Query(ctx, q, providerGemini)
	if err != nil {
		return nil, fmt.Errorf("list gemini keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (APIKey, error) {
		var k APIKey
		err := row.Scan(&k.ID, &k.Provider, &k.Value, &k.Priority, &k.CooldownUntil, &k.CreatedAt, &k.UpdatedAt)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan gemini keys: %w", err)
	}
	return keys, nil
}

// ClearCooldown makes a key usable again.
func (r *PostgresRepository) ClearCooldown(ctx context.Context, id string) error {
	return r.setCooldown(ctx, id, nil)
}

// SetCooldownUntil parks a key until the given instant.
func (r *PostgresRepository) SetCooldownUntil(ctx context.Context, id string, until time.Time) error {
	u := until.UTC()
	return r.setCooldown(ctx, id, &u)
}

func (r *PostgresRepository) setCooldown(ctx context.Context, id string, until *time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE api_keys SET cooldown_until = $2, updated_at = NOW() WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("update cooldown of key %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
