package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Users --

func (r *SQLiteRepository) UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (id, wa_id, wa_jid, display_name, phone_number, timezone, updated_at)
VALUES (?, ?, ?, ?, ?, COALESCE(?, 'America/Sao_Paulo'), CURRENT_TIMESTAMP)
ON CONFLICT (wa_id) DO UPDATE SET
    wa_jid = COALESCE(excluded.wa_jid, users.wa_jid),
    display_name = COALESCE(excluded.display_name, users.display_name),
    phone_number = COALESCE(excluded.phone_number, users.phone_number),
    timezone = COALESCE(?, users.timezone),
    updated_at = CURRENT_TIMESTAMP
RETURNING id, wa_id, wa_jid, display_name, phone_number, timezone, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		profile.WAID,
		profile.WAJID,
		profile.DisplayName,
		profile.PhoneNumber,
		profile.Timezone,
		profile.Timezone,
	)

	var u User
	if err := row.Scan(&u.ID, &u.WAID, &u.WAJID, &u.DisplayName, &u.PhoneNumber, &u.Timezone, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) GetUserByWA(ctx context.Context, waID string) (*User, error) {
	const q = `
SELECT id, wa_id, wa_jid, display_name, phone_number, timezone, created_at, updated_at
FROM users
WHERE wa_id = ?
LIMIT 1;
`
	var u User
	err := r.db.QueryRowContext(ctx, q, waID).Scan(&u.ID, &u.WAID, &u.WAJID, &u.DisplayName, &u.PhoneNumber, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by wa: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) LinkWhatsApp(ctx context.Context, userID, waID string) error {
	const q = `UPDATE users SET wa_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, waID, userID)
	if err != nil {
		return fmt.Errorf("link whatsapp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link whatsapp %s: %w", userID, ErrNotFound)
	}
	return nil
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	payload, err := toJSON(msg.RawPayload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO messages (id, user_id, direction, message_type, content, raw_payload)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q,
		uuid.NewString(),
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

// -- API Keys --

func (r *SQLiteRepository) SyncGeminiKeys(ctx context.Context, keys []string) error {
	keys = configuredKeys(keys)
	if len(keys) == 0 {
		return errNoGeminiKeys
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin key sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
INSERT INTO api_keys (id, provider, value, priority, cooldown_until)
VALUES (?, ?, ?, ?, NULL)
ON CONFLICT (provider, value) DO UPDATE
SET priority = excluded.priority,
    updated_at = CURRENT_TIMESTAMP;`
	args := []any{providerGemini}
	for priority, key := range keys {
		if _, err := tx.ExecContext(ctx, upsert, uuid.NewString(), providerGemini, key, priority); err != nil {
			return fmt.Errorf("upsert gemini key %d: %w", priority, err)
		}
		args = append(args, key)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	res, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = ? AND value NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("retire gemini keys: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Info("retired gemini keys no longer configured", "count", n)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListActiveGeminiKeys(ctx context.Context) ([]APIKey, error) {
	const q = `
SELECT id, provider, value, priority, cooldown_until, created_at, updated_at
FROM api_keys
WHERE provider = ?
ORDER BY priority, created_at;
`
	rows, err := r.db.QueryContext(ctx, q, providerGemini)
	if err != nil {
		return nil, fmt.Errorf("list gemini keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Provider, &k.Value, &k.Priority, &k.CooldownUntil, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gemini key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *SQLiteRepository) ClearCooldown(ctx context.Context, id string) error {
	return r.setCooldown(ctx, id, nil)
}

func (r *SQLiteRepository) SetCooldownUntil(ctx context.Context, id string, until time.Time) error {
	u := until.UTC()
	return r.setCooldown(ctx, id, &u)
}

func (r *SQLiteRepository) setCooldown(ctx context.Context, id string, until *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET cooldown_until = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("update cooldown of key %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Ledger --

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	table, err := tx.Kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
INSERT INTO %s (id, user_id, amount, category, description, occurred_at, type)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING %s;
`, table, transactionColumns)
	row := r.db.QueryRowContext(ctx, q,
		uuid.NewString(),
		tx.UserID,
		tx.Amount,
		tx.Category,
		tx.Description,
		tx.OccurredAt.UTC(),
		tx.Type,
	)
	inserted, err := scanTransaction(row, tx.Kind)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", tx.Kind, err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, kind Kind, filter ListFilter) ([]Transaction, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	conds := []string{"user_id = ?"}
	args := []any{userID}
	if filter.Category != "" {
		conds = append(conds, "LOWER(category) = LOWER(?)")
		args = append(args, filter.Category)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at < ?")
		args = append(args, filter.To.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit, filter.Offset)
	q := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE %s
ORDER BY occurred_at DESC, created_at DESC
LIMIT ? OFFSET ?;
`, transactionColumns, table, strings.Join(conds, " AND "))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var res []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		res = append(res, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return res, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID string, kind Kind, id string) (*Transaction, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND user_id = ? RETURNING %s;`, table, transactionColumns)
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, q, id, userID), kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete %s: %w", kind, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) SumByCategory(ctx context.Context, userID string, kind Kind, from, to time.Time) ([]CategoryTotal, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
SELECT category, COALESCE(SUM(amount), 0) AS total, COUNT(*)
FROM %s
WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
GROUP BY category
ORDER BY total DESC;
`, table)
	rows, err := r.db.QueryContext(ctx, q, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sum %s by category: %w", kind, err)
	}
	defer rows.Close()

	var res []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, fmt.Errorf("scan %s total: %w", kind, err)
		}
		ct.Total = ct.Total.Round(2)
		res = append(res, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s totals: %w", kind, err)
	}
	return res, nil
}

// -- Products --

func (r *SQLiteRepository) UpsertProduct(ctx context.Context, product Product) (*Product, error) {
	const q = `
INSERT INTO products (id, user_id, name, name_key, price, category)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, name_key) DO UPDATE SET
    name = excluded.name,
    price = COALESCE(excluded.price, products.price),
    category = COALESCE(NULLIF(excluded.category, ''), products.category),
    updated_at = CURRENT_TIMESTAMP
RETURNING id, user_id, name, price, category, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), product.UserID, product.Name, normaliseName(product.Name), nullablePrice(product.Price), product.Category)
	p, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) FindProductByName(ctx context.Context, userID, name string) (*Product, error) {
	const q = `
SELECT id, user_id, name, price, category, created_at, updated_at
FROM products
WHERE user_id = ? AND name_key = ?
LIMIT 1;
`
	p, err := scanProduct(r.db.QueryRowContext(ctx, q, userID, normaliseName(name)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListProducts(ctx context.Context, userID string) ([]Product, error) {
	const q = `
SELECT id, user_id, name, price, category, created_at, updated_at
FROM products
WHERE user_id = ?
ORDER BY name_key ASC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var res []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return res, nil
}

// -- Debts --

func (r *SQLiteRepository) InsertDebt(ctx context.Context, debt Debt) (*Debt, error) {
	const q = `
INSERT INTO debts (id, user_id, counterparty, amount, direction, due_date, status, description)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(NULLIF(?, ''), 'open'), ?)
RETURNING id, user_id, counterparty, amount, direction, due_date, status, description, created_at;
`
	var due any
	if debt.DueDate != nil {
		due = debt.DueDate.UTC()
	}
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), debt.UserID, debt.Counterparty, debt.Amount, string(debt.Direction), due, debt.Status, debt.Description)
	d, err := scanDebt(row)
	if err != nil {
		return nil, fmt.Errorf("insert debt: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) ListOpenDebts(ctx context.Context, userID string) ([]Debt, error) {
	const q = `
SELECT id, user_id, counterparty, amount, direction, due_date, status, description, created_at
FROM debts
WHERE user_id = ? AND status = 'open'
ORDER BY due_date ASC NULLS LAST, created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list open debts: %w", err)
	}
	defer rows.Close()

	var res []Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		res = append(res, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debts: %w", err)
	}
	return res, nil
}
