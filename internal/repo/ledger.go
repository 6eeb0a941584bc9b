package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = "id, user_id, amount, category, description, occurred_at, type, created_at"

// InsertTransaction appends a ledger entry to the table of tx.Kind.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	table, err := tx.Kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
INSERT INTO %s (user_id, amount, category, description, occurred_at, type)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING %s;
`, table, transactionColumns)
	row := r.pool.QueryRow(ctx, q,
		tx.UserID,
		tx.Amount,
		tx.Category,
		tx.Description,
		tx.OccurredAt,
		tx.Type,
	)
	inserted, err := scanTransaction(row, tx.Kind)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", tx.Kind, err)
	}
	return inserted, nil
}

// ListTransactions returns the newest entries first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, kind Kind, filter ListFilter) ([]Transaction, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("LOWER(category) = LOWER($%d)", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("occurred_at < $%d", len(args)))
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
LIMIT $%d OFFSET $%d;
`, transactionColumns, table, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
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

// DeleteTransaction removes an entry owned by userID and returns the removed row.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, userID string, kind Kind, id string) (*Transaction, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2 RETURNING %s;`, table, transactionColumns)
	tx, err := scanTransaction(r.pool.QueryRow(ctx, q, id, userID), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete %s: %w", kind, err)
	}
	return tx, nil
}

// SumByCategory totals entries of kind between from (inclusive) and to (exclusive).
func (r *PostgresRepository) SumByCategory(ctx context.Context, userID string, kind Kind, from, to time.Time) ([]CategoryTotal, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
SELECT category, COALESCE(SUM(amount), 0), COUNT(*)
FROM %s
WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
GROUP BY category
ORDER BY SUM(amount) DESC;
`, table)
	rows, err := r.pool.Query(ctx, q, userID, from, to)
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
		res = append(res, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s totals: %w", kind, err)
	}
	return res, nil
}

// UpsertProduct registers a product, updating price and category when the name already exists.
func (r *PostgresRepository) UpsertProduct(ctx context.Context, product Product) (*Product, error) {
	const q = `
INSERT INTO products (user_id, name, name_key, price, category)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, name_key) DO UPDATE SET
    name = EXCLUDED.name,
    price = COALESCE(EXCLUDED.price, products.price),
    category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
    updated_at = NOW()
RETURNING id, user_id, name, price, category, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, product.UserID, product.Name, normaliseName(product.Name), nullablePrice(product.Price), product.Category)
	p, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

// FindProductByName looks a product up by its case-insensitive name.
func (r *PostgresRepository) FindProductByName(ctx context.Context, userID, name string) (*Product, error) {
	const q = `
SELECT id, user_id, name, price, category, created_at, updated_at
FROM products
WHERE user_id = $1 AND name_key = $2
LIMIT 1;
`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, userID, normaliseName(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return p, nil
}

// ListProducts returns the user's catalogue ordered by name.
func (r *PostgresRepository) ListProducts(ctx context.Context, userID string) ([]Product, error) {
	const q = `
SELECT id, user_id, name, price, category, created_at, updated_at
FROM products
WHERE user_id = $1
ORDER BY name_key ASC;
`
	rows, err := r.pool.Query(ctx, q, userID)
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

// InsertDebt records a new open debt.
func (r *PostgresRepository) InsertDebt(ctx context.Context, debt Debt) (*Debt, error) {
	const q = `
INSERT INTO debts (user_id, counterparty, amount, direction, due_date, status, description)
VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'open'), $7)
RETURNING id, user_id, counterparty, amount, direction, due_date, status, description, created_at;
`
	row := r.pool.QueryRow(ctx, q, debt.UserID, debt.Counterparty, debt.Amount, string(debt.Direction), debt.DueDate, debt.Status, debt.Description)
	d, err := scanDebt(row)
	if err != nil {
		return nil, fmt.Errorf("insert debt: %w", err)
	}
	return d, nil
}

// ListOpenDebts returns open debts, nearest due date first.
func (r *PostgresRepository) ListOpenDebts(ctx context.Context, userID string) ([]Debt, error) {
	const q = `
SELECT id, user_id, counterparty, amount, direction, due_date, status, description, created_at
FROM debts
WHERE user_id = $1 AND status = 'open'
ORDER BY due_date ASC NULLS LAST, created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, userID)
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

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner, kind Kind) (*Transaction, error) {
	var tx Transaction
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Category, &tx.Description, &tx.OccurredAt, &tx.Type, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.Kind = kind
	return &tx, nil
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var price decimal.NullDecimal
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &price, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Price = priceFromNull(price)
	return &p, nil
}

func scanDebt(row rowScanner) (*Debt, error) {
	var d Debt
	var direction string
	if err := row.Scan(&d.ID, &d.UserID, &d.Counterparty, &d.Amount, &direction, &d.DueDate, &d.Status, &d.Description, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Direction = DebtDirection(direction)
	return &d, nil
}
