package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error)
	GetUserByWA(ctx context.Context, waID string) (*User, error)
	LinkWhatsApp(ctx context.Context, userID, waID string) error

	// Messages
	InsertMessage(ctx context.Context, msg MessageRecord) error

	// API Keys
	SyncGeminiKeys(ctx context.Context, keys []string) error
	ListActiveGeminiKeys(ctx context.Context) ([]APIKey, error)
	ClearCooldown(ctx context.Context, id string) error
	SetCooldownUntil(ctx context.Context, id string, until time.Time) error

	// Ledger
	InsertTransaction(ctx context.Context, tx Transaction) (*Transaction, error)
	ListTransactions(ctx context.Context, userID string, kind Kind, filter ListFilter) ([]Transaction, error)
	DeleteTransaction(ctx context.Context, userID string, kind Kind, id string) (*Transaction, error)
	SumByCategory(ctx context.Context, userID string, kind Kind, from, to time.Time) ([]CategoryTotal, error)

	// Products
	UpsertProduct(ctx context.Context, product Product) (*Product, error)
	FindProductByName(ctx context.Context, userID, name string) (*Product, error)
	ListProducts(ctx context.Context, userID string) ([]Product, error)

	// Debts
	InsertDebt(ctx context.Context, debt Debt) (*Debt, error)
	ListOpenDebts(ctx context.Context, userID string) ([]Debt, error)
}

// Config selects and configures the storage driver.
type Config struct {
	Driver      string
	DatabaseURL string
	Schema      string
	SQLitePath  string
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres", "postgresql", "supabase":
		return New(ctx, cfg.DatabaseURL, cfg.Schema, logger)
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func normaliseName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
