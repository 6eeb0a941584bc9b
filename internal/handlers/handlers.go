// Package handlers turns extracted intents into ledger writes and Portuguese replies.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bot-financas/internal/metrics"
	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the amount is missing or not positive.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrMissingCategory is returned when an entry that needs a category has none.
	ErrMissingCategory = errors.New("missing category")
	// ErrMissingProduct is returned when a product registration has no name.
	ErrMissingProduct = errors.New("missing product name")
	// ErrMissingCounterparty is returned when a debt has nobody on the other side.
	ErrMissingCounterparty = errors.New("missing counterparty")
)

const (
	replyInvalidAmount = "Não entendi o valor. Envie algo como \"gastei 45,90 no mercado\"."
	replyMissingCat    = "Qual a categoria? Exemplo: \"gastei 45,90 em alimentação\"."
	replySaveFailed    = "Não consegui salvar agora. Tente novamente em instantes."
)

// Store is the slice of the repository the handlers write to.
type Store interface {
	InsertTransaction(ctx context.Context, tx repo.Transaction) (*repo.Transaction, error)
	ListTransactions(ctx context.Context, userID string, kind repo.Kind, filter repo.ListFilter) ([]repo.Transaction, error)
	DeleteTransaction(ctx context.Context, userID string, kind repo.Kind, id string) (*repo.Transaction, error)
	SumByCategory(ctx context.Context, userID string, kind repo.Kind, from, to time.Time) ([]repo.CategoryTotal, error)
	UpsertProduct(ctx context.Context, product repo.Product) (*repo.Product, error)
	FindProductByName(ctx context.Context, userID, name string) (*repo.Product, error)
	InsertDebt(ctx context.Context, debt repo.Debt) (*repo.Debt, error)
	ListOpenDebts(ctx context.Context, userID string) ([]repo.Debt, error)
}

// Request is one message to handle on behalf of a user.
type Request struct {
	UserID   string
	Timezone string
	Text     string
	Intent   *nlu.Intent
}

func (r Request) intent() *nlu.Intent {
	if r.Intent == nil {
		return &nlu.Intent{}
	}
	return r.Intent
}

// Handlers executes intents against the ledger.
type Handlers struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customises Handlers.
type Option func(*Handlers)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		h.now = now
	}
}

// New builds the handler set. m may be nil.
func New(store Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handlers {
	h := &Handlers{
		store:   store,
		logger:  logger.With("component", "handlers"),
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) location(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		h.logger.Warn("unknown timezone, using local", "timezone", tz, "error", err)
		return time.Local
	}
	return loc
}

func (h *Handlers) insert(ctx context.Context, tx repo.Transaction) (*repo.Transaction, error) {
	saved, err := h.store.InsertTransaction(ctx, tx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if h.metrics != nil {
		h.metrics.LedgerWrites.WithLabelValues(string(tx.Kind), status).Inc()
		if err != nil {
			h.metrics.Errors.WithLabelValues("handlers").Inc()
		}
	}
	if err != nil {
		h.logger.Error("ledger write failed", "user_id", tx.UserID, "kind", tx.Kind, "error", err)
		return nil, fmt.Errorf("insert %s: %w", tx.Kind, err)
	}
	return saved, nil
}

func requireAmount(a nlu.Amount) (decimal.Decimal, error) {
	if !a.Positive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return a.Value.Round(2), nil
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
