// Package confirm correlates an image product identification with the user's
// follow-up reply. A user has at most one pending context; it is consumed by a
// confirmation, an explicit price or a cancellation, and expires lazily after
// DefaultTTL.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bot-financas/internal/money"

	"github.com/shopspring/decimal"
)

// OutcomeKind describes what resolving a reply did to the pending context.
type OutcomeKind int

const (
	// AwaitingClarification leaves the context (if any) in place and asks again.
	AwaitingClarification OutcomeKind = iota
	// Registered consumed the context with a final price.
	Registered
	// Cancelled consumed the context without a sale.
	Cancelled
	// NotPending means there was nothing left to resolve.
	NotPending
)

func (k OutcomeKind) String() string {
	switch k {
	case Registered:
		return "registered"
	case Cancelled:
		return "cancelled"
	case NotPending:
		return "not_pending"
	default:
		return "awaiting_clarification"
	}
}

// Outcome is the result of resolving a classified reply.
type Outcome struct {
	Kind    OutcomeKind
	Price   decimal.Decimal
	Product ProductSnapshot
	Prompt  string
}

const (
	promptAcceptedReplies = "Responda *sim* para confirmar, envie o valor da venda (ex: 89,90) ou *não* para cancelar."
	promptMissingPrice    = "Esse produto não tem preço cadastrado. Envie o valor da venda (ex: 89,90) ou *não* para cancelar."
	promptInvalidAmount   = "O valor precisa ser maior que zero. Envie o valor da venda (ex: 89,90) ou *não* para cancelar."
)

// Cache is the confirmation context cache.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithTTL overrides DefaultTTL for every context of the cache.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New builds a Cache backed by store.
func New(store Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.With("component", "confirm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save stores a new pending context for userID, replacing any previous one.
func (c *Cache) Save(ctx context.Context, userID string, product ProductSnapshot) {
	entry := Context{
		UserID:    userID,
		Product:   product.clone(),
		CreatedAt: c.now(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Error("failed saving confirmation context", "user_id", userID, "error", err)
	}
}

// Peek returns the live context for userID. Expired contexts are removed and reported as nil.
func (c *Cache) Peek(ctx context.Context, userID string) *Context {
	var live *Context
	err := c.update(ctx, userID, func(entry *Context) Action {
		live = nil
		if entry == nil {
			return Keep
		}
		if entry.expired(c.now(), c.ttl) {
			return Remove
		}
		cp := *entry
		cp.Product = entry.Product.clone()
		live = &cp
		return Keep
	})
	if err != nil {
		return nil
	}
	return live
}

// Classify tells how message relates to the user's pending context.
func (c *Cache) Classify(ctx context.Context, userID, message string) Classification {
	if c.Peek(ctx, userID) == nil {
		return Classification{Kind: NoActiveContext}
	}
	return classifyReply(message)
}

// Resolve applies a classification to the user's pending context. Prefer Consume,
// which classifies and resolves without another reply slipping in between.
func (c *Cache) Resolve(ctx context.Context, userID string, cls Classification) Outcome {
	switch cls.Kind {
	case Confirm, Cancel, ExplicitAmount:
	default:
		return Outcome{Kind: AwaitingClarification, Prompt: promptAcceptedReplies}
	}

	outcome := Outcome{Kind: NotPending}
	err := c.update(ctx, userID, func(entry *Context) Action {
		if entry == nil {
			outcome = Outcome{Kind: NotPending}
			return Keep
		}
		if entry.expired(c.now(), c.ttl) {
			outcome = Outcome{Kind: NotPending}
			return Remove
		}
		var action Action
		outcome, action = resolveEntry(*entry, cls)
		return action
	})
	if err != nil {
		return Outcome{Kind: NotPending}
	}
	return outcome
}

// Consume classifies message and resolves it against the user's context as a
// single step. A NoActiveContext classification means the message is not a reply.
// A store failure is reported the same way and leaves nothing consumed.
func (c *Cache) Consume(ctx context.Context, userID, message string) (Classification, Outcome) {
	cls := Classification{Kind: NoActiveContext}
	outcome := Outcome{Kind: NotPending}
	err := c.update(ctx, userID, func(entry *Context) Action {
		cls = Classification{Kind: NoActiveContext}
		outcome = Outcome{Kind: NotPending}
		if entry == nil {
			return Keep
		}
		if entry.expired(c.now(), c.ttl) {
			return Remove
		}
		cls = classifyReply(message)
		var action Action
		outcome, action = resolveEntry(*entry, cls)
		return action
	})
	if err != nil {
		return Classification{Kind: NoActiveContext}, Outcome{Kind: NotPending}
	}
	return cls, outcome
}

// Sweep drops every expired context and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()
	removed, err := c.store.Sweep(ctx, func(entry Context) bool {
		return entry.expired(now, c.ttl)
	})
	if err != nil {
		c.logger.Warn("confirmation sweep incomplete", "removed", removed, "error", err)
	}
	return removed
}

func (c *Cache) update(ctx context.Context, userID string, fn func(entry *Context) Action) error {
	if err := c.store.Update(ctx, userID, fn); err != nil {
		c.logger.Error("confirmation store update failed", "user_id", userID, "error", err)
		return err
	}
	return nil
}

func resolveEntry(entry Context, cls Classification) (Outcome, Action) {
	product := entry.Product.clone()
	switch cls.Kind {
	case Cancel:
		return Outcome{Kind: Cancelled, Product: product}, Remove
	case Confirm:
		price := product.PriceOrZero()
		if price.IsZero() {
			return Outcome{Kind: AwaitingClarification, Product: product, Prompt: promptMissingPrice}, Keep
		}
		return Outcome{Kind: Registered, Price: price, Product: product}, Remove
	case ExplicitAmount:
		if !cls.Amount.IsPositive() {
			return Outcome{Kind: AwaitingClarification, Product: product, Prompt: promptInvalidAmount}, Keep
		}
		return Outcome{Kind: Registered, Price: cls.Amount, Product: product}, Remove
	default:
		return Outcome{Kind: AwaitingClarification, Product: product, Prompt: fmt.Sprintf("Ainda aguardo sua resposta sobre *%s*. %s", product.Name, promptAcceptedReplies)}, Keep
	}
}

// Prompt renders the question sent right after a product was identified.
func Prompt(product ProductSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📦 Identifiquei *%s*.", product.Name)
	if price := product.PriceOrZero(); price.IsPositive() {
		fmt.Fprintf(&b, "\nPreço: %s", money.Format(price))
	}
	b.WriteString("\n")
	b.WriteString(promptAcceptedReplies)
	return b.String()
}
