package confirm

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTTL is the window during which a pending context accepts a reply.
const DefaultTTL = 5 * time.Minute

// ProductSnapshot is the product data captured when an image was identified.
type ProductSnapshot struct {
	Name            string           `json:"name"`
	Confidence      float64          `json:"confidence"`
	RegisteredPrice *decimal.Decimal `json:"valor,omitempty"`
	Price           *decimal.Decimal `json:"preco,omitempty"`
	Category        string           `json:"category,omitempty"`
	Similarity      float64          `json:"similarity,omitempty"`
	ProductID       *string          `json:"product_id,omitempty"`
	Raw             map[string]any   `json:"raw,omitempty"`
}

// PriceOrZero walks valor, then preco, and falls back to zero.
func (p ProductSnapshot) PriceOrZero() decimal.Decimal {
	if p.RegisteredPrice != nil && p.RegisteredPrice.IsPositive() {
		return *p.RegisteredPrice
	}
	if p.Price != nil && p.Price.IsPositive() {
		return *p.Price
	}
	return decimal.Zero
}

func (p ProductSnapshot) clone() ProductSnapshot {
	out := p
	if p.RegisteredPrice != nil {
		v := *p.RegisteredPrice
		out.RegisteredPrice = &v
	}
	if p.Price != nil {
		v := *p.Price
		out.Price = &v
	}
	if p.ProductID != nil {
		v := *p.ProductID
		out.ProductID = &v
	}
	if p.Raw != nil {
		out.Raw = make(map[string]any, len(p.Raw))
		for k, v := range p.Raw {
			out.Raw[k] = v
		}
	}
	return out
}

// Context is the pending confirmation held for a single user.
type Context struct {
	UserID    string          `json:"user_id"`
	Product   ProductSnapshot `json:"product"`
	CreatedAt time.Time       `json:"created_at"`
}

func (c Context) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}
