package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bot-financas/internal/money"
	"bot-financas/internal/repo"

	"github.com/shopspring/decimal"
)

const (
	saleSource      = "venda"
	defaultSaleCat  = "vendas"
	replySaleFailed = "Não consegui registrar a venda agora. Tente novamente em instantes."
)

// Sale records a revenue with source "venda". Without an amount in the message
// the registered product price is used.
func (h *Handlers) Sale(ctx context.Context, req Request) (string, error) {
	in := req.intent()
	name := strings.TrimSpace(in.ProductName)

	var product *repo.Product
	if name != "" {
		p, err := h.store.FindProductByName(ctx, req.UserID, name)
		switch {
		case err == nil:
			product = p
		case errors.Is(err, repo.ErrNotFound):
		default:
			h.logger.Warn("product lookup failed", "user_id", req.UserID, "product", name, "error", err)
		}
	}

	var amount decimal.Decimal
	switch {
	case in.Amount.Positive():
		amount = in.Amount.Value.Round(2)
	case in.Price.Positive():
		amount = in.Price.Value.Round(2)
	case product != nil && product.Price != nil && product.Price.IsPositive():
		amount = *product.Price
	default:
		return replyInvalidAmount, ErrInvalidAmount
	}

	category := in.Category
	if category == "" && product != nil {
		category = product.Category
	}
	return h.sale(ctx, req, name, category, amount)
}

// ConfirmedSale records the revenue for a product the user confirmed after sending its photo.
func (h *Handlers) ConfirmedSale(ctx context.Context, req Request, productName, category string, price decimal.Decimal) (string, error) {
	if !price.IsPositive() {
		return replyInvalidAmount, ErrInvalidAmount
	}
	return h.sale(ctx, req, productName, category, price.Round(2))
}

func (h *Handlers) sale(ctx context.Context, req Request, productName, category string, amount decimal.Decimal) (string, error) {
	loc := h.location(req.Timezone)
	desc := productName
	if desc == "" {
		desc = req.intent().Description
	}
	saved, err := h.insert(ctx, repo.Transaction{
		UserID:      req.UserID,
		Kind:        repo.KindRevenue,
		Amount:      amount,
		Category:    strings.ToLower(firstNonEmpty(category, defaultSaleCat)),
		Description: optionalText(desc),
		OccurredAt:  parseDate(req.intent().Date, h.now(), loc),
		Type:        saleSource,
	})
	if err != nil {
		return replySaleFailed, err
	}
	return formatTransaction("🛍️ Venda registrada", saved, loc), nil
}

// RegisterProduct saves a product and its price so photos of it can be priced later.
func (h *Handlers) RegisterProduct(ctx context.Context, req Request) (string, error) {
	in := req.intent()
	name := strings.TrimSpace(in.ProductName)
	if name == "" {
		return "Qual o nome do produto? Exemplo: \"cadastrar fone bluetooth por 89,90\".", ErrMissingProduct
	}
	var price *decimal.Decimal
	switch {
	case in.Price.Positive():
		v := in.Price.Value.Round(2)
		price = &v
	case in.Amount.Positive():
		v := in.Amount.Value.Round(2)
		price = &v
	}

	saved, err := h.store.UpsertProduct(ctx, repo.Product{
		UserID:   req.UserID,
		Name:     name,
		Price:    price,
		Category: strings.ToLower(in.Category),
	})
	if err != nil {
		h.logger.Error("upsert product failed", "user_id", req.UserID, "error", err)
		return replySaveFailed, fmt.Errorf("upsert product: %w", err)
	}
	if saved.Price == nil {
		return fmt.Sprintf("📦 Produto *%s* cadastrado sem preço.", saved.Name), nil
	}
	return fmt.Sprintf("📦 Produto *%s* cadastrado por %s.", saved.Name, money.Format(*saved.Price)), nil
}
