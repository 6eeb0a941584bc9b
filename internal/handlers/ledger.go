package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bot-financas/internal/money"
	"bot-financas/internal/repo"
)

const investmentType = "investimento"

// Expense records a business expense.
func (h *Handlers) Expense(ctx context.Context, req Request) (string, error) {
	return h.record(ctx, req, repo.KindExpense, "", "", "💸 Gasto registrado")
}

// Income records a business revenue.
func (h *Handlers) Income(ctx context.Context, req Request) (string, error) {
	return h.record(ctx, req, repo.KindRevenue, "receitas", "", "💰 Receita registrada")
}

// Investment records an expense typed as investment.
func (h *Handlers) Investment(ctx context.Context, req Request) (string, error) {
	return h.record(ctx, req, repo.KindExpense, "investimentos", investmentType, "📈 Investimento registrado")
}

// PersonalExpense records an expense outside the business.
func (h *Handlers) PersonalExpense(ctx context.Context, req Request) (string, error) {
	return h.record(ctx, req, repo.KindPersonalExpense, "", "", "🧾 Gasto pessoal registrado")
}

// PersonalIncome records a personal income such as salary.
func (h *Handlers) PersonalIncome(ctx context.Context, req Request) (string, error) {
	return h.record(ctx, req, repo.KindPersonalIncome, "salário", "", "🏦 Receita pessoal registrada")
}

func (h *Handlers) record(ctx context.Context, req Request, kind repo.Kind, defaultCategory, txType, title string) (string, error) {
	in := req.intent()
	amount, err := requireAmount(in.Amount)
	if err != nil {
		return replyInvalidAmount, err
	}
	category := firstNonEmpty(in.Category, defaultCategory)
	if category == "" {
		return replyMissingCat, ErrMissingCategory
	}
	if txType == "" {
		txType = in.Type
	}

	loc := h.location(req.Timezone)
	saved, err := h.insert(ctx, repo.Transaction{
		UserID:      req.UserID,
		Kind:        kind,
		Amount:      amount,
		Category:    strings.ToLower(category),
		Description: optionalText(in.Description),
		OccurredAt:  parseDate(in.Date, h.now(), loc),
		Type:        txType,
	})
	if err != nil {
		return replySaveFailed, err
	}
	return formatTransaction(title, saved, loc), nil
}

// Statement lists the latest entries of the current month for the kind named in tipo.
func (h *Handlers) Statement(ctx context.Context, req Request) (string, error) {
	kind := kindFromType(req.intent().Type)
	loc := h.location(req.Timezone)
	from, to := repo.MonthRange(h.now().In(loc))

	items, err := h.store.ListTransactions(ctx, req.UserID, kind, repo.ListFilter{
		Limit:    10,
		Category: req.intent().Category,
		From:     from,
		To:       to,
	})
	if err != nil {
		h.logger.Error("list transactions failed", "user_id", req.UserID, "error", err)
		return replySaveFailed, fmt.Errorf("list %s: %w", kind, err)
	}
	if len(items) == 0 {
		return "Nenhum lançamento encontrado neste mês.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Últimos lançamentos (%s):\n", kindLabel(kind))
	for _, it := range items {
		fmt.Fprintf(&b, "• %s %s - %s", it.OccurredAt.In(loc).Format("02/01"), money.Format(it.Amount), it.Category)
		if it.Description != nil {
			fmt.Fprintf(&b, " (%s)", *it.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// Undo deletes the most recent entry of the kind named in tipo.
func (h *Handlers) Undo(ctx context.Context, req Request) (string, error) {
	kind := kindFromType(req.intent().Type)
	items, err := h.store.ListTransactions(ctx, req.UserID, kind, repo.ListFilter{Limit: 1})
	if err != nil {
		return replySaveFailed, fmt.Errorf("list %s: %w", kind, err)
	}
	if len(items) == 0 {
		return "Não há lançamentos para desfazer.", nil
	}
	removed, err := h.store.DeleteTransaction(ctx, req.UserID, kind, items[0].ID)
	if errors.Is(err, repo.ErrNotFound) {
		return "Não há lançamentos para desfazer.", nil
	}
	if err != nil {
		h.logger.Error("delete transaction failed", "user_id", req.UserID, "error", err)
		return replySaveFailed, fmt.Errorf("delete %s: %w", kind, err)
	}
	return fmt.Sprintf("↩️ Removido: %s - %s", money.Format(removed.Amount), removed.Category), nil
}

func kindFromType(t string) repo.Kind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "receita", "entrada", "revenue":
		return repo.KindRevenue
	case "gasto_pessoal", "pessoal":
		return repo.KindPersonalExpense
	case "receita_pessoal", "salario", "salário":
		return repo.KindPersonalIncome
	default:
		return repo.KindExpense
	}
}

func kindLabel(k repo.Kind) string {
	switch k {
	case repo.KindRevenue:
		return "receitas"
	case repo.KindPersonalExpense:
		return "gastos pessoais"
	case repo.KindPersonalIncome:
		return "receitas pessoais"
	default:
		return "gastos"
	}
}
