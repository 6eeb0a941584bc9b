package handlers

import (
	"context"
	"fmt"
	"strings"

	"bot-financas/internal/money"
	"bot-financas/internal/repo"
)

// Debt records money the user owes or is owed.
func (h *Handlers) Debt(ctx context.Context, req Request) (string, error) {
	in := req.intent()
	amount, err := requireAmount(in.Amount)
	if err != nil {
		return replyInvalidAmount, err
	}
	counterparty := strings.TrimSpace(in.Counterparty)
	if counterparty == "" {
		return "Com quem é essa dívida? Exemplo: \"devo 200 ao João até 10/05\".", ErrMissingCounterparty
	}

	loc := h.location(req.Timezone)
	direction := debtDirection(in.Type, req.Text)
	saved, err := h.store.InsertDebt(ctx, repo.Debt{
		UserID:       req.UserID,
		Counterparty: counterparty,
		Amount:       amount,
		Direction:    direction,
		DueDate:      parseDueDate(in.DueDate, h.now(), loc),
		Description:  optionalText(in.Description),
	})
	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.metrics.LedgerWrites.WithLabelValues("debt", status).Inc()
	}
	if err != nil {
		h.logger.Error("insert debt failed", "user_id", req.UserID, "error", err)
		return replySaveFailed, fmt.Errorf("insert debt: %w", err)
	}

	var b strings.Builder
	if saved.Direction == repo.DebtReceivable {
		fmt.Fprintf(&b, "🤝 Registrado: %s te deve %s", saved.Counterparty, money.Format(saved.Amount))
	} else {
		fmt.Fprintf(&b, "📌 Registrado: você deve %s a %s", money.Format(saved.Amount), saved.Counterparty)
	}
	if saved.DueDate != nil {
		fmt.Fprintf(&b, "\nVencimento: %s", saved.DueDate.In(loc).Format("02/01/2006"))
	}
	return b.String(), nil
}

func debtDirection(kind, text string) repo.DebtDirection {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "receber", "a_receber", "receivable":
		return repo.DebtReceivable
	case "pagar", "a_pagar", "payable":
		return repo.DebtPayable
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "emprestei") || strings.Contains(lower, "me deve") {
		return repo.DebtReceivable
	}
	return repo.DebtPayable
}
