package handlers

import (
	"context"
	"fmt"
	"strings"

	"bot-financas/internal/money"
	"bot-financas/internal/repo"

	"github.com/shopspring/decimal"
)

const helpText = `🤖 *Assistente financeiro*
Exemplos do que posso registrar:
• "gastei 45,90 no mercado"
• "recebi 1.200 de um cliente"
• "investi 500 no tesouro"
• "devo 200 ao João até 10/05"
• "vendi o fone por 89,90"
• "cadastrar fone bluetooth por 89,90"
• "paguei 120 de luz" (gasto pessoal)
• Envie a foto de um produto para registrar a venda
• "resumo" para ver o mês
• "extrato" ou "desfazer" para revisar lançamentos`

// Help lists what the bot understands.
func (h *Handlers) Help(context.Context, Request) (string, error) {
	return helpText, nil
}

// Summary reports the current month per category, the business balance and open debts.
func (h *Handlers) Summary(ctx context.Context, req Request) (string, error) {
	loc := h.location(req.Timezone)
	now := h.now().In(loc)
	from, to := repo.MonthRange(now)

	sections := []struct {
		kind  repo.Kind
		title string
	}{
		{repo.KindRevenue, "💰 Receitas"},
		{repo.KindExpense, "💸 Gastos"},
		{repo.KindPersonalIncome, "🏦 Receitas pessoais"},
		{repo.KindPersonalExpense, "🧾 Gastos pessoais"},
	}
	totals := make(map[repo.Kind]decimal.Decimal, len(sections))

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Resumo de %s*\n", now.Format("01/2006"))
	for _, s := range sections {
		rows, err := h.store.SumByCategory(ctx, req.UserID, s.kind, from, to)
		if err != nil {
			h.logger.Error("summary query failed", "user_id", req.UserID, "kind", s.kind, "error", err)
			return replySaveFailed, fmt.Errorf("sum %s: %w", s.kind, err)
		}
		sum := decimal.Zero
		for _, r := range rows {
			sum = sum.Add(r.Total)
		}
		totals[s.kind] = sum
		formatTotals(&b, s.title, rows)
	}

	balance := totals[repo.KindRevenue].Sub(totals[repo.KindExpense])
	fmt.Fprintf(&b, "\nSaldo do negócio: %s\n", money.Format(balance))
	personalIn, personalOut := totals[repo.KindPersonalIncome], totals[repo.KindPersonalExpense]
	if !personalIn.IsZero() || !personalOut.IsZero() {
		fmt.Fprintf(&b, "Saldo pessoal: %s\n", money.Format(personalIn.Sub(personalOut)))
	}

	debts, err := h.store.ListOpenDebts(ctx, req.UserID)
	if err != nil {
		h.logger.Warn("list debts failed", "user_id", req.UserID, "error", err)
	} else if len(debts) > 0 {
		payable, receivable := decimal.Zero, decimal.Zero
		for _, d := range debts {
			if d.Direction == repo.DebtReceivable {
				receivable = receivable.Add(d.Amount)
			} else {
				payable = payable.Add(d.Amount)
			}
		}
		fmt.Fprintf(&b, "Dívidas em aberto: a pagar %s, a receber %s\n", money.Format(payable), money.Format(receivable))
	}
	return strings.TrimSpace(b.String()), nil
}
