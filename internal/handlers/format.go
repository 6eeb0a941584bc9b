package handlers

import (
	"fmt"
	"strings"
	"time"

	"bot-financas/internal/money"
	"bot-financas/internal/repo"
)

func formatTransaction(title string, tx *repo.Transaction, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("!\n")
	fmt.Fprintf(&b, "Valor: %s\n", money.Format(tx.Amount))
	fmt.Fprintf(&b, "Categoria: %s\n", tx.Category)
	if tx.Description != nil {
		fmt.Fprintf(&b, "Descrição: %s\n", *tx.Description)
	}
	fmt.Fprintf(&b, "Data: %s", tx.OccurredAt.In(loc).Format("02/01/2006"))
	return b.String()
}

func formatTotals(b *strings.Builder, title string, totals []repo.CategoryTotal) {
	if len(totals) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for _, t := range totals {
		fmt.Fprintf(b, "• %s: %s (%d)\n", t.Category, money.Format(t.Total), t.Count)
	}
}
