package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	txs      []repo.Transaction
	debts    []repo.Debt
	products map[string]repo.Product
	totals   map[repo.Kind][]repo.CategoryTotal
	failTx   error
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx repo.Transaction) (*repo.Transaction, error) {
	if f.failTx != nil {
		return nil, f.failTx
	}
	tx.ID = "tx-" + string(rune('a'+len(f.txs)))
	f.txs = append(f.txs, tx)
	return &tx, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, userID string, kind repo.Kind, filter repo.ListFilter) ([]repo.Transaction, error) {
	var out []repo.Transaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		if f.txs[i].UserID == userID && f.txs[i].Kind == kind {
			out = append(out, f.txs[i])
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) DeleteTransaction(_ context.Context, userID string, kind repo.Kind, id string) (*repo.Transaction, error) {
	for i, tx := range f.txs {
		if tx.ID == id && tx.UserID == userID && tx.Kind == kind {
			f.txs = append(f.txs[:i], f.txs[i+1:]...)
			return &tx, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) SumByCategory(_ context.Context, _ string, kind repo.Kind, _, _ time.Time) ([]repo.CategoryTotal, error) {
	return f.totals[kind], nil
}

func (f *fakeStore) UpsertProduct(_ context.Context, p repo.Product) (*repo.Product, error) {
	if f.products == nil {
		f.products = map[string]repo.Product{}
	}
	p.ID = "prod-1"
	f.products[strings.ToLower(p.Name)] = p
	return &p, nil
}

func (f *fakeStore) FindProductByName(_ context.Context, _ string, name string) (*repo.Product, error) {
	p, ok := f.products[strings.ToLower(name)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) InsertDebt(_ context.Context, d repo.Debt) (*repo.Debt, error) {
	d.ID = "debt-1"
	d.Status = "open"
	f.debts = append(f.debts, d)
	return &d, nil
}

func (f *fakeStore) ListOpenDebts(context.Context, string) ([]repo.Debt, error) {
	return f.debts, nil
}

var fixedNow = time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)

func newTestHandlers(store Store) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, nil, WithClock(func() time.Time { return fixedNow }))
}

func amount(s string) nlu.Amount {
	return nlu.AmountOf(decimal.RequireFromString(s))
}

func req(in *nlu.Intent) Request {
	return Request{UserID: "u1", Timezone: "UTC", Intent: in}
}

func TestExpenseRecordsTransaction(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	reply, err := h.Expense(context.Background(), req(&nlu.Intent{Amount: amount("45.9"), Category: "Mercado", Description: "compras", Date: "ontem"}))
	require.NoError(t, err)
	require.Len(t, store.txs, 1)

	tx := store.txs[0]
	assert.Equal(t, repo.KindExpense, tx.Kind)
	assert.Equal(t, "mercado", tx.Category)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("45.90")))
	assert.Equal(t, 14, tx.OccurredAt.Day())
	assert.Contains(t, reply, "R$ 45,90")
	assert.Contains(t, reply, "14/03/2025")
}

func TestExpenseValidation(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	reply, err := h.Expense(context.Background(), req(&nlu.Intent{Category: "mercado"}))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.NotEmpty(t, reply)

	_, err = h.Expense(context.Background(), req(&nlu.Intent{Amount: amount("-3"), Category: "mercado"}))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.Expense(context.Background(), req(&nlu.Intent{Amount: amount("10")}))
	assert.ErrorIs(t, err, ErrMissingCategory)
	assert.Empty(t, store.txs)
}

func TestInvestmentAndIncomeDefaults(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	_, err := h.Investment(context.Background(), req(&nlu.Intent{Amount: amount("500")}))
	require.NoError(t, err)
	_, err = h.Income(context.Background(), req(&nlu.Intent{Amount: amount("1200")}))
	require.NoError(t, err)

	require.Len(t, store.txs, 2)
	assert.Equal(t, "investimento", store.txs[0].Type)
	assert.Equal(t, "investimentos", store.txs[0].Category)
	assert.Equal(t, repo.KindRevenue, store.txs[1].Kind)
	assert.Equal(t, "receitas", store.txs[1].Category)
}

func TestPersistenceFailureReturnsApology(t *testing.T) {
	boom := errors.New("db down")
	h := newTestHandlers(&fakeStore{failTx: boom})

	reply, err := h.PersonalExpense(context.Background(), req(&nlu.Intent{Amount: amount("10"), Category: "luz"}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, replySaveFailed, reply)
}

func TestSaleUsesRegisteredPrice(t *testing.T) {
	price := decimal.RequireFromString("89.90")
	store := &fakeStore{products: map[string]repo.Product{
		"fone": {ID: "p1", Name: "fone", Price: &price, Category: "eletrônicos"},
	}}
	h := newTestHandlers(store)

	reply, err := h.Sale(context.Background(), req(&nlu.Intent{ProductName: "Fone"}))
	require.NoError(t, err)
	require.Len(t, store.txs, 1)
	assert.Equal(t, "venda", store.txs[0].Type)
	assert.Equal(t, "eletrônicos", store.txs[0].Category)
	assert.True(t, store.txs[0].Amount.Equal(price))
	assert.Contains(t, reply, "R$ 89,90")

	_, err = h.Sale(context.Background(), req(&nlu.Intent{ProductName: "desconhecido"}))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConfirmedSaleDefaultsCategory(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	_, err := h.ConfirmedSale(context.Background(), Request{UserID: "u1"}, "Capa", "", decimal.RequireFromString("30"))
	require.NoError(t, err)
	require.Len(t, store.txs, 1)
	assert.Equal(t, "vendas", store.txs[0].Category)
	require.NotNil(t, store.txs[0].Description)
	assert.Equal(t, "Capa", *store.txs[0].Description)

	_, err = h.ConfirmedSale(context.Background(), Request{UserID: "u1"}, "Capa", "", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebtDirectionAndDueDate(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	reply, err := h.Debt(context.Background(), Request{
		UserID: "u1", Timezone: "UTC", Text: "emprestei 200 pro João",
		Intent: &nlu.Intent{Amount: amount("200"), Counterparty: "João", DueDate: "10/04/2025"},
	})
	require.NoError(t, err)
	require.Len(t, store.debts, 1)
	assert.Equal(t, repo.DebtReceivable, store.debts[0].Direction)
	require.NotNil(t, store.debts[0].DueDate)
	assert.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), *store.debts[0].DueDate)
	assert.Contains(t, reply, "João te deve")

	_, err = h.Debt(context.Background(), req(&nlu.Intent{Amount: amount("10")}))
	assert.ErrorIs(t, err, ErrMissingCounterparty)
}

func TestSummaryBalance(t *testing.T) {
	store := &fakeStore{
		totals: map[repo.Kind][]repo.CategoryTotal{
			repo.KindRevenue: {{Category: "vendas", Total: decimal.NewFromInt(1000), Count: 3}},
			repo.KindExpense: {{Category: "mercado", Total: decimal.RequireFromString("250.50"), Count: 2}},
		},
		debts: []repo.Debt{{Amount: decimal.NewFromInt(100), Direction: repo.DebtPayable}},
	}
	h := newTestHandlers(store)

	reply, err := h.Summary(context.Background(), req(nil))
	require.NoError(t, err)
	assert.Contains(t, reply, "03/2025")
	assert.Contains(t, reply, "Saldo do negócio: R$ 749,50")
	assert.NotContains(t, reply, "Saldo pessoal")
	assert.Contains(t, reply, "a pagar R$ 100,00")
}

func TestUndoRemovesLatest(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)
	for _, v := range []string{"10", "20"} {
		_, err := h.Expense(context.Background(), req(&nlu.Intent{Amount: amount(v), Category: "mercado"}))
		require.NoError(t, err)
	}

	reply, err := h.Undo(context.Background(), req(&nlu.Intent{Type: "gasto"}))
	require.NoError(t, err)
	assert.Contains(t, reply, "R$ 20,00")
	require.Len(t, store.txs, 1)

	reply, err = h.Undo(context.Background(), req(&nlu.Intent{Type: "receita"}))
	require.NoError(t, err)
	assert.Contains(t, reply, "Não há")
}

func TestRegisterProduct(t *testing.T) {
	store := &fakeStore{}
	h := newTestHandlers(store)

	reply, err := h.RegisterProduct(context.Background(), req(&nlu.Intent{ProductName: "Fone", Price: amount("89.9")}))
	require.NoError(t, err)
	assert.Contains(t, reply, "R$ 89,90")
	require.Contains(t, store.products, "fone")

	reply, err = h.RegisterProduct(context.Background(), req(&nlu.Intent{Price: amount("10")}))
	assert.ErrorIs(t, err, ErrMissingProduct)
	assert.Contains(t, reply, "nome do produto")
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"":           fixedNow,
		"hoje":       fixedNow,
		"ontem":      fixedNow.AddDate(0, 0, -1),
		"anteontem":  fixedNow.AddDate(0, 0, -2),
		"01/02/2024": time.Date(2024, 2, 1, 14, 30, 0, 0, time.UTC),
		"5/3":        time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC),
		"2024-12-25": time.Date(2024, 12, 25, 14, 30, 0, 0, time.UTC),
		"semana que": fixedNow,
	}
	for in, want := range cases {
		got := parseDate(in, fixedNow, time.UTC)
		assert.True(t, want.Equal(got), "%q: want %s got %s", in, want, got)
	}
}
