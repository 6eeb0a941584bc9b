package repo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bot-financas/migrations"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.RunMigrations(ctx, migrations.Files))
	// A second run must be a no-op.
	require.NoError(t, r.RunMigrations(ctx, migrations.Files))
	return r
}

func newTestUser(t *testing.T, r Repository, waID string) *User {
	t.Helper()
	u, err := r.UpsertUserByWA(context.Background(), UserProfile{WAID: waID})
	require.NoError(t, err)
	return u
}

func TestUpsertUserByWAIsIdempotent(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	name := "Ana"

	first, err := r.UpsertUserByWA(ctx, UserProfile{WAID: "5511999990000", DisplayName: &name})
	require.NoError(t, err)
	second, err := r.UpsertUserByWA(ctx, UserProfile{WAID: "5511999990000"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.DisplayName)
	assert.Equal(t, "Ana", *second.DisplayName)
	assert.Equal(t, "America/Sao_Paulo", second.Timezone)

	got, err := r.GetUserByWA(ctx, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = r.GetUserByWA(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLinkWhatsApp(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	u := newTestUser(t, r, "old-number")

	require.NoError(t, r.LinkWhatsApp(ctx, u.ID, "new-number"))
	got, err := r.GetUserByWA(ctx, "new-number")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	assert.ErrorIs(t, r.LinkWhatsApp(ctx, "nope", "x"), ErrNotFound)
}

func TestTransactionsLifecycle(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	u := newTestUser(t, r, "5511")
	march := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	desc := "almoço"

	entries := []Transaction{
		{UserID: u.ID, Kind: KindExpense, Amount: decimal.RequireFromString("35.50"), Category: "alimentação", Description: &desc, OccurredAt: march},
		{UserID: u.ID, Kind: KindExpense, Amount: decimal.RequireFromString("14.50"), Category: "alimentação", OccurredAt: march.Add(time.Hour)},
		{UserID: u.ID, Kind: KindExpense, Amount: decimal.RequireFromString("200"), Category: "transporte", OccurredAt: march.AddDate(0, 0, 2)},
		{UserID: u.ID, Kind: KindExpense, Amount: decimal.RequireFromString("99"), Category: "transporte", OccurredAt: march.AddDate(0, 1, 0)},
	}
	var inserted []*Transaction
	for _, e := range entries {
		tx, err := r.InsertTransaction(ctx, e)
		require.NoError(t, err)
		assert.NotEmpty(t, tx.ID)
		assert.Equal(t, KindExpense, tx.Kind)
		inserted = append(inserted, tx)
	}
	require.NotNil(t, inserted[0].Description)
	assert.Equal(t, "almoço", *inserted[0].Description)

	from, to := MonthRange(march)
	listed, err := r.ListTransactions(ctx, u.ID, KindExpense, ListFilter{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "transporte", listed[0].Category, "newest first")

	byCategory, err := r.ListTransactions(ctx, u.ID, KindExpense, ListFilter{Category: "Alimentação", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byCategory, 1)

	totals, err := r.SumByCategory(ctx, u.ID, KindExpense, from, to)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "transporte", totals[0].Category)
	assert.True(t, totals[1].Total.Equal(decimal.NewFromInt(50)), "got %s", totals[1].Total)
	assert.Equal(t, 2, totals[1].Count)

	removed, err := r.DeleteTransaction(ctx, u.ID, KindExpense, inserted[2].ID)
	require.NoError(t, err)
	assert.Equal(t, inserted[2].ID, removed.ID)

	_, err = r.DeleteTransaction(ctx, u.ID, KindExpense, inserted[2].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	revenues, err := r.ListTransactions(ctx, u.ID, KindRevenue, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, revenues)
}

func TestUnknownKindIsRejected(t *testing.T) {
	r := newTestSQLite(t)
	_, err := r.InsertTransaction(context.Background(), Transaction{Kind: Kind("bogus")})
	assert.Error(t, err)
}

func TestProductsUpsertAndLookup(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	u := newTestUser(t, r, "5511")
	price := decimal.RequireFromString("89.90")

	p, err := r.UpsertProduct(ctx, Product{UserID: u.ID, Name: "Fone  Bluetooth", Price: &price, Category: "eletrônicos"})
	require.NoError(t, err)

	again, err := r.UpsertProduct(ctx, Product{UserID: u.ID, Name: "fone bluetooth"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	require.NotNil(t, again.Price, "price kept when update omits it")
	assert.True(t, again.Price.Equal(price))
	assert.Equal(t, "eletrônicos", again.Category)

	found, err := r.FindProductByName(ctx, u.ID, "FONE BLUETOOTH")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = r.FindProductByName(ctx, u.ID, "teclado")
	assert.ErrorIs(t, err, ErrNotFound)

	noPrice, err := r.UpsertProduct(ctx, Product{UserID: u.ID, Name: "Capa"})
	require.NoError(t, err)
	assert.Nil(t, noPrice.Price)

	all, err := r.ListProducts(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDebts(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	u := newTestUser(t, r, "5511")
	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	d, err := r.InsertDebt(ctx, Debt{UserID: u.ID, Counterparty: "João", Amount: decimal.NewFromInt(150), Direction: DebtReceivable, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, "open", d.Status)
	require.NotNil(t, d.DueDate)
	assert.True(t, d.DueDate.Equal(due))

	_, err = r.InsertDebt(ctx, Debt{UserID: u.ID, Counterparty: "Banco", Amount: decimal.NewFromInt(900), Direction: DebtPayable})
	require.NoError(t, err)

	open, err := r.ListOpenDebts(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "João", open[0].Counterparty)
	assert.Nil(t, open[1].DueDate)
}

func TestAPIKeyCooldown(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, r.SyncGeminiKeys(ctx, []string{"key-a", "key-b"}))
	require.NoError(t, r.SyncGeminiKeys(ctx, []string{"key-b", "key-a"}))

	keys, err := r.ListActiveGeminiKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "key-b", keys[0].Value)

	until := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, r.SetCooldownUntil(ctx, keys[0].ID, until))
	keys, err = r.ListActiveGeminiKeys(ctx)
	require.NoError(t, err)
	require.NotNil(t, keys[0].CooldownUntil)
	assert.True(t, keys[0].CooldownUntil.Equal(until))

	require.NoError(t, r.ClearCooldown(ctx, keys[0].ID))
	assert.ErrorIs(t, r.ClearCooldown(ctx, "missing"), ErrNotFound)
}

func TestSyncGeminiKeysRetiresRemovedKeys(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, r.SyncGeminiKeys(ctx, []string{"key-a", "key-b", "key-c"}))
	keys, err := r.ListActiveGeminiKeys(ctx)
	require.NoError(t, err)
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, r.SetCooldownUntil(ctx, keys[2].ID, until))

	require.NoError(t, r.SyncGeminiKeys(ctx, []string{" key-c ", "key-a", "key-c", ""}))
	keys, err = r.ListActiveGeminiKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "key-c", keys[0].Value)
	assert.Equal(t, 0, keys[0].Priority)
	require.NotNil(t, keys[0].CooldownUntil, "cooldown survives a resync")
	assert.Equal(t, "key-a", keys[1].Value)

	assert.Error(t, r.SyncGeminiKeys(ctx, []string{" ", ""}))
}

func TestMonthRange(t *testing.T) {
	start, end := MonthRange(time.Date(2025, 12, 17, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)
}
