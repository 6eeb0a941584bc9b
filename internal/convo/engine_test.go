package convo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"bot-financas/internal/confirm"
	"bot-financas/internal/handlers"
	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	txs      []repo.Transaction
	messages []repo.MessageRecord
	products []repo.Product
	failTx   bool
}

func (m *memRepo) UpsertUserByWA(_ context.Context, p repo.UserProfile) (*repo.User, error) {
	return &repo.User{ID: "user-" + p.WAID, WAID: p.WAID, Timezone: "UTC"}, nil
}

func (m *memRepo) InsertMessage(_ context.Context, msg repo.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memRepo) InsertTransaction(_ context.Context, tx repo.Transaction) (*repo.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTx {
		return nil, errors.New("db down")
	}
	tx.ID = "tx"
	m.txs = append(m.txs, tx)
	return &tx, nil
}

func (m *memRepo) ListTransactions(context.Context, string, repo.Kind, repo.ListFilter) ([]repo.Transaction, error) {
	return nil, nil
}

func (m *memRepo) DeleteTransaction(context.Context, string, repo.Kind, string) (*repo.Transaction, error) {
	return nil, repo.ErrNotFound
}

func (m *memRepo) SumByCategory(context.Context, string, repo.Kind, time.Time, time.Time) ([]repo.CategoryTotal, error) {
	return nil, nil
}

func (m *memRepo) UpsertProduct(_ context.Context, p repo.Product) (*repo.Product, error) {
	m.products = append(m.products, p)
	return &p, nil
}

func (m *memRepo) FindProductByName(_ context.Context, _ string, name string) (*repo.Product, error) {
	for _, p := range m.products {
		if strings.EqualFold(p.Name, name) {
			return &p, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRepo) ListProducts(context.Context, string) ([]repo.Product, error) {
	return m.products, nil
}

func (m *memRepo) InsertDebt(_ context.Context, d repo.Debt) (*repo.Debt, error) {
	return &d, nil
}

func (m *memRepo) ListOpenDebts(context.Context, string) ([]repo.Debt, error) {
	return nil, nil
}

func (m *memRepo) revenues() []repo.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Transaction
	for _, tx := range m.txs {
		if tx.Kind == repo.KindRevenue {
			out = append(out, tx)
		}
	}
	return out
}

type fakeExtractor struct {
	calls  int
	intent *nlu.Intent
	err    error
}

func (f *fakeExtractor) Extract(context.Context, nlu.Request) (*nlu.Intent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.intent
	return &cp, nil
}

type harness struct {
	engine    *Engine
	repo      *memRepo
	extractor *fakeExtractor
	cache     *confirm.Cache
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		repo:      &memRepo{},
		extractor: &fakeExtractor{intent: &nlu.Intent{Intent: nlu.IntentUnknown}},
		now:       time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.cache = confirm.New(confirm.NewMemoryStore(0), logger, confirm.WithClock(clock))
	hs := handlers.New(h.repo, logger, nil, handlers.WithClock(clock))
	h.engine = New(h.repo, h.extractor, h.cache, hs, nil, nil, logger)
	return h
}

func (h *harness) send(t *testing.T, text string) string {
	t.Helper()
	reply, err := h.engine.Handle(context.Background(), Inbound{WAID: "5511", Text: text})
	require.NoError(t, err)
	return reply
}

func (h *harness) sendImage(t *testing.T, intent *nlu.Intent) string {
	t.Helper()
	h.extractor.intent = intent
	reply, err := h.engine.Handle(context.Background(), Inbound{WAID: "5511", Image: []byte("jpeg"), MimeType: "image/jpeg"})
	require.NoError(t, err)
	return reply
}

func TestPendingContextTakesPriorityOverIntent(t *testing.T) {
	h := newHarness(t)
	h.cache.Save(context.Background(), "user-5511", confirm.ProductSnapshot{Name: "Fone"})
	h.extractor.intent = &nlu.Intent{Intent: nlu.IntentExpense, Amount: nlu.AmountOf(decimal.NewFromInt(85)), Category: "mercado"}

	reply := h.send(t, "85,00")

	assert.Equal(t, 0, h.extractor.calls, "extractor must not see confirmation replies")
	revenues := h.repo.revenues()
	require.Len(t, revenues, 1)
	assert.True(t, revenues[0].Amount.Equal(decimal.NewFromInt(85)))
	assert.Equal(t, "venda", revenues[0].Type)
	assert.Contains(t, reply, "Venda registrada")
}

func TestWithoutContextNumbersGoToExtractor(t *testing.T) {
	h := newHarness(t)
	h.extractor.intent = &nlu.Intent{Intent: nlu.IntentExpense, Amount: nlu.AmountOf(decimal.NewFromInt(85)), Category: "mercado"}

	reply := h.send(t, "85,00")

	assert.Equal(t, 1, h.extractor.calls)
	require.Len(t, h.repo.txs, 1)
	assert.Equal(t, repo.KindExpense, h.repo.txs[0].Kind)
	assert.Contains(t, reply, "Gasto registrado")
}

func TestImageIdentificationThenConfirm(t *testing.T) {
	h := newHarness(t)
	price := decimal.RequireFromString("89.90")
	h.repo.products = []repo.Product{{ID: "p1", Name: "Fone Bluetooth JBL", Price: &price, Category: "eletrônicos"}}

	reply := h.sendImage(t, &nlu.Intent{Intent: nlu.IntentIdentifyProduct, ProductName: "fone bluetooth", Confidence: 0.9})
	assert.Contains(t, reply, "fone bluetooth")
	assert.Contains(t, reply, "R$ 89,90")

	pending := h.cache.Peek(context.Background(), "user-5511")
	require.NotNil(t, pending)
	require.NotNil(t, pending.Product.ProductID)
	assert.Equal(t, "p1", *pending.Product.ProductID)

	reply = h.send(t, "Sim")
	assert.Contains(t, reply, "R$ 89,90")
	revenues := h.repo.revenues()
	require.Len(t, revenues, 1)
	assert.Equal(t, "eletrônicos", revenues[0].Category)
	assert.Nil(t, h.cache.Peek(context.Background(), "user-5511"))
}

func TestImageWithoutPriceAsksForAmount(t *testing.T) {
	h := newHarness(t)
	h.sendImage(t, &nlu.Intent{Intent: nlu.IntentIdentifyProduct, ProductName: "Capa"})

	reply := h.send(t, "sim")
	assert.Contains(t, reply, "não tem preço")
	assert.Empty(t, h.repo.revenues())

	h.send(t, "30")
	require.Len(t, h.repo.revenues(), 1)
	assert.Equal(t, "vendas", h.repo.revenues()[0].Category)
}

func TestExpiredContextFallsThroughToExtractor(t *testing.T) {
	h := newHarness(t)
	h.sendImage(t, &nlu.Intent{Intent: nlu.IntentIdentifyProduct, ProductName: "Capa"})
	calls := h.extractor.calls

	h.now = h.now.Add(confirm.DefaultTTL + time.Second)
	h.extractor.intent = &nlu.Intent{Intent: nlu.IntentUnknown}
	reply := h.send(t, "sim")

	assert.Equal(t, calls+1, h.extractor.calls)
	assert.Equal(t, replyUnknown, reply)
	assert.Empty(t, h.repo.revenues())
}

func TestCancelAndRepeat(t *testing.T) {
	h := newHarness(t)
	h.sendImage(t, &nlu.Intent{Intent: nlu.IntentIdentifyProduct, ProductName: "Capa"})

	assert.Contains(t, h.send(t, "não"), "cancelada")
	calls := h.extractor.calls
	h.send(t, "não")
	assert.Equal(t, calls+1, h.extractor.calls, "second reply is no longer a confirmation")
}

func TestConfirmedSaleFailureApologises(t *testing.T) {
	h := newHarness(t)
	h.repo.failTx = true
	h.cache.Save(context.Background(), "user-5511", confirm.ProductSnapshot{Name: "Capa"})

	reply, err := h.engine.Handle(context.Background(), Inbound{WAID: "5511", Text: "40"})
	assert.Error(t, err)
	assert.Equal(t, replySaleNotSaved, reply)
	assert.Nil(t, h.cache.Peek(context.Background(), "user-5511"), "context is not restored")
}

func TestExtractorFailureUsesKeywords(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = errors.New("quota")

	reply := h.send(t, "resumo do mês")
	assert.Contains(t, reply, "Resumo")

	reply, err := h.engine.Handle(context.Background(), Inbound{WAID: "5511", Text: "bom dia"})
	assert.Error(t, err)
	assert.Equal(t, replyUnavailable, reply)
}

func TestValidationErrorsBecomeReplies(t *testing.T) {
	h := newHarness(t)
	h.extractor.intent = &nlu.Intent{Intent: nlu.IntentExpense}

	reply := h.send(t, "gastei no mercado")
	assert.NotEmpty(t, reply)
	assert.Empty(t, h.repo.txs)

	h.extractor.intent = &nlu.Intent{Intent: nlu.IntentRegisterProduct}
	reply = h.send(t, "cadastrar produto")
	assert.Contains(t, reply, "nome do produto")
	assert.Empty(t, h.repo.products)
}

func TestMessagesAreLogged(t *testing.T) {
	h := newHarness(t)
	h.send(t, "oi")

	require.Len(t, h.repo.messages, 2)
	assert.Equal(t, "in", h.repo.messages[0].Direction)
	assert.Equal(t, "out", h.repo.messages[1].Direction)
}

func TestRouteIntentFallbacks(t *testing.T) {
	cases := []struct {
		intent *nlu.Intent
		text   string
		want   string
	}{
		{&nlu.Intent{Intent: nlu.IntentDebt}, "qualquer", nlu.IntentDebt},
		{&nlu.Intent{Intent: nlu.IntentUnknown, Type: "despesa"}, "", nlu.IntentExpense},
		{nil, "Investi 500 no CDB", nlu.IntentInvestment},
		{nil, "emprestei 50 pro Zé", nlu.IntentDebt},
		{nil, "vendi uma capa", nlu.IntentSale},
		{nil, "ganhei 100", nlu.IntentIncome},
		{nil, "bom dia", nlu.IntentUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, routeIntent(c.intent, c.text), c.text)
	}
}
