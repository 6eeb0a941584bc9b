// Package convo routes inbound WhatsApp messages: pending sale confirmations
// first, then intent extraction and the domain handlers.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bot-financas/internal/confirm"
	"bot-financas/internal/handlers"
	"bot-financas/internal/metrics"
	"bot-financas/internal/money"
	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"
)

const (
	replyUnknown      = "Não entendi. Envie *ajuda* para ver exemplos do que posso registrar."
	replyUnavailable  = "Estou com dificuldade para entender mensagens agora. Tente novamente em instantes."
	replyImageFailed  = "Não consegui analisar a imagem. Tente enviar novamente ou descreva a venda em texto."
	replyInternal     = "Tive um problema ao processar sua mensagem. Tente novamente em instantes."
	replySaleNotSaved = "Não consegui registrar a venda confirmada. Por favor, envie a venda novamente em texto."
)

// Repository is the storage the engine needs directly.
type Repository interface {
	handlers.Store
	UpsertUserByWA(ctx context.Context, profile repo.UserProfile) (*repo.User, error)
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
	ListProducts(ctx context.Context, userID string) ([]repo.Product, error)
}

// Extractor turns a message into an intent.
type Extractor interface {
	Extract(ctx context.Context, req nlu.Request) (*nlu.Intent, error)
}

// Inbound is a transport-neutral incoming message.
type Inbound struct {
	MessageID   string
	WAID        string
	WAJID       string
	DisplayName string
	Text        string
	Image       []byte
	MimeType    string
}

// Engine routes messages to the confirmation cache or the handlers.
type Engine struct {
	repo     Repository
	nlu      Extractor
	confirm  *confirm.Cache
	handlers *handlers.Handlers
	sender   Sender
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates the conversation engine. sender may be nil when only Handle is used.
func New(repository Repository, extractor Extractor, cache *confirm.Cache, h *handlers.Handlers, sender Sender, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repository,
		nlu:      extractor,
		confirm:  cache,
		handlers: h,
		sender:   sender,
		metrics:  m,
		logger:   logger.With("component", "convo"),
	}
}

// Handle processes one inbound message and returns the reply text.
func (e *Engine) Handle(ctx context.Context, in Inbound) (string, error) {
	msgType := "text"
	if len(in.Image) > 0 {
		msgType = "image"
	}
	if e.metrics != nil {
		e.metrics.WAIncomingMessages.WithLabelValues(msgType).Inc()
	}

	user, err := e.repo.UpsertUserByWA(ctx, repo.UserProfile{
		WAID:        in.WAID,
		WAJID:       optional(in.WAJID),
		DisplayName: optional(in.DisplayName),
	})
	if err != nil {
		e.countError()
		return replyInternal, fmt.Errorf("upsert user: %w", err)
	}
	e.logMessage(ctx, user.ID, "in", msgType, in.Text, in.MessageID)

	var reply string
	if msgType == "image" {
		reply, err = e.handleImage(ctx, user, in)
	} else {
		reply, err = e.handleText(ctx, user, in.Text)
	}
	if reply == "" {
		reply = replyInternal
	}
	e.logMessage(ctx, user.ID, "out", "text", reply, "")
	return reply, err
}

func (e *Engine) handleText(ctx context.Context, user *repo.User, text string) (string, error) {
	req := handlers.Request{UserID: user.ID, Timezone: user.Timezone, Text: text}

	cls, outcome := e.confirm.Consume(ctx, user.ID, text)
	if cls.Kind != confirm.NoActiveContext {
		return e.handleConfirmation(ctx, req, cls, outcome)
	}

	intent, err := e.nlu.Extract(ctx, nlu.Request{Text: text})
	if err != nil {
		e.logger.Warn("intent extraction failed, using keywords", "user_id", user.ID, "error", err)
		e.countError()
		intent = fallbackIntent(text)
		if routeIntent(intent, text) == nlu.IntentUnknown {
			return replyUnavailable, err
		}
	}
	req.Intent = intent
	return e.dispatch(ctx, req)
}

func (e *Engine) handleConfirmation(ctx context.Context, req handlers.Request, cls confirm.Classification, outcome confirm.Outcome) (string, error) {
	e.logger.Info("confirmation reply", "user_id", req.UserID, "classification", cls.Kind.String(), "outcome", outcome.Kind.String())
	if e.metrics != nil {
		e.metrics.Confirmations.WithLabelValues(outcome.Kind.String()).Inc()
	}

	switch outcome.Kind {
	case confirm.Registered:
		reply, err := e.handlers.ConfirmedSale(ctx, req, outcome.Product.Name, outcome.Product.Category, outcome.Price)
		if err != nil {
			return replySaleNotSaved, fmt.Errorf("register confirmed sale: %w", err)
		}
		return reply, nil
	case confirm.Cancelled:
		return fmt.Sprintf("❌ Venda de *%s* cancelada.", outcome.Product.Name), nil
	case confirm.AwaitingClarification:
		return outcome.Prompt, nil
	default:
		return replyUnknown, nil
	}
}

func (e *Engine) handleImage(ctx context.Context, user *repo.User, in Inbound) (string, error) {
	intent, err := e.nlu.Extract(ctx, nlu.Request{Text: in.Text, Image: in.Image, MimeType: in.MimeType})
	if err != nil {
		e.countError()
		return replyImageFailed, fmt.Errorf("extract image intent: %w", err)
	}

	unrouted := intent.Intent == "" || intent.Intent == nlu.IntentUnknown
	if intent.Intent == nlu.IntentIdentifyProduct || (unrouted && intent.ProductName != "") {
		if intent.ProductName == "" {
			return "Não reconheci o produto da foto. Envie outra foto ou descreva a venda em texto.", nil
		}
		snap := e.snapshotFromIntent(ctx, user.ID, intent)
		e.confirm.Save(ctx, user.ID, snap)
		return confirm.Prompt(snap), nil
	}

	return e.dispatch(ctx, handlers.Request{UserID: user.ID, Timezone: user.Timezone, Text: in.Text, Intent: intent})
}

func (e *Engine) dispatch(ctx context.Context, req handlers.Request) (string, error) {
	route := routeIntent(req.Intent, req.Text)
	if route != req.Intent.Intent {
		e.logger.Debug("intent rerouted", "user_id", req.UserID, "from", req.Intent.Intent, "to", route)
	}

	var fn func(context.Context, handlers.Request) (string, error)
	switch route {
	case nlu.IntentExpense:
		fn = e.handlers.Expense
	case nlu.IntentIncome:
		fn = e.handlers.Income
	case nlu.IntentInvestment:
		fn = e.handlers.Investment
	case nlu.IntentDebt:
		fn = e.handlers.Debt
	case nlu.IntentSale:
		fn = e.handlers.Sale
	case nlu.IntentPersonalExpense:
		fn = e.handlers.PersonalExpense
	case nlu.IntentPersonalIncome:
		fn = e.handlers.PersonalIncome
	case nlu.IntentRegisterProduct:
		fn = e.handlers.RegisterProduct
	case nlu.IntentSummary:
		fn = e.handlers.Summary
	case nlu.IntentStatement:
		fn = e.handlers.Statement
	case nlu.IntentUndo:
		fn = e.handlers.Undo
	case nlu.IntentHelp:
		fn = e.handlers.Help
	default:
		return replyUnknown, nil
	}

	reply, err := fn(ctx, req)
	if err != nil && isValidation(err) {
		e.logger.Info("handler validation failed", "user_id", req.UserID, "route", route, "error", err)
		return reply, nil
	}
	return reply, err
}

func isValidation(err error) bool {
	return errors.Is(err, handlers.ErrInvalidAmount) ||
		errors.Is(err, handlers.ErrMissingCategory) ||
		errors.Is(err, handlers.ErrMissingProduct) ||
		errors.Is(err, handlers.ErrMissingCounterparty)
}

// routeIntent picks the handler for an intent, falling back to tipo and then to
// keywords in the raw text when the model gave no usable intencao.
func routeIntent(in *nlu.Intent, text string) string {
	if in == nil {
		in = &nlu.Intent{}
	}
	switch in.Intent {
	case "", nlu.IntentUnknown, nlu.IntentIdentifyProduct:
	default:
		return in.Intent
	}
	if r := keywordRoute(in.Type); r != nlu.IntentUnknown {
		return r
	}
	return keywordRoute(text)
}

var keywordRoutes = []struct {
	route    string
	keywords []string
}{
	{nlu.IntentHelp, []string{"ajuda", "help"}},
	{nlu.IntentSummary, []string{"resumo", "saldo", "relatório", "relatorio"}},
	{nlu.IntentUndo, []string{"desfazer", "apagar último", "apagar ultimo"}},
	{nlu.IntentStatement, []string{"extrato"}},
	{nlu.IntentInvestment, []string{"investi", "investimento"}},
	{nlu.IntentSale, []string{"vendi", "venda"}},
	{nlu.IntentDebt, []string{"devo", "dívida", "divida", "emprestei", "me deve"}},
	{nlu.IntentExpense, []string{"gasto", "gastei", "despesa", "paguei"}},
	{nlu.IntentIncome, []string{"receita", "ganhei", "recebi"}},
}

func keywordRoute(text string) string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nlu.IntentUnknown
	}
	for _, kr := range keywordRoutes {
		for _, kw := range kr.keywords {
			if strings.Contains(lower, kw) {
				return kr.route
			}
		}
	}
	return nlu.IntentUnknown
}

// fallbackIntent reads what it can from the raw text when the extractor is down.
func fallbackIntent(text string) *nlu.Intent {
	in := &nlu.Intent{Intent: keywordRoute(text), Description: strings.TrimSpace(text)}
	if v, err := money.Parse(text); err == nil {
		in.Amount = nlu.AmountOf(v)
	}
	return in
}

func (e *Engine) logMessage(ctx context.Context, userID, direction, msgType, content, messageID string) {
	rec := repo.MessageRecord{
		UserID:    userID,
		Direction: direction,
		Type:      msgType,
		Content:   optional(content),
	}
	if messageID != "" {
		rec.RawPayload = map[string]any{"message_id": messageID}
	}
	if err := e.repo.InsertMessage(ctx, rec); err != nil {
		e.logger.Warn("failed to log message", "user_id", userID, "direction", direction, "error", err)
	}
}

func (e *Engine) countError() {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues("convo").Inc()
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
