package confirm

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind enumerates how a reply relates to a pending context.
type Kind int

const (
	NoActiveContext Kind = iota
	Confirm
	Cancel
	ExplicitAmount
	Unrecognized
)

func (k Kind) String() string {
	switch k {
	case Confirm:
		return "confirm"
	case Cancel:
		return "cancel"
	case ExplicitAmount:
		return "explicit_amount"
	case Unrecognized:
		return "unrecognized"
	default:
		return "no_active_context"
	}
}

// Classification is the meaning assigned to a reply. Amount is set only for ExplicitAmount.
type Classification struct {
	Kind   Kind
	Amount decimal.Decimal
}

var (
	affirmations = map[string]struct{}{
		"sim": {}, "ok": {}, "confirmar": {}, "confirmo": {}, "yes": {},
	}
	negations = map[string]struct{}{
		"não": {}, "nao": {}, "no": {}, "cancelar": {}, "cancel": {},
	}

	bareAmountRegex = regexp.MustCompile(`^(?:r\$\s*)?(\d+(?:[.,]\d{1,2})?)\s*(?:r\$|reais)?$`)
)

// classifyReply maps a reply against a live context. Tokens are matched exactly,
// the amount pattern only after both token sets miss.
func classifyReply(message string) Classification {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Classification{Kind: Unrecognized}
	}
	if _, ok := affirmations[text]; ok {
		return Classification{Kind: Confirm}
	}
	if _, ok := negations[text]; ok {
		return Classification{Kind: Cancel}
	}
	if amount, ok := parseBareAmount(text); ok {
		return Classification{Kind: ExplicitAmount, Amount: amount}
	}
	return Classification{Kind: Unrecognized}
}

func parseBareAmount(text string) (decimal.Decimal, bool) {
	m := bareAmountRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}
