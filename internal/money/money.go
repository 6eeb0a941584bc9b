// Package money parses user-typed amounts and renders them in Brazilian reais.
package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoAmount is returned when the text carries no numeric value.
	ErrNoAmount = errors.New("no numeric value")

	amountRegex = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:[.,]\d{1,2})?`)
)

// Parse extracts the first amount from free text such as "R$ 1.234,56", "89.90"
// or "50 reais". A "k"/"mil" suffix multiplies by a thousand.
func Parse(text string) (decimal.Decimal, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return decimal.Zero, ErrNoAmount
	}
	match := amountRegex.FindStringIndex(text)
	if match == nil {
		return decimal.Zero, ErrNoAmount
	}
	raw := text[match[0]:match[1]]
	rest := strings.TrimSpace(text[match[1]:])

	var normalised string
	switch {
	case strings.Count(raw, ".") > 0 && strings.Contains(raw, ","):
		normalised = strings.ReplaceAll(strings.ReplaceAll(raw, ".", ""), ",", ".")
	case strings.Count(raw, ".") > 1 || (strings.Contains(raw, ".") && len(raw)-strings.LastIndex(raw, ".") == 4):
		normalised = strings.ReplaceAll(raw, ".", "")
	default:
		normalised = strings.ReplaceAll(raw, ",", ".")
	}

	value, err := decimal.NewFromString(normalised)
	if err != nil {
		return decimal.Zero, err
	}
	if strings.HasPrefix(rest, "k") || strings.HasPrefix(rest, "mil") {
		value = value.Mul(decimal.NewFromInt(1000))
	}
	return value, nil
}

// FromFloat converts a model-supplied float into a two-decimal amount.
func FromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Format renders an amount as "R$ 1.234,56".
func Format(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return sign + "R$ " + grouped.String() + "," + frac
}
