package nlu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"bot-financas/internal/money"

	"github.com/shopspring/decimal"
)

// Intent names returned in the intencao field.
const (
	IntentExpense         = "registrar_gasto"
	IntentIncome          = "registrar_receita"
	IntentInvestment      = "registrar_investimento"
	IntentDebt            = "registrar_divida"
	IntentSale            = "registrar_venda"
	IntentPersonalExpense = "registrar_gasto_pessoal"
	IntentPersonalIncome  = "registrar_receita_pessoal"
	IntentRegisterProduct = "cadastrar_produto"
	IntentSummary         = "resumo"
	IntentStatement       = "extrato"
	IntentUndo            = "desfazer"
	IntentHelp            = "ajuda"
	IntentIdentifyProduct = "identificar_produto"
	IntentUnknown         = "desconhecido"
)

// Intent is the structured result of interpreting a message.
type Intent struct {
	Intent       string  `json:"intencao"`
	Type         string  `json:"tipo,omitempty"`
	Amount       Amount  `json:"valor"`
	Category     string  `json:"categoria,omitempty"`
	Description  string  `json:"descricao,omitempty"`
	ProductName  string  `json:"produto_nome,omitempty"`
	Confidence   float64 `json:"confianca,omitempty"`
	Date         string  `json:"data,omitempty"`
	Counterparty string  `json:"contraparte,omitempty"`
	DueDate      string  `json:"vencimento,omitempty"`
	Price        Amount  `json:"preco"`
}

// Normalise lowercases the routing fields.
func (i *Intent) Normalise() {
	i.Intent = strings.ToLower(strings.TrimSpace(i.Intent))
	i.Type = strings.ToLower(strings.TrimSpace(i.Type))
	i.Category = strings.TrimSpace(i.Category)
	i.ProductName = strings.TrimSpace(i.ProductName)
}

// Amount is a nullable money value that accepts JSON numbers as well as
// strings such as "R$ 1.234,56".
type Amount struct {
	Value decimal.Decimal
	Valid bool
}

// AmountOf wraps a known value.
func AmountOf(v decimal.Decimal) Amount {
	return Amount{Value: v, Valid: true}
}

// Positive reports whether the amount is set and above zero.
func (a Amount) Positive() bool {
	return a.Valid && a.Value.IsPositive()
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(a.Value.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = Amount{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		v, err := money.Parse(s)
		if err != nil {
			return nil
		}
		*a = AmountOf(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode amount %s: %w", data, err)
	}
	*a = AmountOf(money.FromFloat(f))
	return nil
}
