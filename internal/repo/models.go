package repo

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Kind selects which ledger table a Transaction lives in.
type Kind string

const (
	KindExpense         Kind = "expense"
	KindRevenue         Kind = "revenue"
	KindPersonalExpense Kind = "personal_expense"
	KindPersonalIncome  Kind = "personal_income"
)

// Table returns the ledger table backing the kind.
func (k Kind) Table() (string, error) {
	switch k {
	case KindExpense:
		return "expenses", nil
	case KindRevenue:
		return "revenues", nil
	case KindPersonalExpense:
		return "personal_expenses", nil
	case KindPersonalIncome:
		return "personal_incomes", nil
	default:
		return "", fmt.Errorf("unknown ledger kind %q", string(k))
	}
}

// User represents the users table row.
type User struct {
	ID          string
	WAID        string
	WAJID       *string
	DisplayName *string
	PhoneNumber *string
	Timezone    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserProfile carries data used to upsert a user.
type UserProfile struct {
	WAID        string
	WAJID       *string
	DisplayName *string
	PhoneNumber *string
	Timezone    *string
}

// MessageRecord is used to persist conversation logs.
type MessageRecord struct {
	UserID     string
	Direction  string
	Type       string
	Content    *string
	RawPayload map[string]any
	CreatedAt  time.Time
}

// APIKey represents a record in api_keys table.
type APIKey struct {
	ID            string
	Provider      string
	Value         string
	Priority      int
	CooldownUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transaction is a ledger entry. Type holds the expense type or the revenue source.
type Transaction struct {
	ID          string
	UserID      string
	Kind        Kind
	Amount      decimal.Decimal
	Category    string
	Description *string
	OccurredAt  time.Time
	Type        string
	CreatedAt   time.Time
}

// ListFilter narrows ListTransactions. Zero values mean "no filter".
type ListFilter struct {
	Limit    int
	Offset   int
	Category string
	From     time.Time
	To       time.Time
}

// CategoryTotal aggregates a kind by category.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
	Count    int
}

// Product is an item the user sells.
type Product struct {
	ID        string
	UserID    string
	Name      string
	Price     *decimal.Decimal
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DebtDirection tells whether the user owes or is owed.
type DebtDirection string

const (
	DebtPayable    DebtDirection = "payable"
	DebtReceivable DebtDirection = "receivable"
)

// Debt represents a row in debts table.
type Debt struct {
	ID           string
	UserID       string
	Counterparty string
	Amount       decimal.Decimal
	Direction    DebtDirection
	DueDate      *time.Time
	Status       string
	Description  *string
	CreatedAt    time.Time
}

// MonthRange returns the first instant of t's month and of the following one.
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

func nullablePrice(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func priceFromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}
