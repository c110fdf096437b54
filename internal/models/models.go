package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var (
	ErrInvalidTrade       = errors.New("invalid trade")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// ParseSide accepts any casing of "buy" or "sell".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, s)
}

type Kind string

const (
	Income  Kind = "Income"
	Expense Kind = "Expense"
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, s)
}

type Trade struct {
	ID        int64           `db:"id" json:"id"`
	Date      time.Time       `db:"date" json:"date"`
	Ticker    string          `db:"ticker" json:"ticker"`
	Side      Side            `db:"side" json:"side"`
	Shares    decimal.Decimal `db:"shares" json:"shares"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Currency  string          `db:"currency" json:"currency"`
	Note      string          `db:"note" json:"note"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Value is shares times price.
func (t Trade) Value() decimal.Decimal {
	return t.Shares.Mul(t.Price)
}

// Normalize upper-cases the ticker and fills the default currency.
func (t *Trade) Normalize() {
	t.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
}

func (t Trade) Validate() error {
	if t.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidTrade)
	}
	if t.Side != Buy && t.Side != Sell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, t.Side)
	}
	if !t.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive", ErrInvalidTrade)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidTrade)
	}
	return nil
}

type CashTransaction struct {
	ID        int64           `db:"id" json:"id"`
	Date      time.Time       `db:"date" json:"date"`
	Kind      Kind            `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Category  string          `db:"category" json:"category"`
	Tag       string          `db:"tag" json:"tag"`
	Note      string          `db:"note" json:"note"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Signed returns the amount as a cash flow: positive for income, negative for expenses.
func (c CashTransaction) Signed() decimal.Decimal {
	if c.Kind == Expense {
		return c.Amount.Neg()
	}
	return c.Amount
}

func (c CashTransaction) Validate() error {
	if c.Kind != Income && c.Kind != Expense {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, c.Kind)
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	return nil
}

type Tag struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
