package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// DefaultCurrency is the currency of an empty order's zero total.
const DefaultCurrency = USD

const moneyScale = 2

var knownCurrencies = map[Currency]struct{}{
	USD: {},
	EUR: {},
	GBP: {},
}

func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownCurrencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, raw)
	}
	return c, nil
}

// ParseCurrencies parses a configured currency list, dropping duplicates.
func ParseCurrencies(raw []string) ([]Currency, error) {
	out := make([]Currency, 0, len(raw))
	seen := make(map[Currency]bool, len(raw))
	for _, r := range raw {
		c, err := ParseCurrency(r)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Money is a non-negative amount rounded to cents in a single currency.
// The zero value is not valid; use NewMoney or Zero.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if _, ok := knownCurrencies[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s is negative", ErrInvalidMoney, amount)
	}
	return Money{amount: amount.Round(moneyScale), currency: currency}, nil
}

// ParseMoney builds Money from a decimal string such as "10.00".
func ParseMoney(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidMoney, amount)
	}
	return NewMoney(d, currency)
}

func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() Currency { return m.currency }

func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount).Round(moneyScale), currency: m.currency}, nil
}

func (m Money) Mul(factor int) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(factor))).Round(moneyScale), currency: m.currency}
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// StringFixed renders the amount with exactly two decimals, e.g. "25.00".
func (m Money) StringFixed() string {
	return m.amount.StringFixed(moneyScale)
}

func (m Money) String() string {
	return m.StringFixed() + " " + string(m.currency)
}
