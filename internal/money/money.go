package money

import (
	"errors"
	"fmt"
	"math"
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an immutable fixed-point amount: integer minor units plus an
// ISO 4217 currency code. All arithmetic stays in minor units; Format is
// the only place a decimal point appears.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func Zero(currency string) Money {
	return Money{Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

func (m Money) MulInt(factor int64) Money {
	return Money{Amount: m.Amount * factor, Currency: m.Currency}
}

// MulFloat multiplies by an arbitrary scalar, rounding half away from
// zero to the nearest minor unit at this step (not deferred).
func (m Money) MulFloat(factor float64) Money {
	return Money{Amount: int64(math.Round(float64(m.Amount) * factor)), Currency: m.Currency}
}

// Percent returns p percent of the amount, rounded at this step.
func (m Money) Percent(p float64) Money {
	return Money{Amount: int64(math.Round(float64(m.Amount) * p / 100)), Currency: m.Currency}
}

// Cmp returns -1, 0 or +1. Comparing mismatched currencies is a
// programming error and panics rather than returning a silent ordering.
func (m Money) Cmp(other Money) int {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: cannot compare %s with %s", m.Currency, other.Currency))
	}
	switch {
	case m.Amount < other.Amount:
		return -1
	case m.Amount > other.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) IsNegative() bool {
	return m.Amount < 0
}

// MinorUnits returns the number of decimal digits in the currency's
// minor unit. Zero-decimal currencies follow ISO 4217.
func MinorUnits(currency string) int {
	switch currency {
	case "JPY", "KRW", "VND", "IDR":
		return 0
	default:
		return 2
	}
}

func (m Money) Format() string {
	digits := MinorUnits(m.Currency)
	if digits == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	div := int64(math.Pow10(digits))
	amount := m.Amount
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, amount/div, digits, amount%div, m.Currency)
}
