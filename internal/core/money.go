// Package core provides money parsing and handling utilities.
//
// This file contains the Money value type used for every balance in the ledger.
// Amounts are held as signed integer cents; decimal conversion goes through
// shopspring/decimal so no float ever touches a stored amount.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a signed amount in cents. Positive values are credits, negative
// values are debits.
type Money struct {
	Cents int64
}

// MaxAmount bounds a single posting or envelope limit: 100 billion in
// currency units.
var MaxAmount = Money{Cents: 10_000_000_000_000}

var (
	maxCents = decimal.NewFromInt(1<<63 - 1)
	minCents = decimal.NewFromInt(-1 << 63)
)

// Cents builds a Money value from a cent count.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseMoney converts a decimal string to Money with half-up rounding to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. Zero is a valid amount here; callers decide whether zero is
// acceptable for their operation.
//
// Examples:
//
//	ParseMoney("12.34")   -> 1234 cents
//	ParseMoney("-45,50")  -> -4550 cents
//	ParseMoney("12.345")  -> 1235 cents (rounds half away from zero)
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.TrimPrefix(s, "+")
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return Money{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d to cents. Values that do not fit in int64 cents
// are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two decimals, e.g. "-45.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// AddChecked returns m+o and false when the sum overflows int64 cents.
func (m Money) AddChecked(o Money) (Money, bool) {
	sum := m.Cents + o.Cents
	if (o.Cents > 0 && sum < m.Cents) || (o.Cents < 0 && sum > m.Cents) {
		return Money{}, false
	}
	return Money{Cents: sum}, true
}

func (m Money) withinMax() bool {
	return m.Cents <= MaxAmount.Cents && m.Cents >= -MaxAmount.Cents
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if o.Cents > m.Cents {
		return o
	}
	return m
}

// ValidateNonZero rejects zero amounts and amounts beyond MaxAmount.
// Ledger postings must move money.
func (m Money) ValidateNonZero() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	if !m.withinMax() {
		return ErrAmountTooLarge
	}
	return nil
}

// ValidateNonNegative rejects negative amounts and amounts beyond MaxAmount.
// Used for limits.
func (m Money) ValidateNonNegative() error {
	if m.Cents < 0 {
		return ErrNegativeLimit
	}
	if !m.withinMax() {
		return ErrAmountTooLarge
	}
	return nil
}

// MarshalJSON encodes the amount as a fixed two-decimal string so clients
// never round-trip through binary floats.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string ("12.34") or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", raw, err)
	}
	*m = parsed
	return nil
}

// Ratio returns part/whole as a percentage rounded to one decimal place.
// A zero whole yields zero.
func Ratio(part, whole Money) float64 {
	if whole.Cents == 0 {
		return 0
	}
	pct := decimal.NewFromInt(part.Cents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole.Cents)).
		Round(1)
	return pct.InexactFloat64()
}
