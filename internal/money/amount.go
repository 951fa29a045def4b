// Package money holds the decimal amount type shared by the relay's records.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Amount is a currency value expressed in major units (e.g. 500.00 PHP).
// It renders as a JSON number with two decimal places.
type Amount struct {
	decimal.Decimal
}

// New wraps an existing decimal value.
func New(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// FromMinor converts an integer minor-unit amount (cents) into major units.
func FromMinor(minor int64) Amount {
	return Amount{Decimal: decimal.New(minor, -2)}
}

// Parse reads a decimal string such as "500" or "49.95".
func Parse(value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Amount{Decimal: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(value string) Amount {
	a, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return a
}

// Minor returns the amount in minor units, rounded half away from zero.
// ok is false when the rounded value does not fit in an int64.
func (a Amount) Minor() (minor int64, ok bool) {
	rounded := a.Mul(hundred).Round(0)
	if rounded.GreaterThan(maxMinor) || rounded.LessThan(minMinor) {
		return 0, false
	}
	return rounded.IntPart(), true
}

// Convert multiplies the amount by an exchange rate.
func (a Amount) Convert(rate decimal.Decimal) Amount {
	return Amount{Decimal: a.Mul(rate)}
}

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool {
	return a.Decimal.IsPositive()
}

// String renders the amount with two decimal places.
func (a Amount) String() string {
	return a.StringFixed(2)
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 {
		return errors.New("amount: empty value")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		trimmed = []byte(s)
	}
	d, err := decimal.NewFromString(string(trimmed))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Decimal = d
	return nil
}
