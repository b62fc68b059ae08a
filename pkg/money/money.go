// Package money fixes all monetary arithmetic to two fractional digits.
// Balances, transfer amounts and commissions are decimal values; every
// rounding decision in the codebase goes through this package so the
// cent-level behavior is defined in exactly one place.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse parses a decimal amount and normalizes it to two fractional
// digits. Amounts with sub-cent precision are rejected rather than
// silently rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	return d, nil
}

// MustParse is Parse for compile-time constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round rounds to the nearest cent, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Floor truncates toward negative infinity at cent precision.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(2)
}

// Format renders an amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
