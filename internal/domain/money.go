package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxPriceScale is the maximum number of fractional digits accepted in a
// price or amount.
const MaxPriceScale = 8

// MaxIntegerDigits bounds the integer part of a price or amount.
const MaxIntegerDigits = 20

// maxInputScale bounds the fractional digits read before trailing zeros
// are discarded.
const maxInputScale = 2 * MaxPriceScale

// ParsePrice parses a strictly positive decimal price. Values with more
// than MaxPriceScale significant fractional digits are rejected.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be > 0")
	}
	return d, nil
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must be >= 0")
	}
	// Bounds are checked on the exponent before any rescaling arithmetic.
	if d.Exponent() < -maxInputScale {
		return decimal.Zero, fmt.Errorf("at most %d decimal places allowed", MaxPriceScale)
	}
	if int64(d.NumDigits())+int64(d.Exponent()) > MaxIntegerDigits {
		return decimal.Zero, fmt.Errorf("at most %d integer digits allowed", MaxIntegerDigits)
	}
	if !d.Equal(d.Truncate(MaxPriceScale)) {
		return decimal.Zero, fmt.Errorf("at most %d decimal places allowed", MaxPriceScale)
	}
	return d, nil
}

// Notional returns price × quantity.
func Notional(price decimal.Decimal, quantity uint64) decimal.Decimal {
	return price.Mul(decimal.NewFromUint64(quantity))
}
