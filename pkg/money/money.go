// Package money holds the rounding rules shared by checkout, payments and payouts.
// Every amount is a decimal in major units with two places; the provider boundary
// converts to integer minor units.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const places = 2

var (
	hundred = decimal.NewFromInt(100)

	// MaxAmount is the largest single charge or transfer the platform accepts.
	MaxAmount = decimal.RequireFromString("999999.99")
)

// Round applies round-half-up to two decimal places.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(places)
}

// Percent returns amount × rate%, rounded half-up to cents.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate).Div(hundred))
}

// ToMinorUnits converts a major-unit amount to cents, rounding half-up rather
// than truncating.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents to a major-unit amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -places)
}

// Parse reads a decimal string and rounds it to cents.
func Parse(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Round(d), nil
}

// InRange reports whether amount is positive and at most MaxAmount.
func InRange(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.LessThanOrEqual(MaxAmount)
}
