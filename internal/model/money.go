package model

import (
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of decimal places of the smallest currency unit.
const CurrencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// ToCents converts an amount to integer minor units, rounding half away from zero.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(CurrencyPlaces).Shift(CurrencyPlaces).IntPart()
}

// FromCents converts integer minor units back to a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -CurrencyPlaces)
}

// Percent returns pct percent of base, rounded to the currency unit.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred).Round(CurrencyPlaces)
}

// FormatMoney renders an amount with a leading dollar sign, as the
// notification texts do.
func FormatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(CurrencyPlaces)
}
