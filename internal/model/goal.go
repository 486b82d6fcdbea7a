package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionMode selects how a goal is funded by the periodic sweep.
type ContributionMode string

const (
	// ModeFixedMonthly deducts a fixed amount each period.
	ModeFixedMonthly ContributionMode = "fixed_monthly"
	// ModePercentOfBalance deducts a percentage of the current balance.
	ModePercentOfBalance ContributionMode = "percent_of_balance"
	// ModeManualOnly is never funded automatically.
	ModeManualOnly ContributionMode = "manual_only"
)

// Currency marks a goal saved in a foreign currency.
type Currency struct {
	Name   string
	Symbol string
}

// Contribution is one append-only entry of a goal's history. Amount is
// always in local currency; ForeignUnits and Rate record the original
// figures for foreign-currency goals.
type Contribution struct {
	Date         time.Time
	Amount       decimal.Decimal
	ForeignUnits decimal.Decimal
	Rate         decimal.Decimal
	ID           int64
	// Auto marks contributions made by the periodic step.
	Auto bool
}

// Goal is a savings target. Progress is never stored: it is always the sum
// of Contributions.
type Goal struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ForeignCurrency *Currency
	TargetAmount    decimal.Decimal
	// ModeValue is the fixed amount for ModeFixedMonthly or the percentage
	// for ModePercentOfBalance.
	ModeValue     decimal.Decimal
	ID            string
	OwnerID       string
	Name          string
	Description   string
	Mode          ContributionMode
	Contributions []Contribution
}

// Progress is the sum of all contributions.
func (g *Goal) Progress() decimal.Decimal {
	total := decimal.Zero
	for _, c := range g.Contributions {
		total = total.Add(c.Amount)
	}
	return total
}

// PercentComplete is progress over target as a percentage, 0 without
// contributions.
func (g *Goal) PercentComplete() decimal.Decimal {
	if len(g.Contributions) == 0 || !g.TargetAmount.IsPositive() {
		return decimal.Zero
	}
	return g.Progress().Div(g.TargetAmount).Mul(hundred).Round(CurrencyPlaces)
}

// Remaining is the gap to the target, never negative.
func (g *Goal) Remaining() decimal.Decimal {
	gap := g.TargetAmount.Sub(g.Progress())
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// AutoContributedIn reports whether the periodic step already contributed
// during the calendar month containing t.
func (g *Goal) AutoContributedIn(t time.Time) bool {
	for _, c := range g.Contributions {
		if c.Auto && c.Date.Year() == t.Year() && c.Date.Month() == t.Month() {
			return true
		}
	}
	return false
}

// Achieved reports whether progress has reached the target.
func (g *Goal) Achieved() bool {
	return g.Progress().GreaterThanOrEqual(g.TargetAmount)
}

// IsForeign reports whether the goal is kept in a foreign currency.
func (g *Goal) IsForeign() bool {
	return g.ForeignCurrency != nil
}

// LastContribution returns the date of the latest contribution, or the
// zero time.
func (g *Goal) LastContribution() time.Time {
	var last time.Time
	for _, c := range g.Contributions {
		if c.Date.After(last) {
			last = c.Date
		}
	}
	return last
}
