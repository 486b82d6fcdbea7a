// Package reminders implements the scheduled nudges sent to account owners:
// pending confirmations, low balance, stale goals and upcoming expenses.
//
// Every rule is safe to run repeatedly. A reminder whose exact title and
// body were already recorded for the owner is not emitted again, and bodies
// carry the date or figures that make them distinct when they should repeat.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/shopspring/decimal"
)

// Reminder titles.
const (
	TitlePendingBoth     = "Movements to confirm"
	TitlePendingIncomes  = "Incomes to confirm"
	TitlePendingExpenses = "Expenses to confirm"
	TitleLowBalance      = "Low balance"
	TitleGoalReminder    = "Don't forget your goal"
	TitleUpcoming        = "Recurring expense tomorrow"
	TitleWeekly          = "Expenses scheduled this week"
	TitleNoData          = "Start using finz"
	TitleMidMonth        = "Halfway through the month"
)

// DefaultLowBalanceRatio is the share of the average monthly net below which
// a balance is considered low.
const DefaultLowBalanceRatio = 0.2

// goalIdleDays is how long a goal may go without contributions before the
// owner is reminded.
const goalIdleDays = 30

// Store is the read side of storage the rules consult.
type Store interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListMovements(ctx context.Context, filter service.MovementFilter) ([]model.Movement, error)
	ListGoals(ctx context.Context, ownerID string) ([]model.Goal, error)
	GetCategories(ctx context.Context, ownerID string) ([]model.Category, error)
	NotificationExists(ctx context.Context, ownerID, title, body string) (bool, error)
}

// Rule is one reminder evaluated as of a point in time. It returns how many
// notifications were emitted.
type Rule func(ctx context.Context, asOf time.Time) (int, error)

// Reminders evaluates reminder rules against a store.
type Reminders struct {
	store    Store
	notifier service.Notifier
	logger   *slog.Logger
	ratio    decimal.Decimal
}

// Option configures Reminders.
type Option func(*Reminders)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reminders) { r.logger = l }
}

// WithLowBalanceRatio overrides DefaultLowBalanceRatio.
func WithLowBalanceRatio(ratio float64) Option {
	return func(r *Reminders) {
		if ratio > 0 {
			r.ratio = decimal.NewFromFloat(ratio)
		}
	}
}

// New creates a rule set.
func New(store Store, notifier service.Notifier, opts ...Option) *Reminders {
	r := &Reminders{
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		ratio:    decimal.NewFromFloat(DefaultLowBalanceRatio),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns every rule keyed by the name used in configuration.
func (r *Reminders) Rules() map[string]Rule {
	return map[string]Rule{
		"pending":     r.PendingDigest,
		"low_balance": r.LowBalance,
		"goals":       r.GoalReminder,
		"upcoming":    r.UpcomingRecurring,
		"weekly":      r.WeeklyExpenses,
		"no_data":     r.NoData,
		"mid_month":   r.MidMonth,
	}
}

// PendingDigest sends each owner with movements awaiting confirmation one
// digest naming them.
func (r *Reminders) PendingDigest(ctx context.Context, _ time.Time) (int, error) {
	pending := true
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		movements, err := r.store.ListMovements(ctx, service.MovementFilter{OwnerID: acc.ID, Pending: &pending})
		if err != nil {
			return 0, err
		}
		if len(movements) == 0 {
			return 0, nil
		}

		var incomes, expenses bool
		names := make([]string, 0, len(movements))
		for _, m := range movements {
			if m.IsIncome() {
				incomes = true
			} else {
				expenses = true
			}
			names = append(names, m.Name)
		}
		sort.Strings(names)

		title := TitlePendingBoth
		switch {
		case incomes && !expenses:
			title = TitlePendingIncomes
		case expenses && !incomes:
			title = TitlePendingExpenses
		}
		body := fmt.Sprintf("Review %d pending %s in finz: %s.",
			len(movements), plural(len(movements), "movement"), strings.Join(names, ", "))
		return r.emitOnce(ctx, acc.ID, title, body)
	})
}

// LowBalance warns owners whose balance fell below the configured share of
// their average monthly net over the last three months. Owners with no
// positive net are skipped.
func (r *Reminders) LowBalance(ctx context.Context, asOf time.Time) (int, error) {
	since := period.AddMonths(asOf, -3)
	three := decimal.NewFromInt(3)
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		movements, err := r.store.ListMovements(ctx, service.MovementFilter{OwnerID: acc.ID, CreatedAfter: &since})
		if err != nil {
			return 0, err
		}
		net := decimal.Zero
		for i := range movements {
			net = net.Add(movements[i].Signed(movements[i].Amount))
		}
		threshold := net.Div(three).Mul(r.ratio).Round(model.CurrencyPlaces)
		if !threshold.IsPositive() || !acc.Balance.LessThan(threshold) {
			return 0, nil
		}
		body := fmt.Sprintf("On %s your balance of %s is below %s%% of your average monthly net for the last three months.",
			asOf.Format(time.DateOnly), model.FormatMoney(acc.Balance), r.ratio.Mul(decimal.NewFromInt(100)).String())
		return r.emitOnce(ctx, acc.ID, TitleLowBalance, body)
	})
}

// GoalReminder nudges owners about unfinished goals that have gone without a
// contribution for a month. A goal with no contributions counts from its
// creation.
func (r *Reminders) GoalReminder(ctx context.Context, asOf time.Time) (int, error) {
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		goals, err := r.store.ListGoals(ctx, acc.ID)
		if err != nil {
			return 0, err
		}
		sent := 0
		for i := range goals {
			g := &goals[i]
			if g.Achieved() {
				continue
			}
			last := g.LastContribution()
			if last.IsZero() {
				last = g.CreatedAt
			}
			if period.DaysBetween(last, asOf) < goalIdleDays {
				continue
			}
			body := fmt.Sprintf("It has been over a month since you last saved toward %q (%s).",
				g.Name, last.Format(time.DateOnly))
			n, err := r.emitOnce(ctx, acc.ID, TitleGoalReminder, body)
			if err != nil {
				return sent, err
			}
			sent += n
		}
		return sent, nil
	})
}

// UpcomingRecurring warns about recurring expenses whose next installment is
// due tomorrow.
func (r *Reminders) UpcomingRecurring(ctx context.Context, asOf time.Time) (int, error) {
	tomorrow := period.Day(asOf).AddDate(0, 0, 1)
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		movements, err := r.store.ListMovements(ctx, service.MovementFilter{
			OwnerID:    acc.ID,
			Direction:  model.DirectionExpense,
			Kind:       model.KindRecurring,
			Unfinished: true,
		})
		if err != nil {
			return 0, err
		}
		sent := 0
		for i := range movements {
			m := &movements[i]
			due, ok := m.NextDueDate()
			if !ok || !due.Equal(tomorrow) {
				continue
			}
			body := fmt.Sprintf("Your recurring expense %s of %s is due tomorrow (%s).",
				m.Name, model.FormatMoney(m.NextInstallmentAmount()), due.Format(time.DateOnly))
			n, err := r.emitOnce(ctx, acc.ID, TitleUpcoming, body)
			if err != nil {
				return sent, err
			}
			sent += n
		}
		return sent, nil
	})
}

// WeeklyExpenses summarizes the expense installments due in the week
// (Sunday to the following Sunday) containing asOf.
func (r *Reminders) WeeklyExpenses(ctx context.Context, asOf time.Time) (int, error) {
	start, end := period.WeekRange(asOf)
	last := end.AddDate(0, 0, -1)
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		movements, err := r.store.ListMovements(ctx, service.MovementFilter{
			OwnerID:       acc.ID,
			Direction:     model.DirectionExpense,
			StartedBefore: &last,
		})
		if err != nil {
			return 0, err
		}
		count, total := 0, decimal.Zero
		for i := range movements {
			for _, amount := range dueBetween(&movements[i], start, end) {
				count++
				total = total.Add(amount)
			}
		}
		if count == 0 {
			return 0, nil
		}
		body := fmt.Sprintf("You have %d %s scheduled for the week of %s, totalling %s.",
			count, plural(count, "expense"), start.Format(time.DateOnly), model.FormatMoney(total))
		return r.emitOnce(ctx, acc.ID, TitleWeekly, body)
	})
}

// NoData invites owners who have not recorded anything yet.
func (r *Reminders) NoData(ctx context.Context, _ time.Time) (int, error) {
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		movements, err := r.store.ListMovements(ctx, service.MovementFilter{OwnerID: acc.ID})
		if err != nil || len(movements) > 0 {
			return 0, err
		}
		goals, err := r.store.ListGoals(ctx, acc.ID)
		if err != nil || len(goals) > 0 {
			return 0, err
		}
		categories, err := r.store.GetCategories(ctx, acc.ID)
		if err != nil {
			return 0, err
		}
		for _, c := range categories {
			if !c.Default {
				return 0, nil
			}
		}
		return r.emitOnce(ctx, acc.ID, TitleNoData,
			"Record your first income, expense, goal or category to get the most out of finz.")
	})
}

// MidMonth sends everyone an encouragement on the 15th. Other days are a
// no-op.
func (r *Reminders) MidMonth(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.Day() != 15 {
		return 0, nil
	}
	body := fmt.Sprintf("%s is half over. Review your goals and keep your finances on track.",
		asOf.Format("January 2006"))
	return r.eachAccount(ctx, func(acc model.Account) (int, error) {
		return r.emitOnce(ctx, acc.ID, TitleMidMonth, body)
	})
}

// eachAccount applies fn to every account. A failing account is logged and
// the others still run; the first error is returned at the end.
func (r *Reminders) eachAccount(ctx context.Context, fn func(model.Account) (int, error)) (int, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	sent := 0
	var firstErr error
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := fn(acc)
		sent += n
		if err != nil {
			r.logger.Warn("reminder failed", "account", acc.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return sent, firstErr
}

func (r *Reminders) emitOnce(ctx context.Context, ownerID, title, body string) (int, error) {
	exists, err := r.store.NotificationExists(ctx, ownerID, title, body)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	r.notifier.Emit(ctx, ownerID, title, body)
	return 1, nil
}

// dueBetween returns the amounts of m's installments due in [from, until).
func dueBetween(m *model.Movement, from, until time.Time) []decimal.Decimal {
	k := period.Elapsed(m.StartDate, m.Frequency, from) - 1
	if k < 0 {
		k = 0
	}
	var out []decimal.Decimal
	for ; k < m.InstallmentCount; k++ {
		due := period.DueDate(m.StartDate, m.Frequency, k)
		if !due.Before(until) {
			break
		}
		if !due.Before(from) {
			out = append(out, m.InstallmentAmount(k))
		}
	}
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
