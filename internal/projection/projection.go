// Package projection computes what a month is expected to bring in and take
// out, and lays movements out on a calendar.
package projection

import (
	"context"
	"sort"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/shopspring/decimal"
)

// Store is the read-only slice of storage projections need.
type Store interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListMovements(ctx context.Context, filter service.MovementFilter) ([]model.Movement, error)
	GetCategoryTotals(ctx context.Context, ownerID string) ([]service.CategoryTotal, error)
}

// Item is one movement's share of a month.
type Item struct {
	MovementID string
	Name       string
	Direction  model.Direction
	Amount     decimal.Decimal
	// Index is the zero-based installment attributed to the month.
	Index int
}

// Month is the projection for one calendar month.
type Month struct {
	Start              time.Time
	End                time.Time
	Balance            decimal.Decimal
	Income             decimal.Decimal
	Expense            decimal.Decimal
	ProjectedAvailable decimal.Decimal
	Items              []Item
}

// Projector builds projections from stored movements.
type Projector struct {
	store Store
}

// New creates a projector.
func New(store Store) *Projector {
	return &Projector{store: store}
}

// ProjectMonth attributes at most one installment of every committed
// movement to the month containing t. Movements awaiting confirmation are
// left out. This is a point-in-time view of what falls in the month, not a
// running total of what has already posted.
func (p *Projector) ProjectMonth(ctx context.Context, ownerID string, t time.Time) (*Month, error) {
	acc, err := p.store.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	start, end := period.MonthRange(t)
	notPending := false
	movements, err := p.store.ListMovements(ctx, service.MovementFilter{
		OwnerID:       ownerID,
		StartedBefore: &end,
		Pending:       &notPending,
	})
	if err != nil {
		return nil, err
	}

	out := &Month{
		Start:   start,
		End:     end,
		Balance: acc.Balance,
		Income:  decimal.Zero,
		Expense: decimal.Zero,
	}
	for i := range movements {
		m := &movements[i]
		share, idx, ok := MonthlyShare(m, start)
		if !ok {
			continue
		}
		out.Items = append(out.Items, Item{
			MovementID: m.ID,
			Name:       m.Name,
			Direction:  m.Direction,
			Amount:     share,
			Index:      idx,
		})
		if m.IsIncome() {
			out.Income = out.Income.Add(share)
		} else {
			out.Expense = out.Expense.Add(share)
		}
	}
	out.ProjectedAvailable = out.Balance.Add(out.Income).Sub(out.Expense)
	return out, nil
}

// MonthlyShare returns the installment of m attributed to the month starting
// at monthStart, and false when the movement has not started or has run out
// of installments by then.
func MonthlyShare(m *model.Movement, monthStart time.Time) (decimal.Decimal, int, bool) {
	idx := period.Elapsed(m.StartDate, m.Frequency, monthStart)
	if idx < 0 || idx >= m.InstallmentCount {
		return decimal.Zero, idx, false
	}
	return m.InstallmentAmount(idx), idx, true
}

// Entry is one dated installment on the calendar.
type Entry struct {
	Date       time.Time
	Amount     decimal.Decimal // signed balance effect
	MovementID string
	Name       string
	Kind       model.Kind
	Index      int
	Count      int
	Posted     bool
	Pending    bool
}

// Calendar lists every installment due in [from, from+horizon months),
// ordered by date. Recurring movements repeat at their frequency until the
// end of the window whatever their installment count.
func (p *Projector) Calendar(ctx context.Context, ownerID string, from time.Time, horizon int) ([]Entry, error) {
	if horizon < 1 {
		horizon = 1
	}
	from = period.Day(from)
	until := period.AddMonths(from, horizon)
	last := until.AddDate(0, 0, -1)

	movements, err := p.store.ListMovements(ctx, service.MovementFilter{
		OwnerID:       ownerID,
		StartedBefore: &last,
	})
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for i := range movements {
		m := &movements[i]
		first := period.Elapsed(m.StartDate, m.Frequency, from) - 1
		if first < 0 {
			first = 0
		}
		repeats := m.Kind == model.KindRecurring && m.Frequency.Valid()
		for k := first; repeats || k < m.InstallmentCount; k++ {
			due := period.DueDate(m.StartDate, m.Frequency, k)
			if !due.Before(until) {
				break
			}
			if due.Before(from) {
				continue
			}
			entries = append(entries, Entry{
				Date:       due,
				Amount:     m.Signed(occurrenceAmount(m, k)),
				MovementID: m.ID,
				Name:       m.Name,
				Kind:       m.Kind,
				Index:      k,
				Count:      m.InstallmentCount,
				Posted:     k < m.InstallmentsProcessed,
				Pending:    k == m.InstallmentsProcessed && m.PendingConfirmation,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// occurrenceAmount is the installment amount at k. Recurring movements keep
// repeating past their installment count at the regular share.
func occurrenceAmount(m *model.Movement, k int) decimal.Decimal {
	if k >= m.InstallmentCount {
		return m.InstallmentAmount(0)
	}
	return m.InstallmentAmount(k)
}

// CategoryTotals returns expense totals per category, largest first.
func (p *Projector) CategoryTotals(ctx context.Context, ownerID string) ([]service.CategoryTotal, error) {
	return p.store.GetCategoryTotals(ctx, ownerID)
}
