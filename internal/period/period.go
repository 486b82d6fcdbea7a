// Package period maps installment indexes to calendar due dates and back.
//
// Every comparison is made on calendar days: time-of-day and location are
// stripped before any arithmetic, so a movement started at 23:59 and one
// started at 00:01 on the same date are indistinguishable.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is the length of one installment period.
type Frequency string

const (
	// Monthly advances by one calendar month, clamping the day of month.
	Monthly Frequency = "monthly"
	// Biweekly advances by 15 days.
	Biweekly Frequency = "biweekly"
	// Weekly advances by 7 days.
	Weekly Frequency = "weekly"
)

// ErrUnknownFrequency is returned for frequencies outside the supported set.
var ErrUnknownFrequency = errors.New("unknown frequency")

// fixed-length periods in days
const (
	biweeklyDays = 15
	weeklyDays   = 7
)

// ParseFrequency accepts the canonical names and the legacy Spanish ones.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "mensual":
		return Monthly, nil
	case "biweekly", "quincenal":
		return Biweekly, nil
	case "weekly", "semanal":
		return Weekly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
	}
}

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Monthly, Biweekly, Weekly:
		return true
	}
	return false
}

func (f Frequency) days() int {
	switch f {
	case Biweekly:
		return biweeklyDays
	case Weekly:
		return weeklyDays
	}
	return 0
}

// Day truncates t to midnight UTC of its own calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date is a convenience constructor for a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DueDate returns the due date of the installment at the zero-based index.
// Index 0 is the start date itself.
func DueDate(start time.Time, f Frequency, index int) time.Time {
	start = Day(start)
	if f == Monthly {
		return AddMonths(start, index)
	}
	return start.AddDate(0, 0, index*f.days())
}

// AddMonths adds n calendar months keeping the day of month, clamped to the
// last day of the target month (Jan 31 + 1 = Feb 28 or 29).
func AddMonths(t time.Time, n int) time.Time {
	t = Day(t)
	y, m, d := t.Date()

	total := int(m) - 1 + n
	ty := y + floorDiv(total, 12)
	tm := time.Month(total - floorDiv(total, 12)*12 + 1)

	if last := DaysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Elapsed returns the number of whole periods between start and asOf.
// Monthly uses the calendar month difference; weekly and biweekly divide
// the day difference by the period length, truncating toward zero. The
// result is negative when asOf precedes start.
func Elapsed(start time.Time, f Frequency, asOf time.Time) int {
	start, asOf = Day(start), Day(asOf)
	if f == Monthly {
		return int(asOf.Month()) - int(start.Month()) + 12*(asOf.Year()-start.Year())
	}
	n := f.days()
	if n == 0 {
		return 0
	}
	return DaysBetween(start, asOf) / n
}

// DaysBetween returns the signed number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// MonthRange returns the first and last calendar day of t's month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y, m, DaysIn(y, m), 0, 0, 0, 0, time.UTC)
	return start, end
}

// WeekRange returns the Sunday starting t's week and the following Sunday.
func WeekRange(t time.Time) (time.Time, time.Time) {
	day := Day(t)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
