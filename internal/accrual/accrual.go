// Package accrual decides which installment of a movement is due and applies
// it to the owner's balance exactly once.
//
// Every call site that needs to know whether a movement should post (the
// creation path, the periodic sweep and explicit confirmation) goes through
// Evaluate and the Engine below, so the due-date arithmetic lives in one
// place.
package accrual

import (
	"fmt"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/shopspring/decimal"
)

// ActionKind enumerates what the engine should do with a movement.
type ActionKind int

const (
	// None means nothing is due, the movement is finished, or it is waiting
	// for confirmation.
	None ActionKind = iota
	// PostAutomatic applies the next installment to the balance.
	PostAutomatic
	// MarkPending flags the next installment for manual confirmation.
	MarkPending
)

func (k ActionKind) String() string {
	switch k {
	case None:
		return "none"
	case PostAutomatic:
		return "post"
	case MarkPending:
		return "mark-pending"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is the result of evaluating a movement.
type Action struct {
	Due time.Time
	// Amount is the unsigned installment amount for PostAutomatic.
	Amount decimal.Decimal
	Kind   ActionKind
	// Index is the zero-based installment the action refers to.
	Index int
}

// Evaluate returns the action due for m as of asOf. It never mutates m and
// is safe to call repeatedly: finished and pending movements always yield
// None.
func Evaluate(m *model.Movement, asOf time.Time) Action {
	if m.FullyProcessed() || m.PendingConfirmation {
		return Action{Kind: None}
	}

	index := m.InstallmentsProcessed
	due := period.DueDate(m.StartDate, m.Frequency, index)
	if due.After(period.Day(asOf)) {
		return Action{Kind: None, Index: index, Due: due}
	}

	if !m.AutoPost {
		return Action{Kind: MarkPending, Index: index, Due: due}
	}
	return Action{
		Kind:   PostAutomatic,
		Index:  index,
		Due:    due,
		Amount: m.InstallmentAmount(index),
	}
}
