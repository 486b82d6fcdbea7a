package model

import (
	"time"

	"github.com/Veraticus/finz/internal/period"
	"github.com/shopspring/decimal"
)

// Direction tells whether a movement credits or debits the balance.
type Direction string

const (
	// DirectionIncome credits the owner's balance.
	DirectionIncome Direction = "income"
	// DirectionExpense debits the owner's balance.
	DirectionExpense Direction = "expense"
)

// Kind distinguishes open-ended recurring movements from one-off ones.
type Kind string

const (
	// KindRecurring regenerates every month in calendar views.
	KindRecurring Kind = "recurring"
	// KindOneOff has a fixed number of installments.
	KindOneOff Kind = "one-off"
)

// ExpenseStatus is the paid/pending label carried by expenses. It is
// informational and unrelated to PendingConfirmation.
type ExpenseStatus string

// Expense statuses.
const (
	ExpensePaid    ExpenseStatus = "paid"
	ExpensePending ExpenseStatus = "pending"
)

// Movement is a single income or expense, possibly split in installments.
type Movement struct {
	StartDate             time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Amount                decimal.Decimal // total for the whole movement
	ID                    string
	OwnerID               string
	Name                  string
	Description           string
	Direction             Direction
	Kind                  Kind
	Frequency             period.Frequency
	Status                ExpenseStatus // expenses only
	CategoryID            int64         // expenses only, 0 when unset
	InstallmentCount      int
	InstallmentsProcessed int
	AutoPost              bool
	PendingConfirmation   bool
}

// IsIncome reports whether the movement credits the balance.
func (m *Movement) IsIncome() bool {
	return m.Direction == DirectionIncome
}

// FullyProcessed reports whether every installment has been applied.
func (m *Movement) FullyProcessed() bool {
	return m.InstallmentsProcessed >= m.InstallmentCount
}

// InstallmentAmount returns the unsigned amount of the installment at index.
// Every installment is Amount/InstallmentCount rounded to the currency unit,
// except the last one which absorbs the rounding remainder so that the
// installments always sum to Amount.
func (m *Movement) InstallmentAmount(index int) decimal.Decimal {
	n := m.InstallmentCount
	if n <= 1 {
		return m.Amount
	}
	share := m.Amount.Div(decimal.NewFromInt(int64(n))).Round(CurrencyPlaces)
	if index == n-1 {
		return m.Amount.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	}
	return share
}

// NextInstallmentAmount is the amount of the installment the engine would
// consider next.
func (m *Movement) NextInstallmentAmount() decimal.Decimal {
	return m.InstallmentAmount(m.InstallmentsProcessed)
}

// Signed applies the movement's balance direction to an unsigned amount.
func (m *Movement) Signed(amount decimal.Decimal) decimal.Decimal {
	if m.IsIncome() {
		return amount
	}
	return amount.Neg()
}

// PostedAmount is the unsigned sum of the installments already applied.
func (m *Movement) PostedAmount() decimal.Decimal {
	total := decimal.Zero
	for i := 0; i < m.InstallmentsProcessed && i < m.InstallmentCount; i++ {
		total = total.Add(m.InstallmentAmount(i))
	}
	return total
}

// NextDueDate is the due date of the next unprocessed installment, and false
// when the movement is fully processed.
func (m *Movement) NextDueDate() (time.Time, bool) {
	if m.FullyProcessed() {
		return time.Time{}, false
	}
	return period.DueDate(m.StartDate, m.Frequency, m.InstallmentsProcessed), true
}
