package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user with a single mutable balance. The balance may go
// negative; no floor is enforced.
type Account struct {
	CreatedAt time.Time
	Balance   decimal.Decimal
	ID        string
	Name      string
	Email     string
}
