// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/shopspring/decimal"
)

// MovementFilter narrows movement queries. Zero values mean "any".
type MovementFilter struct {
	StartedBefore *time.Time // StartDate <= StartedBefore
	CreatedAfter  *time.Time
	Direction     model.Direction
	Kind          model.Kind
	OwnerID       string
	// Pending filters on PendingConfirmation when non-nil.
	Pending *bool
	// Unfinished keeps only movements with installments left.
	Unfinished bool
}

// MovementState is the pair of counters guarded by compare-and-set.
type MovementState struct {
	InstallmentsProcessed int
	PendingConfirmation   bool
}

// InstallmentPosting applies one installment of a movement to its owner's
// balance. The store must apply it atomically and only when the movement
// still matches Expected.
type InstallmentPosting struct {
	Delta      decimal.Decimal // signed balance change
	MovementID string
	OwnerID    string
	Expected   MovementState
}

// ContributionPosting debits the owner's balance and appends a contribution.
// When RequireFunds is set the store rejects it with ErrInsufficientBalance
// unless the balance covers the amount; when Cap is positive the store
// rejects it with ErrInvalidState if progress would exceed the cap. A Seed
// contribution records savings made before the goal existed and leaves the
// balance untouched.
type ContributionPosting struct {
	Contribution model.Contribution
	Cap          decimal.Decimal
	GoalID       string
	OwnerID      string
	RequireFunds bool
	Seed         bool
}

// MovementPatch carries the descriptive fields that may change after a
// movement is created. Nil means unchanged.
type MovementPatch struct {
	Name        *string
	Description *string
	Status      *model.ExpenseStatus
	CategoryID  *int64
	AutoPost    *bool
}

// CategoryTotal is the sum of expense amounts for one category.
type CategoryTotal struct {
	Category model.Category
	Total    decimal.Decimal
	Count    int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	// Movement operations
	CreateMovement(ctx context.Context, movement *model.Movement) error
	GetMovement(ctx context.Context, id string) (*model.Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]model.Movement, error)
	UpdateMovement(ctx context.Context, id string, patch MovementPatch) error
	PostInstallment(ctx context.Context, posting InstallmentPosting) error
	MarkPending(ctx context.Context, movementID string, expected MovementState) error
	DeleteMovement(ctx context.Context, id string, expected MovementState, reversal decimal.Decimal) error

	// Goal operations
	CreateGoal(ctx context.Context, goal *model.Goal) error
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
	ListGoals(ctx context.Context, ownerID string) ([]model.Goal, error)
	SetGoalMode(ctx context.Context, id string, mode model.ContributionMode, value decimal.Decimal) error
	AddContribution(ctx context.Context, posting ContributionPosting) error
	ClaimGoalAchieved(ctx context.Context, id string) (bool, error)
	DeleteGoal(ctx context.Context, id string) error

	// Notification operations
	SaveNotification(ctx context.Context, notification *model.Notification) error
	ListNotifications(ctx context.Context, ownerID string) ([]model.Notification, error)
	NotificationExists(ctx context.Context, ownerID, title, body string) (bool, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error

	// Category operations
	CreateCategory(ctx context.Context, category *model.Category) error
	GetCategories(ctx context.Context, ownerID string) ([]model.Category, error)
	GetCategoryByName(ctx context.Context, ownerID, name string) (*model.Category, error)
	GetCategoryTotals(ctx context.Context, ownerID string) ([]CategoryTotal, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Notifier is the fire-and-forget notification sink. Implementations must
// not block the caller on delivery failures.
type Notifier interface {
	Emit(ctx context.Context, ownerID, title, body string)
}

// Clock supplies the current time so due-date logic can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
