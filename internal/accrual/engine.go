package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notification titles emitted by the engine.
const (
	TitleIncomePosted  = "Income received"
	TitleExpensePosted = "Expense posted"
	TitlePending       = "Confirmation needed"
)

// Engine applies accrual actions against a store.
type Engine struct {
	store    service.Storage
	notifier service.Notifier
	clock    service.Clock
	logger   *slog.Logger
	retry    service.RetryOptions
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetry sets how user-facing operations retry after losing a
// compare-and-set race.
func WithRetry(opts service.RetryOptions) Option {
	return func(e *Engine) { e.retry = opts }
}

// NewEngine creates an accrual engine.
func NewEngine(store service.Storage, notifier service.Notifier, clock service.Clock, opts ...Option) *Engine {
	if clock == nil {
		clock = service.SystemClock{}
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   slog.Default(),
		retry:    service.RetryOptions{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply performs action on m. The mutation only happens if m still has the
// counters it had when the action was evaluated; otherwise common.ErrConflict
// is returned and nothing changes. Notifications are emitted after the
// mutation commits.
func (e *Engine) Apply(ctx context.Context, m *model.Movement, action Action) error {
	expected := service.MovementState{
		InstallmentsProcessed: m.InstallmentsProcessed,
		PendingConfirmation:   m.PendingConfirmation,
	}

	switch action.Kind {
	case None:
		return nil

	case PostAutomatic:
		if action.Index != m.InstallmentsProcessed {
			return fmt.Errorf("installment %d is not next for %s: %w", action.Index, m.ID, common.ErrConflict)
		}
		err := e.store.PostInstallment(ctx, service.InstallmentPosting{
			MovementID: m.ID,
			OwnerID:    m.OwnerID,
			Delta:      m.Signed(action.Amount),
			Expected:   expected,
		})
		if err != nil {
			return err
		}
		m.InstallmentsProcessed++
		m.PendingConfirmation = false
		e.notifyPosted(ctx, m, action.Amount)
		e.logger.Debug("posted installment",
			"movement", m.ID,
			"owner", m.OwnerID,
			"installment", m.InstallmentsProcessed,
			"of", m.InstallmentCount,
			"amount", action.Amount.StringFixed(2))
		return nil

	case MarkPending:
		if err := e.store.MarkPending(ctx, m.ID, expected); err != nil {
			return err
		}
		m.PendingConfirmation = true
		e.notifier.Emit(ctx, m.OwnerID, TitlePending, fmt.Sprintf(
			"%s: installment %d of %d (%s) was due on %s and needs confirmation",
			m.Name, action.Index+1, m.InstallmentCount,
			model.FormatMoney(m.InstallmentAmount(action.Index)), action.Due.Format(time.DateOnly)))
		e.logger.Debug("marked installment pending", "movement", m.ID, "installment", action.Index+1)
		return nil

	default:
		return fmt.Errorf("unknown action %v", action.Kind)
	}
}

// Process evaluates m at asOf and applies the result.
func (e *Engine) Process(ctx context.Context, m *model.Movement, asOf time.Time) (Action, error) {
	action := Evaluate(m, asOf)
	if err := e.Apply(ctx, m, action); err != nil {
		return action, err
	}
	return action, nil
}

// CatchUp processes m repeatedly until nothing more is due at asOf, so a
// movement left behind by missed sweeps posts every overdue installment in
// order. It returns the actions that were applied.
func (e *Engine) CatchUp(ctx context.Context, m *model.Movement, asOf time.Time) ([]Action, error) {
	var applied []Action
	// Each iteration either advances the counter or stops, so this is
	// bounded by the installment count.
	for range m.InstallmentCount + 1 {
		action, err := e.Process(ctx, m, asOf)
		if err != nil {
			return applied, err
		}
		if action.Kind == None {
			return applied, nil
		}
		applied = append(applied, action)
		if action.Kind == MarkPending {
			return applied, nil
		}
	}
	return applied, nil
}

// Confirm posts the pending installment of a movement. It fails with
// common.ErrInvalidState unless the movement is pending.
func (e *Engine) Confirm(ctx context.Context, id string) (*model.Movement, error) {
	var (
		confirmed *model.Movement
		amount    decimal.Decimal
	)
	err := common.WithRetry(ctx, func() error {
		m, err := e.store.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if !m.PendingConfirmation {
			return fmt.Errorf("movement %s is not awaiting confirmation: %w", id, common.ErrInvalidState)
		}

		amount = m.NextInstallmentAmount()
		err = e.store.PostInstallment(ctx, service.InstallmentPosting{
			MovementID: m.ID,
			OwnerID:    m.OwnerID,
			Delta:      m.Signed(amount),
			Expected:   service.MovementState{InstallmentsProcessed: m.InstallmentsProcessed, PendingConfirmation: true},
		})
		if err != nil {
			return err
		}
		m.InstallmentsProcessed++
		m.PendingConfirmation = false
		confirmed = m
		return nil
	}, e.retry)
	if err != nil {
		return nil, err
	}

	e.notifyPosted(ctx, confirmed, amount)
	return confirmed, nil
}

// CreateInput describes a new movement.
type CreateInput struct {
	StartDate        time.Time
	Amount           decimal.Decimal
	// ID overrides the generated identifier. Imports derive it from the
	// source so repeating an import is rejected as a duplicate.
	ID               string
	OwnerID          string
	Name             string
	Description      string
	Direction        model.Direction
	Kind             model.Kind
	Frequency        string
	Status           model.ExpenseStatus
	CategoryID       int64
	InstallmentCount int
	AutoPost         bool
}

// Create validates and stores a movement, then runs one accrual step for
// the current time so an installment due today posts or flags immediately.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*model.Movement, Action, error) {
	m, err := e.build(in)
	if err != nil {
		return nil, Action{}, err
	}
	if _, err := e.store.GetAccount(ctx, m.OwnerID); err != nil {
		return nil, Action{}, err
	}
	if err := e.store.CreateMovement(ctx, m); err != nil {
		return nil, Action{}, err
	}

	action, err := e.Process(ctx, m, e.clock.Now())
	if err != nil {
		// The movement exists; the sweep will pick up the installment.
		e.logger.Warn("initial accrual step failed", "movement", m.ID, "error", err)
		return m, Action{Kind: None}, nil
	}
	return m, action, nil
}

func (e *Engine) build(in CreateInput) (*model.Movement, error) {
	freq, err := period.ParseFrequency(in.Frequency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	switch {
	case strings.TrimSpace(in.OwnerID) == "":
		return nil, common.Validationf("owner is required")
	case strings.TrimSpace(in.Name) == "":
		return nil, common.Validationf("name is required")
	case !in.Amount.IsPositive():
		return nil, common.Validationf("amount must be positive, got %s", in.Amount)
	case in.InstallmentCount < 1:
		return nil, common.Validationf("installment count must be at least 1, got %d", in.InstallmentCount)
	case in.Direction != model.DirectionIncome && in.Direction != model.DirectionExpense:
		return nil, common.Validationf("unknown direction %q", in.Direction)
	case in.Kind != model.KindRecurring && in.Kind != model.KindOneOff:
		return nil, common.Validationf("unknown kind %q", in.Kind)
	case in.Status != "" && in.Status != model.ExpensePaid && in.Status != model.ExpensePending:
		return nil, common.Validationf("unknown expense status %q", in.Status)
	case in.Status != "" && in.Direction == model.DirectionIncome:
		return nil, common.Validationf("only expenses carry a status")
	}
	if !in.Amount.Equal(in.Amount.Round(model.CurrencyPlaces)) {
		return nil, common.Validationf("amount %s has more than %d decimal places", in.Amount, model.CurrencyPlaces)
	}

	start := in.StartDate
	if start.IsZero() {
		start = e.clock.Now()
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &model.Movement{
		ID:               id,
		OwnerID:          in.OwnerID,
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		Direction:        in.Direction,
		Kind:             in.Kind,
		Frequency:        freq,
		Status:           in.Status,
		CategoryID:       in.CategoryID,
		Amount:           in.Amount,
		InstallmentCount: in.InstallmentCount,
		StartDate:        period.Day(start),
		AutoPost:         in.AutoPost,
	}, nil
}

// Delete removes a movement and reverses every installment already posted,
// for incomes and expenses alike. It returns the signed reversal applied.
func (e *Engine) Delete(ctx context.Context, id string) (decimal.Decimal, error) {
	var reversal decimal.Decimal
	err := common.WithRetry(ctx, func() error {
		m, err := e.store.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		reversal = m.Signed(m.PostedAmount()).Neg()
		return e.store.DeleteMovement(ctx, id, service.MovementState{
			InstallmentsProcessed: m.InstallmentsProcessed,
			PendingConfirmation:   m.PendingConfirmation,
		}, reversal)
	}, e.retry)
	if err != nil {
		return decimal.Zero, err
	}
	e.logger.Info("deleted movement", "movement", id, "reversal", reversal.StringFixed(2))
	return reversal, nil
}

// Update changes descriptive fields of a movement. Turning AutoPost on does
// not post anything retroactively; a pending installment still needs
// confirmation.
func (e *Engine) Update(ctx context.Context, id string, patch service.MovementPatch) (*model.Movement, error) {
	m, err := e.store.GetMovement(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil {
		if m.IsIncome() {
			return nil, common.Validationf("only expenses carry a status")
		}
		if *patch.Status != model.ExpensePaid && *patch.Status != model.ExpensePending {
			return nil, common.Validationf("unknown expense status %q", *patch.Status)
		}
	}
	if err := e.store.UpdateMovement(ctx, id, patch); err != nil {
		return nil, err
	}
	return e.store.GetMovement(ctx, id)
}

// Get returns a movement.
func (e *Engine) Get(ctx context.Context, id string) (*model.Movement, error) {
	return e.store.GetMovement(ctx, id)
}

// List returns movements matching filter.
func (e *Engine) List(ctx context.Context, filter service.MovementFilter) ([]model.Movement, error) {
	return e.store.ListMovements(ctx, filter)
}

// Pending lists the owner's movements awaiting confirmation.
func (e *Engine) Pending(ctx context.Context, ownerID string) ([]model.Movement, error) {
	pending := true
	return e.store.ListMovements(ctx, service.MovementFilter{OwnerID: ownerID, Pending: &pending})
}

func (e *Engine) notifyPosted(ctx context.Context, m *model.Movement, amount decimal.Decimal) {
	title, verb := TitleExpensePosted, "debited"
	if m.IsIncome() {
		title, verb = TitleIncomePosted, "credited"
	}
	e.notifier.Emit(ctx, m.OwnerID, title, fmt.Sprintf("%s: %s %s (installment %d of %d)",
		m.Name, model.FormatMoney(amount), verb, m.InstallmentsProcessed, m.InstallmentCount))
}

// IsRace reports whether err means another writer advanced the movement
// first. The sweep treats it as a skip rather than a failure.
func IsRace(err error) bool {
	return errors.Is(err, common.ErrConflict)
}
