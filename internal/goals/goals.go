// Package goals funds savings goals from an account balance, either on the
// periodic sweep or by explicit contribution.
package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notification titles emitted by the engine.
const (
	TitleAchieved     = "Goal achieved"
	TitleContribution = "Goal contribution"
	TitleSkipped      = "Contribution skipped"
)

// Outcome is the result of one periodic evaluation.
type Outcome int

const (
	// Contributed means money moved into the goal.
	Contributed Outcome = iota
	// AlreadyAchieved means the goal needs nothing more.
	AlreadyAchieved
	// InsufficientBalance means the balance could not cover the desired
	// amount and the user was told.
	InsufficientBalance
	// NotScheduled means the goal is not funded periodically, or was
	// already funded this month.
	NotScheduled
)

func (o Outcome) String() string {
	switch o {
	case Contributed:
		return "contributed"
	case AlreadyAchieved:
		return "achieved"
	case InsufficientBalance:
		return "insufficient-balance"
	case NotScheduled:
		return "not-scheduled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes a periodic evaluation.
type Result struct {
	Amount  decimal.Decimal
	Outcome Outcome
	// Achieved is set when this evaluation reached the target.
	Achieved bool
}

// Engine runs goal contributions against a store.
type Engine struct {
	store    service.Storage
	notifier service.Notifier
	clock    service.Clock
	logger   *slog.Logger
}

// NewEngine creates a goal engine.
func NewEngine(store service.Storage, notifier service.Notifier, clock service.Clock) *Engine {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &Engine{store: store, notifier: notifier, clock: clock, logger: slog.Default()}
}

// EvaluatePeriodic runs the scheduled contribution for goal as of asOf.
// An insufficient balance is reported through the notifier and the result,
// never as an error.
func (e *Engine) EvaluatePeriodic(ctx context.Context, goal *model.Goal, asOf time.Time) (Result, error) {
	if goal.Achieved() {
		e.notifyAchieved(ctx, goal)
		return Result{Outcome: AlreadyAchieved}, nil
	}
	if goal.Mode == model.ModeManualOnly || goal.IsForeign() {
		return Result{Outcome: NotScheduled}, nil
	}
	if goal.AutoContributedIn(asOf) {
		return Result{Outcome: NotScheduled}, nil
	}

	acc, err := e.store.GetAccount(ctx, goal.OwnerID)
	if err != nil {
		return Result{}, err
	}

	var desired decimal.Decimal
	switch goal.Mode {
	case model.ModeFixedMonthly:
		desired = goal.ModeValue
	case model.ModePercentOfBalance:
		desired = model.Percent(acc.Balance, goal.ModeValue)
	default:
		return Result{}, fmt.Errorf("goal %s has unknown mode %q: %w", goal.ID, goal.Mode, common.ErrInvalidState)
	}

	if !desired.IsPositive() || acc.Balance.LessThan(desired) {
		e.notifySkipped(ctx, goal, acc.Balance, desired)
		return Result{Outcome: InsufficientBalance, Amount: desired}, nil
	}

	actual := decimal.Min(desired, goal.Remaining())
	err = e.store.AddContribution(ctx, service.ContributionPosting{
		GoalID:       goal.ID,
		OwnerID:      goal.OwnerID,
		Cap:          goal.TargetAmount,
		RequireFunds: true,
		Contribution: model.Contribution{Amount: actual, Date: asOf, Auto: true},
	})
	switch {
	case errors.Is(err, common.ErrInsufficientBalance):
		// The balance moved between the read and the debit.
		e.notifySkipped(ctx, goal, acc.Balance, desired)
		return Result{Outcome: InsufficientBalance, Amount: desired}, nil
	case err != nil:
		return Result{}, err
	}

	goal.Contributions = append(goal.Contributions, model.Contribution{Amount: actual, Date: asOf, Auto: true})
	e.notifier.Emit(ctx, goal.OwnerID, TitleContribution, contributionBody(goal, actual))

	res := Result{Outcome: Contributed, Amount: actual}
	if goal.Achieved() {
		res.Achieved = true
		e.notifyAchieved(ctx, goal)
	}
	e.logger.Debug("periodic goal contribution",
		"goal", goal.ID,
		"owner", goal.OwnerID,
		"amount", actual.StringFixed(2),
		"achieved", res.Achieved)
	return res, nil
}

// ManualOptions carries the foreign-currency detail of a manual
// contribution.
type ManualOptions struct {
	ForeignUnits decimal.Decimal
	Rate         decimal.Decimal
}

// ContributeManually moves amount, already in local currency, from the
// owner's balance into the goal.
func (e *Engine) ContributeManually(ctx context.Context, goalID string, amount decimal.Decimal, opts ManualOptions) (*model.Goal, error) {
	if !amount.IsPositive() {
		return nil, common.Validationf("contribution must be positive, got %s", amount)
	}
	if opts.ForeignUnits.IsNegative() || opts.Rate.IsNegative() {
		return nil, common.Validationf("foreign units and rate cannot be negative")
	}

	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(goal.Remaining()) {
		return nil, fmt.Errorf("contribution %s exceeds remaining %s: %w",
			model.FormatMoney(amount), model.FormatMoney(goal.Remaining()), common.ErrInvalidState)
	}

	contribution := model.Contribution{
		Amount:       amount.Round(model.CurrencyPlaces),
		Date:         e.clock.Now(),
		ForeignUnits: opts.ForeignUnits,
		Rate:         opts.Rate,
	}
	err = e.store.AddContribution(ctx, service.ContributionPosting{
		GoalID:       goal.ID,
		OwnerID:      goal.OwnerID,
		Cap:          goal.TargetAmount,
		RequireFunds: true,
		Contribution: contribution,
	})
	if err != nil {
		return nil, err
	}

	goal.Contributions = append(goal.Contributions, contribution)
	if goal.Achieved() {
		e.notifyAchieved(ctx, goal)
	}
	return goal, nil
}

// CreateInput describes a new goal.
type CreateInput struct {
	ForeignCurrency *model.Currency
	Target          decimal.Decimal
	ModeValue       decimal.Decimal
	// Seed records savings that already exist. It does not touch the
	// balance.
	Seed        decimal.Decimal
	OwnerID     string
	Name        string
	Description string
	Mode        model.ContributionMode
}

// Create validates and stores a goal with an optional seed contribution.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*model.Goal, error) {
	if err := validateMode(in.Mode, in.ModeValue); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, common.Validationf("goal name is required")
	case !in.Target.IsPositive():
		return nil, common.Validationf("goal target must be positive")
	case in.Seed.IsNegative():
		return nil, common.Validationf("seed cannot be negative")
	case in.Seed.GreaterThan(in.Target):
		return nil, common.Validationf("seed %s exceeds target %s", in.Seed, in.Target)
	case in.ForeignCurrency != nil && (in.ForeignCurrency.Name == "" || in.ForeignCurrency.Symbol == ""):
		return nil, common.Validationf("foreign currency needs a name and a symbol")
	}
	if _, err := e.store.GetAccount(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	goal := &model.Goal{
		ID:              uuid.NewString(),
		OwnerID:         in.OwnerID,
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		TargetAmount:    in.Target,
		Mode:            in.Mode,
		ModeValue:       in.ModeValue,
		ForeignCurrency: in.ForeignCurrency,
	}
	if err := e.store.CreateGoal(ctx, goal); err != nil {
		return nil, err
	}

	if in.Seed.IsPositive() {
		seed := model.Contribution{Amount: in.Seed, Date: e.clock.Now()}
		if err := e.store.AddContribution(ctx, service.ContributionPosting{
			GoalID:       goal.ID,
			OwnerID:      goal.OwnerID,
			Cap:          goal.TargetAmount,
			Seed:         true,
			Contribution: seed,
		}); err != nil {
			return nil, err
		}
		goal.Contributions = append(goal.Contributions, seed)
	}
	return goal, nil
}

// SetMode changes how a goal is funded.
func (e *Engine) SetMode(ctx context.Context, goalID string, mode model.ContributionMode, value decimal.Decimal) error {
	if err := validateMode(mode, value); err != nil {
		return err
	}
	return e.store.SetGoalMode(ctx, goalID, mode, value)
}

// Get returns a goal with its history.
func (e *Engine) Get(ctx context.Context, id string) (*model.Goal, error) {
	return e.store.GetGoal(ctx, id)
}

// List returns an owner's goals.
func (e *Engine) List(ctx context.Context, ownerID string) ([]model.Goal, error) {
	return e.store.ListGoals(ctx, ownerID)
}

// Delete removes a goal and its history.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.DeleteGoal(ctx, id)
}

// MonthTotal is the money saved across an owner's goals in one month.
type MonthTotal struct {
	Month time.Time
	Total decimal.Decimal
	Count int
}

// MonthlyTotals groups every contribution of the owner's goals by calendar
// month, oldest first.
func (e *Engine) MonthlyTotals(ctx context.Context, ownerID string) ([]MonthTotal, error) {
	goals, err := e.store.ListGoals(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[time.Time]*MonthTotal)
	for _, g := range goals {
		for _, c := range g.Contributions {
			key := time.Date(c.Date.Year(), c.Date.Month(), 1, 0, 0, 0, 0, time.UTC)
			mt, ok := byMonth[key]
			if !ok {
				mt = &MonthTotal{Month: key, Total: decimal.Zero}
				byMonth[key] = mt
			}
			mt.Total = mt.Total.Add(c.Amount)
			mt.Count++
		}
	}

	out := make([]MonthTotal, 0, len(byMonth))
	for _, mt := range byMonth {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// ParseMode accepts the stored names plus short aliases.
func ParseMode(s string) (model.ContributionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "fixed_monthly", "monthly":
		return model.ModeFixedMonthly, nil
	case "percent", "percent_of_balance", "percentage":
		return model.ModePercentOfBalance, nil
	case "manual", "manual_only", "":
		return model.ModeManualOnly, nil
	default:
		return "", common.Validationf("unknown contribution mode %q", s)
	}
}

func validateMode(mode model.ContributionMode, value decimal.Decimal) error {
	switch mode {
	case model.ModeFixedMonthly:
		if !value.IsPositive() {
			return common.Validationf("fixed monthly amount must be positive")
		}
	case model.ModePercentOfBalance:
		if !value.IsPositive() || value.GreaterThan(decimal.NewFromInt(100)) {
			return common.Validationf("percentage must be in (0, 100]")
		}
	case model.ModeManualOnly:
	default:
		return common.Validationf("unknown contribution mode %q", mode)
	}
	return nil
}

// notifyAchieved emits the achievement message once per goal. The claim is
// a conditional update on the goal row, so concurrent sweeps race on the
// store and only the winner emits.
func (e *Engine) notifyAchieved(ctx context.Context, goal *model.Goal) {
	claimed, err := e.store.ClaimGoalAchieved(ctx, goal.ID)
	if err != nil {
		e.logger.Warn("failed to claim goal achievement", "goal", goal.ID, "error", err)
		return
	}
	if !claimed {
		return
	}
	body := fmt.Sprintf("You reached your goal %q of %s", goal.Name, model.FormatMoney(goal.TargetAmount))
	e.notifier.Emit(ctx, goal.OwnerID, TitleAchieved, body)
}

func (e *Engine) notifySkipped(ctx context.Context, goal *model.Goal, balance, desired decimal.Decimal) {
	e.notifier.Emit(ctx, goal.OwnerID, TitleSkipped, fmt.Sprintf(
		"%s: balance %s does not cover the %s contribution",
		goal.Name, model.FormatMoney(balance), model.FormatMoney(desired)))
}

func contributionBody(goal *model.Goal, amount decimal.Decimal) string {
	return fmt.Sprintf("%s: %s saved, %s%% complete",
		goal.Name, model.FormatMoney(amount), goal.PercentComplete().StringFixed(0))
}
