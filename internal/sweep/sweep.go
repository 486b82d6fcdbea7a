// Package sweep drives accrual and goal funding for every account.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/finz/internal/accrual"
	"github.com/Veraticus/finz/internal/goals"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many accounts are swept concurrently.
const DefaultWorkers = 4

// Report summarizes one sweep.
type Report struct {
	Started  time.Time
	Duration time.Duration
	Accounts int
	// Posted counts installments applied automatically.
	Posted int
	// Pending counts installments newly awaiting confirmation.
	Pending int
	// Skipped counts movements left alone because a concurrent writer got
	// there first.
	Skipped       int
	Failed        int
	Contributions int
	Achieved      int
}

func (r *Report) merge(o Report) {
	r.Posted += o.Posted
	r.Pending += o.Pending
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Contributions += o.Contributions
	r.Achieved += o.Achieved
}

// Sweeper runs accrual and the periodic goal step.
type Sweeper struct {
	store   service.Storage
	accrual *accrual.Engine
	goals   *goals.Engine
	logger  *slog.Logger
	workers int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithWorkers sets the number of accounts processed concurrently.
func WithWorkers(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a sweeper.
func New(store service.Storage, acc *accrual.Engine, g *goals.Engine, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:   store,
		accrual: acc,
		goals:   g,
		logger:  slog.Default(),
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce processes every unfinished movement and every goal as of asOf.
// A movement or goal that fails is logged and counted; it never stops the
// others. The returned error is only set when the sweep could not start or
// the context ended.
func (s *Sweeper) RunOnce(ctx context.Context, asOf time.Time) (Report, error) {
	report := Report{Started: time.Now()}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list accounts: %w", err)
	}
	report.Accounts = len(accounts)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, acc := range accounts {
		g.Go(func() error {
			r := s.sweepAccount(gctx, acc, asOf)
			mu.Lock()
			report.merge(r)
			mu.Unlock()
			return gctx.Err()
		})
	}
	err = g.Wait()
	report.Duration = time.Since(report.Started)

	s.logger.Info("sweep complete",
		"as_of", asOf.Format(time.DateOnly),
		"accounts", report.Accounts,
		"posted", report.Posted,
		"pending", report.Pending,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"contributions", report.Contributions,
		"duration", report.Duration)
	return report, err
}

func (s *Sweeper) sweepAccount(ctx context.Context, acc model.Account, asOf time.Time) Report {
	var r Report
	logger := s.logger.With("account", acc.ID)

	notPending := false
	movements, err := s.store.ListMovements(ctx, service.MovementFilter{
		OwnerID:       acc.ID,
		StartedBefore: &asOf,
		Pending:       &notPending,
		Unfinished:    true,
	})
	if err != nil {
		logger.Error("failed to list movements", "error", err)
		r.Failed++
	}
	for i := range movements {
		if ctx.Err() != nil {
			return r
		}
		m := &movements[i]
		actions, err := s.accrual.CatchUp(ctx, m, asOf)
		for _, a := range actions {
			switch a.Kind {
			case accrual.PostAutomatic:
				r.Posted++
			case accrual.MarkPending:
				r.Pending++
			}
		}
		switch {
		case err == nil:
		case accrual.IsRace(err):
			logger.Debug("movement changed concurrently", "movement", m.ID)
			r.Skipped++
		default:
			logger.Error("failed to process movement", "movement", m.ID, "error", err)
			r.Failed++
		}
	}

	list, err := s.store.ListGoals(ctx, acc.ID)
	if err != nil {
		logger.Error("failed to list goals", "error", err)
		r.Failed++
		return r
	}
	for i := range list {
		if ctx.Err() != nil {
			return r
		}
		goal := &list[i]
		res, err := s.goals.EvaluatePeriodic(ctx, goal, asOf)
		if err != nil {
			logger.Error("failed to fund goal", "goal", goal.ID, "error", err)
			r.Failed++
			continue
		}
		if res.Outcome == goals.Contributed {
			r.Contributions++
		}
		if res.Achieved {
			r.Achieved++
		}
	}
	return r
}
