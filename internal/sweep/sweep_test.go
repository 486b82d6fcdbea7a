package sweep

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/accrual"
	"github.com/Veraticus/finz/internal/goals"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/notify"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/reminders"
	"github.com/Veraticus/finz/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *testutil.TestDB
	sink    *notify.Memory
	sweeper *Sweeper
}

func newFixture(t *testing.T, accounts map[string]string) *fixture {
	t.Helper()
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Now:      time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		Accounts: accounts,
	})
	sink := &notify.Memory{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	sw := New(db.Storage,
		accrual.NewEngine(db.Storage, sink, db.Clock, accrual.WithLogger(logger)),
		goals.NewEngine(db.Storage, sink, db.Clock),
		WithWorkers(2), WithLogger(logger))
	return &fixture{db: db, sink: sink, sweeper: sw}
}

func (f *fixture) movement(t *testing.T, m *model.Movement) {
	t.Helper()
	m.Name = m.ID
	m.Kind = model.KindOneOff
	m.Frequency = period.Monthly
	if m.Direction == "" {
		m.Direction = model.DirectionExpense
	}
	require.NoError(t, f.db.Storage.CreateMovement(context.Background(), m))
}

func (f *fixture) goal(t *testing.T, id, owner string) {
	t.Helper()
	require.NoError(t, f.db.Storage.CreateGoal(context.Background(), &model.Goal{
		ID: id, OwnerID: owner, Name: id,
		Mode:         model.ModeFixedMonthly,
		ModeValue:    decimal.NewFromInt(50),
		TargetAmount: decimal.NewFromInt(1000),
	}))
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t, map[string]string{"acc1": "1000", "acc2": "0"})
	ctx := context.Background()

	f.movement(t, &model.Movement{ID: "laptop", OwnerID: "acc1", Amount: decimal.NewFromInt(900),
		InstallmentCount: 3, AutoPost: true, StartDate: period.Date(2024, time.January, 1)})
	f.movement(t, &model.Movement{ID: "gym", OwnerID: "acc1", Amount: decimal.NewFromInt(480),
		InstallmentCount: 12, StartDate: period.Date(2024, time.February, 1)})
	f.movement(t, &model.Movement{ID: "future", OwnerID: "acc1", Amount: decimal.NewFromInt(10),
		InstallmentCount: 1, AutoPost: true, StartDate: period.Date(2024, time.April, 1)})
	f.goal(t, "bike", "acc1")
	f.goal(t, "car", "acc2")

	report, err := f.sweeper.RunOnce(ctx, f.db.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accounts)
	assert.Equal(t, 3, report.Posted, "every overdue laptop installment is caught up")
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Contributions)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Skipped)

	assert.Equal(t, "50.00", f.db.Balance("acc1").StringFixed(2))
	assert.Equal(t, "0.00", f.db.Balance("acc2").StringFixed(2))
	assert.Contains(t, f.sink.Titles("acc2"), goals.TitleSkipped)
	assert.True(t, f.db.MustMovement("gym").PendingConfirmation)
	assert.Equal(t, 0, f.db.MustMovement("future").InstallmentsProcessed)

	again, err := f.sweeper.RunOnce(ctx, f.db.Clock.Now())
	require.NoError(t, err)
	assert.Zero(t, again.Posted)
	assert.Zero(t, again.Pending)
	assert.Zero(t, again.Contributions, "goals are funded once per month")
	assert.Equal(t, "50.00", f.db.Balance("acc1").StringFixed(2))
}

func TestRunOnce_NextMonth(t *testing.T) {
	f := newFixture(t, map[string]string{"acc1": "1000"})
	ctx := context.Background()
	f.goal(t, "bike", "acc1")

	_, err := f.sweeper.RunOnce(ctx, f.db.Clock.Now())
	require.NoError(t, err)

	f.db.Clock.SetDate(2024, time.April, 1)
	report, err := f.sweeper.RunOnce(ctx, f.db.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Contributions)
	assert.Equal(t, "900.00", f.db.Balance("acc1").StringFixed(2))
	assert.Equal(t, "100.00", f.db.MustGoal("bike").Progress().StringFixed(2))
}

func TestRunOnce_ManyAccounts(t *testing.T) {
	accounts := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		accounts[id] = "100"
	}
	f := newFixture(t, accounts)
	for id := range accounts {
		f.movement(t, &model.Movement{ID: "pay-" + id, OwnerID: id, Direction: model.DirectionIncome,
			Amount: decimal.NewFromInt(20), InstallmentCount: 2, AutoPost: true,
			StartDate: period.Date(2024, time.February, 5)})
	}

	report, err := f.sweeper.RunOnce(context.Background(), f.db.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 12, report.Posted)
	for id := range accounts {
		assert.Equal(t, "120.00", f.db.Balance(id).StringFixed(2), id)
	}
}

func TestRunOnce_CanceledContext(t *testing.T) {
	f := newFixture(t, map[string]string{"acc1": "0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sweeper.RunOnce(ctx, f.db.Clock.Now())
	require.Error(t, err)
}

func TestNewScheduler_Validation(t *testing.T) {
	f := newFixture(t, nil)
	rules := reminders.New(f.db.Storage, f.sink).Rules()

	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"defaults", Schedule{Sweep: DefaultSweepSpec, Reminders: DefaultReminderSpecs()}, false},
		{"disabled", Schedule{Reminders: map[string]string{"weekly": ""}}, false},
		{"bad sweep", Schedule{Sweep: "every minute"}, true},
		{"bad reminder", Schedule{Reminders: map[string]string{"weekly": "61 * * * *"}}, true},
		{"unknown reminder", Schedule{Reminders: map[string]string{"birthday": "0 9 * * *"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(f.sweeper, rules, tt.schedule, f.db.Clock, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_RunJobs(t *testing.T) {
	f := newFixture(t, map[string]string{"acc1": "100"})
	f.movement(t, &model.Movement{ID: "gym", OwnerID: "acc1", Amount: decimal.NewFromInt(40),
		InstallmentCount: 1, StartDate: period.Date(2024, time.March, 1)})

	rules := reminders.New(f.db.Storage, f.sink).Rules()
	s, err := NewScheduler(f.sweeper, rules, Schedule{}, f.db.Clock, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s.RunSweep(ctx)
	assert.True(t, f.db.MustMovement("gym").PendingConfirmation)

	s.RunReminder(ctx, "pending")
	assert.Contains(t, f.sink.Titles("acc1"), reminders.TitlePendingExpenses)

	s.RunReminder(ctx, "nonexistent")
}

func TestScheduler_Start(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	f := newFixture(t, map[string]string{"acc1": "0"})

	var runs atomic.Int32
	rules := map[string]reminders.Rule{
		"tick": func(context.Context, time.Time) (int, error) {
			runs.Add(1)
			return 0, nil
		},
	}
	s, err := NewScheduler(f.sweeper, rules, Schedule{Reminders: map[string]string{"tick": "@every 1s"}}, f.db.Clock, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
