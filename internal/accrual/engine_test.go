package accrual

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/notify"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/Veraticus/finz/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *testutil.TestDB
	sink   *notify.Memory
	engine *Engine
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Now:      time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC),
		Accounts: map[string]string{"acc1": balance},
	})
	sink := &notify.Memory{}
	engine := NewEngine(db.Storage, sink, db.Clock, WithRetry(service.RetryOptions{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}))
	return &fixture{db: db, sink: sink, engine: engine}
}

func (f *fixture) create(t *testing.T, in CreateInput) *model.Movement {
	t.Helper()
	m, _, err := f.engine.Create(context.Background(), in)
	require.NoError(t, err)
	return m
}

func laptop(autoPost bool) CreateInput {
	return CreateInput{
		OwnerID:          "acc1",
		Name:             "Laptop",
		Direction:        model.DirectionExpense,
		Kind:             model.KindOneOff,
		Amount:           decimal.NewFromInt(900),
		InstallmentCount: 3,
		Frequency:        "monthly",
		StartDate:        period.Date(2024, time.January, 1),
		AutoPost:         autoPost,
	}
}

func TestEngine_ScenarioAutoPost(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(true))

	steps := []struct {
		asOf      time.Time
		wantKind  ActionKind
		processed int
		balance   string
	}{
		{period.Date(2024, time.January, 1), PostAutomatic, 1, "700.00"},
		{period.Date(2024, time.January, 1), None, 1, "700.00"},
		{period.Date(2024, time.February, 1), PostAutomatic, 2, "400.00"},
		{period.Date(2024, time.March, 1), PostAutomatic, 3, "100.00"},
		{period.Date(2024, time.April, 1), None, 3, "100.00"},
	}

	for _, step := range steps {
		current := f.db.MustMovement(m.ID)
		action, err := f.engine.Process(ctx, current, step.asOf)
		require.NoError(t, err)
		assert.Equal(t, step.wantKind, action.Kind, "asOf %s", step.asOf.Format(time.DateOnly))
		if action.Kind == PostAutomatic {
			assert.True(t, action.Amount.Equal(decimal.NewFromInt(300)))
		}
		assert.Equal(t, step.processed, f.db.MustMovement(m.ID).InstallmentsProcessed)
		assert.Equal(t, step.balance, f.db.Balance("acc1").StringFixed(2))
	}

	assert.Equal(t, []string{TitleExpensePosted, TitleExpensePosted, TitleExpensePosted}, f.sink.Titles("acc1"))
}

func TestEngine_ScenarioManualConfirm(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(false))

	action, err := f.engine.Process(ctx, f.db.MustMovement(m.ID), period.Date(2024, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, MarkPending, action.Kind)

	got := f.db.MustMovement(m.ID)
	assert.True(t, got.PendingConfirmation)
	assert.Equal(t, 0, got.InstallmentsProcessed)
	assert.Equal(t, "1000.00", f.db.Balance("acc1").StringFixed(2))

	// Re-running the sweep does not flag again.
	action, err = f.engine.Process(ctx, got, period.Date(2024, time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, None, action.Kind)

	pending, err := f.engine.Pending(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	confirmed, err := f.engine.Confirm(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed.InstallmentsProcessed)
	assert.False(t, confirmed.PendingConfirmation)
	assert.Equal(t, "700.00", f.db.Balance("acc1").StringFixed(2))

	_, err = f.engine.Confirm(ctx, m.ID)
	require.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, "700.00", f.db.Balance("acc1").StringFixed(2))

	assert.Equal(t, []string{TitlePending, TitleExpensePosted}, f.sink.Titles("acc1"))
}

func TestEngine_ConfirmUnknownMovement(t *testing.T) {
	f := newFixture(t, "0")
	_, err := f.engine.Confirm(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_ApplyStaleMovementConflicts(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(true))
	asOf := period.Date(2024, time.January, 1)

	stale := f.db.MustMovement(m.ID)
	fresh := f.db.MustMovement(m.ID)

	_, err := f.engine.Process(ctx, fresh, asOf)
	require.NoError(t, err)

	_, err = f.engine.Process(ctx, stale, asOf)
	require.ErrorIs(t, err, common.ErrConflict)
	assert.True(t, IsRace(err))
	assert.Equal(t, "700.00", f.db.Balance("acc1").StringFixed(2))
	assert.Equal(t, 1, f.db.MustMovement(m.ID).InstallmentsProcessed)
}

func TestEngine_ConcurrentSweepAndConfirm(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(false))
	asOf := period.Date(2024, time.January, 1)

	_, err := f.engine.Process(ctx, f.db.MustMovement(m.ID), asOf)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Confirm(ctx, m.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.Process(ctx, f.db.MustMovement(m.ID), asOf)
		}()
	}
	wg.Wait()

	got := f.db.MustMovement(m.ID)
	// Exactly one confirmation posted; the sweep could at most re-flag
	// the next installment, which is not due yet.
	assert.Equal(t, 1, got.InstallmentsProcessed)
	assert.False(t, got.PendingConfirmation)
	assert.Equal(t, "700.00", f.db.Balance("acc1").StringFixed(2))
}

func TestEngine_ConcurrentSweepsPostOnce(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(true))
	asOf := period.Date(2024, time.January, 15)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Process(ctx, f.db.MustMovement(m.ID), asOf)
			if err != nil {
				assert.True(t, IsRace(err), "unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.db.MustMovement(m.ID).InstallmentsProcessed)
	assert.Equal(t, "700.00", f.db.Balance("acc1").StringFixed(2))
}

func TestEngine_CreatePostsImmediatelyWhenDue(t *testing.T) {
	f := newFixture(t, "0")
	f.db.Clock.SetDate(2024, time.January, 10)

	in := laptop(true)
	in.Direction = model.DirectionIncome
	in.Kind = model.KindRecurring
	in.Name = "Salary"
	in.Amount = decimal.NewFromInt(3000)
	in.InstallmentCount = 1
	in.StartDate = time.Time{}

	m, action, err := f.engine.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, PostAutomatic, action.Kind)
	assert.True(t, m.StartDate.Equal(period.Date(2024, time.January, 10)))
	assert.Equal(t, "3000.00", f.db.Balance("acc1").StringFixed(2))
	assert.True(t, f.db.MustMovement(m.ID).FullyProcessed())
	assert.Equal(t, []string{TitleIncomePosted}, f.sink.Titles("acc1"))
}

func TestEngine_CreateFutureDoesNothing(t *testing.T) {
	f := newFixture(t, "100")
	m, action, err := f.engine.Create(context.Background(), laptop(true))
	require.NoError(t, err)
	assert.Equal(t, None, action.Kind)
	assert.Equal(t, 0, f.db.MustMovement(m.ID).InstallmentsProcessed)
	assert.Equal(t, "100.00", f.db.Balance("acc1").StringFixed(2))
}

func TestEngine_CreateValidation(t *testing.T) {
	f := newFixture(t, "0")

	tests := []struct {
		mutate func(*CreateInput)
		name   string
	}{
		{name: "bad frequency", mutate: func(in *CreateInput) { in.Frequency = "daily" }},
		{name: "zero amount", mutate: func(in *CreateInput) { in.Amount = decimal.Zero }},
		{name: "negative amount", mutate: func(in *CreateInput) { in.Amount = decimal.NewFromInt(-5) }},
		{name: "sub-cent amount", mutate: func(in *CreateInput) { in.Amount = decimal.RequireFromString("1.005") }},
		{name: "no installments", mutate: func(in *CreateInput) { in.InstallmentCount = 0 }},
		{name: "no name", mutate: func(in *CreateInput) { in.Name = "  " }},
		{name: "bad direction", mutate: func(in *CreateInput) { in.Direction = "transfer" }},
		{name: "bad kind", mutate: func(in *CreateInput) { in.Kind = "sometimes" }},
		{name: "income with status", mutate: func(in *CreateInput) {
			in.Direction = model.DirectionIncome
			in.Status = model.ExpensePaid
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := laptop(true)
			tt.mutate(&in)
			_, _, err := f.engine.Create(context.Background(), in)
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}

	movements, err := f.engine.List(context.Background(), service.MovementFilter{OwnerID: "acc1"})
	require.NoError(t, err)
	assert.Empty(t, movements, "rejected input never reaches the store")
}

func TestEngine_CreateUnknownOwner(t *testing.T) {
	f := newFixture(t, "0")
	in := laptop(true)
	in.OwnerID = "nobody"
	_, _, err := f.engine.Create(context.Background(), in)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_CatchUpPostsInOrder(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	in := laptop(true)
	in.Amount = decimal.NewFromInt(100)
	m := f.create(t, in)

	applied, err := f.engine.CatchUp(ctx, f.db.MustMovement(m.ID), period.Date(2024, time.February, 15))
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, 0, applied[0].Index)
	assert.Equal(t, 1, applied[1].Index)
	assert.Equal(t, "933.34", f.db.Balance("acc1").StringFixed(2))

	applied, err = f.engine.CatchUp(ctx, f.db.MustMovement(m.ID), period.Date(2030, time.January, 1))
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].Amount.Equal(decimal.RequireFromString("33.34")))

	// Conservation: the full amount left the balance, to the cent.
	assert.Equal(t, "900.00", f.db.Balance("acc1").StringFixed(2))
}

func TestEngine_CatchUpStopsAtPending(t *testing.T) {
	f := newFixture(t, "1000")
	m := f.create(t, laptop(false))

	applied, err := f.engine.CatchUp(context.Background(), f.db.MustMovement(m.ID), period.Date(2024, time.June, 1))
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, MarkPending, applied[0].Kind)
}

func TestEngine_DeleteReversesPostedInstallments(t *testing.T) {
	tests := []struct {
		name      string
		direction model.Direction
		posted    int
		want      string
		reversal  string
	}{
		{name: "expense partly posted", direction: model.DirectionExpense, posted: 2, want: "1000.00", reversal: "600"},
		{name: "income partly posted", direction: model.DirectionIncome, posted: 1, want: "1000.00", reversal: "-300"},
		{name: "income never posted", direction: model.DirectionIncome, posted: 0, want: "1000.00", reversal: "0"},
		{name: "expense never posted", direction: model.DirectionExpense, posted: 0, want: "1000.00", reversal: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "1000")
			ctx := context.Background()
			in := laptop(true)
			in.Direction = tt.direction
			m := f.create(t, in)

			asOf := period.Date(2024, time.January, 1)
			for i := range tt.posted {
				_, err := f.engine.Process(ctx, f.db.MustMovement(m.ID), period.AddMonths(asOf, i))
				require.NoError(t, err)
			}

			reversal, err := f.engine.Delete(ctx, m.ID)
			require.NoError(t, err)
			assert.True(t, reversal.Equal(decimal.RequireFromString(tt.reversal)), "reversal %s", reversal)
			assert.Equal(t, tt.want, f.db.Balance("acc1").StringFixed(2))

			_, err = f.engine.Get(ctx, m.ID)
			require.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestEngine_UpdateAutoPostIsNotRetroactive(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	m := f.create(t, laptop(false))

	_, err := f.engine.Process(ctx, f.db.MustMovement(m.ID), period.Date(2024, time.January, 1))
	require.NoError(t, err)

	autoPost := true
	status := model.ExpensePaid
	updated, err := f.engine.Update(ctx, m.ID, service.MovementPatch{AutoPost: &autoPost, Status: &status})
	require.NoError(t, err)
	assert.True(t, updated.AutoPost)
	assert.True(t, updated.PendingConfirmation, "the pending installment still needs confirmation")
	assert.Equal(t, model.ExpensePaid, updated.Status)
	assert.Equal(t, "1000.00", f.db.Balance("acc1").StringFixed(2))

	action, err := f.engine.Process(ctx, updated, period.Date(2024, time.January, 2))
	require.NoError(t, err)
	assert.Equal(t, None, action.Kind)
}

func TestEngine_UpdateRejectsIncomeStatus(t *testing.T) {
	f := newFixture(t, "0")
	in := laptop(true)
	in.Direction = model.DirectionIncome
	m := f.create(t, in)

	status := model.ExpensePending
	_, err := f.engine.Update(context.Background(), m.ID, service.MovementPatch{Status: &status})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestEngine_MonotonicAcrossRandomOperations(t *testing.T) {
	f := newFixture(t, "5000")
	ctx := context.Background()
	in := laptop(false)
	in.Frequency = "weekly"
	in.InstallmentCount = 6
	m := f.create(t, in)

	asOf := period.Date(2024, time.January, 1)
	last := 0
	for step := range 40 {
		if step%3 == 0 {
			_, _ = f.engine.Confirm(ctx, m.ID)
		} else {
			_, _ = f.engine.Process(ctx, f.db.MustMovement(m.ID), asOf)
		}
		if step%2 == 0 {
			asOf = asOf.AddDate(0, 0, 4)
		}

		got := f.db.MustMovement(m.ID)
		assert.GreaterOrEqual(t, got.InstallmentsProcessed, last)
		assert.LessOrEqual(t, got.InstallmentsProcessed, got.InstallmentCount)
		last = got.InstallmentsProcessed
	}

	assert.Equal(t, 6, last)
	assert.Equal(t, "4100.00", f.db.Balance("acc1").StringFixed(2))
}
