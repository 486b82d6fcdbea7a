package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store, func() { _ = store.Close() }
}

func createTestAccount(t *testing.T, s *SQLiteStorage, id string, balance string) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &model.Account{
		ID:      id,
		Name:    "Test " + id,
		Balance: decimal.RequireFromString(balance),
	}))
}

func testMovement(id, owner string, amount string, count int) *model.Movement {
	return &model.Movement{
		ID:               id,
		OwnerID:          owner,
		Name:             "Movement " + id,
		Direction:        model.DirectionExpense,
		Kind:             model.KindOneOff,
		Frequency:        period.Monthly,
		Amount:           decimal.RequireFromString(amount),
		InstallmentCount: count,
		StartDate:        time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC),
		AutoPost:         true,
	}
}

func balanceOf(t *testing.T, s *SQLiteStorage, id string) decimal.Decimal {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, v)

	// Running again is a no-op.
	require.NoError(t, s.Migrate(ctx))

	cats, err := s.GetCategories(ctx, "")
	require.NoError(t, err)
	assert.Len(t, cats, len(DefaultCategories))
}

func TestSQLiteStorage_Accounts(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	createTestAccount(t, s, "acc1", "100.50")

	acc, err := s.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("100.50")))
	assert.False(t, acc.CreatedAt.IsZero())

	require.NoError(t, s.AdjustBalance(ctx, "acc1", decimal.RequireFromString("-0.51")))
	assert.Equal(t, "99.99", balanceOf(t, s, "acc1").StringFixed(2))

	err = s.AdjustBalance(ctx, "missing", decimal.NewFromInt(1))
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.GetAccount(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	err = s.CreateAccount(ctx, &model.Account{ID: "acc1", Name: "dup"})
	require.ErrorIs(t, err, common.ErrDuplicateEntry)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestSQLiteStorage_MovementRoundTrip(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")

	m := testMovement("m1", "acc1", "1234.56", 3)
	m.Description = "laptop"
	require.NoError(t, s.CreateMovement(ctx, m))

	got, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Description)
	assert.True(t, got.Amount.Equal(m.Amount))
	assert.Equal(t, 3, got.InstallmentCount)
	assert.Equal(t, period.Monthly, got.Frequency)
	assert.True(t, got.StartDate.Equal(period.Date(2024, time.January, 31)))
	assert.True(t, got.AutoPost)

	_, err = s.GetMovement(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_CreateMovementValidation(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")

	tests := []struct {
		mutate func(*model.Movement)
		name   string
	}{
		{name: "zero amount", mutate: func(m *model.Movement) { m.Amount = decimal.Zero }},
		{name: "zero installments", mutate: func(m *model.Movement) { m.InstallmentCount = 0 }},
		{name: "processed past count", mutate: func(m *model.Movement) { m.InstallmentsProcessed = 4 }},
		{name: "unknown frequency", mutate: func(m *model.Movement) { m.Frequency = "daily" }},
		{name: "missing start", mutate: func(m *model.Movement) { m.StartDate = time.Time{} }},
		{name: "pending when finished", mutate: func(m *model.Movement) {
			m.InstallmentsProcessed = 3
			m.PendingConfirmation = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMovement("bad", "acc1", "10", 3)
			tt.mutate(m)
			err := s.CreateMovement(ctx, m)
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestSQLiteStorage_PostInstallment(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "100")
	require.NoError(t, s.CreateMovement(ctx, testMovement("m1", "acc1", "30", 2)))

	post := service.InstallmentPosting{
		MovementID: "m1",
		OwnerID:    "acc1",
		Delta:      decimal.NewFromInt(-15),
		Expected:   service.MovementState{InstallmentsProcessed: 0},
	}
	require.NoError(t, s.PostInstallment(ctx, post))
	assert.Equal(t, "85.00", balanceOf(t, s, "acc1").StringFixed(2))

	// Replaying the same expectation conflicts and changes nothing.
	err := s.PostInstallment(ctx, post)
	require.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, "85.00", balanceOf(t, s, "acc1").StringFixed(2))

	post.Expected.InstallmentsProcessed = 1
	require.NoError(t, s.PostInstallment(ctx, post))

	// Fully processed movements never advance again.
	post.Expected.InstallmentsProcessed = 2
	err = s.PostInstallment(ctx, post)
	require.ErrorIs(t, err, common.ErrConflict)

	got, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.InstallmentsProcessed)
	assert.True(t, got.FullyProcessed())
	assert.Equal(t, "70.00", balanceOf(t, s, "acc1").StringFixed(2))

	post.MovementID = "missing"
	err = s.PostInstallment(ctx, post)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_PostInstallmentRollsBackOnMissingAccount(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "100")
	require.NoError(t, s.CreateMovement(ctx, testMovement("m1", "acc1", "30", 1)))

	err := s.PostInstallment(ctx, service.InstallmentPosting{
		MovementID: "m1",
		OwnerID:    "other",
		Delta:      decimal.NewFromInt(-30),
	})
	require.Error(t, err)

	got, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.InstallmentsProcessed)
	assert.Equal(t, "100.00", balanceOf(t, s, "acc1").StringFixed(2))
}

func TestSQLiteStorage_ConcurrentPostingsApplyOnce(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "100")
	require.NoError(t, s.CreateMovement(ctx, testMovement("m1", "acc1", "40", 1)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.PostInstallment(ctx, service.InstallmentPosting{
				MovementID: "m1",
				OwnerID:    "acc1",
				Delta:      decimal.NewFromInt(-40),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "60.00", balanceOf(t, s, "acc1").StringFixed(2))
}

func TestSQLiteStorage_MarkPending(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")
	m := testMovement("m1", "acc1", "10", 1)
	m.AutoPost = false
	require.NoError(t, s.CreateMovement(ctx, m))

	require.NoError(t, s.MarkPending(ctx, "m1", service.MovementState{}))

	err := s.MarkPending(ctx, "m1", service.MovementState{})
	require.ErrorIs(t, err, common.ErrConflict)

	err = s.MarkPending(ctx, "m1", service.MovementState{PendingConfirmation: true})
	require.ErrorIs(t, err, common.ErrInvalidState)

	pending := true
	list, err := s.ListMovements(ctx, service.MovementFilter{OwnerID: "acc1", Pending: &pending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].PendingConfirmation)

	// Confirming posts and clears the flag.
	require.NoError(t, s.PostInstallment(ctx, service.InstallmentPosting{
		MovementID: "m1",
		OwnerID:    "acc1",
		Delta:      decimal.NewFromInt(-10),
		Expected:   service.MovementState{PendingConfirmation: true},
	}))
	got, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, got.PendingConfirmation)
	assert.Equal(t, 1, got.InstallmentsProcessed)
}

func TestSQLiteStorage_ListMovementsFilters(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")
	createTestAccount(t, s, "acc2", "0")

	income := testMovement("inc", "acc1", "500", 1)
	income.Direction = model.DirectionIncome
	income.Kind = model.KindRecurring
	require.NoError(t, s.CreateMovement(ctx, income))

	later := testMovement("later", "acc1", "20", 1)
	later.StartDate = period.Date(2024, time.June, 1)
	require.NoError(t, s.CreateMovement(ctx, later))

	done := testMovement("done", "acc1", "20", 1)
	done.InstallmentsProcessed = 1
	require.NoError(t, s.CreateMovement(ctx, done))

	require.NoError(t, s.CreateMovement(ctx, testMovement("other", "acc2", "20", 1)))

	cutoff := period.Date(2024, time.March, 1)
	tests := []struct {
		name   string
		filter service.MovementFilter
		want   []string
	}{
		{name: "owner", filter: service.MovementFilter{OwnerID: "acc1"}, want: []string{"inc", "done", "later"}},
		{name: "direction", filter: service.MovementFilter{Direction: model.DirectionIncome}, want: []string{"inc"}},
		{name: "kind", filter: service.MovementFilter{OwnerID: "acc1", Kind: model.KindRecurring}, want: []string{"inc"}},
		{name: "unfinished", filter: service.MovementFilter{OwnerID: "acc1", Unfinished: true}, want: []string{"inc", "later"}},
		{name: "started before", filter: service.MovementFilter{OwnerID: "acc1", StartedBefore: &cutoff}, want: []string{"inc", "done"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMovements(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, m := range got {
				ids = append(ids, m.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestSQLiteStorage_UpdateMovement(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")
	require.NoError(t, s.CreateMovement(ctx, testMovement("m1", "acc1", "10", 2)))

	name := "Renamed"
	status := model.ExpensePaid
	autoPost := false
	require.NoError(t, s.UpdateMovement(ctx, "m1", service.MovementPatch{
		Name:     &name,
		Status:   &status,
		AutoPost: &autoPost,
	}))

	got, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, model.ExpensePaid, got.Status)
	assert.False(t, got.AutoPost)
	assert.Equal(t, 0, got.InstallmentsProcessed)

	empty := " "
	err = s.UpdateMovement(ctx, "m1", service.MovementPatch{Name: &empty})
	require.ErrorIs(t, err, common.ErrValidation)

	err = s.UpdateMovement(ctx, "missing", service.MovementPatch{Name: &name})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_DeleteMovement(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "100")
	m := testMovement("m1", "acc1", "30", 3)
	m.InstallmentsProcessed = 2
	require.NoError(t, s.CreateMovement(ctx, m))

	// A stale expectation is refused and nothing is reversed.
	err := s.DeleteMovement(ctx, "m1", service.MovementState{InstallmentsProcessed: 1}, decimal.NewFromInt(10))
	require.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, "100.00", balanceOf(t, s, "acc1").StringFixed(2))

	require.NoError(t, s.DeleteMovement(ctx, "m1", service.MovementState{InstallmentsProcessed: 2}, decimal.NewFromInt(20)))
	assert.Equal(t, "120.00", balanceOf(t, s, "acc1").StringFixed(2))

	_, err = s.GetMovement(ctx, "m1")
	require.ErrorIs(t, err, common.ErrNotFound)

	err = s.DeleteMovement(ctx, "m1", service.MovementState{}, decimal.Zero)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_Notifications(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	n := &model.Notification{OwnerID: "acc1", Title: "Pending", Body: "Confirm rent"}
	require.NoError(t, s.SaveNotification(ctx, n))
	assert.NotEmpty(t, n.ID)

	exists, err := s.NotificationExists(ctx, "acc1", "Pending", "Confirm rent")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.NotificationExists(ctx, "acc1", "Pending", "other")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.MarkNotificationRead(ctx, n.ID))
	list, err := s.ListNotifications(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)

	require.NoError(t, s.DeleteNotification(ctx, n.ID))
	require.ErrorIs(t, s.DeleteNotification(ctx, n.ID), common.ErrNotFound)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Migrate(context.Background()))
	_, err = s.NewCheckpointManager()
	require.ErrorIs(t, err, ErrInMemoryDatabase)
}
