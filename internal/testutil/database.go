// Package testutil provides shared fixtures for finz tests: an isolated,
// migrated database and a controllable clock.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB is a migrated in-memory database bound to a test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	Clock   *Clock
	t       *testing.T
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup func(context.Context, *storage.SQLiteStorage) error
	// Now is the initial clock time. Defaults to 2024-01-01 09:00 UTC.
	Now time.Time
	// Accounts maps account IDs to opening balances.
	Accounts map[string]string
}

// SetupTestDB creates a new in-memory test database with migrations applied.
// It is closed automatically when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	now := opts.Now
	if now.IsZero() {
		now = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	clock := NewClock(now)

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	store.WithClock(clock.Now)

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	db := &TestDB{Storage: store, Clock: clock, t: t}
	for id, balance := range opts.Accounts {
		db.CreateAccount(id, balance)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// CreateAccount adds an account with the given opening balance or fails the
// test.
func (db *TestDB) CreateAccount(id, balance string) *model.Account {
	db.t.Helper()
	acc := &model.Account{
		ID:      id,
		Name:    "Account " + id,
		Balance: decimal.RequireFromString(balance),
	}
	if err := db.Storage.CreateAccount(context.Background(), acc); err != nil {
		db.t.Fatalf("failed to create account %q: %v", id, err)
	}
	return acc
}

// Balance returns an account's current balance or fails the test.
func (db *TestDB) Balance(id string) decimal.Decimal {
	db.t.Helper()
	acc, err := db.Storage.GetAccount(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get account %q: %v", id, err)
	}
	return acc.Balance
}

// MustMovement reloads a movement or fails the test.
func (db *TestDB) MustMovement(id string) *model.Movement {
	db.t.Helper()
	m, err := db.Storage.GetMovement(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get movement %q: %v", id, err)
	}
	return m
}

// MustGoal reloads a goal or fails the test.
func (db *TestDB) MustGoal(id string) *model.Goal {
	db.t.Helper()
	g, err := db.Storage.GetGoal(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get goal %q: %v", id, err)
	}
	return g
}
