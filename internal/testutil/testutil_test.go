package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTestDBWithOptions(t *testing.T) {
	called := false
	db := SetupTestDBWithOptions(t, TestDBOptions{
		Accounts: map[string]string{"acc1": "12.34"},
		CustomSetup: func(_ context.Context, _ *storage.SQLiteStorage) error {
			called = true
			return nil
		},
	})

	assert.True(t, called)
	assert.Equal(t, "12.34", db.Balance("acc1").StringFixed(2))

	acc, err := db.Storage.GetAccount(context.Background(), "acc1")
	require.NoError(t, err)
	assert.True(t, acc.CreatedAt.Equal(db.Clock.Now()), "storage stamps with the test clock")
}

func TestClock(t *testing.T) {
	c := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c.Advance(36 * time.Hour)
	assert.Equal(t, 2, c.Now().Day())

	c.SetDate(2024, time.March, 15)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), c.Now())
}
