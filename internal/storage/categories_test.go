package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_Categories(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")

	cat := &model.Category{OwnerID: "acc1", Name: "Pets", Icon: "🐕"}
	require.NoError(t, s.CreateCategory(ctx, cat))
	assert.NotZero(t, cat.ID)

	err := s.CreateCategory(ctx, &model.Category{OwnerID: "acc1", Name: "pets"})
	require.ErrorIs(t, err, common.ErrDuplicateEntry)

	err = s.CreateCategory(ctx, &model.Category{OwnerID: "acc1", Name: "Food"})
	require.ErrorIs(t, err, common.ErrDuplicateEntry, "defaults are visible to every owner")

	mine, err := s.GetCategories(ctx, "acc1")
	require.NoError(t, err)
	assert.Len(t, mine, len(DefaultCategories)+1)

	theirs, err := s.GetCategories(ctx, "acc2")
	require.NoError(t, err)
	assert.Len(t, theirs, len(DefaultCategories))

	got, err := s.GetCategoryByName(ctx, "acc1", "PETS")
	require.NoError(t, err)
	assert.Equal(t, cat.ID, got.ID)

	_, err = s.GetCategoryByName(ctx, "acc2", "Pets")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_GetCategoryTotals(t *testing.T) {
	s, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	createTestAccount(t, s, "acc1", "0")

	food, err := s.GetCategoryByName(ctx, "acc1", "Food")
	require.NoError(t, err)
	transport, err := s.GetCategoryByName(ctx, "acc1", "Transport")
	require.NoError(t, err)

	for i, spec := range []struct {
		amount   string
		category int64
	}{
		{"12.50", food.ID},
		{"7.50", food.ID},
		{"40", transport.ID},
		{"99", 0},
	} {
		m := testMovement(string(rune('a'+i)), "acc1", spec.amount, 1)
		m.CategoryID = spec.category
		require.NoError(t, s.CreateMovement(ctx, m))
	}

	income := testMovement("salary", "acc1", "1000", 1)
	income.Direction = model.DirectionIncome
	income.CategoryID = food.ID
	require.NoError(t, s.CreateMovement(ctx, income))

	totals, err := s.GetCategoryTotals(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "Transport", totals[0].Category.Name)
	assert.Equal(t, "40.00", totals[0].Total.StringFixed(2))
	assert.Equal(t, "Food", totals[1].Category.Name)
	assert.Equal(t, "20.00", totals[1].Total.StringFixed(2))
	assert.Equal(t, 2, totals[1].Count)
}
