package projection

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, db *testutil.TestDB, ms ...*model.Movement) {
	t.Helper()
	for _, m := range ms {
		if m.OwnerID == "" {
			m.OwnerID = "acc1"
		}
		if m.Frequency == "" {
			m.Frequency = period.Monthly
		}
		if m.Direction == "" {
			m.Direction = model.DirectionExpense
		}
		if m.Kind == "" {
			m.Kind = model.KindOneOff
		}
		require.NoError(t, db.Storage.CreateMovement(context.Background(), m))
	}
}

func TestMonthlyShare(t *testing.T) {
	m := &model.Movement{
		Amount:           decimal.NewFromInt(100),
		InstallmentCount: 2,
		Frequency:        period.Monthly,
		StartDate:        period.Date(2024, time.January, 15),
	}

	tests := []struct {
		month   time.Month
		wantIdx int
		wantOK  bool
	}{
		{time.December, -1, false},
		{time.January, 0, true},
		{time.February, 1, true},
		{time.March, 2, false},
	}
	for _, tt := range tests {
		year := 2024
		if tt.month == time.December {
			year = 2023
		}
		share, idx, ok := MonthlyShare(m, period.Date(year, tt.month, 1))
		assert.Equal(t, tt.wantIdx, idx, tt.month.String())
		assert.Equal(t, tt.wantOK, ok, tt.month.String())
		if ok {
			assert.Equal(t, "50.00", share.StringFixed(2))
		}
	}
}

func TestProjectMonth(t *testing.T) {
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Accounts: map[string]string{"acc1": "1000", "acc2": "0"},
	})
	ctx := context.Background()

	seed(t, db,
		&model.Movement{ID: "salary", Name: "Salary", Direction: model.DirectionIncome, Kind: model.KindRecurring,
			Amount: decimal.NewFromInt(24000), InstallmentCount: 12, StartDate: period.Date(2024, time.January, 1)},
		&model.Movement{ID: "elapsed", Name: "Phone", Amount: decimal.NewFromInt(600),
			InstallmentCount: 2, StartDate: period.Date(2024, time.January, 15)},
		&model.Movement{ID: "tv", Name: "TV", Amount: decimal.NewFromInt(900),
			InstallmentCount: 3, StartDate: period.Date(2024, time.February, 10)},
		&model.Movement{ID: "pending", Name: "Gym", Amount: decimal.NewFromInt(40), AutoPost: false,
			InstallmentCount: 12, StartDate: period.Date(2024, time.January, 5), PendingConfirmation: true},
		&model.Movement{ID: "future", Name: "Trip", Amount: decimal.NewFromInt(500),
			InstallmentCount: 1, StartDate: period.Date(2024, time.April, 1)},
		&model.Movement{ID: "other", OwnerID: "acc2", Name: "Other", Amount: decimal.NewFromInt(1),
			InstallmentCount: 1, StartDate: period.Date(2024, time.March, 1)},
	)

	p := New(db.Storage)
	got, err := p.ProjectMonth(ctx, "acc1", period.Date(2024, time.March, 20))
	require.NoError(t, err)

	assert.True(t, got.Start.Equal(period.Date(2024, time.March, 1)))
	assert.True(t, got.End.Equal(period.Date(2024, time.March, 31)))
	assert.Equal(t, "2000.00", got.Income.StringFixed(2))
	assert.Equal(t, "300.00", got.Expense.StringFixed(2), "only the TV share; phone is fully elapsed and gym is pending")
	assert.Equal(t, "2700.00", got.ProjectedAvailable.StringFixed(2))

	names := make([]string, 0, len(got.Items))
	for _, it := range got.Items {
		names = append(names, it.Name)
	}
	assert.ElementsMatch(t, []string{"Salary", "TV"}, names)
}

func TestProjectMonth_UnknownAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, err := New(db.Storage).ProjectMonth(context.Background(), "missing", time.Now())
	require.Error(t, err)
}

func TestCalendar(t *testing.T) {
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Accounts: map[string]string{"acc1": "0"},
	})
	ctx := context.Background()

	seed(t, db,
		&model.Movement{ID: "rent", Name: "Rent", Kind: model.KindRecurring, Amount: decimal.NewFromInt(800),
			InstallmentCount: 24, InstallmentsProcessed: 2, StartDate: period.Date(2024, time.January, 31)},
		&model.Movement{ID: "bike", Name: "Bike", Amount: decimal.NewFromInt(100), Frequency: period.Biweekly,
			InstallmentCount: 3, StartDate: period.Date(2024, time.March, 1)},
		&model.Movement{ID: "once", Name: "Concert", Amount: decimal.NewFromInt(60),
			InstallmentCount: 1, StartDate: period.Date(2024, time.March, 20)},
		&model.Movement{ID: "old", Name: "Old", Amount: decimal.NewFromInt(10),
			InstallmentCount: 1, StartDate: period.Date(2023, time.March, 20)},
	)

	entries, err := New(db.Storage).Calendar(ctx, "acc1", period.Date(2024, time.March, 1), 2)
	require.NoError(t, err)

	type row struct {
		date string
		name string
		idx  int
	}
	var got []row
	for _, e := range entries {
		got = append(got, row{e.Date.Format(time.DateOnly), e.Name, e.Index})
	}
	assert.Equal(t, []row{
		{"2024-03-01", "Bike", 0},
		{"2024-03-16", "Bike", 1},
		{"2024-03-20", "Concert", 0},
		{"2024-03-31", "Bike", 2},
		{"2024-03-31", "Rent", 2},
		{"2024-04-30", "Rent", 3},
	}, got)

	for _, e := range entries {
		assert.True(t, e.Amount.IsNegative(), "expenses are shown as debits")
		if e.Name == "Rent" {
			assert.False(t, e.Posted)
		}
	}
	assert.Equal(t, "-33.34", entries[3].Amount.StringFixed(2), "last bike installment absorbs the remainder")
}

func TestCalendar_RecurringRepeatsPastCount(t *testing.T) {
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Accounts: map[string]string{"acc1": "0"},
	})
	ctx := context.Background()

	seed(t, db,
		&model.Movement{ID: "rent", Name: "Rent", Kind: model.KindRecurring, Amount: decimal.NewFromInt(800),
			InstallmentCount: 1, InstallmentsProcessed: 1, StartDate: period.Date(2024, time.January, 5)},
		&model.Movement{ID: "pay", Name: "Pay", Kind: model.KindRecurring, Direction: model.DirectionIncome,
			Amount: decimal.NewFromInt(500), Frequency: period.Biweekly,
			InstallmentCount: 1, StartDate: period.Date(2024, time.February, 1)},
	)

	entries, err := New(db.Storage).Calendar(ctx, "acc1", period.Date(2024, time.January, 1), 3)
	require.NoError(t, err)

	var rent, pay []Entry
	for _, e := range entries {
		switch e.MovementID {
		case "rent":
			rent = append(rent, e)
		case "pay":
			pay = append(pay, e)
		}
	}

	require.Len(t, rent, 3, "one rent entry per month of the horizon")
	for i, e := range rent {
		assert.Equal(t, period.Date(2024, time.Month(i+1), 5), e.Date)
		assert.Equal(t, i, e.Index)
		assert.Equal(t, "-800", e.Amount.String())
		assert.Equal(t, i == 0, e.Posted, "only the processed occurrence is posted")
	}

	var payDates []string
	for _, e := range pay {
		payDates = append(payDates, e.Date.Format(time.DateOnly))
		assert.Equal(t, "500", e.Amount.String())
	}
	assert.Equal(t, []string{"2024-02-01", "2024-02-16", "2024-03-02", "2024-03-17"}, payDates)
}

func TestCategoryTotals(t *testing.T) {
	db := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{
		Accounts: map[string]string{"acc1": "0"},
	})
	ctx := context.Background()
	food, err := db.Storage.GetCategoryByName(ctx, "acc1", "Food")
	require.NoError(t, err)

	seed(t, db, &model.Movement{ID: "m", Name: "Groceries", Amount: decimal.NewFromInt(25),
		InstallmentCount: 1, StartDate: period.Date(2024, time.March, 1), CategoryID: food.ID})

	totals, err := New(db.Storage).CategoryTotals(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "Food", totals[0].Category.Name)
}
