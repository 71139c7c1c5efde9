package stats

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

type openGroups struct{}

func (openGroups) WasMember(string, string, time.Time) (bool, error) { return true, nil }

// Monday 2024-03-04.
var monday = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func record(t *testing.T, l *ledger.Ledger, e models.Expense) models.Expense {
	t.Helper()
	rec, err := l.RecordExpense(e)
	require.NoError(t, err)
	return rec
}

func TestCompute(t *testing.T) {
	l := ledger.New(openGroups{})
	record(t, l, models.Expense{
		Amount: 300, Currency: "USD", PaidBy: "a", Date: monday, Category: models.CategoryFood,
		Shares: []models.ExpenseShare{{UserID: "a", Amount: 100}, {UserID: "b", Amount: 200}},
	})
	record(t, l, models.Expense{
		Amount: 90, Currency: "USD", PaidBy: "b", Date: monday.AddDate(0, 0, 8), Category: models.CategoryTravel,
		Shares: []models.ExpenseShare{{UserID: "a", Amount: 45}, {UserID: "b", Amount: 45}},
	})
	record(t, l, models.Expense{
		Amount: 1000, Currency: "EUR", PaidBy: "a", Date: monday, Category: models.CategoryFood,
		Shares: []models.ExpenseShare{{UserID: "b", Amount: 1000}},
	})
	voided := record(t, l, models.Expense{
		Amount: 70, Currency: "USD", PaidBy: "a", Date: monday, Category: models.CategoryHousing,
		Shares: []models.ExpenseShare{{UserID: "b", Amount: 70}},
	})
	_, _, err := l.RecordCorrection(models.Correction{ExpenseID: voided.ID, Void: true})
	require.NoError(t, err)
	_, _, err = l.RecordPayment(models.Payment{From: "b", To: "a", Amount: 200, Currency: "USD", Date: monday.AddDate(0, 0, 1)})
	require.NoError(t, err)

	agg := New(l)

	t.Run("payer", func(t *testing.T) {
		st := agg.Compute("a", "USD", models.DateRange{}, nil)
		assert.Equal(t, int64(300), st.TotalExpenses)
		assert.Equal(t, int64(200), st.TotalIncome)
		assert.Equal(t, int64(300), st.ByCategory[models.CategoryFood])
		assert.Equal(t, int64(45), st.ByCategory[models.CategoryTravel])
		assert.Zero(t, st.ByCategory[models.CategoryHousing])
		assert.Len(t, st.ByCategory, len(models.Categories()))
		assert.Equal(t, []models.WeekAmount{
			{WeekStart: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Amount: 300},
			{WeekStart: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), Amount: 45},
		}, st.ByWeek)
	})

	t.Run("share holder", func(t *testing.T) {
		st := agg.Compute("b", "USD", models.DateRange{}, nil)
		assert.Equal(t, int64(90), st.TotalExpenses)
		assert.Zero(t, st.TotalIncome)
		assert.Equal(t, int64(200), st.ByCategory[models.CategoryFood])
		assert.Equal(t, int64(90), st.ByCategory[models.CategoryTravel])
	})

	t.Run("range", func(t *testing.T) {
		st := agg.Compute("a", "USD", models.DateRange{From: monday.AddDate(0, 0, 7)}, nil)
		assert.Zero(t, st.TotalExpenses)
		assert.Zero(t, st.TotalIncome)
		require.Len(t, st.ByWeek, 1)
		assert.Equal(t, int64(45), st.ByWeek[0].Amount)
	})

	t.Run("other currency", func(t *testing.T) {
		st := agg.Compute("a", "EUR", models.DateRange{}, nil)
		assert.Equal(t, int64(1000), st.TotalExpenses)
		assert.Equal(t, int64(1000), st.ByCategory[models.CategoryFood])
	})

	t.Run("no activity", func(t *testing.T) {
		st := agg.Compute("nobody", "USD", models.DateRange{}, nil)
		assert.Empty(t, st.ByWeek)
		assert.Len(t, st.ByCategory, len(models.Categories()))
	})
}

func TestWeekStart(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		name string
		t    time.Time
		loc  *time.Location
		want time.Time
	}{
		{"monday", monday, time.UTC, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"sunday belongs to previous week", time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC), time.UTC, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"timezone moves the day", time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC), tokyo, time.Date(2024, 3, 11, 0, 0, 0, 0, tokyo)},
		{"crosses year", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), time.UTC, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeekStart(tt.t, tt.loc)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}
