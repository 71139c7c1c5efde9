package models

import "time"

// Balance is a user's outstanding position in one currency.
// It is derived from unpaid shares and never persisted.
type Balance struct {
	// Lent is the sum of other users' unpaid shares on expenses this user paid.
	Lent int64
	// Owed is the sum of this user's unpaid shares on expenses others paid.
	Owed int64
	// Net is Lent - Owed. Positive means the user is owed money.
	Net      int64
	Currency string
}

// PairBalance is the signed outstanding amount between two users.
// Positive means UserID is owed by OtherID.
type PairBalance struct {
	UserID   string
	OtherID  string
	Amount   int64
	Currency string
}

// DateRange is a half-open [From, To) interval. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies in the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// WeekAmount is the activity total for one ISO week.
type WeekAmount struct {
	// WeekStart is Monday 00:00 in the user's timezone.
	WeekStart time.Time
	Amount    int64
}

// Statistics are per-user rollups over a date range in one currency.
type Statistics struct {
	Currency string
	// TotalExpenses sums expenses the user paid.
	TotalExpenses int64
	// TotalIncome sums settlement payments the user received.
	TotalIncome int64
	// ByCategory always has an entry for every Category.
	ByCategory map[Category]int64
	// ByWeek lists weeks with activity in ascending order.
	ByWeek []WeekAmount
}
