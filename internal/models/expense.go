package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies an expense. The set is closed; see Categories.
type Category string

const (
	CategoryDaily          Category = "Daily"
	CategoryGroceries      Category = "Groceries"
	CategoryEntertainment  Category = "Entertainment"
	CategoryFood           Category = "Food"
	CategoryMedical        Category = "Medical"
	CategoryEducation      Category = "Education"
	CategoryTransportation Category = "Transportation"
	CategoryHousing        Category = "Housing"
	CategoryUtilities      Category = "Utilities"
	CategoryTravel         Category = "Travel"
	CategoryOther          Category = "Other"
)

var categories = []Category{
	CategoryDaily,
	CategoryGroceries,
	CategoryEntertainment,
	CategoryFood,
	CategoryMedical,
	CategoryEducation,
	CategoryTransportation,
	CategoryHousing,
	CategoryUtilities,
	CategoryTravel,
	CategoryOther,
}

// Categories returns every category in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory matches s case-insensitively against the known categories.
// An empty string maps to CategoryOther.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryOther, nil
	}
	for _, known := range categories {
		if strings.EqualFold(s, string(known)) {
			return known, nil
		}
	}
	return "", Validationf("unknown category %q", s)
}

// Expense is one payment made by a user on behalf of one or more share holders.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	// Description is the human-readable label (e.g., "Dinner at Luigi's").
	Description string

	// Amount is the total in minor currency units. Always positive.
	Amount int64

	// Currency is the ISO 4217 code. One currency per expense.
	Currency string

	// Date is when the expense happened (user supplied, may be in the past).
	Date time.Time

	// PaidBy is the user ID of the payer.
	PaidBy string

	// GroupID is optional; when set every share holder must have been a
	// member of the group on Date.
	GroupID string

	// SplitEqually requests an even split of Amount over the share holders.
	// The indivisible remainder goes to the payer's own share.
	SplitEqually bool

	// Shares are the per-user portions. Their amounts sum to Amount.
	Shares []ExpenseShare

	// Category is the closed-enum classification.
	Category Category

	// Void is set by a correction that deletes the expense.
	Void bool

	// Revision counts corrections applied; 0 for the original entry.
	Revision int

	// CreatedBy is the user who recorded the expense.
	CreatedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpenseShare is one user's portion of an expense.
type ExpenseShare struct {
	// ID is the unique identifier for the share (UUID format).
	ID string

	// UserID is the share holder.
	UserID string

	// Amount is the share in minor units. Never negative.
	Amount int64

	// Paid is set once the share is settled. It only goes back to false
	// through a Correction.
	Paid bool
}

// Correction supersedes the shares of a previously recorded expense.
type Correction struct {
	ID        string
	ExpenseID string

	// Shares replace the expense's current shares. Ignored when Void is set.
	Shares []ExpenseShare

	// SplitEqually recomputes share amounts like on creation.
	SplitEqually bool

	// Void removes the expense from balances and statistics.
	Void bool

	Reason    string
	CreatedBy string
	CreatedAt time.Time
}

// Clone returns a deep copy so callers cannot alias ledger state.
func (e Expense) Clone() Expense {
	shares := make([]ExpenseShare, len(e.Shares))
	copy(shares, e.Shares)
	e.Shares = shares
	return e
}

// ShareOf returns the share held by userID, if any.
func (e *Expense) ShareOf(userID string) (ExpenseShare, bool) {
	for _, s := range e.Shares {
		if s.UserID == userID {
			return s, true
		}
	}
	return ExpenseShare{}, false
}

// Involves reports whether userID paid or holds a share.
func (e *Expense) Involves(userID string) bool {
	if e.PaidBy == userID {
		return true
	}
	_, ok := e.ShareOf(userID)
	return ok
}

// Users returns the payer followed by every share holder, without duplicates.
func (e *Expense) Users() []string {
	seen := map[string]bool{e.PaidBy: true}
	users := []string{e.PaidBy}
	for _, s := range e.Shares {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			users = append(users, s.UserID)
		}
	}
	return users
}

// ShareTotal sums all share amounts.
func (e *Expense) ShareTotal() int64 {
	var total int64
	for _, s := range e.Shares {
		total += s.Amount
	}
	return total
}

func (e Expense) String() string {
	return fmt.Sprintf("expense %s (%d %s paid by %s, rev %d)", e.ID, e.Amount, e.Currency, e.PaidBy, e.Revision)
}
