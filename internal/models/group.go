package models

import "time"

// Group represents a set of users who share expenses.
// Membership changes are recorded as history so that expenses can be validated
// against the membership in effect on their date.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Roommates", "Work Lunch").
	Name string

	// Description is optional free text.
	Description string

	// Members is the current member set (user IDs). Order is irrelevant.
	Members []string

	// CreatedAt is when the group was created.
	CreatedAt time.Time

	// UpdatedAt is when the group or its membership last changed.
	UpdatedAt time.Time
}

// Membership is one interval during which a user belonged to a group.
type Membership struct {
	GroupID  string
	UserID   string
	JoinedAt time.Time
	// LeftAt is zero while the membership is active.
	LeftAt time.Time
}

// Active reports whether the membership is still open.
func (m Membership) Active() bool {
	return m.LeftAt.IsZero()
}

// Covers reports whether t falls inside the membership interval.
// Expenses dated before the user joined are accepted when the user joined
// later the same day, since expense dates are often day-granular.
func (m Membership) Covers(t time.Time) bool {
	joined := m.JoinedAt.UTC().Truncate(24 * time.Hour)
	if t.Before(joined) {
		return false
	}
	return m.LeftAt.IsZero() || !t.After(m.LeftAt)
}

// HasMember reports whether userID is a current member.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
