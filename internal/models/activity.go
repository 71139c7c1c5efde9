package models

import (
	"strings"
	"time"
)

// ActivityType names the variant carried by an Activity.
type ActivityType string

const (
	ActivityExpense ActivityType = "expense"
	ActivityPayment ActivityType = "payment"
	ActivityGroup   ActivityType = "group"
	ActivityMessage ActivityType = "message"
)

// ActivityDetail is the type-specific payload of an Activity.
// The set of implementations is closed to this package.
type ActivityDetail interface {
	Type() ActivityType
	sealed()
}

// ExpenseActivity is emitted when an expense is recorded or corrected.
type ExpenseActivity struct {
	ExpenseID string
	Amount    int64
	Currency  string
}

// PaymentActivity is emitted when a payment settles shares.
type PaymentActivity struct {
	PaymentID string
	Amount    int64
	Currency  string
}

// GroupAction names what happened to a group.
type GroupAction string

const (
	GroupCreated       GroupAction = "created"
	GroupMemberAdded   GroupAction = "member_added"
	GroupMemberRemoved GroupAction = "member_removed"
)

// GroupActivity is emitted on group creation and membership changes.
type GroupActivity struct {
	Action GroupAction
	// Subject is the member added or removed, empty for creation.
	Subject string
}

// MessageActivity is emitted when a message is posted. It carries no amount.
type MessageActivity struct{}

func (ExpenseActivity) Type() ActivityType { return ActivityExpense }
func (PaymentActivity) Type() ActivityType { return ActivityPayment }
func (GroupActivity) Type() ActivityType   { return ActivityGroup }
func (MessageActivity) Type() ActivityType { return ActivityMessage }

func (ExpenseActivity) sealed() {}
func (PaymentActivity) sealed() {}
func (GroupActivity) sealed()   {}
func (MessageActivity) sealed() {}

// Activity is one immutable entry in a user's feed.
// A single event touching N users produces N activities, one per feed.
type Activity struct {
	// ID is a time-ordered UUID (v7). Ties on Date are broken by ID.
	ID string

	// UserID owns the feed this entry belongs to.
	UserID string

	// Date is when the entry was recorded. Feeds are ordered by (Date, ID).
	Date time.Time

	Description string

	// InvolvedUsers lists every user touched by the event.
	InvolvedUsers []string

	// GroupID is set for events scoped to a group.
	GroupID string

	Detail ActivityDetail
}

// Type returns the activity variant.
func (a Activity) Type() ActivityType {
	if a.Detail == nil {
		return ""
	}
	return a.Detail.Type()
}

// Key returns the feed ordering key of the activity.
func (a Activity) Key() FeedKey {
	return FeedKey{Date: a.Date, ID: a.ID}
}

// FeedKey is a position in a feed.
type FeedKey struct {
	Date time.Time
	ID   string
}

// IsZero reports whether k is the position before any entry.
func (k FeedKey) IsZero() bool {
	return k.Date.IsZero() && k.ID == ""
}

// Compare orders keys by date, then ID.
func (k FeedKey) Compare(other FeedKey) int {
	if c := k.Date.Compare(other.Date); c != 0 {
		return c
	}
	return strings.Compare(k.ID, other.ID)
}

// After reports whether k sorts strictly after other.
func (k FeedKey) After(other FeedKey) bool {
	return k.Compare(other) > 0
}

// Watermark is the last feed position a user has acknowledged.
type Watermark struct {
	UserID string
	FeedKey
	// RequestID is the idempotency key of the MarkRead that set it.
	RequestID string
	UpdatedAt time.Time
}
