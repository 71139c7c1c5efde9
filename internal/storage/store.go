// Package storage defines the persistence contract of the ledger engine.
//
// The engine keeps all derived state in memory and uses the store as its
// durable log: every accepted write is committed as one Batch before it
// becomes visible, and the in-memory views are rebuilt from the store on
// startup.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// ErrDuplicateRequest is returned by Commit when a ledger event with the same
// request ID already exists.
var ErrDuplicateRequest = errors.New("duplicate request id")

// EventKind identifies the payload of a LedgerEvent.
type EventKind string

const (
	EventExpense    EventKind = "expense"
	EventCorrection EventKind = "correction"
	EventPayment    EventKind = "payment"
)

// LedgerEvent is one entry of the append-only ledger log.
type LedgerEvent struct {
	// Seq is assigned by the store and orders replay.
	Seq  int64
	Kind EventKind
	// RequestID is the caller's request id scoped to the operation and the
	// acting user; unique when set.
	RequestID string

	// Expense is the recorded expense, or the revision a correction produced.
	Expense    *models.Expense    `json:",omitempty"`
	Correction *models.Correction `json:",omitempty"`
	Payment    *models.Payment    `json:",omitempty"`

	RecordedAt time.Time
}

// ExpenseID returns the expense the event refers to, if any.
func (e LedgerEvent) ExpenseID() string {
	switch {
	case e.Expense != nil:
		return e.Expense.ID
	case e.Correction != nil:
		return e.Correction.ExpenseID
	}
	return ""
}

// CreatedBy returns the user who issued the command behind the event.
func (e LedgerEvent) CreatedBy() string {
	switch {
	case e.Correction != nil:
		return e.Correction.CreatedBy
	case e.Payment != nil:
		return e.Payment.CreatedBy
	case e.Expense != nil:
		return e.Expense.CreatedBy
	}
	return ""
}

// Batch is everything one write changes. Commit applies it atomically.
type Batch struct {
	Events      []LedgerEvent
	Group       *models.Group
	Memberships []models.Membership
	Activities  []models.Activity
	Watermark   *models.Watermark
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	// GetUserByEmail returns nil, nil when no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUserByID returns nil, nil when the user does not exist.
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// Store is the durable log behind the engine.
type Store interface {
	UserStore

	// Commit writes b in a single transaction.
	Commit(ctx context.Context, b Batch) error

	// EventByRequestID returns nil, nil when no event carries requestID.
	EventByRequestID(ctx context.Context, requestID string) (*LedgerEvent, error)

	// Replay readers, used on startup.
	Events(ctx context.Context) ([]LedgerEvent, error)
	Groups(ctx context.Context) ([]*models.Group, error)
	Memberships(ctx context.Context) ([]models.Membership, error)
	Activities(ctx context.Context) ([]models.Activity, error)
	Watermarks(ctx context.Context) ([]models.Watermark, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
