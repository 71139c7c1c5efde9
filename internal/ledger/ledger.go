// Package ledger is the append-only store of expenses, corrections and payments.
//
// Writes are split in two steps so callers can persist between them:
// Prepare* validates and returns the fully resolved record without touching
// ledger state, Commit* appends a prepared record. Record* does both.
package ledger

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

// MembershipChecker answers group membership questions for validation.
type MembershipChecker interface {
	// WasMember reports whether userID belonged to groupID at time at.
	// It returns an error wrapping models.ErrNotFound for unknown groups.
	WasMember(groupID, userID string, at time.Time) (bool, error)
}

// SettledShare is a share marked paid by a payment.
type SettledShare struct {
	ExpenseID string
	GroupID   string
	PaidBy    string
	Currency  string
	Share     models.ExpenseShare
}

type record struct {
	current     models.Expense
	history     []models.Expense
	corrections []models.Correction
}

// Ledger holds every expense revision and payment in memory.
// It is safe for concurrent use.
type Ledger struct {
	members MembershipChecker
	now     func() time.Time

	mu             sync.RWMutex
	expenses       map[string]*record
	all            []*record
	byUser         map[string][]*record
	byGroup        map[string][]*record
	shares         map[string]string
	payments       map[string]models.Payment
	paymentsByUser map[string][]models.Payment
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now for default dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger validating group expenses against members.
func New(members MembershipChecker, opts ...Option) *Ledger {
	l := &Ledger{
		members:        members,
		now:            time.Now,
		expenses:       make(map[string]*record),
		byUser:         make(map[string][]*record),
		byGroup:        make(map[string][]*record),
		shares:         make(map[string]string),
		payments:       make(map[string]models.Payment),
		paymentsByUser: make(map[string][]models.Payment),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func compareRecords(a, b *record) int {
	if c := a.current.Date.Compare(b.current.Date); c != 0 {
		return c
	}
	if a.current.ID < b.current.ID {
		return -1
	}
	if a.current.ID > b.current.ID {
		return 1
	}
	return 0
}

func insertSorted(list []*record, r *record) []*record {
	i, _ := slices.BinarySearchFunc(list, r, compareRecords)
	return slices.Insert(list, i, r)
}

func containsRecord(list []*record, r *record) bool {
	i, found := slices.BinarySearchFunc(list, r, compareRecords)
	return found && list[i] == r
}

// RecordExpense validates e and appends it. On error nothing is stored.
func (l *Ledger) RecordExpense(e models.Expense) (models.Expense, error) {
	prepared, err := l.PrepareExpense(e)
	if err != nil {
		return models.Expense{}, err
	}
	if err := l.CommitExpense(prepared); err != nil {
		return models.Expense{}, err
	}
	return prepared, nil
}

// CommitExpense appends a prepared expense.
func (l *Ledger) CommitExpense(e models.Expense) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.expenses[e.ID]; exists {
		return models.Validationf("expense %s already recorded", e.ID)
	}
	for _, s := range e.Shares {
		if _, exists := l.shares[s.ID]; exists {
			return models.Validationf("share %s already recorded", s.ID)
		}
	}

	r := &record{current: e.Clone()}
	l.expenses[e.ID] = r
	l.all = insertSorted(l.all, r)
	for _, u := range e.Users() {
		l.byUser[u] = insertSorted(l.byUser[u], r)
	}
	if e.GroupID != "" {
		l.byGroup[e.GroupID] = insertSorted(l.byGroup[e.GroupID], r)
	}
	for _, s := range e.Shares {
		l.shares[s.ID] = e.ID
	}
	return nil
}

// RecordCorrection validates c against the current revision and appends it.
// It returns the superseded and the new revision.
func (l *Ledger) RecordCorrection(c models.Correction) (prev, next models.Expense, err error) {
	prev, next, err = l.PrepareCorrection(c)
	if err != nil {
		return models.Expense{}, models.Expense{}, err
	}
	if err := l.CommitCorrection(c, next); err != nil {
		return models.Expense{}, models.Expense{}, err
	}
	return prev, next, nil
}

// CommitCorrection appends a prepared correction and its resulting revision.
func (l *Ledger) CommitCorrection(c models.Correction, next models.Expense) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.expenses[c.ExpenseID]
	if !ok {
		return models.NotFoundf("expense", c.ExpenseID)
	}
	if next.Revision != r.current.Revision+1 {
		return models.Validationf("expense %s revision %d superseded by %d", c.ExpenseID, next.Revision-1, r.current.Revision)
	}

	r.history = append(r.history, r.current)
	r.corrections = append(r.corrections, c)
	r.current = next.Clone()
	for _, s := range next.Shares {
		l.shares[s.ID] = next.ID
	}
	for _, u := range next.Users() {
		if !containsRecord(l.byUser[u], r) {
			l.byUser[u] = insertSorted(l.byUser[u], r)
		}
	}
	return nil
}

// RecordPayment validates p, resolves the shares it settles and marks them paid.
func (l *Ledger) RecordPayment(p models.Payment) (models.Payment, []SettledShare, error) {
	prepared, settled, err := l.PreparePayment(p)
	if err != nil {
		return models.Payment{}, nil, err
	}
	if _, err := l.CommitPayment(prepared); err != nil {
		return models.Payment{}, nil, err
	}
	return prepared, settled, nil
}

// CommitPayment appends a prepared payment and marks its shares paid.
// It returns the shares that changed state.
func (l *Ledger) CommitPayment(p models.Payment) ([]SettledShare, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.payments[p.ID]; exists {
		return nil, models.Validationf("payment %s already recorded", p.ID)
	}

	var settled []SettledShare
	for _, shareID := range p.ShareIDs {
		r, ok := l.expenses[l.shares[shareID]]
		if !ok {
			return nil, models.NotFoundf("share", shareID)
		}
		for i := range r.current.Shares {
			s := &r.current.Shares[i]
			if s.ID != shareID || s.Paid {
				continue
			}
			s.Paid = true
			settled = append(settled, SettledShare{
				ExpenseID: r.current.ID,
				GroupID:   r.current.GroupID,
				PaidBy:    r.current.PaidBy,
				Currency:  r.current.Currency,
				Share:     *s,
			})
		}
	}

	l.payments[p.ID] = p
	l.paymentsByUser[p.From] = append(l.paymentsByUser[p.From], p)
	l.paymentsByUser[p.To] = append(l.paymentsByUser[p.To], p)
	return settled, nil
}

// Expense returns the current revision of an expense.
func (l *Ledger) Expense(id string) (models.Expense, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.expenses[id]
	if !ok {
		return models.Expense{}, models.NotFoundf("expense", id)
	}
	return r.current.Clone(), nil
}

// History returns every revision of an expense, oldest first, and the
// corrections that produced them.
func (l *Ledger) History(id string) ([]models.Expense, []models.Correction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.expenses[id]
	if !ok {
		return nil, nil, models.NotFoundf("expense", id)
	}
	revisions := make([]models.Expense, 0, len(r.history)+1)
	for _, e := range r.history {
		revisions = append(revisions, e.Clone())
	}
	revisions = append(revisions, r.current.Clone())
	return revisions, slices.Clone(r.corrections), nil
}

// Payment returns a recorded payment.
func (l *Ledger) Payment(id string) (models.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.payments[id]
	if !ok {
		return models.Payment{}, models.NotFoundf("payment", id)
	}
	return p, nil
}

// ExpensesInvolving yields the current revision of every expense userID pays
// or holds a share in, ordered by (date, id) ascending. Void expenses are
// included; consumers decide how to treat them. The sequence is lazy and can
// be ranged over repeatedly.
func (l *Ledger) ExpensesInvolving(userID string) iter.Seq[models.Expense] {
	return l.sequence(func() []*record { return l.byUser[userID] }, func(e *models.Expense) bool {
		return e.Involves(userID)
	})
}

// ExpensesInGroup yields expenses tagged with groupID in (date, id) order.
func (l *Ledger) ExpensesInGroup(groupID string) iter.Seq[models.Expense] {
	return l.sequence(func() []*record { return l.byGroup[groupID] }, nil)
}

// All yields every expense in (date, id) order.
func (l *Ledger) All() iter.Seq[models.Expense] {
	return l.sequence(func() []*record { return l.all }, nil)
}

func (l *Ledger) sequence(index func() []*record, keep func(*models.Expense) bool) iter.Seq[models.Expense] {
	return func(yield func(models.Expense) bool) {
		l.mu.RLock()
		recs := slices.Clone(index())
		l.mu.RUnlock()

		for _, r := range recs {
			l.mu.RLock()
			e := r.current.Clone()
			l.mu.RUnlock()
			if keep != nil && !keep(&e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// PaymentsInvolving yields payments made or received by userID in record order.
func (l *Ledger) PaymentsInvolving(userID string) iter.Seq[models.Payment] {
	return func(yield func(models.Payment) bool) {
		l.mu.RLock()
		payments := slices.Clone(l.paymentsByUser[userID])
		l.mu.RUnlock()
		for _, p := range payments {
			if !yield(p) {
				return
			}
		}
	}
}
