// Package balance maintains per-user balances derived from unpaid expense shares.
//
// Every unpaid share of a non-void expense is a debt from the share holder to
// the payer. The aggregator keeps, per user and currency, the total lent and
// owed, a signed entry per counterparty and per-group totals. State is sharded
// by user; each shard has its own lock.
package balance

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/models"
)

type pairKey struct {
	other    string
	currency string
}

type groupKey struct {
	group    string
	currency string
}

type totals struct {
	lent int64
	owed int64
}

type account struct {
	mu     sync.RWMutex
	totals map[string]totals
	// pairs is positive when the counterparty owes this user.
	pairs  map[pairKey]int64
	groups map[groupKey]totals
}

func newAccount() *account {
	return &account{
		totals: make(map[string]totals),
		pairs:  make(map[pairKey]int64),
		groups: make(map[groupKey]totals),
	}
}

// Aggregator holds balance state for every user. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{accounts: make(map[string]*account)}
}

// debt is one unpaid share seen from both sides.
type debt struct {
	creditor string
	debtor   string
	group    string
	currency string
	amount   int64
}

func debtsOf(e *models.Expense) []debt {
	if e == nil || e.Void {
		return nil
	}
	var out []debt
	for _, s := range e.Shares {
		if s.Paid || s.Amount == 0 || s.UserID == e.PaidBy {
			continue
		}
		out = append(out, debt{
			creditor: e.PaidBy,
			debtor:   s.UserID,
			group:    e.GroupID,
			currency: e.Currency,
			amount:   s.Amount,
		})
	}
	return out
}

// Apply replaces the contribution of prev with that of next. Either may be
// nil: (nil, e) adds a new expense, (e, nil) removes one.
func (a *Aggregator) Apply(prev, next *models.Expense) {
	var deltas []debt
	for _, d := range debtsOf(prev) {
		d.amount = -d.amount
		deltas = append(deltas, d)
	}
	deltas = append(deltas, debtsOf(next)...)
	a.apply(deltas)
}

// Settle removes the debts of shares that were just marked paid.
func (a *Aggregator) Settle(shares []ledger.SettledShare) {
	deltas := make([]debt, 0, len(shares))
	for _, s := range shares {
		if s.Share.UserID == s.PaidBy || s.Share.Amount == 0 {
			continue
		}
		deltas = append(deltas, debt{
			creditor: s.PaidBy,
			debtor:   s.Share.UserID,
			group:    s.GroupID,
			currency: s.Currency,
			amount:   -s.Share.Amount,
		})
	}
	a.apply(deltas)
}

func (a *Aggregator) apply(deltas []debt) {
	if len(deltas) == 0 {
		return
	}

	users := make(map[string]bool)
	for _, d := range deltas {
		users[d.creditor] = true
		users[d.debtor] = true
	}
	ids := slices.Sorted(maps.Keys(users))
	accounts := make([]*account, len(ids))
	byID := make(map[string]*account, len(ids))
	for i, id := range ids {
		accounts[i] = a.account(id)
		byID[id] = accounts[i]
	}

	// Sorted order keeps concurrent multi-account updates deadlock free.
	for _, acc := range accounts {
		acc.mu.Lock()
	}
	defer func() {
		for _, acc := range accounts {
			acc.mu.Unlock()
		}
	}()

	for _, d := range deltas {
		creditor, debtor := byID[d.creditor], byID[d.debtor]

		t := creditor.totals[d.currency]
		t.lent += d.amount
		setTotals(creditor.totals, d.currency, t)
		addPair(creditor.pairs, pairKey{d.debtor, d.currency}, d.amount)

		t = debtor.totals[d.currency]
		t.owed += d.amount
		setTotals(debtor.totals, d.currency, t)
		addPair(debtor.pairs, pairKey{d.creditor, d.currency}, -d.amount)

		if d.group != "" {
			k := groupKey{d.group, d.currency}
			g := creditor.groups[k]
			g.lent += d.amount
			setTotals(creditor.groups, k, g)
			g = debtor.groups[k]
			g.owed += d.amount
			setTotals(debtor.groups, k, g)
		}
	}
}

func setTotals[K comparable](m map[K]totals, k K, t totals) {
	if t.lent == 0 && t.owed == 0 {
		delete(m, k)
		return
	}
	m[k] = t
}

func addPair(m map[pairKey]int64, k pairKey, amount int64) {
	v := m[k] + amount
	if v == 0 {
		delete(m, k)
		return
	}
	m[k] = v
}

func (a *Aggregator) account(userID string) *account {
	a.mu.RLock()
	acc, ok := a.accounts[userID]
	a.mu.RUnlock()
	if ok {
		return acc
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[userID]; ok {
		return acc
	}
	acc = newAccount()
	a.accounts[userID] = acc
	return acc
}

func (a *Aggregator) lookup(userID string) (*account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[userID]
	return acc, ok
}

// Net returns what userID has lent and owes in currency. Users with no
// unpaid shares get a zero balance. The net amount is cross-checked against
// the user's pairwise entries.
func (a *Aggregator) Net(userID, currency string) (models.Balance, error) {
	b := models.Balance{Currency: currency}
	acc, ok := a.lookup(userID)
	if !ok {
		return b, nil
	}

	acc.mu.RLock()
	defer acc.mu.RUnlock()

	t := acc.totals[currency]
	b.Lent, b.Owed, b.Net = t.lent, t.owed, t.lent-t.owed

	var pairs int64
	for k, v := range acc.pairs {
		if k.currency == currency {
			pairs += v
		}
	}
	if pairs != b.Net {
		return models.Balance{}, models.Consistencyf("net %d %s of %s does not match pairwise sum %d", b.Net, currency, userID, pairs)
	}
	return b, nil
}

// Pair returns what other owes userID in currency. Negative when userID owes.
func (a *Aggregator) Pair(userID, otherID, currency string) models.PairBalance {
	pb := models.PairBalance{UserID: userID, OtherID: otherID, Currency: currency}
	acc, ok := a.lookup(userID)
	if !ok {
		return pb
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	pb.Amount = acc.pairs[pairKey{otherID, currency}]
	return pb
}

// Pairs returns every non-zero counterparty entry of userID in currency,
// sorted by counterparty.
func (a *Aggregator) Pairs(userID, currency string) []models.PairBalance {
	acc, ok := a.lookup(userID)
	if !ok {
		return nil
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()

	var out []models.PairBalance
	for k, v := range acc.pairs {
		if k.currency == currency {
			out = append(out, models.PairBalance{UserID: userID, OtherID: k.other, Amount: v, Currency: currency})
		}
	}
	slices.SortFunc(out, func(x, y models.PairBalance) int {
		if x.OtherID < y.OtherID {
			return -1
		}
		if x.OtherID > y.OtherID {
			return 1
		}
		return 0
	})
	return out
}

// Group returns userID's balance restricted to expenses tagged with groupID.
func (a *Aggregator) Group(groupID, userID, currency string) models.Balance {
	b := models.Balance{Currency: currency}
	acc, ok := a.lookup(userID)
	if !ok {
		return b
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	t := acc.groups[groupKey{groupID, currency}]
	b.Lent, b.Owed, b.Net = t.lent, t.owed, t.lent-t.owed
	return b
}

// Recompute builds a fresh aggregator from the full expense history and
// checks that balances net to zero in every currency.
func Recompute(expenses iter.Seq[models.Expense]) (*Aggregator, error) {
	a := New()
	for e := range expenses {
		a.Apply(nil, &e)
	}
	if err := a.Check(); err != nil {
		return nil, err
	}
	return a, nil
}

// Check verifies that net balances sum to zero per currency and that every
// pairwise entry is mirrored by its counterparty.
func (a *Aggregator) Check() error {
	snap := a.snapshot()

	sums := make(map[string]int64)
	for user, acc := range snap {
		for currency, t := range acc.totals {
			sums[currency] += t.lent - t.owed
		}
		for k, v := range acc.pairs {
			other, ok := snap[k.other]
			if !ok || other.pairs[pairKey{user, k.currency}] != -v {
				return models.Consistencyf("pair %s/%s %s is not mirrored", user, k.other, k.currency)
			}
		}
	}
	for currency, sum := range sums {
		if sum != 0 {
			return models.Consistencyf("balances in %s sum to %d", currency, sum)
		}
	}
	return nil
}

// Equal reports whether a and other hold identical balance state.
func (a *Aggregator) Equal(other *Aggregator) bool {
	x, y := a.snapshot(), other.snapshot()
	if len(x) != len(y) {
		return false
	}
	for user, xa := range x {
		ya, ok := y[user]
		if !ok {
			return false
		}
		if !maps.Equal(xa.totals, ya.totals) || !maps.Equal(xa.pairs, ya.pairs) || !maps.Equal(xa.groups, ya.groups) {
			return false
		}
	}
	return true
}

type accountSnapshot struct {
	totals map[string]totals
	pairs  map[pairKey]int64
	groups map[groupKey]totals
}

// snapshot copies non-empty accounts. Accounts are read one at a time, so it
// is only exact when no writes run concurrently.
func (a *Aggregator) snapshot() map[string]accountSnapshot {
	a.mu.RLock()
	accounts := maps.Clone(a.accounts)
	a.mu.RUnlock()

	out := make(map[string]accountSnapshot, len(accounts))
	for user, acc := range accounts {
		acc.mu.RLock()
		s := accountSnapshot{
			totals: maps.Clone(acc.totals),
			pairs:  maps.Clone(acc.pairs),
			groups: maps.Clone(acc.groups),
		}
		acc.mu.RUnlock()
		if len(s.totals) == 0 && len(s.pairs) == 0 && len(s.groups) == 0 {
			continue
		}
		out[user] = s
	}
	return out
}
