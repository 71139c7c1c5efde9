package ledger

import (
	"errors"
	"time"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

// PrepareExpense validates e and resolves it into the record that
// CommitExpense will store. Ledger state is not modified.
func (l *Ledger) PrepareExpense(e models.Expense) (models.Expense, error) {
	e = e.Clone()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Amount <= 0 {
		return models.Expense{}, models.Validationf("amount must be positive, got %d", e.Amount)
	}
	currency, err := money.NormalizeCurrency(e.Currency)
	if err != nil {
		return models.Expense{}, models.Validationf("%v", err)
	}
	e.Currency = currency
	if e.PaidBy == "" {
		return models.Expense{}, models.Validationf("payer is required")
	}
	if e.Category == "" {
		e.Category = models.CategoryOther
	}
	if !e.Category.Valid() {
		return models.Expense{}, models.Validationf("unknown category %q", e.Category)
	}
	now := l.now().UTC()
	if e.Date.IsZero() {
		e.Date = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	e.Void = false
	e.Revision = 0

	shares, err := resolveShares(e.Amount, e.PaidBy, e.SplitEqually, e.Shares, nil)
	if err != nil {
		return models.Expense{}, err
	}
	e.Shares = shares
	if err := l.checkMembers(e.GroupID, e.PaidBy, e.Shares, e.Date); err != nil {
		return models.Expense{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, exists := l.expenses[e.ID]; exists {
		return models.Expense{}, models.Validationf("expense %s already recorded", e.ID)
	}
	for _, s := range e.Shares {
		if _, exists := l.shares[s.ID]; exists {
			return models.Expense{}, models.Validationf("share %s already recorded", s.ID)
		}
	}
	return e, nil
}

// PrepareCorrection validates c against the current revision of its expense
// and returns that revision along with the one that would replace it.
func (l *Ledger) PrepareCorrection(c models.Correction) (prev, next models.Expense, err error) {
	prev, err = l.Expense(c.ExpenseID)
	if err != nil {
		return models.Expense{}, models.Expense{}, err
	}
	if prev.Void {
		return models.Expense{}, models.Expense{}, models.Validationf("expense %s is void", prev.ID)
	}

	now := l.now().UTC()
	next = prev.Clone()
	next.Revision = prev.Revision + 1
	next.UpdatedAt = now
	if c.Void {
		next.Void = true
		return prev, next, nil
	}

	existing := make(map[string]string, len(prev.Shares))
	for _, s := range prev.Shares {
		existing[s.UserID] = s.ID
	}
	shares, err := resolveShares(prev.Amount, prev.PaidBy, c.SplitEqually, c.Shares, existing)
	if err != nil {
		return models.Expense{}, models.Expense{}, err
	}
	if err := l.checkMembers(prev.GroupID, prev.PaidBy, shares, prev.Date); err != nil {
		return models.Expense{}, models.Expense{}, err
	}

	l.mu.RLock()
	for _, s := range shares {
		if owner, exists := l.shares[s.ID]; exists && owner != prev.ID {
			l.mu.RUnlock()
			return models.Expense{}, models.Expense{}, models.Validationf("share %s belongs to expense %s", s.ID, owner)
		}
	}
	l.mu.RUnlock()

	next.SplitEqually = c.SplitEqually
	next.Shares = shares
	return prev, next, nil
}

// resolveShares validates the share list, applies an equal split when asked,
// assigns missing share IDs and marks the payer's own share paid.
// existing maps user IDs to share IDs that should be kept.
func resolveShares(amount int64, payer string, splitEqually bool, in []models.ExpenseShare, existing map[string]string) ([]models.ExpenseShare, error) {
	if len(in) == 0 {
		return nil, models.Validationf("at least one share is required")
	}
	shares := make([]models.ExpenseShare, 0, len(in)+1)
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s.UserID == "" {
			return nil, models.Validationf("share user is required")
		}
		if seen[s.UserID] {
			return nil, models.Validationf("user %s has more than one share", s.UserID)
		}
		seen[s.UserID] = true
		if !splitEqually && s.Amount < 0 {
			return nil, models.Validationf("share of %s is negative", s.UserID)
		}
		shares = append(shares, s)
	}

	if splitEqually {
		users := make([]string, len(shares))
		for i, s := range shares {
			users[i] = s.UserID
		}
		amounts, err := calculator.SplitEqually(amount, payer, users)
		if err != nil {
			return nil, models.Validationf("equal split: %v", err)
		}
		for i := range shares {
			shares[i].Amount = amounts[shares[i].UserID]
		}
		if !seen[payer] && amounts[payer] > 0 {
			shares = append(shares, models.ExpenseShare{UserID: payer, Amount: amounts[payer]})
		}
	}

	var total int64
	for i := range shares {
		total += shares[i].Amount
		if shares[i].ID == "" {
			if id, ok := existing[shares[i].UserID]; ok {
				shares[i].ID = id
			} else {
				shares[i].ID = newID()
			}
		}
		if shares[i].UserID == payer {
			shares[i].Paid = true
		}
	}
	if total != amount {
		return nil, models.Validationf("shares sum to %d, expense amount is %d", total, amount)
	}

	ids := make(map[string]bool, len(shares))
	for _, s := range shares {
		if ids[s.ID] {
			return nil, models.Validationf("share id %s used twice", s.ID)
		}
		ids[s.ID] = true
	}
	return shares, nil
}

func (l *Ledger) checkMembers(groupID, payer string, shares []models.ExpenseShare, at time.Time) error {
	if groupID == "" {
		return nil
	}
	if l.members == nil {
		return models.NotFoundf("group", groupID)
	}
	users := []string{payer}
	for _, s := range shares {
		if s.UserID != payer {
			users = append(users, s.UserID)
		}
	}
	for _, u := range users {
		ok, err := l.members.WasMember(groupID, u, at)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return err
			}
			return models.Transient(err)
		}
		if !ok {
			return models.Validationf("user %s was not a member of group %s on %s", u, groupID, at.Format(time.DateOnly))
		}
	}
	return nil
}

// PreparePayment validates p and resolves the shares it settles.
// Ledger state is not modified.
func (l *Ledger) PreparePayment(p models.Payment) (models.Payment, []SettledShare, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.From == "" || p.To == "" {
		return models.Payment{}, nil, models.Validationf("payment needs both a payer and a payee")
	}
	if p.From == p.To {
		return models.Payment{}, nil, models.Validationf("cannot pay yourself")
	}
	if p.Amount <= 0 {
		return models.Payment{}, nil, models.Validationf("amount must be positive, got %d", p.Amount)
	}
	currency, err := money.NormalizeCurrency(p.Currency)
	if err != nil {
		return models.Payment{}, nil, models.Validationf("%v", err)
	}
	p.Currency = currency
	now := l.now().UTC()
	if p.Date.IsZero() {
		p.Date = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, exists := l.payments[p.ID]; exists {
		return models.Payment{}, nil, models.Validationf("payment %s already recorded", p.ID)
	}

	var settled []SettledShare
	if len(p.ShareIDs) > 0 {
		settled, err = l.explicitShares(p)
	} else {
		settled, err = l.allocateShares(p)
	}
	if err != nil {
		return models.Payment{}, nil, err
	}

	var total int64
	p.ShareIDs = make([]string, len(settled))
	for i, s := range settled {
		p.ShareIDs[i] = s.Share.ID
		total += s.Share.Amount
	}
	if total != p.Amount {
		return models.Payment{}, nil, models.Validationf("payment of %d does not match settled shares totalling %d", p.Amount, total)
	}
	return p, settled, nil
}

// explicitShares checks caller supplied share IDs. Callers hold l.mu.
func (l *Ledger) explicitShares(p models.Payment) ([]SettledShare, error) {
	seen := make(map[string]bool, len(p.ShareIDs))
	settled := make([]SettledShare, 0, len(p.ShareIDs))
	for _, id := range p.ShareIDs {
		if seen[id] {
			return nil, models.Validationf("share %s listed twice", id)
		}
		seen[id] = true

		r, ok := l.expenses[l.shares[id]]
		if !ok {
			return nil, models.NotFoundf("share", id)
		}
		e := &r.current
		var share *models.ExpenseShare
		for i := range e.Shares {
			if e.Shares[i].ID == id {
				share = &e.Shares[i]
			}
		}
		switch {
		case share == nil:
			return nil, models.NotFoundf("share", id)
		case e.Void:
			return nil, models.Validationf("expense %s is void", e.ID)
		case share.UserID != p.From:
			return nil, models.Validationf("share %s is not owed by %s", id, p.From)
		case e.PaidBy != p.To:
			return nil, models.Validationf("share %s is not owed to %s", id, p.To)
		case share.Paid:
			return nil, models.Validationf("share %s is already paid", id)
		case e.Currency != p.Currency:
			return nil, models.Validationf("share %s is in %s, payment is in %s", id, e.Currency, p.Currency)
		case p.GroupID != "" && e.GroupID != p.GroupID:
			return nil, models.Validationf("share %s is outside group %s", id, p.GroupID)
		}
		settled = append(settled, settledShare(e, *share))
	}
	return settled, nil
}

// allocateShares picks From's oldest unpaid shares on expenses paid by To
// until they cover the amount. Only whole shares are settled. Callers hold l.mu.
func (l *Ledger) allocateShares(p models.Payment) ([]SettledShare, error) {
	var (
		settled []SettledShare
		covered int64
	)
	for _, r := range l.byUser[p.From] {
		if covered == p.Amount {
			break
		}
		e := &r.current
		if e.Void || e.PaidBy != p.To || e.Currency != p.Currency {
			continue
		}
		if p.GroupID != "" && e.GroupID != p.GroupID {
			continue
		}
		share, ok := e.ShareOf(p.From)
		if !ok || share.Paid || share.Amount == 0 {
			continue
		}
		if covered+share.Amount > p.Amount {
			break
		}
		covered += share.Amount
		settled = append(settled, settledShare(e, share))
	}
	if len(settled) == 0 {
		return nil, models.Validationf("%s has no unpaid %s shares owed to %s", p.From, p.Currency, p.To)
	}
	return settled, nil
}

func settledShare(e *models.Expense, share models.ExpenseShare) SettledShare {
	share.Paid = true
	return SettledShare{
		ExpenseID: e.ID,
		GroupID:   e.GroupID,
		PaidBy:    e.PaidBy,
		Currency:  e.Currency,
		Share:     share,
	}
}
