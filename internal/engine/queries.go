package engine

import (
	"context"

	"github.com/mmynk/splitledger/internal/feed"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

// currency normalizes code, falling back to the configured default.
func (e *Engine) currency(code string) (string, error) {
	if code == "" {
		return e.cfg.DefaultCurrency, nil
	}
	c, err := money.NormalizeCurrency(code)
	if err != nil {
		return "", models.Validationf("%v", err)
	}
	return c, nil
}

// readUser checks userID exists and read-locks it. Writers touching the user
// hold its write lock for the whole apply, so reads see all of a write or
// none of it.
func (e *Engine) readUser(userID string) (unlock func(), err error) {
	if err := e.requireUsers(userID); err != nil {
		return nil, err
	}
	return e.locks.RLock(userKey(userID)), nil
}

// Balance returns userID's lent, owed and net amounts in currency.
func (e *Engine) Balance(ctx context.Context, userID, currency string) (models.Balance, error) {
	currency, err := e.currency(currency)
	if err != nil {
		return models.Balance{}, err
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return models.Balance{}, err
	}
	defer unlock()

	b, err := e.aggregator().Net(userID, currency)
	if err != nil {
		return models.Balance{}, e.consistency(ctx, "balance", err)
	}
	return b, nil
}

// PairBalance returns what otherID owes userID in currency.
func (e *Engine) PairBalance(_ context.Context, userID, otherID, currency string) (models.PairBalance, error) {
	currency, err := e.currency(currency)
	if err != nil {
		return models.PairBalance{}, err
	}
	if err := e.requireUsers(otherID); err != nil {
		return models.PairBalance{}, err
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return models.PairBalance{}, err
	}
	defer unlock()
	return e.aggregator().Pair(userID, otherID, currency), nil
}

// BalanceSheet returns userID's balance together with the non-zero pairwise
// balances behind it, both read under one lock.
func (e *Engine) BalanceSheet(ctx context.Context, userID, currency string) (models.Balance, []models.PairBalance, error) {
	currency, err := e.currency(currency)
	if err != nil {
		return models.Balance{}, nil, err
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return models.Balance{}, nil, err
	}
	defer unlock()

	agg := e.aggregator()
	b, err := agg.Net(userID, currency)
	if err != nil {
		return models.Balance{}, nil, e.consistency(ctx, "balance", err)
	}
	return b, agg.Pairs(userID, currency), nil
}

// GroupBalance returns userID's balance over expenses in groupID.
func (e *Engine) GroupBalance(_ context.Context, groupID, userID, currency string) (models.Balance, error) {
	currency, err := e.currency(currency)
	if err != nil {
		return models.Balance{}, err
	}
	if _, ok := e.groups.get(groupID); !ok {
		return models.Balance{}, models.NotFoundf("group", groupID)
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return models.Balance{}, err
	}
	defer unlock()
	return e.aggregator().Group(groupID, userID, currency), nil
}

// Statistics returns userID's rollups over rng. Weeks follow the user's
// timezone.
func (e *Engine) Statistics(_ context.Context, userID, currency string, rng models.DateRange) (models.Statistics, error) {
	currency, err := e.currency(currency)
	if err != nil {
		return models.Statistics{}, err
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return models.Statistics{}, models.Validationf("empty date range")
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return models.Statistics{}, err
	}
	defer unlock()
	return e.stats.Compute(userID, currency, rng, e.location(userID)), nil
}

// Feed returns a page of userID's activity, newest first.
func (e *Engine) Feed(_ context.Context, userID, cursor string, limit int) (feed.Page, error) {
	if limit < 0 {
		return feed.Page{}, models.Validationf("limit must not be negative")
	}
	unlock, err := e.readUser(userID)
	if err != nil {
		return feed.Page{}, err
	}
	defer unlock()
	return e.feed.Page(userID, cursor, limit)
}

// UnreadCount returns how many feed entries follow userID's watermark.
func (e *Engine) UnreadCount(_ context.Context, userID string) (int, error) {
	unlock, err := e.readUser(userID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.feed.Unread(userID), nil
}

// History returns every revision of an expense, oldest first, and the
// corrections between them.
func (e *Engine) History(_ context.Context, expenseID string) ([]models.Expense, []models.Correction, error) {
	return e.ledger.History(expenseID)
}
