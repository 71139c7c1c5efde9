// Package stats computes per-user category and weekly rollups from the ledger.
package stats

import (
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/mmynk/splitledger/internal/models"
)

// Source provides the expenses and payments a user took part in.
type Source interface {
	ExpensesInvolving(userID string) iter.Seq[models.Expense]
	PaymentsInvolving(userID string) iter.Seq[models.Payment]
}

// Aggregator derives Statistics on demand.
type Aggregator struct {
	src Source
}

// New returns an aggregator reading from src.
func New(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// Compute returns userID's statistics in currency for expenses dated in rng.
// Weeks start on Monday in loc; a nil loc means UTC.
//
// An expense counts with its full amount toward the payer and with the
// share amount toward every other share holder. Void expenses are skipped.
func (a *Aggregator) Compute(userID, currency string, rng models.DateRange, loc *time.Location) models.Statistics {
	if loc == nil {
		loc = time.UTC
	}
	st := models.Statistics{
		Currency:   currency,
		ByCategory: make(map[models.Category]int64, len(models.Categories())),
	}
	for _, c := range models.Categories() {
		st.ByCategory[c] = 0
	}

	weeks := make(map[time.Time]int64)
	for e := range a.src.ExpensesInvolving(userID) {
		if e.Void || e.Currency != currency || !rng.Contains(e.Date) {
			continue
		}
		amount := involvement(&e, userID)
		if e.PaidBy == userID {
			st.TotalExpenses += e.Amount
		}
		if amount == 0 {
			continue
		}
		category := e.Category
		if !category.Valid() {
			category = models.CategoryOther
		}
		st.ByCategory[category] += amount
		weeks[WeekStart(e.Date, loc)] += amount
	}

	for p := range a.src.PaymentsInvolving(userID) {
		if p.To == userID && p.Currency == currency && rng.Contains(p.Date) {
			st.TotalIncome += p.Amount
		}
	}

	for _, start := range slices.SortedFunc(maps.Keys(weeks), time.Time.Compare) {
		st.ByWeek = append(st.ByWeek, models.WeekAmount{WeekStart: start, Amount: weeks[start]})
	}
	return st
}

func involvement(e *models.Expense, userID string) int64 {
	if e.PaidBy == userID {
		return e.Amount
	}
	if s, ok := e.ShareOf(userID); ok {
		return s.Amount
	}
	return 0
}

// WeekStart returns Monday 00:00 of the ISO week containing t, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}
