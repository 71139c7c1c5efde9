package service

import (
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1"
)

func expenseToWire(e models.Expense) ledgerv1.Expense {
	shares := make([]ledgerv1.Share, len(e.Shares))
	for i, s := range e.Shares {
		shares[i] = ledgerv1.Share{
			ID:     s.ID,
			UserID: s.UserID,
			Amount: money.Format(s.Amount, e.Currency),
			Paid:   s.Paid,
		}
	}
	return ledgerv1.Expense{
		ID:           e.ID,
		Description:  e.Description,
		Amount:       money.Format(e.Amount, e.Currency),
		Currency:     e.Currency,
		Date:         e.Date,
		PaidBy:       e.PaidBy,
		GroupID:      e.GroupID,
		SplitEqually: e.SplitEqually,
		Category:     string(e.Category),
		Shares:       shares,
		Void:         e.Void,
		Revision:     e.Revision,
		CreatedBy:    e.CreatedBy,
		UpdatedAt:    e.UpdatedAt,
	}
}

// sharesFromWire parses share amounts. Amounts are skipped when the split is
// equal since the ledger computes them.
func sharesFromWire(in []ledgerv1.Share, currency string, splitEqually bool) ([]models.ExpenseShare, error) {
	out := make([]models.ExpenseShare, len(in))
	for i, s := range in {
		out[i] = models.ExpenseShare{UserID: s.UserID}
		if splitEqually || s.Amount == "" {
			continue
		}
		amount, err := money.ToMinor(s.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("share for %s: %w", s.UserID, err)
		}
		out[i].Amount = amount
	}
	return out, nil
}

func activityToWire(a models.Activity) ledgerv1.Activity {
	out := ledgerv1.Activity{
		ID:            a.ID,
		Type:          string(a.Type()),
		Date:          a.Date,
		Description:   a.Description,
		InvolvedUsers: a.InvolvedUsers,
		GroupID:       a.GroupID,
	}
	switch d := a.Detail.(type) {
	case models.ExpenseActivity:
		out.ExpenseID = d.ExpenseID
		out.Amount = money.Format(d.Amount, d.Currency)
		out.Currency = d.Currency
	case models.PaymentActivity:
		out.PaymentID = d.PaymentID
		out.Amount = money.Format(d.Amount, d.Currency)
		out.Currency = d.Currency
	case models.GroupActivity:
		out.Action = string(d.Action)
		out.Subject = d.Subject
	}
	return out
}

func statisticsToWire(s models.Statistics) *ledgerv1.GetStatisticsResponse {
	out := &ledgerv1.GetStatisticsResponse{
		Currency:      s.Currency,
		TotalExpenses: money.Format(s.TotalExpenses, s.Currency),
		TotalIncome:   money.Format(s.TotalIncome, s.Currency),
		ByCategory:    make(map[string]string, len(s.ByCategory)),
		ByWeek:        make([]ledgerv1.WeekAmount, len(s.ByWeek)),
	}
	for c, amount := range s.ByCategory {
		out.ByCategory[string(c)] = money.Format(amount, s.Currency)
	}
	for i, w := range s.ByWeek {
		out.ByWeek[i] = ledgerv1.WeekAmount{
			WeekStart: w.WeekStart.Format(time.DateOnly),
			Amount:    money.Format(w.Amount, s.Currency),
		}
	}
	return out
}

func groupToWire(g *models.Group) ledgerv1.Group {
	return ledgerv1.Group{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Members:     g.Members,
		CreatedAt:   g.CreatedAt,
	}
}

func userToWire(u *models.User) ledgerv1.User {
	return ledgerv1.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt,
	}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
