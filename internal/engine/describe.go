package engine

import (
	"fmt"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

func (e *Engine) describeExpense(actor string, exp *models.Expense, corrected bool) string {
	amount := money.Format(exp.Amount, exp.Currency) + " " + exp.Currency
	switch {
	case exp.Void:
		return fmt.Sprintf("%s deleted %q (%s)", e.displayName(actor), exp.Description, amount)
	case corrected:
		return fmt.Sprintf("%s updated %q (%s)", e.displayName(actor), exp.Description, amount)
	default:
		return fmt.Sprintf("%s added %q (%s)", e.displayName(actor), exp.Description, amount)
	}
}

func (e *Engine) describePayment(p *models.Payment) string {
	return fmt.Sprintf("%s paid %s %s %s",
		e.displayName(p.From), e.displayName(p.To), money.Format(p.Amount, p.Currency), p.Currency)
}

func (e *Engine) describeGroup(actor string, g *models.Group, action models.GroupAction, subject string) string {
	switch action {
	case models.GroupMemberAdded:
		return fmt.Sprintf("%s added %s to %q", e.displayName(actor), e.displayName(subject), g.Name)
	case models.GroupMemberRemoved:
		if actor == subject {
			return fmt.Sprintf("%s left %q", e.displayName(actor), g.Name)
		}
		return fmt.Sprintf("%s removed %s from %q", e.displayName(actor), e.displayName(subject), g.Name)
	default:
		return fmt.Sprintf("%s created %q", e.displayName(actor), g.Name)
	}
}
