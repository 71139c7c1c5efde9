package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Idempotency operation names.
const (
	opRecordExpense    = "record_expense"
	opRecordCorrection = "record_correction"
	opRecordPayment    = "record_payment"
	opMarkRead         = "mark_read"
)

// correctionAttempts bounds how often a correction re-reads an expense whose
// share holders changed while it waited for locks.
const correctionAttempts = 5

// consistency logs and counts a broken invariant and returns it as
// ErrConsistency.
func (e *Engine) consistency(ctx context.Context, what string, err error) error {
	e.metrics.ConsistencyFailure()
	e.logger.ErrorContext(ctx, "Consistency failure", "operation", what, "error", err)
	if errors.Is(err, models.ErrConsistency) {
		return err
	}
	return models.Consistencyf("%s: %v", what, err)
}

// RecordExpense validates and records an expense paid by exp.PaidBy.
// Repeating a call with the same requestID returns the first result.
func (e *Engine) RecordExpense(ctx context.Context, actor string, exp models.Expense, requestID string) (models.Expense, error) {
	return idempotent(ctx, e, opRecordExpense, actor, requestID, exp, func() (models.Expense, error) {
		return e.recordExpense(ctx, actor, exp, requestID)
	})
}

func (e *Engine) recordExpense(ctx context.Context, actor string, exp models.Expense, requestID string) (models.Expense, error) {
	if exp.PaidBy == "" {
		return models.Expense{}, models.Validationf("payer is required")
	}
	exp.CreatedBy = actor
	users := exp.Users()
	if err := e.requireUsers(append(users, actor)...); err != nil {
		return models.Expense{}, err
	}

	e.epoch.RLock()
	defer e.epoch.RUnlock()
	unlock := e.locks.Lock(userKeys(users...)...)
	defer unlock()

	prepared, err := e.ledger.PrepareExpense(exp)
	if err != nil {
		return models.Expense{}, err
	}
	activities := e.feed.Prepare(models.Activity{
		Description:   e.describeExpense(actor, &prepared, false),
		InvolvedUsers: prepared.Users(),
		GroupID:       prepared.GroupID,
		Detail:        models.ExpenseActivity{ExpenseID: prepared.ID, Amount: prepared.Amount, Currency: prepared.Currency},
	})
	batch := storage.Batch{
		Events: []storage.LedgerEvent{{
			Kind:      storage.EventExpense,
			RequestID: idempotency.Key(opRecordExpense, actor, requestID),
			Expense:   &prepared,
		}},
		Activities: activities,
	}
	if err := e.commit(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrDuplicateRequest) {
			return e.expenseForRequest(ctx, storage.EventExpense, opRecordExpense, actor, requestID)
		}
		return models.Expense{}, err
	}

	if err := e.ledger.CommitExpense(prepared); err != nil {
		return models.Expense{}, e.consistency(ctx, "commit expense", err)
	}
	e.aggregator().Apply(nil, &prepared)
	if err := e.feed.Append(activities...); err != nil {
		return models.Expense{}, e.consistency(ctx, "append expense activities", err)
	}

	e.logger.InfoContext(ctx, "Expense recorded",
		"expense_id", prepared.ID,
		"paid_by", prepared.PaidBy,
		"amount", prepared.Amount,
		"currency", prepared.Currency,
		"shares", len(prepared.Shares),
	)
	return prepared.Clone(), nil
}

// eventForRequest loads the event an earlier attempt of the same request
// committed. Event request ids carry the operation and actor, so a match
// always belongs to actor.
func (e *Engine) eventForRequest(ctx context.Context, kind storage.EventKind, operation, actor, requestID string) (*storage.LedgerEvent, error) {
	evt, err := e.store.EventByRequestID(ctx, idempotency.Key(operation, actor, requestID))
	if err != nil {
		return nil, err
	}
	if evt == nil || evt.Kind != kind || evt.CreatedBy() != actor {
		return nil, models.Consistencyf("request id %s conflicts with an event of another request", requestID)
	}
	e.metrics.IdempotentReplay(string(kind))
	return evt, nil
}

// expenseForRequest resolves a request whose event is already in the log but
// whose idempotency record was lost.
func (e *Engine) expenseForRequest(ctx context.Context, kind storage.EventKind, operation, actor, requestID string) (models.Expense, error) {
	evt, err := e.eventForRequest(ctx, kind, operation, actor, requestID)
	if err != nil {
		return models.Expense{}, err
	}
	return e.ledger.Expense(evt.ExpenseID())
}

// RecordCorrection supersedes the shares of an expense, or voids it. Only a
// user involved in the expense may correct it.
func (e *Engine) RecordCorrection(ctx context.Context, actor string, c models.Correction, requestID string) (models.Expense, error) {
	return idempotent(ctx, e, opRecordCorrection, actor, requestID, c, func() (models.Expense, error) {
		return e.recordCorrection(ctx, actor, c, requestID)
	})
}

func (e *Engine) recordCorrection(ctx context.Context, actor string, c models.Correction, requestID string) (models.Expense, error) {
	c.ID = uuid.NewString()
	c.CreatedBy = actor
	c.CreatedAt = e.now().UTC()

	requested := make([]string, 0, len(c.Shares))
	for _, s := range c.Shares {
		requested = append(requested, s.UserID)
	}
	if err := e.requireUsers(append(requested, actor)...); err != nil {
		return models.Expense{}, err
	}

	e.epoch.RLock()
	defer e.epoch.RUnlock()

	for range correctionAttempts {
		current, err := e.ledger.Expense(c.ExpenseID)
		if err != nil {
			return models.Expense{}, err
		}
		if !current.Involves(actor) {
			return models.Expense{}, models.Validationf("user %s is not involved in expense %s", actor, c.ExpenseID)
		}

		unlock := e.locks.Lock(userKeys(append(current.Users(), requested...)...)...)
		next, retry, err := e.applyCorrection(ctx, actor, c, current.Revision, requestID)
		unlock()
		if retry {
			continue
		}
		return next, err
	}
	return models.Expense{}, models.Transient(fmt.Errorf("expense %s kept changing", c.ExpenseID))
}

// applyCorrection runs with the share holders of revision rev locked. It
// asks for a retry when the expense moved past rev in the meantime.
func (e *Engine) applyCorrection(ctx context.Context, actor string, c models.Correction, rev int, requestID string) (models.Expense, bool, error) {
	prev, next, err := e.ledger.PrepareCorrection(c)
	if err != nil {
		return models.Expense{}, false, err
	}
	if prev.Revision != rev {
		return models.Expense{}, true, nil
	}

	involved := slices.Concat(prev.Users(), next.Users())
	activities := e.feed.Prepare(models.Activity{
		Description:   e.describeExpense(actor, &next, true),
		InvolvedUsers: involved,
		GroupID:       next.GroupID,
		Detail:        models.ExpenseActivity{ExpenseID: next.ID, Amount: next.Amount, Currency: next.Currency},
	})
	batch := storage.Batch{
		Events: []storage.LedgerEvent{{
			Kind:       storage.EventCorrection,
			RequestID:  idempotency.Key(opRecordCorrection, actor, requestID),
			Expense:    &next,
			Correction: &c,
		}},
		Activities: activities,
	}
	if err := e.commit(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrDuplicateRequest) {
			exp, err := e.expenseForRequest(ctx, storage.EventCorrection, opRecordCorrection, actor, requestID)
			return exp, false, err
		}
		return models.Expense{}, false, err
	}

	if err := e.ledger.CommitCorrection(c, next); err != nil {
		return models.Expense{}, false, e.consistency(ctx, "commit correction", err)
	}
	e.aggregator().Apply(&prev, &next)
	if err := e.feed.Append(activities...); err != nil {
		return models.Expense{}, false, e.consistency(ctx, "append correction activities", err)
	}

	e.logger.InfoContext(ctx, "Expense corrected",
		"expense_id", next.ID,
		"revision", next.Revision,
		"void", next.Void,
	)
	return next.Clone(), false, nil
}

// RecordPayment settles shares p.From owes p.To. Without explicit share IDs
// the oldest unpaid shares are settled first.
func (e *Engine) RecordPayment(ctx context.Context, actor string, p models.Payment, requestID string) (models.Payment, error) {
	return idempotent(ctx, e, opRecordPayment, actor, requestID, p, func() (models.Payment, error) {
		return e.recordPayment(ctx, actor, p, requestID)
	})
}

func (e *Engine) recordPayment(ctx context.Context, actor string, p models.Payment, requestID string) (models.Payment, error) {
	if p.From == "" || p.To == "" {
		return models.Payment{}, models.Validationf("payment needs both a payer and a payee")
	}
	p.CreatedBy = actor
	if err := e.requireUsers(p.From, p.To, actor); err != nil {
		return models.Payment{}, err
	}

	e.epoch.RLock()
	defer e.epoch.RUnlock()
	unlock := e.locks.Lock(userKey(p.From), userKey(p.To))
	defer unlock()

	prepared, _, err := e.ledger.PreparePayment(p)
	if err != nil {
		return models.Payment{}, err
	}
	activities := e.feed.Prepare(models.Activity{
		Description:   e.describePayment(&prepared),
		InvolvedUsers: []string{prepared.From, prepared.To},
		GroupID:       prepared.GroupID,
		Detail:        models.PaymentActivity{PaymentID: prepared.ID, Amount: prepared.Amount, Currency: prepared.Currency},
	})
	batch := storage.Batch{
		Events: []storage.LedgerEvent{{
			Kind:      storage.EventPayment,
			RequestID: idempotency.Key(opRecordPayment, actor, requestID),
			Payment:   &prepared,
		}},
		Activities: activities,
	}
	if err := e.commit(ctx, batch); err != nil {
		if errors.Is(err, storage.ErrDuplicateRequest) {
			return e.paymentForRequest(ctx, actor, requestID)
		}
		return models.Payment{}, err
	}

	settled, err := e.ledger.CommitPayment(prepared)
	if err != nil {
		return models.Payment{}, e.consistency(ctx, "commit payment", err)
	}
	e.aggregator().Settle(settled)
	if err := e.feed.Append(activities...); err != nil {
		return models.Payment{}, e.consistency(ctx, "append payment activities", err)
	}

	e.logger.InfoContext(ctx, "Payment recorded",
		"payment_id", prepared.ID,
		"from", prepared.From,
		"to", prepared.To,
		"amount", prepared.Amount,
		"shares", len(settled),
	)
	return prepared, nil
}

func (e *Engine) paymentForRequest(ctx context.Context, actor, requestID string) (models.Payment, error) {
	evt, err := e.eventForRequest(ctx, storage.EventPayment, opRecordPayment, actor, requestID)
	if err != nil {
		return models.Payment{}, err
	}
	return e.ledger.Payment(evt.Payment.ID)
}

// PostMessage posts text to a group's current members or to explicit
// recipients. It returns the number of feed entries written.
func (e *Engine) PostMessage(ctx context.Context, sender, groupID string, recipients []string, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, models.Validationf("message text is required")
	}
	if err := e.requireUsers(sender); err != nil {
		return 0, err
	}

	switch {
	case groupID != "":
		unlockGroup := e.locks.RLock(groupKey(groupID))
		defer unlockGroup()
		g, ok := e.groups.get(groupID)
		if !ok {
			return 0, models.NotFoundf("group", groupID)
		}
		if !g.HasMember(sender) {
			return 0, models.Validationf("user %s is not a member of group %s", sender, groupID)
		}
		recipients = g.Members
	case len(recipients) == 0:
		return 0, models.Validationf("a group or at least one recipient is required")
	default:
		if err := e.requireUsers(recipients...); err != nil {
			return 0, err
		}
	}

	involved := append(slices.Clone(recipients), sender)
	unlock := e.locks.Lock(userKeys(involved...)...)
	defer unlock()

	activities := e.feed.Prepare(models.Activity{
		Description:   e.displayName(sender) + ": " + text,
		InvolvedUsers: involved,
		GroupID:       groupID,
		Detail:        models.MessageActivity{},
	})
	if err := e.commit(ctx, storage.Batch{Activities: activities}); err != nil {
		return 0, err
	}
	if err := e.feed.Append(activities...); err != nil {
		return 0, e.consistency(ctx, "append message activities", err)
	}
	return len(activities), nil
}

// MarkRead moves userID's watermark to the head of their feed. Entries
// appended afterwards stay unread.
func (e *Engine) MarkRead(ctx context.Context, userID, requestID string) (models.Watermark, error) {
	if err := e.requireUsers(userID); err != nil {
		return models.Watermark{}, err
	}
	if requestID != "" {
		if wm := e.feed.Watermark(userID); wm.RequestID == requestID {
			return wm, nil
		}
	}
	return idempotent(ctx, e, opMarkRead, userID, requestID, userID, func() (models.Watermark, error) {
		unlock := e.locks.Lock(userKey(userID))
		defer unlock()

		wm := e.feed.NextWatermark(userID, requestID)
		if err := e.commit(ctx, storage.Batch{Watermark: &wm}); err != nil {
			return models.Watermark{}, err
		}
		return e.feed.SetWatermark(wm), nil
	})
}
