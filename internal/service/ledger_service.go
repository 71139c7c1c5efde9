package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/engine"
	"github.com/mmynk/splitledger/internal/feed"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1/ledgerv1connect"
)

// Ledger is the part of the engine the LedgerService calls.
type Ledger interface {
	Balance(ctx context.Context, userID, currency string) (models.Balance, error)
	PairBalance(ctx context.Context, userID, otherID, currency string) (models.PairBalance, error)
	BalanceSheet(ctx context.Context, userID, currency string) (models.Balance, []models.PairBalance, error)
	GroupBalance(ctx context.Context, groupID, userID, currency string) (models.Balance, error)
	Statistics(ctx context.Context, userID, currency string, rng models.DateRange) (models.Statistics, error)
	Feed(ctx context.Context, userID, cursor string, limit int) (feed.Page, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, requestID string) (models.Watermark, error)
	RecordExpense(ctx context.Context, actor string, exp models.Expense, requestID string) (models.Expense, error)
	RecordCorrection(ctx context.Context, actor string, c models.Correction, requestID string) (models.Expense, error)
	RecordPayment(ctx context.Context, actor string, p models.Payment, requestID string) (models.Payment, error)
	PostMessage(ctx context.Context, sender, groupID string, recipients []string, text string) (int, error)
	History(ctx context.Context, expenseID string) ([]models.Expense, []models.Correction, error)
}

var _ Ledger = (*engine.Engine)(nil)

var _ ledgerv1connect.LedgerServiceHandler = (*LedgerService)(nil)

// LedgerService implements the Connect LedgerService.
type LedgerService struct {
	ledger          Ledger
	defaultCurrency string
	logger          *slog.Logger
}

// NewLedgerService creates a LedgerService. Requests without a currency use
// defaultCurrency.
func NewLedgerService(ledger Ledger, defaultCurrency string, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{ledger: ledger, defaultCurrency: defaultCurrency, logger: logger}
}

func (s *LedgerService) currency(code string) (string, error) {
	if code == "" {
		code = s.defaultCurrency
	}
	c, err := money.NormalizeCurrency(code)
	if err != nil {
		return "", invalidArgument(err)
	}
	return c, nil
}

// GetBalance returns a user's net balance and the counterparties behind it.
func (s *LedgerService) GetBalance(ctx context.Context, req *connect.Request[ledgerv1.GetBalanceRequest]) (*connect.Response[ledgerv1.GetBalanceResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(req.Msg.Currency)
	if err != nil {
		return nil, err
	}

	b, pairs, err := s.ledger.BalanceSheet(ctx, userID, currency)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &ledgerv1.GetBalanceResponse{
		UserID:     userID,
		Currency:   currency,
		NetBalance: money.Format(b.Net, currency),
		Lent:       money.Format(b.Lent, currency),
		Owed:       money.Format(b.Owed, currency),
	}
	for _, p := range pairs {
		resp.Counterparties = append(resp.Counterparties, ledgerv1.PairBalance{
			OtherID: p.OtherID,
			Amount:  money.Format(p.Amount, currency),
		})
	}
	return connect.NewResponse(resp), nil
}

// GetPairBalance returns what one user is owed by another.
func (s *LedgerService) GetPairBalance(ctx context.Context, req *connect.Request[ledgerv1.GetPairBalanceRequest]) (*connect.Response[ledgerv1.GetPairBalanceResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(req.Msg.Currency)
	if err != nil {
		return nil, err
	}
	p, err := s.ledger.PairBalance(ctx, userID, req.Msg.OtherID, currency)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GetPairBalanceResponse{
		Currency: currency,
		Amount:   money.Format(p.Amount, currency),
	}), nil
}

// GetGroupBalance returns a user's balance restricted to one group.
func (s *LedgerService) GetGroupBalance(ctx context.Context, req *connect.Request[ledgerv1.GetGroupBalanceRequest]) (*connect.Response[ledgerv1.GetGroupBalanceResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(req.Msg.Currency)
	if err != nil {
		return nil, err
	}
	b, err := s.ledger.GroupBalance(ctx, req.Msg.GroupID, userID, currency)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GetGroupBalanceResponse{
		Currency:   currency,
		NetBalance: money.Format(b.Net, currency),
		Lent:       money.Format(b.Lent, currency),
		Owed:       money.Format(b.Owed, currency),
	}), nil
}

// GetStatistics returns spending rollups over an optional date range.
func (s *LedgerService) GetStatistics(ctx context.Context, req *connect.Request[ledgerv1.GetStatisticsRequest]) (*connect.Response[ledgerv1.GetStatisticsResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(req.Msg.Currency)
	if err != nil {
		return nil, err
	}
	rng := models.DateRange{From: timeOrZero(req.Msg.From), To: timeOrZero(req.Msg.To)}
	st, err := s.ledger.Statistics(ctx, userID, currency, rng)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(statisticsToWire(st)), nil
}

// GetFeed returns one page of a user's activity feed, newest first.
func (s *LedgerService) GetFeed(ctx context.Context, req *connect.Request[ledgerv1.GetFeedRequest]) (*connect.Response[ledgerv1.GetFeedResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	page, err := s.ledger.Feed(ctx, userID, req.Msg.Cursor, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &ledgerv1.GetFeedResponse{
		Activities: make([]ledgerv1.Activity, len(page.Activities)),
		NextCursor: page.NextCursor,
	}
	for i, a := range page.Activities {
		resp.Activities[i] = activityToWire(a)
	}
	return connect.NewResponse(resp), nil
}

// GetUnreadCount returns how many feed entries follow the user's watermark.
func (s *LedgerService) GetUnreadCount(ctx context.Context, req *connect.Request[ledgerv1.GetUnreadCountRequest]) (*connect.Response[ledgerv1.GetUnreadCountResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	n, err := s.ledger.UnreadCount(ctx, userID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.GetUnreadCountResponse{Count: n}), nil
}

// MarkRead acknowledges everything currently in the user's feed.
func (s *LedgerService) MarkRead(ctx context.Context, req *connect.Request[ledgerv1.MarkReadRequest]) (*connect.Response[ledgerv1.MarkReadResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	wm, err := s.ledger.MarkRead(ctx, userID, req.Msg.RequestID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.MarkReadResponse{
		Watermark: ledgerv1.Watermark{ActivityID: wm.ID, Date: wm.Date, UpdatedAt: wm.UpdatedAt},
	}), nil
}

// RecordExpense records a new expense.
func (s *LedgerService) RecordExpense(ctx context.Context, req *connect.Request[ledgerv1.RecordExpenseRequest]) (*connect.Response[ledgerv1.RecordExpenseResponse], error) {
	msg := req.Msg
	s.logger.InfoContext(ctx, "RecordExpense request received",
		"request_id", msg.RequestID,
		"paid_by", msg.PaidBy,
		"shares", len(msg.Shares),
	)

	actor, err := actorOr(ctx, msg.ActorID, msg.PaidBy)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(msg.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := money.ToMinor(msg.Amount, currency)
	if err != nil {
		return nil, invalidArgument(err)
	}
	shares, err := sharesFromWire(msg.Shares, currency, msg.SplitEqually)
	if err != nil {
		return nil, invalidArgument(err)
	}
	category, err := models.ParseCategory(msg.Category)
	if err != nil {
		return nil, toConnectError(err)
	}

	exp, err := s.ledger.RecordExpense(ctx, actor, models.Expense{
		Description:  msg.Description,
		Amount:       amount,
		Currency:     currency,
		Date:         timeOrZero(msg.Date),
		PaidBy:       msg.PaidBy,
		GroupID:      msg.GroupID,
		SplitEqually: msg.SplitEqually,
		Shares:       shares,
		Category:     category,
	}, msg.RequestID)
	if err != nil {
		s.logger.WarnContext(ctx, "RecordExpense failed", "request_id", msg.RequestID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.RecordExpenseResponse{Expense: expenseToWire(exp)}), nil
}

// RecordCorrection replaces the shares of an expense or voids it.
func (s *LedgerService) RecordCorrection(ctx context.Context, req *connect.Request[ledgerv1.RecordCorrectionRequest]) (*connect.Response[ledgerv1.RecordCorrectionResponse], error) {
	msg := req.Msg
	s.logger.InfoContext(ctx, "RecordCorrection request received",
		"request_id", msg.RequestID,
		"expense_id", msg.ExpenseID,
		"void", msg.Void,
	)

	actor, err := middleware.Actor(ctx, msg.ActorID)
	if err != nil {
		return nil, err
	}
	revisions, _, err := s.ledger.History(ctx, msg.ExpenseID)
	if err != nil {
		return nil, toConnectError(err)
	}
	currency := revisions[len(revisions)-1].Currency
	shares, err := sharesFromWire(msg.Shares, currency, msg.SplitEqually)
	if err != nil {
		return nil, invalidArgument(err)
	}

	exp, err := s.ledger.RecordCorrection(ctx, actor, models.Correction{
		ExpenseID:    msg.ExpenseID,
		Shares:       shares,
		SplitEqually: msg.SplitEqually,
		Void:         msg.Void,
		Reason:       msg.Reason,
	}, msg.RequestID)
	if err != nil {
		s.logger.WarnContext(ctx, "RecordCorrection failed", "request_id", msg.RequestID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.RecordCorrectionResponse{Expense: expenseToWire(exp)}), nil
}

// RecordPayment records a settlement between two users.
func (s *LedgerService) RecordPayment(ctx context.Context, req *connect.Request[ledgerv1.RecordPaymentRequest]) (*connect.Response[ledgerv1.RecordPaymentResponse], error) {
	msg := req.Msg
	s.logger.InfoContext(ctx, "RecordPayment request received",
		"request_id", msg.RequestID,
		"from", msg.From,
		"to", msg.To,
	)

	actor, err := actorOr(ctx, "", msg.From)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(msg.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := money.ToMinor(msg.Amount, currency)
	if err != nil {
		return nil, invalidArgument(err)
	}

	p, err := s.ledger.RecordPayment(ctx, actor, models.Payment{
		From:     msg.From,
		To:       msg.To,
		Amount:   amount,
		Currency: currency,
		GroupID:  msg.GroupID,
		ShareIDs: msg.ShareIDs,
		Note:     msg.Note,
		Date:     timeOrZero(msg.Date),
	}, msg.RequestID)
	if err != nil {
		s.logger.WarnContext(ctx, "RecordPayment failed", "request_id", msg.RequestID, "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.RecordPaymentResponse{PaymentID: p.ID, ShareIDs: p.ShareIDs}), nil
}

// PostMessage writes a message into the feeds of a group or a recipient list.
func (s *LedgerService) PostMessage(ctx context.Context, req *connect.Request[ledgerv1.PostMessageRequest]) (*connect.Response[ledgerv1.PostMessageResponse], error) {
	sender, err := middleware.Actor(ctx, req.Msg.SenderID)
	if err != nil {
		return nil, err
	}
	n, err := s.ledger.PostMessage(ctx, sender, req.Msg.GroupID, req.Msg.RecipientIDs, req.Msg.Text)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ledgerv1.PostMessageResponse{Count: n}), nil
}

// GetExpenseHistory returns every revision of an expense to a user involved
// in any of them.
func (s *LedgerService) GetExpenseHistory(ctx context.Context, req *connect.Request[ledgerv1.GetExpenseHistoryRequest]) (*connect.Response[ledgerv1.GetExpenseHistoryResponse], error) {
	userID, err := middleware.Actor(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	revisions, _, err := s.ledger.History(ctx, req.Msg.ExpenseID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if !slices.ContainsFunc(revisions, func(r models.Expense) bool { return r.Involves(userID) }) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("user %s is not involved in expense %s", userID, req.Msg.ExpenseID))
	}
	resp := &ledgerv1.GetExpenseHistoryResponse{Revisions: make([]ledgerv1.Expense, len(revisions))}
	for i, r := range revisions {
		resp.Revisions[i] = expenseToWire(r)
	}
	return connect.NewResponse(resp), nil
}

// actorOr resolves the acting user. Unauthenticated requests that name no
// actor act as fallback.
func actorOr(ctx context.Context, claimed, fallback string) (string, error) {
	if claimed == "" && middleware.GetUserID(ctx) == "" {
		claimed = fallback
	}
	return middleware.Actor(ctx, claimed)
}
