// Package client is a Go client for the splitledger services.
//
// Commands carry a request ID. The client fills one in when the caller did
// not, and keeps it across retries so a retried command is applied at most
// once.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/mmynk/splitledger/pkg/api/ledgerv1"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1/ledgerv1connect"
)

// Client calls the ledger and group services with retries.
type Client struct {
	ledger *ledgerv1connect.LedgerServiceClient
	groups *ledgerv1connect.GroupServiceClient
	auth   *ledgerv1connect.AuthServiceClient

	token       string
	maxTries    uint
	initialWait time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxTries bounds attempts per call. The default is 4.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(c *Client) { c.initialWait = d }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the server at baseURL.
func New(httpClient connect.HTTPClient, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		ledger:      ledgerv1connect.NewLedgerServiceClient(httpClient, baseURL),
		groups:      ledgerv1connect.NewGroupServiceClient(httpClient, baseURL),
		auth:        ledgerv1connect.NewAuthServiceClient(httpClient, baseURL),
		maxTries:    4,
		initialWait: 100 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether a failed call may be sent again.
func retryable(err error) bool {
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeAborted, connect.CodeResourceExhausted:
		return true
	}
	return false
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), msg *Req) (*Res, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialWait

	op := func() (*Res, error) {
		req := connect.NewRequest(msg)
		if c.token != "" {
			req.Header().Set("Authorization", "Bearer "+c.token)
		}
		resp, err := fn(ctx, req)
		if err != nil {
			if retryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp.Msg, nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "Retrying call", "procedure", procedure, "error", err, "wait", wait)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
	// The last try returns its error as is, possibly still marked permanent.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return nil, perm.Unwrap()
	}
	return res, err
}

func requestID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Register creates an account and keeps its token for later calls.
func (c *Client) Register(ctx context.Context, req *ledgerv1.RegisterRequest) (*ledgerv1.AuthResponse, error) {
	resp, err := call(ctx, c, ledgerv1connect.AuthServiceRegisterProcedure, c.auth.Register, req)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return resp, nil
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*ledgerv1.AuthResponse, error) {
	resp, err := call(ctx, c, ledgerv1connect.AuthServiceLoginProcedure, c.auth.Login,
		&ledgerv1.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return resp, nil
}

// Balance returns userID's balance in currency. Empty values mean the caller
// and the server's default currency.
func (c *Client) Balance(ctx context.Context, userID, currency string) (*ledgerv1.GetBalanceResponse, error) {
	return call(ctx, c, ledgerv1connect.LedgerServiceGetBalanceProcedure, c.ledger.GetBalance,
		&ledgerv1.GetBalanceRequest{UserID: userID, Currency: currency})
}

// Statistics returns spending rollups for userID.
func (c *Client) Statistics(ctx context.Context, req *ledgerv1.GetStatisticsRequest) (*ledgerv1.GetStatisticsResponse, error) {
	return call(ctx, c, ledgerv1connect.LedgerServiceGetStatisticsProcedure, c.ledger.GetStatistics, req)
}

// Feed returns one page of userID's feed.
func (c *Client) Feed(ctx context.Context, userID, cursor string, limit int) (*ledgerv1.GetFeedResponse, error) {
	return call(ctx, c, ledgerv1connect.LedgerServiceGetFeedProcedure, c.ledger.GetFeed,
		&ledgerv1.GetFeedRequest{UserID: userID, Cursor: cursor, Limit: limit})
}

// UnreadCount returns how many feed entries userID has not read.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	resp, err := call(ctx, c, ledgerv1connect.LedgerServiceGetUnreadCountProcedure, c.ledger.GetUnreadCount,
		&ledgerv1.GetUnreadCountRequest{UserID: userID})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead acknowledges userID's feed up to its current head.
func (c *Client) MarkRead(ctx context.Context, userID string) (*ledgerv1.Watermark, error) {
	req := &ledgerv1.MarkReadRequest{UserID: userID}
	requestID(&req.RequestID)
	resp, err := call(ctx, c, ledgerv1connect.LedgerServiceMarkReadProcedure, c.ledger.MarkRead, req)
	if err != nil {
		return nil, err
	}
	return &resp.Watermark, nil
}

// RecordExpense records an expense. req.RequestID is set when empty.
func (c *Client) RecordExpense(ctx context.Context, req *ledgerv1.RecordExpenseRequest) (*ledgerv1.Expense, error) {
	requestID(&req.RequestID)
	resp, err := call(ctx, c, ledgerv1connect.LedgerServiceRecordExpenseProcedure, c.ledger.RecordExpense, req)
	if err != nil {
		return nil, err
	}
	return &resp.Expense, nil
}

// RecordCorrection corrects an expense. req.RequestID is set when empty.
func (c *Client) RecordCorrection(ctx context.Context, req *ledgerv1.RecordCorrectionRequest) (*ledgerv1.Expense, error) {
	requestID(&req.RequestID)
	resp, err := call(ctx, c, ledgerv1connect.LedgerServiceRecordCorrectionProcedure, c.ledger.RecordCorrection, req)
	if err != nil {
		return nil, err
	}
	return &resp.Expense, nil
}

// RecordPayment records a settlement. req.RequestID is set when empty.
func (c *Client) RecordPayment(ctx context.Context, req *ledgerv1.RecordPaymentRequest) (*ledgerv1.RecordPaymentResponse, error) {
	requestID(&req.RequestID)
	return call(ctx, c, ledgerv1connect.LedgerServiceRecordPaymentProcedure, c.ledger.RecordPayment, req)
}

// CreateGroup creates a group with the caller as a member.
func (c *Client) CreateGroup(ctx context.Context, req *ledgerv1.CreateGroupRequest) (*ledgerv1.Group, error) {
	resp, err := call(ctx, c, ledgerv1connect.GroupServiceCreateGroupProcedure, c.groups.CreateGroup, req)
	if err != nil {
		return nil, err
	}
	return &resp.Group, nil
}
