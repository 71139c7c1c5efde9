// Package ledgerv1connect wires the splitledger.v1 services to Connect
// handlers and clients. Every handler and client speaks JSON via
// ledgerv1.Codec.
package ledgerv1connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/pkg/api/ledgerv1"
)

const (
	LedgerServiceName = "splitledger.v1.LedgerService"
	GroupServiceName  = "splitledger.v1.GroupService"
	AuthServiceName   = "splitledger.v1.AuthService"
)

const (
	LedgerServiceGetBalanceProcedure        = "/splitledger.v1.LedgerService/GetBalance"
	LedgerServiceGetPairBalanceProcedure    = "/splitledger.v1.LedgerService/GetPairBalance"
	LedgerServiceGetGroupBalanceProcedure   = "/splitledger.v1.LedgerService/GetGroupBalance"
	LedgerServiceGetStatisticsProcedure     = "/splitledger.v1.LedgerService/GetStatistics"
	LedgerServiceGetFeedProcedure           = "/splitledger.v1.LedgerService/GetFeed"
	LedgerServiceGetUnreadCountProcedure    = "/splitledger.v1.LedgerService/GetUnreadCount"
	LedgerServiceMarkReadProcedure          = "/splitledger.v1.LedgerService/MarkRead"
	LedgerServiceRecordExpenseProcedure     = "/splitledger.v1.LedgerService/RecordExpense"
	LedgerServiceRecordCorrectionProcedure  = "/splitledger.v1.LedgerService/RecordCorrection"
	LedgerServiceRecordPaymentProcedure     = "/splitledger.v1.LedgerService/RecordPayment"
	LedgerServicePostMessageProcedure       = "/splitledger.v1.LedgerService/PostMessage"
	LedgerServiceGetExpenseHistoryProcedure = "/splitledger.v1.LedgerService/GetExpenseHistory"

	GroupServiceCreateGroupProcedure  = "/splitledger.v1.GroupService/CreateGroup"
	GroupServiceGetGroupProcedure     = "/splitledger.v1.GroupService/GetGroup"
	GroupServiceAddMemberProcedure    = "/splitledger.v1.GroupService/AddMember"
	GroupServiceRemoveMemberProcedure = "/splitledger.v1.GroupService/RemoveMember"

	AuthServiceRegisterProcedure = "/splitledger.v1.AuthService/Register"
	AuthServiceLoginProcedure    = "/splitledger.v1.AuthService/Login"
)

// Queries are side-effect free and may be retried freely.
var idempotentQueries = map[string]bool{
	LedgerServiceGetBalanceProcedure:        true,
	LedgerServiceGetPairBalanceProcedure:    true,
	LedgerServiceGetGroupBalanceProcedure:   true,
	LedgerServiceGetStatisticsProcedure:     true,
	LedgerServiceGetFeedProcedure:           true,
	LedgerServiceGetUnreadCountProcedure:    true,
	LedgerServiceGetExpenseHistoryProcedure: true,
	GroupServiceGetGroupProcedure:           true,
}

// LedgerServiceHandler serves balances, statistics, feeds and ledger writes.
type LedgerServiceHandler interface {
	GetBalance(context.Context, *connect.Request[ledgerv1.GetBalanceRequest]) (*connect.Response[ledgerv1.GetBalanceResponse], error)
	GetPairBalance(context.Context, *connect.Request[ledgerv1.GetPairBalanceRequest]) (*connect.Response[ledgerv1.GetPairBalanceResponse], error)
	GetGroupBalance(context.Context, *connect.Request[ledgerv1.GetGroupBalanceRequest]) (*connect.Response[ledgerv1.GetGroupBalanceResponse], error)
	GetStatistics(context.Context, *connect.Request[ledgerv1.GetStatisticsRequest]) (*connect.Response[ledgerv1.GetStatisticsResponse], error)
	GetFeed(context.Context, *connect.Request[ledgerv1.GetFeedRequest]) (*connect.Response[ledgerv1.GetFeedResponse], error)
	GetUnreadCount(context.Context, *connect.Request[ledgerv1.GetUnreadCountRequest]) (*connect.Response[ledgerv1.GetUnreadCountResponse], error)
	MarkRead(context.Context, *connect.Request[ledgerv1.MarkReadRequest]) (*connect.Response[ledgerv1.MarkReadResponse], error)
	RecordExpense(context.Context, *connect.Request[ledgerv1.RecordExpenseRequest]) (*connect.Response[ledgerv1.RecordExpenseResponse], error)
	RecordCorrection(context.Context, *connect.Request[ledgerv1.RecordCorrectionRequest]) (*connect.Response[ledgerv1.RecordCorrectionResponse], error)
	RecordPayment(context.Context, *connect.Request[ledgerv1.RecordPaymentRequest]) (*connect.Response[ledgerv1.RecordPaymentResponse], error)
	PostMessage(context.Context, *connect.Request[ledgerv1.PostMessageRequest]) (*connect.Response[ledgerv1.PostMessageResponse], error)
	GetExpenseHistory(context.Context, *connect.Request[ledgerv1.GetExpenseHistoryRequest]) (*connect.Response[ledgerv1.GetExpenseHistoryResponse], error)
}

// GroupServiceHandler manages groups and their membership.
type GroupServiceHandler interface {
	CreateGroup(context.Context, *connect.Request[ledgerv1.CreateGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error)
	GetGroup(context.Context, *connect.Request[ledgerv1.GetGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error)
	AddMember(context.Context, *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error)
	RemoveMember(context.Context, *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error)
}

// AuthServiceHandler registers and logs in users.
type AuthServiceHandler interface {
	Register(context.Context, *connect.Request[ledgerv1.RegisterRequest]) (*connect.Response[ledgerv1.AuthResponse], error)
	Login(context.Context, *connect.Request[ledgerv1.LoginRequest]) (*connect.Response[ledgerv1.AuthResponse], error)
}

func handlerOptions(procedure string, opts []connect.HandlerOption) []connect.HandlerOption {
	out := []connect.HandlerOption{connect.WithCodec(ledgerv1.Codec{})}
	if idempotentQueries[procedure] {
		out = append(out, connect.WithIdempotency(connect.IdempotencyNoSideEffects))
	}
	return append(out, opts...)
}

func unary[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), opts []connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, handlerOptions(procedure, opts)...))
}

// NewLedgerServiceHandler builds an HTTP handler for svc. It returns the path
// to mount it on.
func NewLedgerServiceHandler(svc LedgerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	unary(mux, LedgerServiceGetBalanceProcedure, svc.GetBalance, opts)
	unary(mux, LedgerServiceGetPairBalanceProcedure, svc.GetPairBalance, opts)
	unary(mux, LedgerServiceGetGroupBalanceProcedure, svc.GetGroupBalance, opts)
	unary(mux, LedgerServiceGetStatisticsProcedure, svc.GetStatistics, opts)
	unary(mux, LedgerServiceGetFeedProcedure, svc.GetFeed, opts)
	unary(mux, LedgerServiceGetUnreadCountProcedure, svc.GetUnreadCount, opts)
	unary(mux, LedgerServiceMarkReadProcedure, svc.MarkRead, opts)
	unary(mux, LedgerServiceRecordExpenseProcedure, svc.RecordExpense, opts)
	unary(mux, LedgerServiceRecordCorrectionProcedure, svc.RecordCorrection, opts)
	unary(mux, LedgerServiceRecordPaymentProcedure, svc.RecordPayment, opts)
	unary(mux, LedgerServicePostMessageProcedure, svc.PostMessage, opts)
	unary(mux, LedgerServiceGetExpenseHistoryProcedure, svc.GetExpenseHistory, opts)
	return "/" + LedgerServiceName + "/", mux
}

// NewGroupServiceHandler builds an HTTP handler for svc.
func NewGroupServiceHandler(svc GroupServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	unary(mux, GroupServiceCreateGroupProcedure, svc.CreateGroup, opts)
	unary(mux, GroupServiceGetGroupProcedure, svc.GetGroup, opts)
	unary(mux, GroupServiceAddMemberProcedure, svc.AddMember, opts)
	unary(mux, GroupServiceRemoveMemberProcedure, svc.RemoveMember, opts)
	return "/" + GroupServiceName + "/", mux
}

// NewAuthServiceHandler builds an HTTP handler for svc.
func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	unary(mux, AuthServiceRegisterProcedure, svc.Register, opts)
	unary(mux, AuthServiceLoginProcedure, svc.Login, opts)
	return "/" + AuthServiceName + "/", mux
}

func newClient[Req, Res any](httpClient connect.HTTPClient, baseURL, procedure string, opts []connect.ClientOption) *connect.Client[Req, Res] {
	options := []connect.ClientOption{connect.WithCodec(ledgerv1.Codec{})}
	if idempotentQueries[procedure] {
		options = append(options, connect.WithIdempotency(connect.IdempotencyNoSideEffects))
	}
	return connect.NewClient[Req, Res](httpClient, strings.TrimRight(baseURL, "/")+procedure, append(options, opts...)...)
}

// LedgerServiceClient calls a remote LedgerService.
type LedgerServiceClient struct {
	getBalance        *connect.Client[ledgerv1.GetBalanceRequest, ledgerv1.GetBalanceResponse]
	getPairBalance    *connect.Client[ledgerv1.GetPairBalanceRequest, ledgerv1.GetPairBalanceResponse]
	getGroupBalance   *connect.Client[ledgerv1.GetGroupBalanceRequest, ledgerv1.GetGroupBalanceResponse]
	getStatistics     *connect.Client[ledgerv1.GetStatisticsRequest, ledgerv1.GetStatisticsResponse]
	getFeed           *connect.Client[ledgerv1.GetFeedRequest, ledgerv1.GetFeedResponse]
	getUnreadCount    *connect.Client[ledgerv1.GetUnreadCountRequest, ledgerv1.GetUnreadCountResponse]
	markRead          *connect.Client[ledgerv1.MarkReadRequest, ledgerv1.MarkReadResponse]
	recordExpense     *connect.Client[ledgerv1.RecordExpenseRequest, ledgerv1.RecordExpenseResponse]
	recordCorrection  *connect.Client[ledgerv1.RecordCorrectionRequest, ledgerv1.RecordCorrectionResponse]
	recordPayment     *connect.Client[ledgerv1.RecordPaymentRequest, ledgerv1.RecordPaymentResponse]
	postMessage       *connect.Client[ledgerv1.PostMessageRequest, ledgerv1.PostMessageResponse]
	getExpenseHistory *connect.Client[ledgerv1.GetExpenseHistoryRequest, ledgerv1.GetExpenseHistoryResponse]
}

// NewLedgerServiceClient returns a client for the LedgerService at baseURL.
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	return &LedgerServiceClient{
		getBalance: newClient[ledgerv1.GetBalanceRequest, ledgerv1.GetBalanceResponse](
			httpClient, baseURL, LedgerServiceGetBalanceProcedure, opts),
		getPairBalance: newClient[ledgerv1.GetPairBalanceRequest, ledgerv1.GetPairBalanceResponse](
			httpClient, baseURL, LedgerServiceGetPairBalanceProcedure, opts),
		getGroupBalance: newClient[ledgerv1.GetGroupBalanceRequest, ledgerv1.GetGroupBalanceResponse](
			httpClient, baseURL, LedgerServiceGetGroupBalanceProcedure, opts),
		getStatistics: newClient[ledgerv1.GetStatisticsRequest, ledgerv1.GetStatisticsResponse](
			httpClient, baseURL, LedgerServiceGetStatisticsProcedure, opts),
		getFeed: newClient[ledgerv1.GetFeedRequest, ledgerv1.GetFeedResponse](
			httpClient, baseURL, LedgerServiceGetFeedProcedure, opts),
		getUnreadCount: newClient[ledgerv1.GetUnreadCountRequest, ledgerv1.GetUnreadCountResponse](
			httpClient, baseURL, LedgerServiceGetUnreadCountProcedure, opts),
		markRead: newClient[ledgerv1.MarkReadRequest, ledgerv1.MarkReadResponse](
			httpClient, baseURL, LedgerServiceMarkReadProcedure, opts),
		recordExpense: newClient[ledgerv1.RecordExpenseRequest, ledgerv1.RecordExpenseResponse](
			httpClient, baseURL, LedgerServiceRecordExpenseProcedure, opts),
		recordCorrection: newClient[ledgerv1.RecordCorrectionRequest, ledgerv1.RecordCorrectionResponse](
			httpClient, baseURL, LedgerServiceRecordCorrectionProcedure, opts),
		recordPayment: newClient[ledgerv1.RecordPaymentRequest, ledgerv1.RecordPaymentResponse](
			httpClient, baseURL, LedgerServiceRecordPaymentProcedure, opts),
		postMessage: newClient[ledgerv1.PostMessageRequest, ledgerv1.PostMessageResponse](
			httpClient, baseURL, LedgerServicePostMessageProcedure, opts),
		getExpenseHistory: newClient[ledgerv1.GetExpenseHistoryRequest, ledgerv1.GetExpenseHistoryResponse](
			httpClient, baseURL, LedgerServiceGetExpenseHistoryProcedure, opts),
	}
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, req *connect.Request[ledgerv1.GetBalanceRequest]) (*connect.Response[ledgerv1.GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetPairBalance(ctx context.Context, req *connect.Request[ledgerv1.GetPairBalanceRequest]) (*connect.Response[ledgerv1.GetPairBalanceResponse], error) {
	return c.getPairBalance.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetGroupBalance(ctx context.Context, req *connect.Request[ledgerv1.GetGroupBalanceRequest]) (*connect.Response[ledgerv1.GetGroupBalanceResponse], error) {
	return c.getGroupBalance.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetStatistics(ctx context.Context, req *connect.Request[ledgerv1.GetStatisticsRequest]) (*connect.Response[ledgerv1.GetStatisticsResponse], error) {
	return c.getStatistics.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetFeed(ctx context.Context, req *connect.Request[ledgerv1.GetFeedRequest]) (*connect.Response[ledgerv1.GetFeedResponse], error) {
	return c.getFeed.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetUnreadCount(ctx context.Context, req *connect.Request[ledgerv1.GetUnreadCountRequest]) (*connect.Response[ledgerv1.GetUnreadCountResponse], error) {
	return c.getUnreadCount.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) MarkRead(ctx context.Context, req *connect.Request[ledgerv1.MarkReadRequest]) (*connect.Response[ledgerv1.MarkReadResponse], error) {
	return c.markRead.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) RecordExpense(ctx context.Context, req *connect.Request[ledgerv1.RecordExpenseRequest]) (*connect.Response[ledgerv1.RecordExpenseResponse], error) {
	return c.recordExpense.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) RecordCorrection(ctx context.Context, req *connect.Request[ledgerv1.RecordCorrectionRequest]) (*connect.Response[ledgerv1.RecordCorrectionResponse], error) {
	return c.recordCorrection.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) RecordPayment(ctx context.Context, req *connect.Request[ledgerv1.RecordPaymentRequest]) (*connect.Response[ledgerv1.RecordPaymentResponse], error) {
	return c.recordPayment.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) PostMessage(ctx context.Context, req *connect.Request[ledgerv1.PostMessageRequest]) (*connect.Response[ledgerv1.PostMessageResponse], error) {
	return c.postMessage.CallUnary(ctx, req)
}

func (c *LedgerServiceClient) GetExpenseHistory(ctx context.Context, req *connect.Request[ledgerv1.GetExpenseHistoryRequest]) (*connect.Response[ledgerv1.GetExpenseHistoryResponse], error) {
	return c.getExpenseHistory.CallUnary(ctx, req)
}

// GroupServiceClient calls a remote GroupService.
type GroupServiceClient struct {
	createGroup  *connect.Client[ledgerv1.CreateGroupRequest, ledgerv1.GroupResponse]
	getGroup     *connect.Client[ledgerv1.GetGroupRequest, ledgerv1.GroupResponse]
	addMember    *connect.Client[ledgerv1.MembershipRequest, ledgerv1.GroupResponse]
	removeMember *connect.Client[ledgerv1.MembershipRequest, ledgerv1.GroupResponse]
}

// NewGroupServiceClient returns a client for the GroupService at baseURL.
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *GroupServiceClient {
	return &GroupServiceClient{
		createGroup: newClient[ledgerv1.CreateGroupRequest, ledgerv1.GroupResponse](
			httpClient, baseURL, GroupServiceCreateGroupProcedure, opts),
		getGroup: newClient[ledgerv1.GetGroupRequest, ledgerv1.GroupResponse](
			httpClient, baseURL, GroupServiceGetGroupProcedure, opts),
		addMember: newClient[ledgerv1.MembershipRequest, ledgerv1.GroupResponse](
			httpClient, baseURL, GroupServiceAddMemberProcedure, opts),
		removeMember: newClient[ledgerv1.MembershipRequest, ledgerv1.GroupResponse](
			httpClient, baseURL, GroupServiceRemoveMemberProcedure, opts),
	}
}

func (c *GroupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[ledgerv1.CreateGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) GetGroup(ctx context.Context, req *connect.Request[ledgerv1.GetGroupRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) AddMember(ctx context.Context, req *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return c.addMember.CallUnary(ctx, req)
}

func (c *GroupServiceClient) RemoveMember(ctx context.Context, req *connect.Request[ledgerv1.MembershipRequest]) (*connect.Response[ledgerv1.GroupResponse], error) {
	return c.removeMember.CallUnary(ctx, req)
}

// AuthServiceClient calls a remote AuthService.
type AuthServiceClient struct {
	register *connect.Client[ledgerv1.RegisterRequest, ledgerv1.AuthResponse]
	login    *connect.Client[ledgerv1.LoginRequest, ledgerv1.AuthResponse]
}

// NewAuthServiceClient returns a client for the AuthService at baseURL.
func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuthServiceClient {
	return &AuthServiceClient{
		register: newClient[ledgerv1.RegisterRequest, ledgerv1.AuthResponse](
			httpClient, baseURL, AuthServiceRegisterProcedure, opts),
		login: newClient[ledgerv1.LoginRequest, ledgerv1.AuthResponse](
			httpClient, baseURL, AuthServiceLoginProcedure, opts),
	}
}

func (c *AuthServiceClient) Register(ctx context.Context, req *connect.Request[ledgerv1.RegisterRequest]) (*connect.Response[ledgerv1.AuthResponse], error) {
	return c.register.CallUnary(ctx, req)
}

func (c *AuthServiceClient) Login(ctx context.Context, req *connect.Request[ledgerv1.LoginRequest]) (*connect.Response[ledgerv1.AuthResponse], error) {
	return c.login.CallUnary(ctx, req)
}
