package ledgerv1

import "time"

type Share struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id"`
	// Amount is ignored when the expense is split equally.
	Amount string `json:"amount,omitempty"`
	Paid   bool   `json:"paid,omitempty"`
}

type Expense struct {
	ID           string    `json:"id"`
	Description  string    `json:"description,omitempty"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Date         time.Time `json:"date"`
	PaidBy       string    `json:"paid_by"`
	GroupID      string    `json:"group_id,omitempty"`
	SplitEqually bool      `json:"split_equally,omitempty"`
	Category     string    `json:"category"`
	Shares       []Share   `json:"shares"`
	Void         bool      `json:"void,omitempty"`
	Revision     int       `json:"revision"`
	CreatedBy    string    `json:"created_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type GetBalanceRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency,omitempty"`
}

type PairBalance struct {
	OtherID string `json:"other_id"`
	// Amount is positive when the other user owes the requester.
	Amount string `json:"amount"`
}

type GetBalanceResponse struct {
	UserID         string        `json:"user_id"`
	Currency       string        `json:"currency"`
	NetBalance     string        `json:"net_balance"`
	Lent           string        `json:"lent"`
	Owed           string        `json:"owed"`
	Counterparties []PairBalance `json:"counterparties,omitempty"`
}

type GetPairBalanceRequest struct {
	UserID   string `json:"user_id"`
	OtherID  string `json:"other_id"`
	Currency string `json:"currency,omitempty"`
}

type GetPairBalanceResponse struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type GetGroupBalanceRequest struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Currency string `json:"currency,omitempty"`
}

type GetGroupBalanceResponse struct {
	Currency   string `json:"currency"`
	NetBalance string `json:"net_balance"`
	Lent       string `json:"lent"`
	Owed       string `json:"owed"`
}

type GetStatisticsRequest struct {
	UserID   string     `json:"user_id"`
	Currency string     `json:"currency,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

type WeekAmount struct {
	// WeekStart is the Monday the week starts on, as YYYY-MM-DD.
	WeekStart string `json:"week_start"`
	Amount    string `json:"amount"`
}

type GetStatisticsResponse struct {
	Currency      string            `json:"currency"`
	TotalExpenses string            `json:"total_expenses"`
	TotalIncome   string            `json:"total_income"`
	ByCategory    map[string]string `json:"by_category"`
	ByWeek        []WeekAmount      `json:"by_week"`
}

type Activity struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Date          time.Time `json:"date"`
	Description   string    `json:"description"`
	InvolvedUsers []string  `json:"involved_users"`
	GroupID       string    `json:"group_id,omitempty"`

	ExpenseID string `json:"expense_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Action    string `json:"action,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

type GetFeedRequest struct {
	UserID string `json:"user_id"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type GetFeedResponse struct {
	Activities []Activity `json:"activities"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type GetUnreadCountRequest struct {
	UserID string `json:"user_id"`
}

type GetUnreadCountResponse struct {
	Count int `json:"count"`
}

type MarkReadRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

type Watermark struct {
	ActivityID string    `json:"activity_id,omitempty"`
	Date       time.Time `json:"date"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type MarkReadResponse struct {
	Watermark Watermark `json:"watermark"`
}

type RecordExpenseRequest struct {
	RequestID    string     `json:"request_id"`
	Description  string     `json:"description,omitempty"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
	PaidBy       string     `json:"paid_by"`
	GroupID      string     `json:"group_id,omitempty"`
	SplitEqually bool       `json:"split_equally,omitempty"`
	Shares       []Share    `json:"shares"`
	Category     string     `json:"category,omitempty"`
	// ActorID is the user recording the expense. Defaults to the caller.
	ActorID string `json:"actor_id,omitempty"`
}

type RecordExpenseResponse struct {
	Expense Expense `json:"expense"`
}

type RecordCorrectionRequest struct {
	RequestID    string  `json:"request_id"`
	ExpenseID    string  `json:"expense_id"`
	Shares       []Share `json:"shares,omitempty"`
	SplitEqually bool    `json:"split_equally,omitempty"`
	Void         bool    `json:"void,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	ActorID      string  `json:"actor_id,omitempty"`
}

type RecordCorrectionResponse struct {
	Expense Expense `json:"expense"`
}

type RecordPaymentRequest struct {
	RequestID string     `json:"request_id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency,omitempty"`
	GroupID   string     `json:"group_id,omitempty"`
	ShareIDs  []string   `json:"share_ids,omitempty"`
	Note      string     `json:"note,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
}

type RecordPaymentResponse struct {
	PaymentID string   `json:"payment_id"`
	ShareIDs  []string `json:"share_ids"`
}

type PostMessageRequest struct {
	SenderID     string   `json:"sender_id"`
	GroupID      string   `json:"group_id,omitempty"`
	RecipientIDs []string `json:"recipient_ids,omitempty"`
	Text         string   `json:"text"`
}

type PostMessageResponse struct {
	Count int `json:"count"`
}

type GetExpenseHistoryRequest struct {
	UserID    string `json:"user_id"`
	ExpenseID string `json:"expense_id"`
}

type GetExpenseHistoryResponse struct {
	// Revisions are oldest first.
	Revisions []Expense `json:"revisions"`
}
