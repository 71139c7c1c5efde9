package models

import "time"

// Payment represents a settlement from a debtor to a creditor.
// Recording a payment marks the covered shares as paid.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string

	// From is the user who paid (debtor settling up).
	From string

	// To is the user who received payment (creditor being paid).
	To string

	// Amount in minor units. Must equal the sum of the settled shares.
	Amount int64

	Currency string

	// GroupID optionally restricts automatic share allocation to one group.
	GroupID string

	// ShareIDs are the shares settled by this payment. When empty on input
	// the ledger allocates From's oldest unpaid shares on expenses paid by To.
	ShareIDs []string

	// Note is an optional description for the payment.
	Note string

	// Date is when the money changed hands.
	Date time.Time

	CreatedBy string
	CreatedAt time.Time
}
