// Package ledgerv1 defines the wire messages of the splitledger.v1 services.
//
// Messages travel as JSON over the Connect protocol. Amounts are decimal
// strings in the currency's major unit ("12.34" for USD), timestamps are
// RFC 3339.
package ledgerv1
