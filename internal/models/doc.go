// Package models defines the core domain models for the split ledger.
//
// # Ledger Models
//
// The ledger is append-only. Everything balances and statistics show is derived from:
//   - Expense: an amount paid by one user and divided into shares
//   - ExpenseShare: one user's portion of an expense
//   - Correction: an adjustment that supersedes an expense's shares (or voids it)
//   - Payment: a settlement that marks shares as paid
//
// # Feed Models
//
//   - Activity: an immutable feed entry owned by one user
//   - Watermark: the most recent feed position a user has acknowledged
//
// # Amounts
//
// All amounts are int64 minor currency units (cents for USD). Conversion to and from
// decimal strings happens at the API edge, see internal/money.
//
// # Design Principles
//
// 1. **Append-only**: nothing is deleted; a delete is a correction with Void set
// 2. **IDs, not pointers**: relationships are expressed with ID strings
// 3. **Closed enumerations**: Category and activity variants are exhaustive
package models
