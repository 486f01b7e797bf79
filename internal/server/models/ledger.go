package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerReason classifies a balance-affecting event.
type LedgerReason string

const (
	LedgerPurchase      LedgerReason = "purchase"
	LedgerCreationDebit LedgerReason = "creation_debit"
	LedgerRefund        LedgerReason = "refund"
	LedgerGrant         LedgerReason = "grant"
)

// LedgerEntry is an immutable record of a single balance change. Entries are
// never updated or deleted; corrections are new entries. The running sum of
// Delta per account must equal the account's materialized balance.
//
// Reference links the entry to its trigger: a capsule ID for debits and
// refunds, a payment provider ID for purchases. Amount and Currency record
// the money paid on purchase events and are informational only.
type LedgerEntry struct {
	ID        string
	AccountID string
	Delta     int64
	Reason    LedgerReason
	Reference string
	Amount    decimal.Decimal
	Currency  string
	CreatedAt time.Time
}
