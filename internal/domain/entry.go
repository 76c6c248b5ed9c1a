package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind names the reason of a balance change.
type EntryKind string

// Ledger entry kinds.
const (
	EntryFunding    EntryKind = "FUNDING"
	EntryEscrowHold EntryKind = "ESCROW_HOLD"
	EntryRelease    EntryKind = "RELEASE"
	EntryRefund     EntryKind = "REFUND"
)

// Entry holds balance change data for an account.
type Entry struct {
	ID            int64           `json:"id"`
	AccountID     int32           `json:"account_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"` // can be negative or positive
	CreatedAt     time.Time       `json:"created_at"`
}

// Posting is a single balance change requested from the ledger.
//
// Amount is always positive; the ledger operation decides the sign of the entry.
type Posting struct {
	AccountID     int32
	Amount        decimal.Decimal
	TransactionID string
	Kind          EntryKind
}
