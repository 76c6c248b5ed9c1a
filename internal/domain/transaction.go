package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates an amount that is not a decimal with at most 2 places.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountTooSmall indicates an amount below the minimum of 1.
	ErrAmountTooSmall = errors.New("amount must be at least 1")
	// ErrInvalidDescription indicates an empty or too long description.
	ErrInvalidDescription = errors.New("description must be between 1 and 500 characters")
	// ErrNotesTooLong indicates notes longer than allowed.
	ErrNotesTooLong = errors.New("notes must be at most 1000 characters")
	// ErrSelfTransfer indicates that the sender and the receiver are the same account.
	ErrSelfTransfer = errors.New("cannot send money to yourself")
	// ErrReceiverNotFound indicates that the receiver account does not exist.
	ErrReceiverNotFound = errors.New("receiver not found")
	// ErrTransactionNotFound indicates that the transaction does not exist or is not visible to the caller.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrNotReceiver indicates that only the receiver may perform the action.
	ErrNotReceiver = errors.New("only receiver can approve this transaction")
	// ErrNotSender indicates that only the sender may perform the action.
	ErrNotSender = errors.New("only sender can cancel this transaction")
	// ErrInvalidTransactionState indicates that the action is not allowed in the current status.
	ErrInvalidTransactionState = errors.New("transaction cannot be changed in current status")
	// ErrAlreadyApproved indicates that the receiver has already approved the transaction.
	ErrAlreadyApproved = errors.New("cannot cancel after receiver approval")
	// ErrConflict indicates that the operation lost a concurrent race and may be retried by the client.
	ErrConflict = errors.New("conflicting concurrent operation, try again")

	// ErrTransactionIDConflict indicates that the transaction id is already taken.
	ErrTransactionIDConflict = errors.New("transaction id already exists")
	// ErrConcurrentUpdate indicates a transient storage conflict such as a lock timeout.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// Transaction limits.
const (
	MaxDescriptionLength = 500
	MaxNotesLength       = 1000
)

// AmountPlaces is the number of decimal places money amounts carry.
const AmountPlaces = 2

// Exponent bounds of a parsed amount. Rescaling past them costs big.Int
// exponentiation, so such input is rejected before any arithmetic.
const (
	maxAmountExponent = 16
	minAmountExponent = -18
)

var (
	// MinAmount is the smallest amount that can be transferred or funded.
	MinAmount = decimal.NewFromInt(1)
	// MaxAmount is the exclusive upper bound that still fits numeric(18, 2).
	MaxAmount = decimal.New(1, 16)
)

// ParseAmount parses a money amount and checks its bounds.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	if exp := amount.Exponent(); exp > maxAmountExponent || exp < minAmountExponent {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	if !amount.Equal(amount.Round(AmountPlaces)) || amount.GreaterThanOrEqual(MaxAmount) {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	if amount.LessThan(MinAmount) {
		return decimal.Decimal{}, ErrAmountTooSmall
	}

	return amount, nil
}

// ValidateDescription checks the description and notes of a transaction.
func ValidateDescription(description, notes string) error {
	if strings.TrimSpace(description) == "" || utf8.RuneCountInString(description) > MaxDescriptionLength {
		return ErrInvalidDescription
	}

	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return ErrNotesTooLong
	}

	return nil
}

// TransactionStatus is the lifecycle state of an escrow transaction.
type TransactionStatus string

// Transaction statuses.
//
// StatusDisputed is reserved for manual intervention; no operation moves a transaction into or
// out of it.
const (
	StatusPending   TransactionStatus = "PENDING"
	StatusInEscrow  TransactionStatus = "IN_ESCROW"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusDisputed  TransactionStatus = "DISPUTED"
)

// IsOpen reports whether approval or cancellation may still act on the status.
func (s TransactionStatus) IsOpen() bool {
	return s == StatusPending || s == StatusInEscrow
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInEscrow || next == StatusCompleted || next == StatusCancelled
	case StatusInEscrow:
		return next == StatusCompleted || next == StatusCancelled
	}

	return false
}

// Transaction holds the escrow record of a transfer between two accounts.
type Transaction struct {
	ID               string            `json:"id"`
	SenderID         int32             `json:"sender_id"`
	ReceiverID       int32             `json:"receiver_id"`
	Amount           decimal.Decimal   `json:"amount"`
	Commission       decimal.Decimal   `json:"commission"`
	NetAmount        decimal.Decimal   `json:"net_amount"`
	Description      string            `json:"description"`
	Notes            string            `json:"notes,omitempty"`
	Status           TransactionStatus `json:"status"`
	SenderApproved   bool              `json:"sender_approved"`
	ReceiverApproved bool              `json:"receiver_approved"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// IsParticipant reports whether the account is the sender or the receiver.
func (t Transaction) IsParticipant(accountID int32) bool {
	return t.SenderID == accountID || t.ReceiverID == accountID
}

// ResolveStatus derives the status from the approvals.
//
// Both approvals complete the transaction; the sender's approval alone keeps the funds in
// escrow. Any other combination leaves the status unchanged.
func (t Transaction) ResolveStatus() TransactionStatus {
	switch {
	case t.SenderApproved && t.ReceiverApproved:
		return StatusCompleted
	case t.SenderApproved:
		return StatusInEscrow
	}

	return t.Status
}

// CreateTransactionParams is the input data to create an escrow transaction.
type CreateTransactionParams struct {
	SenderID    int32  `json:"sender_id"`
	ReceiverID  int32  `json:"receiver_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
}

// ListTransactionsParams is the input data to list transactions of an account.
type ListTransactionsParams struct {
	AccountID int32 `json:"account_id"`
	Limit     int32 `json:"limit"`
	Offset    int32 `json:"offset"`
}
