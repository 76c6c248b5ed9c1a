// Package helpers provides seeding functions for integration tests.
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/pkg/commissionpkg"
	"github.com/go-petr/pet-escrow/pkg/dbpkg"
	"github.com/go-petr/pet-escrow/pkg/passpkg"
	"github.com/go-petr/pet-escrow/pkg/randompkg"
	"github.com/go-petr/pet-escrow/pkg/txidpkg"
	"github.com/shopspring/decimal"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "secret"

// SeedAccount creates a random account holding balance.
func SeedAccount(t *testing.T, db dbpkg.SQLInterface, balance decimal.Decimal) domain.Account {
	t.Helper()

	hashedPassword, err := passpkg.Hash(DefaultPassword)
	if err != nil {
		t.Fatalf("passpkg.Hash(%q) returned error: %v", DefaultPassword, err)
	}

	const query = `
	INSERT INTO accounts (username, email, full_name, hashed_password, balance)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, username, email, full_name, hashed_password, balance, created_at`

	var a domain.Account

	err = db.QueryRowContext(context.Background(), query,
		randompkg.Owner()+randompkg.String(4),
		randompkg.Email(),
		randompkg.Owner(),
		hashedPassword,
		balance,
	).Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.HashedPassword, &a.Balance, &a.CreatedAt)
	if err != nil {
		t.Fatalf("SeedAccount returned error: %v", err)
	}

	return a
}

// SeedAccountWith1000Balance creates a random account holding 1000.00.
func SeedAccountWith1000Balance(t *testing.T, db dbpkg.SQLInterface) domain.Account {
	t.Helper()

	return SeedAccount(t, db, decimal.NewFromInt(1000))
}

// SeedTransaction inserts a transaction between sender and receiver with the given status.
//
// Balances are not touched.
func SeedTransaction(t *testing.T, db dbpkg.SQLInterface, senderID, receiverID int32,
	amount decimal.Decimal, status domain.TransactionStatus) domain.Transaction {
	t.Helper()

	commission, net := commissionpkg.Compute(amount)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx := domain.Transaction{
		ID:             txidpkg.New().Next(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Amount:         amount,
		Commission:     commission,
		NetAmount:      net,
		Description:    randompkg.String(20),
		Status:         status,
		SenderApproved: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if status == domain.StatusCompleted {
		tx.ReceiverApproved = true
		tx.CompletedAt = &now
	}

	const query = `
	INSERT INTO escrow_transactions (
		id, sender_id, receiver_id, amount, commission, net_amount, description, notes,
		status, sender_approved, receiver_approved, created_at, updated_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.ExecContext(context.Background(), query,
		tx.ID, tx.SenderID, tx.ReceiverID, tx.Amount, tx.Commission, tx.NetAmount, tx.Description,
		tx.Notes, tx.Status, tx.SenderApproved, tx.ReceiverApproved, tx.CreatedAt, tx.UpdatedAt,
		tx.CompletedAt,
	)
	if err != nil {
		t.Fatalf("SeedTransaction returned error: %v", err)
	}

	return tx
}

// SeedEntries creates n FUNDING entries for the account.
func SeedEntries(t *testing.T, db dbpkg.SQLInterface, n int, accountID int32) []domain.Entry {
	t.Helper()

	const query = `
	INSERT INTO entries (account_id, kind, amount)
	VALUES ($1, $2, $3)
	RETURNING id, account_id, kind, amount, created_at`

	entries := make([]domain.Entry, 0, n)

	for i := 0; i < n; i++ {
		var e domain.Entry

		err := db.QueryRowContext(context.Background(), query,
			accountID, domain.EntryFunding, randompkg.MoneyAmountBetween(1, 100),
		).Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.CreatedAt)
		if err != nil {
			t.Fatalf("SeedEntries returned error: %v", err)
		}

		entries = append(entries, e)
	}

	return entries
}
