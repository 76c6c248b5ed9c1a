// Package escrowrepo manages repository layer of escrow transactions.
//
// It provides two stores for the escrow service: StorePGS backed by Postgres and RepoMem kept
// in process memory.
package escrowrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-petr/pet-escrow/internal/accountrepo"
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/entryrepo"
	"github.com/go-petr/pet-escrow/internal/escrowservice"
	"github.com/go-petr/pet-escrow/pkg/dbpkg"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// StorePGS runs escrow units of work in Postgres transactions.
type StorePGS struct {
	conn        *sql.DB
	lockTimeout time.Duration
	registry    *RegistryPGS
}

// NewStorePGS returns StorePGS. Every unit of work waits at most lockTimeout for a row lock.
func NewStorePGS(conn *sql.DB, lockTimeout time.Duration) *StorePGS {
	return &StorePGS{
		conn:        conn,
		lockTimeout: lockTimeout,
		registry:    NewRegistryPGS(conn),
	}
}

// ExecTx runs fn within a single database transaction and commits it if fn succeeds.
func (s *StorePGS) ExecTx(ctx context.Context, fn escrowservice.TxFunc) error {
	l := zerolog.Ctx(ctx)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			l.Error().Err(err).Send()
		}
	}()

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, q); err != nil {
			l.Error().Err(err).Send()
			return errorspkg.ErrInternal
		}
	}

	if err := fn(ctx, NewLedgerPGS(tx), NewRegistryPGS(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if accountrepo.IsTransient(err) {
			l.Warn().Err(err).Send()
			return domain.ErrConcurrentUpdate
		}

		l.Error().Err(err).Send()

		return errorspkg.ErrInternal
	}

	return nil
}

// GetTransaction returns the committed state of the transaction.
func (s *StorePGS) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return s.registry.Get(ctx, id)
}

// ListTransactions returns the transactions of the account, newest first.
func (s *StorePGS) ListTransactions(ctx context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error) {
	return s.registry.List(ctx, arg)
}

// LedgerPGS applies postings to account balances and journals them as entries.
type LedgerPGS struct {
	accounts *accountrepo.RepoPGS
	entries  *entryrepo.RepoPGS
}

// NewLedgerPGS returns LedgerPGS. Pass a *sql.Tx so balance and entry stay together.
func NewLedgerPGS(db dbpkg.SQLInterface) *LedgerPGS {
	return &LedgerPGS{
		accounts: accountrepo.NewRepoPGS(db),
		entries:  entryrepo.NewRepoPGS(db),
	}
}

// Get returns the account with the given id.
func (l *LedgerPGS) Get(ctx context.Context, accountID int32) (domain.Account, error) {
	return l.accounts.Get(ctx, accountID)
}

// TryDebit subtracts the posting amount if the balance covers it and journals a negative entry.
func (l *LedgerPGS) TryDebit(ctx context.Context, p domain.Posting) (domain.Account, error) {
	a, err := l.accounts.TryDebit(ctx, p.AccountID, p.Amount)
	if err != nil {
		return domain.Account{}, err
	}

	if err := l.journal(ctx, p, false); err != nil {
		return domain.Account{}, err
	}

	return a, nil
}

// Credit adds the posting amount and journals a positive entry.
func (l *LedgerPGS) Credit(ctx context.Context, p domain.Posting) (domain.Account, error) {
	a, err := l.accounts.Credit(ctx, p.AccountID, p.Amount)
	if err != nil {
		return domain.Account{}, err
	}

	if err := l.journal(ctx, p, true); err != nil {
		return domain.Account{}, err
	}

	return a, nil
}

func (l *LedgerPGS) journal(ctx context.Context, p domain.Posting, credit bool) error {
	amount := p.Amount
	if !credit {
		amount = amount.Neg()
	}

	_, err := l.entries.Create(ctx, domain.Entry{
		AccountID:     p.AccountID,
		TransactionID: p.TransactionID,
		Kind:          p.Kind,
		Amount:        amount,
	})

	return err
}

// RegistryPGS facilitates escrow transaction repository layer logic.
type RegistryPGS struct {
	db dbpkg.SQLInterface
}

// NewRegistryPGS returns RegistryPGS.
func NewRegistryPGS(db dbpkg.SQLInterface) *RegistryPGS {
	return &RegistryPGS{db: db}
}

const transactionColumns = `id, sender_id, receiver_id, amount, commission, net_amount, description, notes,
	status, sender_approved, receiver_approved, created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		t           domain.Transaction
		completedAt sql.NullTime
	)

	err := s.Scan(
		&t.ID,
		&t.SenderID,
		&t.ReceiverID,
		&t.Amount,
		&t.Commission,
		&t.NetAmount,
		&t.Description,
		&t.Notes,
		&t.Status,
		&t.SenderApproved,
		&t.ReceiverApproved,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	return t, nil
}

const createQuery = `
INSERT INTO escrow_transactions (
    id, sender_id, receiver_id, amount, commission, net_amount, description, notes,
    status, sender_approved, receiver_approved, created_at, updated_at, completed_at
) VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + transactionColumns

// Create inserts the transaction and then returns it.
func (r *RegistryPGS) Create(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	row := r.db.QueryRowContext(ctx, createQuery,
		t.ID,
		t.SenderID,
		t.ReceiverID,
		t.Amount,
		t.Commission,
		t.NetAmount,
		t.Description,
		t.Notes,
		t.Status,
		t.SenderApproved,
		t.ReceiverApproved,
		t.CreatedAt,
		t.UpdatedAt,
		t.CompletedAt,
	)

	created, err := scanTransaction(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Constraint {
			case "escrow_transactions_pkey":
				l.Warn().Err(err).Str("transaction_id", t.ID).Send()
				return domain.Transaction{}, domain.ErrTransactionIDConflict
			case "escrow_transactions_sender_id_fkey":
				return domain.Transaction{}, domain.ErrAccountNotFound
			case "escrow_transactions_receiver_id_fkey":
				return domain.Transaction{}, domain.ErrReceiverNotFound
			}
		}

		return domain.Transaction{}, mapErr(ctx, err)
	}

	return created, nil
}

const getQuery = `
SELECT ` + transactionColumns + `
FROM escrow_transactions
WHERE id = $1
`

// Get returns the transaction with the given id.
func (r *RegistryPGS) Get(ctx context.Context, id string) (domain.Transaction, error) {
	return r.get(ctx, getQuery, id)
}

const getForUpdateQuery = getQuery + `FOR UPDATE`

// GetForUpdate returns the transaction and locks its row until the database transaction ends.
func (r *RegistryPGS) GetForUpdate(ctx context.Context, id string) (domain.Transaction, error) {
	return r.get(ctx, getForUpdateQuery, id)
}

func (r *RegistryPGS) get(ctx context.Context, query, id string) (domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}

		return domain.Transaction{}, mapErr(ctx, err)
	}

	return t, nil
}

// Approval flags are OR-ed so they never go back to false.
const updateQuery = `
UPDATE escrow_transactions
SET
    status = $2,
    sender_approved = sender_approved OR $3,
    receiver_approved = receiver_approved OR $4,
    updated_at = $5,
    completed_at = $6
WHERE id = $1 AND status IN ('PENDING', 'IN_ESCROW')
RETURNING ` + transactionColumns

// Update stores the new status, approvals and timestamps of an open transaction.
//
// A transaction that already reached a terminal status is left untouched and
// domain.ErrInvalidTransactionState is returned.
func (r *RegistryPGS) Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, updateQuery,
		t.ID,
		t.Status,
		t.SenderApproved,
		t.ReceiverApproved,
		t.UpdatedAt,
		t.CompletedAt,
	)

	updated, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Transaction{}, domain.ErrInvalidTransactionState
		}

		return domain.Transaction{}, mapErr(ctx, err)
	}

	return updated, nil
}

const listQuery = `
SELECT ` + transactionColumns + `
FROM escrow_transactions
WHERE sender_id = $1 OR receiver_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

// List returns the specified number of transactions where the account takes part, newest first.
func (r *RegistryPGS) List(ctx context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, listQuery, arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}
	defer rows.Close()

	items := []domain.Transaction{}

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			l.Error().Err(err).Send()
			return nil, errorspkg.ErrInternal
		}

		items = append(items, t)
	}

	if err := rows.Close(); err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return items, nil
}

func mapErr(ctx context.Context, err error) error {
	l := zerolog.Ctx(ctx)

	if accountrepo.IsTransient(err) {
		l.Warn().Err(err).Send()
		return domain.ErrConcurrentUpdate
	}

	l.Error().Err(err).Send()

	return errorspkg.ErrInternal
}
