// Package accountrepo manages repository layer of accounts.
package accountrepo

import (
	"context"
	"database/sql"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/pkg/dbpkg"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RepoPGS facilitates account repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns account RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

const accountColumns = `id, username, email, full_name, hashed_password, balance, created_at`

func scanAccount(row *sql.Row) (domain.Account, error) {
	var a domain.Account

	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.FullName,
		&a.HashedPassword,
		&a.Balance,
		&a.CreatedAt,
	)

	return a, err
}

const createQuery = `
INSERT INTO
    accounts (username, email, full_name, hashed_password)
VALUES
    ($1, $2, $3, $4)
RETURNING ` + accountColumns

// Create creates the account with zero balance and then returns it.
func (r *RepoPGS) Create(ctx context.Context, arg domain.CreateAccountParams) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	row := r.db.QueryRowContext(ctx, createQuery, arg.Username, arg.Email, arg.FullName, arg.HashedPassword)

	a, err := scanAccount(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Constraint {
			case "accounts_username_key":
				l.Info().Err(err).Send()
				return domain.Account{}, domain.ErrUsernameAlreadyExists
			case "accounts_email_key":
				l.Info().Err(err).Send()
				return domain.Account{}, domain.ErrEmailAlreadyExists
			}
		}

		l.Error().Err(err).Send()

		return domain.Account{}, errorspkg.ErrInternal
	}

	return a, nil
}

const getQuery = `
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1
`

// Get returns the account with the given id.
func (r *RepoPGS) Get(ctx context.Context, id int32) (domain.Account, error) {
	return r.getBy(ctx, getQuery, id)
}

const getByUsernameQuery = `
SELECT ` + accountColumns + `
FROM accounts
WHERE username = $1
`

// GetByUsername returns the account with the given username.
func (r *RepoPGS) GetByUsername(ctx context.Context, username string) (domain.Account, error) {
	return r.getBy(ctx, getByUsernameQuery, username)
}

const getByEmailQuery = `
SELECT ` + accountColumns + `
FROM accounts
WHERE email = $1
`

// GetByEmail returns the account with the given email.
func (r *RepoPGS) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	return r.getBy(ctx, getByEmailQuery, email)
}

func (r *RepoPGS) getBy(ctx context.Context, query string, arg any) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Account{}, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		return domain.Account{}, errorspkg.ErrInternal
	}

	return a, nil
}

const tryDebitQuery = `
UPDATE accounts
SET balance = balance - $1
WHERE id = $2 AND balance >= $1
RETURNING ` + accountColumns

const existsQuery = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`

// TryDebit subtracts amount from the balance if the balance covers it.
//
// The check and the subtraction are a single statement, so two concurrent debits can never
// both pass the check against the same funds.
func (r *RepoPGS) TryDebit(ctx context.Context, id int32, amount decimal.Decimal) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	a, err := scanAccount(r.db.QueryRowContext(ctx, tryDebitQuery, amount, id))
	if err == nil {
		return a, nil
	}

	if err != sql.ErrNoRows {
		return domain.Account{}, mapBalanceErr(ctx, err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return domain.Account{}, mapBalanceErr(ctx, err)
	}

	if !exists {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	l.Info().Int32("account_id", id).Str("amount", amount.String()).Msg("insufficient balance")

	return domain.Account{}, domain.ErrInsufficientBalance
}

const creditQuery = `
UPDATE accounts
SET balance = balance + $1
WHERE id = $2
RETURNING ` + accountColumns

// Credit adds amount to the balance and returns the changed account.
func (r *RepoPGS) Credit(ctx context.Context, id int32, amount decimal.Decimal) (domain.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, creditQuery, amount, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Account{}, domain.ErrAccountNotFound
		}

		return domain.Account{}, mapBalanceErr(ctx, err)
	}

	return a, nil
}

// Postgres error codes that signal a transient conflict between concurrent units of work.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// IsTransient reports whether err is a Postgres error the caller may retry.
func IsTransient(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}

	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}

	return false
}

func mapBalanceErr(ctx context.Context, err error) error {
	l := zerolog.Ctx(ctx)

	if IsTransient(err) {
		l.Warn().Err(err).Send()
		return domain.ErrConcurrentUpdate
	}

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "accounts_balance_check" {
		l.Info().Err(err).Send()
		return domain.ErrInsufficientBalance
	}

	l.Error().Err(err).Send()

	return errorspkg.ErrInternal
}
