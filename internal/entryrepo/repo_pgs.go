// Package entryrepo manages repository layer of ledger entries.
package entryrepo

import (
	"context"
	"database/sql"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/pkg/dbpkg"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RepoPGS facilitates entry repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns entry RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{db: db}
}

const createQuery = `
INSERT INTO
    entries (account_id, transaction_id, kind, amount)
VALUES
    ($1, $2, $3, $4)
RETURNING id, account_id, transaction_id, kind, amount, created_at
`

// Create appends the entry to the journal and then returns it.
func (r *RepoPGS) Create(ctx context.Context, arg domain.Entry) (domain.Entry, error) {
	l := zerolog.Ctx(ctx)

	txID := sql.NullString{String: arg.TransactionID, Valid: arg.TransactionID != ""}

	row := r.db.QueryRowContext(ctx, createQuery, arg.AccountID, txID, arg.Kind, arg.Amount)

	e, err := scanEntry(row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "entries_account_id_fkey" {
			l.Info().Err(err).Send()
			return domain.Entry{}, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		return domain.Entry{}, errorspkg.ErrInternal
	}

	return e, nil
}

const listQuery = `
SELECT id, account_id, transaction_id, kind, amount, created_at FROM entries
WHERE account_id = $1
ORDER BY id
LIMIT $2 OFFSET $3
`

// List returns the specified number of entries for the given accountID, oldest first.
func (r *RepoPGS) List(ctx context.Context, accountID int32, limit, offset int32) ([]domain.Entry, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, listQuery, accountID, limit, offset)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}
	defer rows.Close()

	items := []domain.Entry{}

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			l.Error().Err(err).Send()
			return nil, errorspkg.ErrInternal
		}

		items = append(items, e)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.Entry, error) {
	var (
		e    domain.Entry
		txID sql.NullString
	)

	err := s.Scan(
		&e.ID,
		&e.AccountID,
		&txID,
		&e.Kind,
		&e.Amount,
		&e.CreatedAt,
	)

	e.TransactionID = txID.String

	return e, err
}
