// Package escrowservice manages business logic layer of escrow transactions.
//
// Every state-changing operation runs as one unit of work over the ledger and the registry:
// either every balance change and the transaction record are committed together or nothing is.
package escrowservice

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/pkg/commissionpkg"
	"github.com/rs/zerolog"
)

// Ledger owns account balances. Every mutation is journaled in the same unit of work.
//
//go:generate mockgen -source service.go -destination service_mock.go -package escrowservice
type Ledger interface {
	Get(ctx context.Context, accountID int32) (domain.Account, error)
	// TryDebit subtracts the posting amount only if the balance covers it.
	TryDebit(ctx context.Context, p domain.Posting) (domain.Account, error)
	Credit(ctx context.Context, p domain.Posting) (domain.Account, error)
}

// Registry owns the canonical transaction records.
type Registry interface {
	Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	// GetForUpdate returns the transaction and holds it until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (domain.Transaction, error)
	// Update stores status, approvals and timestamps of a non-terminal transaction.
	Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
}

// TxFunc is a unit of work. Returning an error rolls back everything it did.
type TxFunc func(ctx context.Context, ledger Ledger, registry Registry) error

// Store provides data access layer interface needed by escrow service layer.
type Store interface {
	ExecTx(ctx context.Context, fn TxFunc) error
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	ListTransactions(ctx context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error)
}

// IDGenerator produces transaction ids.
type IDGenerator interface {
	Next() string
}

// Retry intervals between whole unit-of-work attempts.
const (
	retryInitialInterval = 10 * time.Millisecond
	retryMaxInterval     = 200 * time.Millisecond
)

// Service facilitates escrow service layer logic.
type Service struct {
	store       Store
	ids         IDGenerator
	maxAttempts int
	now         func() time.Time
}

// New returns escrow service struct to manage escrow business logic.
//
// maxAttempts bounds how many times a unit of work is run when it keeps losing races.
func New(store Store, ids IDGenerator, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Service{
		store:       store,
		ids:         ids,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Create holds the amount from the sender's balance and opens a PENDING transaction.
//
// The sender's approval is recorded on creation.
func (s *Service) Create(ctx context.Context, arg domain.CreateTransactionParams) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	amount, err := domain.ParseAmount(arg.Amount)
	if err != nil {
		l.Info().Err(err).Str("amount", arg.Amount).Send()
		return domain.Transaction{}, err
	}

	if arg.SenderID == arg.ReceiverID {
		return domain.Transaction{}, domain.ErrSelfTransfer
	}

	if err := domain.ValidateDescription(arg.Description, arg.Notes); err != nil {
		l.Info().Err(err).Send()
		return domain.Transaction{}, err
	}

	commission, net := commissionpkg.Compute(amount)

	var result domain.Transaction

	err = s.execTx(ctx, "create", func(ctx context.Context, ledger Ledger, registry Registry) error {
		if _, err := ledger.Get(ctx, arg.ReceiverID); err != nil {
			if err == domain.ErrAccountNotFound {
				return domain.ErrReceiverNotFound
			}

			return err
		}

		now := s.now().UTC()

		tx, err := registry.Create(ctx, domain.Transaction{
			ID:             s.ids.Next(),
			SenderID:       arg.SenderID,
			ReceiverID:     arg.ReceiverID,
			Amount:         amount,
			Commission:     commission,
			NetAmount:      net,
			Description:    arg.Description,
			Notes:          arg.Notes,
			Status:         domain.StatusPending,
			SenderApproved: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}

		_, err = ledger.TryDebit(ctx, domain.Posting{
			AccountID:     arg.SenderID,
			Amount:        amount,
			TransactionID: tx.ID,
			Kind:          domain.EntryEscrowHold,
		})
		if err != nil {
			return err
		}

		result = tx

		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	l.Info().Str("transaction_id", result.ID).Str("amount", amount.String()).Msg("escrow created")

	return result, nil
}

// Approve records the receiver's approval and releases the net amount once both sides approved.
func (s *Service) Approve(ctx context.Context, id string, actorID int32) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	var result domain.Transaction

	err := s.execTx(ctx, "approve", func(ctx context.Context, ledger Ledger, registry Registry) error {
		tx, err := registry.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if tx.ReceiverID != actorID {
			return domain.ErrNotReceiver
		}

		if !tx.Status.IsOpen() || tx.ReceiverApproved {
			return domain.ErrInvalidTransactionState
		}

		now := s.now().UTC()

		tx.ReceiverApproved = true
		tx.Status = tx.ResolveStatus()
		tx.UpdatedAt = now

		if tx.Status == domain.StatusCompleted {
			tx.CompletedAt = &now

			_, err := ledger.Credit(ctx, domain.Posting{
				AccountID:     tx.ReceiverID,
				Amount:        tx.NetAmount,
				TransactionID: tx.ID,
				Kind:          domain.EntryRelease,
			})
			if err != nil {
				return err
			}
		}

		result, err = registry.Update(ctx, tx)

		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	l.Info().Str("transaction_id", result.ID).Str("status", string(result.Status)).Msg("escrow approved")

	return result, nil
}

// Cancel refunds the full amount to the sender while the receiver has not approved yet.
func (s *Service) Cancel(ctx context.Context, id string, actorID int32) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	var result domain.Transaction

	err := s.execTx(ctx, "cancel", func(ctx context.Context, ledger Ledger, registry Registry) error {
		tx, err := registry.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if tx.SenderID != actorID {
			return domain.ErrNotSender
		}

		if tx.ReceiverApproved {
			return domain.ErrAlreadyApproved
		}

		if !tx.Status.CanTransitionTo(domain.StatusCancelled) {
			return domain.ErrInvalidTransactionState
		}

		tx.Status = domain.StatusCancelled
		tx.UpdatedAt = s.now().UTC()

		_, err = ledger.Credit(ctx, domain.Posting{
			AccountID:     tx.SenderID,
			Amount:        tx.Amount,
			TransactionID: tx.ID,
			Kind:          domain.EntryRefund,
		})
		if err != nil {
			return err
		}

		result, err = registry.Update(ctx, tx)

		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	l.Info().Str("transaction_id", result.ID).Msg("escrow cancelled")

	return result, nil
}

// AddFunds credits the account and returns it with the new balance.
func (s *Service) AddFunds(ctx context.Context, accountID int32, amount string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	value, err := domain.ParseAmount(amount)
	if err != nil {
		l.Info().Err(err).Str("amount", amount).Send()
		return domain.Account{}, err
	}

	var result domain.Account

	err = s.execTx(ctx, "add_funds", func(ctx context.Context, ledger Ledger, _ Registry) error {
		result, err = ledger.Credit(ctx, domain.Posting{
			AccountID: accountID,
			Amount:    value,
			Kind:      domain.EntryFunding,
		})

		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	return result, nil
}

// Get returns the transaction if the caller takes part in it.
func (s *Service) Get(ctx context.Context, id string, callerID int32) (domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}

	// Outsiders cannot learn that the id exists.
	if !tx.IsParticipant(callerID) {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}

	return tx, nil
}

// List returns the transactions of the account, newest first.
func (s *Service) List(ctx context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx, arg)
}

// execTx runs fn as a unit of work and reruns it with exponential backoff while it fails
// with a transient conflict. A conflict that outlives every attempt becomes domain.ErrConflict.
func (s *Service) execTx(ctx context.Context, op string, fn TxFunc) error {
	l := zerolog.Ctx(ctx)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = retryMaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.maxAttempts-1)), ctx)

	attempt := 0

	err := backoff.Retry(func() error {
		attempt++

		err := s.store.ExecTx(ctx, fn)
		if err == nil {
			return nil
		}

		if isTransient(err) {
			l.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("unit of work conflict")
			return err
		}

		return backoff.Permanent(err)
	}, b)

	if isTransient(err) {
		l.Warn().Str("op", op).Int("attempts", attempt).Msg("giving up after conflicts")
		return domain.ErrConflict
	}

	return err
}

func isTransient(err error) bool {
	return err == domain.ErrConcurrentUpdate || err == domain.ErrTransactionIDConflict
}
