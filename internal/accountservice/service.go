// Package accountservice manages business logic layer of accounts.
package accountservice

import (
	"context"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/pkg/errorspkg"
	"github.com/go-petr/pet-escrow/pkg/passpkg"
	"github.com/rs/zerolog"
)

// Repo provides data access layer interface needed by account service layer.
//
//go:generate mockgen -source service.go -destination service_mock.go -package accountservice
type Repo interface {
	Create(ctx context.Context, arg domain.CreateAccountParams) (domain.Account, error)
	Get(ctx context.Context, id int32) (domain.Account, error)
	GetByUsername(ctx context.Context, username string) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
}

// EntryRepo provides read access to the balance journal.
type EntryRepo interface {
	List(ctx context.Context, accountID int32, limit, offset int32) ([]domain.Entry, error)
}

// Service facilitates account service layer logic.
type Service struct {
	repo    Repo
	entries EntryRepo
}

// New returns account service struct to manage account bussines logic.
func New(ar Repo, er EntryRepo) *Service {
	return &Service{
		repo:    ar,
		entries: er,
	}
}

// Create registers an account with zero balance.
func (s *Service) Create(ctx context.Context, username, password, fullname, email string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	hashedPassword, err := passpkg.Hash(password)
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, errorspkg.ErrInternal
	}

	arg := domain.CreateAccountParams{
		Username:       username,
		HashedPassword: hashedPassword,
		FullName:       fullname,
		Email:          email,
	}

	account, err := s.repo.Create(ctx, arg)
	if err != nil {
		return domain.Account{}, err
	}

	return account, nil
}

// CheckPassword checks if the password is valid for the given username.
func (s *Service) CheckPassword(ctx context.Context, username, pass string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return domain.Account{}, err
	}

	err = passpkg.Check(pass, account.HashedPassword)
	if err != nil {
		l.Warn().Err(err).Send()
		return domain.Account{}, domain.ErrWrongPassword
	}

	return account, nil
}

// Get returns account for the given account ID.
func (s *Service) Get(ctx context.Context, id int32) (domain.Account, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail resolves an account by its email.
func (s *Service) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	return s.repo.GetByEmail(ctx, email)
}

// ListEntries returns a page of the account's balance journal, oldest first.
func (s *Service) ListEntries(ctx context.Context, accountID, pageSize, pageID int32) ([]domain.Entry, error) {
	limit := pageSize
	offset := (pageID - 1) * pageSize

	entries, err := s.entries.List(ctx, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
