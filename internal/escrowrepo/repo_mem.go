package escrowrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-petr/pet-escrow/internal/domain"
	"github.com/go-petr/pet-escrow/internal/escrowservice"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const lockPollInterval = 200 * time.Microsecond

type memAccount struct {
	lock    sync.Mutex
	account domain.Account
}

type memTransaction struct {
	lock      sync.Mutex
	tx        domain.Transaction
	published bool
}

// RepoMem keeps accounts, transactions and entries in process memory.
//
// The map mutex is held only to look records up and to publish committed state. Units of work
// lock individual records and never wait longer than the lock timeout, so there is no global
// lock and no unbounded wait. Readers only ever see committed state.
type RepoMem struct {
	mu            sync.Mutex
	accounts      map[int32]*memAccount
	transactions  map[string]*memTransaction
	entries       []domain.Entry
	lastAccountID int32
	lastEntryID   int64
	lockTimeout   time.Duration
	now           func() time.Time
}

// NewRepoMem returns an empty RepoMem. A record lock not acquired within lockTimeout fails the
// unit of work with domain.ErrConcurrentUpdate.
func NewRepoMem(lockTimeout time.Duration) *RepoMem {
	return &RepoMem{
		accounts:     make(map[int32]*memAccount),
		transactions: make(map[string]*memTransaction),
		lockTimeout:  lockTimeout,
		now:          time.Now,
	}
}

// ExecTx runs fn as a unit of work and publishes its changes only if fn succeeds.
func (r *RepoMem) ExecTx(ctx context.Context, fn escrowservice.TxFunc) error {
	u := &memUnit{
		repo:         r,
		accounts:     make(map[int32]domain.Account),
		transactions: make(map[string]domain.Transaction),
	}

	committed := false

	defer func() {
		if !committed {
			u.rollback()
		}
	}()

	if err := fn(ctx, u, memRegistry{u}); err != nil {
		return err
	}

	u.commit()
	committed = true

	return nil
}

// GetTransaction returns the committed state of the transaction.
func (r *RepoMem) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[id]
	if !ok || !t.published {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}

	return t.tx, nil
}

// ListTransactions returns the transactions of the account, newest first.
func (r *RepoMem) ListTransactions(_ context.Context, arg domain.ListTransactionsParams) ([]domain.Transaction, error) {
	r.mu.Lock()

	items := []domain.Transaction{}

	for _, t := range r.transactions {
		if t.published && t.tx.IsParticipant(arg.AccountID) {
			items = append(items, t.tx)
		}
	}

	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}

		return items[i].ID > items[j].ID
	})

	return page(items, arg.Limit, arg.Offset), nil
}

func page[T any](items []T, limit, offset int32) []T {
	if offset < 0 || limit < 0 || int(offset) >= len(items) {
		return []T{}
	}

	end := int(offset) + int(limit)
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end]
}

// Accounts returns the account repository view of r.
func (r *RepoMem) Accounts() *AccountsMem {
	return &AccountsMem{repo: r}
}

// Entries returns the journal view of r.
func (r *RepoMem) Entries() *EntriesMem {
	return &EntriesMem{repo: r}
}

// lock acquires m, polling TryLock until the lock timeout or ctx ends.
func (r *RepoMem) lock(ctx context.Context, m *sync.Mutex) error {
	if m.TryLock() {
		return nil
	}

	deadline := time.Now().Add(r.lockTimeout)

	t := time.NewTicker(lockPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		if m.TryLock() {
			return nil
		}

		if time.Now().After(deadline) {
			return domain.ErrConcurrentUpdate
		}
	}
}

// memUnit is the state of one unit of work: locked records and their working copies.
type memUnit struct {
	repo         *RepoMem
	held         []*sync.Mutex
	accounts     map[int32]domain.Account
	lockedAccs   map[int32]*memAccount
	transactions map[string]domain.Transaction
	lockedTxs    map[string]*memTransaction
	reserved     []string
	entries      []domain.Entry
}

// Get returns the working copy if the unit holds the account, the committed state otherwise.
func (u *memUnit) Get(_ context.Context, accountID int32) (domain.Account, error) {
	if a, ok := u.accounts[accountID]; ok {
		return a, nil
	}

	u.repo.mu.Lock()
	defer u.repo.mu.Unlock()

	a, ok := u.repo.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return a.account, nil
}

// TryDebit subtracts the posting amount if the locked balance covers it.
func (u *memUnit) TryDebit(ctx context.Context, p domain.Posting) (domain.Account, error) {
	a, err := u.lockAccount(ctx, p.AccountID)
	if err != nil {
		return domain.Account{}, err
	}

	if a.Balance.LessThan(p.Amount) {
		zerolog.Ctx(ctx).Info().Int32("account_id", p.AccountID).Msg("insufficient balance")
		return domain.Account{}, domain.ErrInsufficientBalance
	}

	a.Balance = a.Balance.Sub(p.Amount)
	u.accounts[a.ID] = a
	u.journal(p, p.Amount.Neg())

	return a, nil
}

// Credit adds the posting amount to the locked balance.
func (u *memUnit) Credit(ctx context.Context, p domain.Posting) (domain.Account, error) {
	a, err := u.lockAccount(ctx, p.AccountID)
	if err != nil {
		return domain.Account{}, err
	}

	a.Balance = a.Balance.Add(p.Amount)
	u.accounts[a.ID] = a
	u.journal(p, p.Amount)

	return a, nil
}

func (u *memUnit) journal(p domain.Posting, amount decimal.Decimal) {
	u.entries = append(u.entries, domain.Entry{
		AccountID:     p.AccountID,
		TransactionID: p.TransactionID,
		Kind:          p.Kind,
		Amount:        amount,
	})
}

func (u *memUnit) lockAccount(ctx context.Context, id int32) (domain.Account, error) {
	if _, locked := u.lockedAccs[id]; locked {
		return u.accounts[id], nil
	}

	u.repo.mu.Lock()
	rec, ok := u.repo.accounts[id]
	u.repo.mu.Unlock()

	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	if err := u.repo.lock(ctx, &rec.lock); err != nil {
		return domain.Account{}, err
	}

	u.held = append(u.held, &rec.lock)

	if u.lockedAccs == nil {
		u.lockedAccs = make(map[int32]*memAccount)
	}

	u.lockedAccs[id] = rec

	// Committed state is stable while the record lock is held.
	u.repo.mu.Lock()
	a := rec.account
	u.repo.mu.Unlock()

	u.accounts[id] = a

	return a, nil
}

func (u *memUnit) commit() {
	r := u.repo

	r.mu.Lock()

	for id, rec := range u.lockedAccs {
		rec.account = u.accounts[id]
	}

	for id, rec := range u.lockedTxs {
		rec.tx = u.transactions[id]
		rec.published = true
	}

	now := r.now().UTC()

	for _, e := range u.entries {
		r.lastEntryID++
		e.ID = r.lastEntryID
		e.CreatedAt = now
		r.entries = append(r.entries, e)
	}

	r.mu.Unlock()

	u.release()
}

func (u *memUnit) rollback() {
	r := u.repo

	r.mu.Lock()

	for _, id := range u.reserved {
		delete(r.transactions, id)
	}

	r.mu.Unlock()

	u.release()
}

func (u *memUnit) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.held[i].Unlock()
	}

	u.held = nil
}

// memRegistry is the registry view of a unit of work.
type memRegistry struct {
	u *memUnit
}

// Create reserves the id and holds the new transaction until the unit of work ends.
func (m memRegistry) Create(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	u := m.u
	r := u.repo

	r.mu.Lock()

	if _, ok := r.accounts[t.SenderID]; !ok {
		r.mu.Unlock()
		return domain.Transaction{}, domain.ErrAccountNotFound
	}

	if _, ok := r.accounts[t.ReceiverID]; !ok {
		r.mu.Unlock()
		return domain.Transaction{}, domain.ErrReceiverNotFound
	}

	if _, ok := r.transactions[t.ID]; ok {
		r.mu.Unlock()
		zerolog.Ctx(ctx).Warn().Str("transaction_id", t.ID).Msg("transaction id already exists")

		return domain.Transaction{}, domain.ErrTransactionIDConflict
	}

	rec := &memTransaction{}
	rec.lock.Lock()
	r.transactions[t.ID] = rec

	r.mu.Unlock()

	u.held = append(u.held, &rec.lock)
	u.reserved = append(u.reserved, t.ID)
	u.trackTx(t.ID, rec, t)

	return t, nil
}

// GetForUpdate locks the transaction until the unit of work ends.
func (m memRegistry) GetForUpdate(ctx context.Context, id string) (domain.Transaction, error) {
	u := m.u

	if t, ok := u.transactions[id]; ok {
		return t, nil
	}

	r := u.repo

	r.mu.Lock()
	rec, ok := r.transactions[id]
	published := ok && rec.published
	r.mu.Unlock()

	if !published {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}

	if err := r.lock(ctx, &rec.lock); err != nil {
		return domain.Transaction{}, err
	}

	u.held = append(u.held, &rec.lock)

	r.mu.Lock()
	t := rec.tx
	r.mu.Unlock()

	u.trackTx(id, rec, t)

	return t, nil
}

// Update stores the new status, approvals and timestamps of an open transaction held by the unit.
func (m memRegistry) Update(_ context.Context, t domain.Transaction) (domain.Transaction, error) {
	u := m.u

	cur, ok := u.transactions[t.ID]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}

	if !cur.Status.IsOpen() {
		return domain.Transaction{}, domain.ErrInvalidTransactionState
	}

	cur.Status = t.Status
	cur.SenderApproved = cur.SenderApproved || t.SenderApproved
	cur.ReceiverApproved = cur.ReceiverApproved || t.ReceiverApproved
	cur.UpdatedAt = t.UpdatedAt
	cur.CompletedAt = t.CompletedAt

	u.transactions[t.ID] = cur

	return cur, nil
}

func (u *memUnit) trackTx(id string, rec *memTransaction, t domain.Transaction) {
	if u.lockedTxs == nil {
		u.lockedTxs = make(map[string]*memTransaction)
	}

	u.lockedTxs[id] = rec
	u.transactions[id] = t
}

// AccountsMem is the account repository view of RepoMem.
type AccountsMem struct {
	repo *RepoMem
}

// Create creates the account with zero balance and then returns it.
func (a *AccountsMem) Create(_ context.Context, arg domain.CreateAccountParams) (domain.Account, error) {
	r := a.repo

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.accounts {
		if rec.account.Username == arg.Username {
			return domain.Account{}, domain.ErrUsernameAlreadyExists
		}

		if rec.account.Email == arg.Email {
			return domain.Account{}, domain.ErrEmailAlreadyExists
		}
	}

	r.lastAccountID++

	acc := domain.Account{
		ID:             r.lastAccountID,
		Username:       arg.Username,
		Email:          arg.Email,
		FullName:       arg.FullName,
		HashedPassword: arg.HashedPassword,
		Balance:        decimal.Zero,
		CreatedAt:      r.now().UTC(),
	}

	r.accounts[acc.ID] = &memAccount{account: acc}

	return acc, nil
}

// Get returns the account with the given id.
func (a *AccountsMem) Get(_ context.Context, id int32) (domain.Account, error) {
	return a.find(func(acc domain.Account) bool { return acc.ID == id })
}

// GetByUsername returns the account with the given username.
func (a *AccountsMem) GetByUsername(_ context.Context, username string) (domain.Account, error) {
	return a.find(func(acc domain.Account) bool { return acc.Username == username })
}

// GetByEmail returns the account with the given email.
func (a *AccountsMem) GetByEmail(_ context.Context, email string) (domain.Account, error) {
	return a.find(func(acc domain.Account) bool { return acc.Email == email })
}

func (a *AccountsMem) find(match func(domain.Account) bool) (domain.Account, error) {
	r := a.repo

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.accounts {
		if match(rec.account) {
			return rec.account, nil
		}
	}

	return domain.Account{}, domain.ErrAccountNotFound
}

// EntriesMem is the journal view of RepoMem.
type EntriesMem struct {
	repo *RepoMem
}

// List returns the specified number of entries for the given accountID, oldest first.
func (e *EntriesMem) List(_ context.Context, accountID int32, limit, offset int32) ([]domain.Entry, error) {
	r := e.repo

	r.mu.Lock()
	defer r.mu.Unlock()

	items := []domain.Entry{}

	for _, entry := range r.entries {
		if entry.AccountID == accountID {
			items = append(items, entry)
		}
	}

	return page(items, limit, offset), nil
}
