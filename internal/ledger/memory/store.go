// Package memory is an in-memory ledger.Store. Row locks are modeled
// as single-slot semaphores acquired in ascending account-id order,
// matching the postgres implementation's locking contract, and writes
// are staged and applied only when the transaction function succeeds.
// It backs the transfer engine's unit and concurrency tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/payring/payring/internal/ledger"
)

// ErrUnlockedWrite is returned when a balance write targets a row the
// transaction never locked. The postgres store cannot detect this, so
// the memory store makes the protocol violation loud in tests.
var ErrUnlockedWrite = errors.New("balance write without holding the row lock")

type accountRow struct {
	sem  chan struct{} // capacity 1; holding the slot is holding the row lock
	acct ledger.Account
}

// Store implements ledger.Store in memory.
type Store struct {
	mu          sync.Mutex
	accounts    map[int64]*accountRow
	users       map[int64]ledger.User
	transfers   []ledger.Transfer
	commissions []ledger.Commission
	nextAccount int64
	nextUser    int64
	lockTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty store. lockTimeout bounds lock waits the same
// way lock_timeout does for the postgres store.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		accounts:    make(map[int64]*accountRow),
		users:       make(map[int64]ledger.User),
		lockTimeout: lockTimeout,
	}
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return ledger.User{}, ledger.ErrAlreadyExists
		}
	}
	s.nextUser++
	u := ledger.User{
		ID:           s.nextUser,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, id int64) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return ledger.User{}, ledger.ErrNotFound
}

func (s *Store) CreateAccount(ctx context.Context, ownerUserID, referredBy int64, number string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccount++
	a := ledger.Account{
		ID:          s.nextAccount,
		Number:      number,
		Balance:     decimal.Zero,
		ReferredBy:  referredBy,
		OwnerUserID: ownerUserID,
	}
	s.accounts[a.ID] = &accountRow{sem: make(chan struct{}, 1), acct: a}
	return a, nil
}

// SetBalance seeds an account balance directly. Test helper; the engine
// itself mutates balances only through Transact.
func (s *Store) SetBalance(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.accounts[id]; ok {
		row.acct.Balance = balance
	}
}

func (s *Store) FindAccount(ctx context.Context, id int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return row.acct, nil
}

func (s *Store) FindAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.accounts {
		if row.acct.Number == number {
			return row.acct, nil
		}
	}
	return ledger.Account{}, ledger.ErrNotFound
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []ledger.Account
	for _, row := range s.accounts {
		if row.acct.OwnerUserID == userID {
			accounts = append(accounts, row.acct)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Store) ListTransfers(ctx context.Context, accountID int64, page ledger.Page) ([]ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Walked backwards so the newest commit comes first, matching the
	// postgres ordering.
	var matched []ledger.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if t.OriginAccountID == accountID || t.DestinationAccountID == accountID {
			matched = append(matched, t)
		}
	}
	return paginate(matched, page), nil
}

func (s *Store) ListCommissions(ctx context.Context, accountID int64, page ledger.Page) ([]ledger.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []ledger.Commission
	for i := len(s.commissions) - 1; i >= 0; i-- {
		c := s.commissions[i]
		if c.BeneficiaryAccountID == accountID {
			matched = append(matched, c)
		}
	}
	return paginate(matched, page), nil
}

func (s *Store) CountTransfersByDestination(ctx context.Context, originIDs []int64) ([]ledger.DestinationCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	origins := make(map[int64]bool, len(originIDs))
	for _, id := range originIDs {
		origins[id] = true
	}

	byDest := make(map[int64]int)
	for _, t := range s.transfers {
		if origins[t.OriginAccountID] {
			byDest[t.DestinationAccountID]++
		}
	}

	counts := make([]ledger.DestinationCount, 0, len(byDest))
	for id, n := range byDest {
		counts = append(counts, ledger.DestinationCount{DestinationAccountID: id, Transfers: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Transfers != counts[j].Transfers {
			return counts[i].Transfers > counts[j].Transfers
		}
		return counts[i].DestinationAccountID < counts[j].DestinationAccountID
	})
	return counts, nil
}

func (s *Store) ListAccountsReferredBy(ctx context.Context, referrerIDs []int64) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referrers := make(map[int64]bool, len(referrerIDs))
	for _, id := range referrerIDs {
		referrers[id] = true
	}

	var accounts []ledger.Account
	for _, row := range s.accounts {
		if referrers[row.acct.ReferredBy] {
			accounts = append(accounts, row.acct)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func paginate[T any](rows []T, page ledger.Page) []T {
	if page.Offset >= len(rows) {
		return nil
	}
	rows = rows[page.Offset:]
	if page.Limit > 0 && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}
	return rows
}

// Transact stages every write made through the Tx and applies them all
// at once when fn returns nil. Row locks acquired by fn are held until
// the outcome is decided, commit and rollback alike.
func (s *Store) Transact(ctx context.Context, fn func(ledger.Tx) error) error {
	tx := &memTx{
		store:    s,
		balances: make(map[int64]decimal.Decimal),
	}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memTx struct {
	store       *Store
	locked      []*accountRow
	lockedIDs   map[int64]bool
	balances    map[int64]decimal.Decimal
	transfers   []ledger.Transfer
	commissions []ledger.Commission
}

var _ ledger.Tx = (*memTx)(nil)

// LockAccounts acquires the row semaphores in ascending id order. A
// slot that stays occupied past the lock timeout means another transfer
// holds the row; the caller gets ErrContention and rolls back.
func (t *memTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]ledger.Account, error) {
	if t.lockedIDs == nil {
		t.lockedIDs = make(map[int64]bool)
	}

	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	accounts := make(map[int64]ledger.Account, len(sorted))
	for _, id := range sorted {
		t.store.mu.Lock()
		row, ok := t.store.accounts[id]
		t.store.mu.Unlock()
		if !ok {
			return nil, ledger.ErrNotFound
		}

		if !t.lockedIDs[id] {
			timer := time.NewTimer(t.store.lockTimeout)
			select {
			case row.sem <- struct{}{}:
				timer.Stop()
			case <-timer.C:
				return nil, ledger.ErrContention
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			t.locked = append(t.locked, row)
			t.lockedIDs[id] = true
		}

		t.store.mu.Lock()
		accounts[id] = row.acct
		t.store.mu.Unlock()
	}
	return accounts, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	if !t.lockedIDs[accountID] {
		return ErrUnlockedWrite
	}
	t.balances[accountID] = balance
	return nil
}

func (t *memTx) InsertTransfer(ctx context.Context, tr ledger.Transfer) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	t.transfers = append(t.transfers, tr)
	return nil
}

func (t *memTx) InsertCommission(ctx context.Context, c ledger.Commission) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	t.commissions = append(t.commissions, c)
	return nil
}

func (t *memTx) apply() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, balance := range t.balances {
		t.store.accounts[id].acct.Balance = balance
	}
	t.store.transfers = append(t.store.transfers, t.transfers...)
	t.store.commissions = append(t.store.commissions, t.commissions...)
}

func (t *memTx) releaseLocks() {
	for _, row := range t.locked {
		<-row.sem
	}
	t.locked = nil
	t.lockedIDs = nil
}
