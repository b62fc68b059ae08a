// Package ledger defines the durable store contract for accounts,
// transfers and commissions. Two implementations exist: postgres (the
// real store, row locks via SELECT ... FOR UPDATE) and memory (row
// semaphores, used by the engine tests).
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an account, user or transfer does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on unique-constraint conflicts
	// (duplicate email or account number).
	ErrAlreadyExists = errors.New("already exists")

	// ErrContention is returned when a lock could not be acquired
	// within the configured wait, or the store detected a deadlock.
	// The operation was rolled back and may be retried by the caller.
	ErrContention = errors.New("lock contention")

	// ErrSystemAccountMissing indicates the commission sink account is
	// absent. This is a deployment fault, not a request fault.
	ErrSystemAccountMissing = errors.New("system account missing")
)

// Account is a numbered balance holder. ReferredBy is a weak reference
// to the account that introduced this one; zero means no referrer.
type Account struct {
	ID          int64           `json:"id"`
	Number      string          `json:"account_number"`
	Balance     decimal.Decimal `json:"balance"`
	ReferredBy  int64           `json:"referred_by,omitempty"`
	OwnerUserID int64           `json:"owner_user_id"`
}

// HasReferrer reports whether the account carries a referral link.
func (a Account) HasReferrer() bool { return a.ReferredBy != 0 }

// Transfer is the immutable record of one committed transfer. Amount is
// the principal moved; Commission is the total fee charged on top.
type Transfer struct {
	ID                   string          `json:"id"`
	Amount               decimal.Decimal `json:"amount"`
	Commission           decimal.Decimal `json:"commission"`
	CreatedAt            time.Time       `json:"created_at"`
	OriginAccountID      int64           `json:"origin_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
}

// Commission is the immutable record of one beneficiary's share of a
// transfer's fee. A transfer owns one such record (all to the system
// account) or two (split with the origin's referrer).
type Commission struct {
	ID                   string          `json:"id"`
	Amount               decimal.Decimal `json:"amount"`
	CreatedAt            time.Time       `json:"created_at"`
	BeneficiaryAccountID int64           `json:"beneficiary_account_id"`
	TransferID           string          `json:"transfer_id"`
}

// User is external identity, consumed but not owned by the engine.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Page selects a window of history rows.
type Page struct {
	Offset int
	Limit  int
}

// DestinationCount pairs a destination account with the number of
// committed transfers sent to it from a given set of origin accounts.
type DestinationCount struct {
	DestinationAccountID int64
	Transfers            int
}

// Store is the durable ledger. Reads outside Transact see committed
// state only and may be stale relative to an in-flight transfer; they
// must never be used to justify a balance mutation.
type Store interface {
	FindAccount(ctx context.Context, id int64) (Account, error)
	FindAccountByNumber(ctx context.Context, number string) (Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]Account, error)

	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, name, email, passwordHash string) (User, error)
	CreateAccount(ctx context.Context, ownerUserID, referredBy int64, number string) (Account, error)

	// ListTransfers returns committed transfers touching the account,
	// newest first, paginated.
	ListTransfers(ctx context.Context, accountID int64, page Page) ([]Transfer, error)
	// ListCommissions returns committed commission rows for the
	// account, newest first, paginated.
	ListCommissions(ctx context.Context, accountID int64, page Page) ([]Commission, error)

	// CountTransfersByDestination groups committed transfers out of the
	// origin accounts by destination, most frequent first.
	CountTransfersByDestination(ctx context.Context, originIDs []int64) ([]DestinationCount, error)
	// ListAccountsReferredBy returns the accounts whose referral link
	// points at any of the given accounts.
	ListAccountsReferredBy(ctx context.Context, referrerIDs []int64) ([]Account, error)

	// Transact runs fn inside one atomic unit of work. A nil return
	// commits; any error rolls back every write and lock made through
	// the Tx. Locks are never released before the outcome is decided.
	Transact(ctx context.Context, fn func(Tx) error) error
}

// Tx is the mutation surface available inside one transfer's unit of
// work. Implementations must make LockAccounts acquire exclusive locks
// in ascending account-id order regardless of argument order, so that
// concurrent transfers touching overlapping account sets can never
// deadlock on each other.
type Tx interface {
	// LockAccounts locks every listed account and returns its current
	// row. These locked reads are the only balances a mutation may
	// trust. Missing accounts yield ErrNotFound.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]Account, error)

	UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	InsertTransfer(ctx context.Context, t Transfer) error
	InsertCommission(ctx context.Context, c Commission) error
}
