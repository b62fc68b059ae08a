// Package postgres is the durable ledger implementation. Account rows
// are locked with SELECT ... FOR UPDATE inside a single transaction per
// transfer; lock waits are bounded by lock_timeout and surface as
// ledger.ErrContention.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/payring/payring/internal/ledger"
)

// Postgres error codes that mean the transfer lost a race rather than
// failed: lock_not_available (55P03) from lock_timeout expiry,
// deadlock_detected (40P01) and serialization_failure (40001).
var contentionCodes = map[pq.ErrorCode]bool{
	"55P03": true,
	"40P01": true,
	"40001": true,
}

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// New creates a Store. lockTimeout bounds how long one transfer waits
// for a contended account row before aborting with ErrContention.
func New(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

const accountColumns = `id, account_number, balance, COALESCE(referred_by, 0), owner_user_id`

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Number, &a.Balance, &a.ReferredBy, &a.OwnerUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to scan account: %w", err)
	}
	return a, nil
}

func (s *Store) FindAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *Store) FindAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number))
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Number, &a.Balance, &a.ReferredBy, &a.OwnerUserID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (ledger.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email))
}

func (s *Store) FindUser(ctx context.Context, id int64) (ledger.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (s *Store) scanUser(row *sql.Row) (ledger.User, error) {
	var u ledger.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (ledger.User, error) {
	u := ledger.User{Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Name, u.Email, u.PasswordHash, u.CreatedAt,
	).Scan(&u.ID)
	if isUniqueViolation(err) {
		return ledger.User{}, ledger.ErrAlreadyExists
	}
	if err != nil {
		return ledger.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Store) CreateAccount(ctx context.Context, ownerUserID, referredBy int64, number string) (ledger.Account, error) {
	a := ledger.Account{
		Number:      number,
		Balance:     decimal.Zero,
		ReferredBy:  referredBy,
		OwnerUserID: ownerUserID,
	}
	var ref interface{}
	if referredBy != 0 {
		ref = referredBy
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (account_number, balance, referred_by, owner_user_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		a.Number, a.Balance, ref, a.OwnerUserID,
	).Scan(&a.ID)
	if isUniqueViolation(err) {
		return ledger.Account{}, ledger.ErrAlreadyExists
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

func (s *Store) ListTransfers(ctx context.Context, accountID int64, page ledger.Page) ([]ledger.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, commission, created_at, origin_account_id, destination_account_id
		 FROM transfers
		 WHERE origin_account_id = $1 OR destination_account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		accountID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []ledger.Transfer
	for rows.Next() {
		var t ledger.Transfer
		if err := rows.Scan(&t.ID, &t.Amount, &t.Commission, &t.CreatedAt,
			&t.OriginAccountID, &t.DestinationAccountID); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (s *Store) ListCommissions(ctx context.Context, accountID int64, page ledger.Page) ([]ledger.Commission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, created_at, beneficiary_account_id, transfer_id
		 FROM commissions
		 WHERE beneficiary_account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		accountID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer rows.Close()

	var commissions []ledger.Commission
	for rows.Next() {
		var c ledger.Commission
		if err := rows.Scan(&c.ID, &c.Amount, &c.CreatedAt, &c.BeneficiaryAccountID, &c.TransferID); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		commissions = append(commissions, c)
	}
	return commissions, rows.Err()
}

func (s *Store) CountTransfersByDestination(ctx context.Context, originIDs []int64) ([]ledger.DestinationCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_account_id, COUNT(*)
		 FROM transfers
		 WHERE origin_account_id = ANY($1)
		 GROUP BY destination_account_id
		 ORDER BY COUNT(*) DESC, destination_account_id`,
		pq.Array(originIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count transfers by destination: %w", err)
	}
	defer rows.Close()

	var counts []ledger.DestinationCount
	for rows.Next() {
		var c ledger.DestinationCount
		if err := rows.Scan(&c.DestinationAccountID, &c.Transfers); err != nil {
			return nil, fmt.Errorf("failed to scan destination count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *Store) ListAccountsReferredBy(ctx context.Context, referrerIDs []int64) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE referred_by = ANY($1) ORDER BY id`,
		pq.Array(referrerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list referred accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Number, &a.Balance, &a.ReferredBy, &a.OwnerUserID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Transact runs fn in a single database transaction. Row locks taken
// through the Tx live until commit or rollback; fn returning an error
// rolls back everything.
func (s *Store) Transact(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SET LOCAL scopes the bound to this transaction only.
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// classify maps driver-level lock failures to ErrContention so callers
// can distinguish retryable races from real faults.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && contentionCodes[pqErr.Code] {
		return fmt.Errorf("%w: %s", ledger.ErrContention, pqErr.Message)
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

var _ ledger.Tx = (*pgTx)(nil)

// LockAccounts acquires FOR UPDATE locks in ascending id order. The
// sort is the deadlock guard: every transfer locks overlapping account
// sets in the same global order, so circular waits cannot form.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]ledger.Account, error) {
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
		var a ledger.Account
		err := t.tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&a.ID, &a.Number, &a.Balance, &a.ReferredBy, &a.OwnerUserID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %d: %w", id, err)
		}
		accounts[a.ID] = a
	}
	return accounts, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr ledger.Transfer) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transfers (id, amount, commission, created_at, origin_account_id, destination_account_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.Amount, tr.Commission, tr.CreatedAt, tr.OriginAccountID, tr.DestinationAccountID)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (t *pgTx) InsertCommission(ctx context.Context, c ledger.Commission) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO commissions (id, amount, created_at, beneficiary_account_id, transfer_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Amount, c.CreatedAt, c.BeneficiaryAccountID, c.TransferID)
	if err != nil {
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	return nil
}
