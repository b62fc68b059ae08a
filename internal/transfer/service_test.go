package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/payring/payring/internal/ledger"
	"github.com/payring/payring/internal/ledger/memory"
	"github.com/payring/payring/pkg/money"
)

type fixture struct {
	store   *memory.Store
	svc     *Service
	system  ledger.Account
	userIDs map[string]int64
	accts   map[string]ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTimeout(t, 2*time.Second)
}

func newFixtureWithTimeout(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New(lockTimeout)

	f := &fixture{
		store:   store,
		userIDs: make(map[string]int64),
		accts:   make(map[string]ledger.Account),
	}

	sysUser, err := store.CreateUser(ctx, "System", "system@payring.local", "x")
	require.NoError(t, err)
	f.system, err = store.CreateAccount(ctx, sysUser.ID, 0, "0000000001")
	require.NoError(t, err)

	f.svc = NewService(store, DefaultConfig(), zerolog.Nop(), nil)
	return f
}

func (f *fixture) addAccount(t *testing.T, name, number, balance string, referredBy int64) ledger.Account {
	t.Helper()
	ctx := context.Background()
	userID, ok := f.userIDs[name]
	if !ok {
		user, err := f.store.CreateUser(ctx, name, name+"@example.com", "x")
		require.NoError(t, err)
		userID = user.ID
		f.userIDs[name] = userID
	}
	acct, err := f.store.CreateAccount(ctx, userID, referredBy, number)
	require.NoError(t, err)
	f.store.SetBalance(acct.ID, money.MustParse(balance))
	acct.Balance = money.MustParse(balance)
	f.accts[name] = acct
	return acct
}

func (f *fixture) balance(t *testing.T, id int64) string {
	t.Helper()
	acct, err := f.store.FindAccount(context.Background(), id)
	require.NoError(t, err)
	return money.Format(acct.Balance)
}

func TestTransferScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("no referrer: commission lands on system account", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		require.NoError(t, err)

		assert.Equal(t, "100.00", money.Format(res.Amount))
		assert.Equal(t, "1.00", money.Format(res.Commission))
		assert.Equal(t, "1000000002", res.DestinationAccountNumber)
		assert.Equal(t, "bob", res.DestinationOwnerName)

		assert.Equal(t, "899.00", f.balance(t, alice.ID))
		assert.Equal(t, "600.00", f.balance(t, bob.ID))
		assert.Equal(t, "1.00", f.balance(t, f.system.ID))

		// one commission record, entirely to the system account
		commissions, err := f.store.ListCommissions(ctx, f.system.ID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, commissions, 1)
		assert.Equal(t, "1.00", money.Format(commissions[0].Amount))
		assert.Equal(t, res.TransferID, commissions[0].TransferID)
	})

	t.Run("with referrer: commission splits evenly", func(t *testing.T) {
		f := newFixture(t)
		carol := f.addAccount(t, "carol", "1000000003", "0.00", 0)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", carol.ID)
		bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		require.NoError(t, err)
		assert.Equal(t, "1.00", money.Format(res.Commission))

		assert.Equal(t, "899.00", f.balance(t, alice.ID))
		assert.Equal(t, "600.00", f.balance(t, bob.ID))
		assert.Equal(t, "0.50", f.balance(t, carol.ID))
		assert.Equal(t, "0.50", f.balance(t, f.system.ID))

		sysComm, err := f.store.ListCommissions(ctx, f.system.ID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		refComm, err := f.store.ListCommissions(ctx, carol.ID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, sysComm, 1)
		require.Len(t, refComm, 1)
		sum := sysComm[0].Amount.Add(refComm[0].Amount)
		assert.True(t, sum.Equal(res.Commission), "commission rows must sum to the total")
	})

	t.Run("odd cent goes to the system account", func(t *testing.T) {
		f := newFixture(t)
		carol := f.addAccount(t, "carol", "1000000003", "0.00", 0)
		alice := f.addAccount(t, "alice", "1000000001", "10.00", carol.ID)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		// 3.00 * 1% = 0.03 -> referrer 0.01, system 0.02
		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("3.00"), alice.OwnerUserID)
		require.NoError(t, err)

		assert.Equal(t, "0.01", f.balance(t, carol.ID))
		assert.Equal(t, "0.02", f.balance(t, f.system.ID))
	})

	t.Run("amount below minimum is rejected without writes", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("0.05"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrAmountBelowMinimum)

		assert.Equal(t, "1000.00", f.balance(t, alice.ID))
		assert.Equal(t, "500.00", f.balance(t, bob.ID))
		history, err := f.store.ListTransfers(ctx, alice.ID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("minimum boundary", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("0.09"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrAmountBelowMinimum)

		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("0.10"), alice.OwnerUserID)
		require.NoError(t, err)
		assert.Equal(t, "0.01", money.Format(res.Commission))
		assert.Equal(t, "0.10", f.balance(t, bob.ID))
	})

	t.Run("insufficient funds leaves every balance untouched", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "50.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		assert.Equal(t, "50.00", f.balance(t, alice.ID))
		assert.Equal(t, "500.00", f.balance(t, bob.ID))
		assert.Equal(t, "0.00", f.balance(t, f.system.ID))
	})

	t.Run("balance must cover principal plus commission", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "100.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		// exactly the principal but not the fee
		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("destination resolves by account number", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		f.addAccount(t, "bob", "1000000002", "0.00", 0)

		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountNumber: "1000000002"},
			money.MustParse("10.00"), alice.OwnerUserID)
		require.NoError(t, err)
		assert.Equal(t, "1000000002", res.DestinationAccountNumber)
	})

	t.Run("unknown destination", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountNumber: "9999999999"},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrDestinationNotFound)

		_, err = f.svc.Transfer(ctx, alice.ID, DestinationRef{},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrDestinationNotFound)
	})

	t.Run("self transfer is rejected", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: alice.ID},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrSameAccount)

		// same account through its public number
		_, err = f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountNumber: "1000000001"},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrSameAccount)
	})

	t.Run("acting user must own the origin account", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("10.00"), bob.OwnerUserID)
		assert.ErrorIs(t, err, ErrNotAccountOwner)

		_, err = f.svc.Transfer(ctx, 424242, DestinationRef{AccountID: bob.ID},
			money.MustParse("10.00"), bob.OwnerUserID)
		assert.ErrorIs(t, err, ErrNotAccountOwner)
	})

	t.Run("missing system account is fatal, not silent", func(t *testing.T) {
		store := memory.New(time.Second)
		alice, err := store.CreateAccount(ctx, 1, 0, "1000000001")
		require.NoError(t, err)
		bob, err := store.CreateAccount(ctx, 1, 0, "1000000002")
		require.NoError(t, err)
		store.SetBalance(alice.ID, money.MustParse("100.00"))

		svc := NewService(store, DefaultConfig(), zerolog.Nop(), nil)
		_, err = svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ledger.ErrSystemAccountMissing)
	})

	t.Run("transient system account lookup failure is not a misconfiguration", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		svc := NewService(&flakyLookupStore{Store: f.store}, DefaultConfig(), zerolog.Nop(), nil)
		_, err := svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("10.00"), alice.OwnerUserID)
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.NotErrorIs(t, err, ledger.ErrSystemAccountMissing)
	})

	t.Run("dangling referrer downgrades to no-referrer split", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 424242)
		bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		require.NoError(t, err)
		assert.Equal(t, "1.00", money.Format(res.Commission))
		assert.Equal(t, "1.00", f.balance(t, f.system.ID))
	})
}

func TestOverlappingRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("destination is the system account", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: f.system.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		require.NoError(t, err)

		// principal and full commission both land on the system account
		assert.Equal(t, "899.00", f.balance(t, alice.ID))
		assert.Equal(t, "101.00", f.balance(t, f.system.ID))
	})

	t.Run("referrer is the destination", func(t *testing.T) {
		f := newFixture(t)
		carol := f.addAccount(t, "carol", "1000000003", "0.00", 0)
		alice := f.addAccount(t, "alice", "1000000001", "1000.00", carol.ID)

		_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: carol.ID},
			money.MustParse("100.00"), alice.OwnerUserID)
		require.NoError(t, err)

		assert.Equal(t, "899.00", f.balance(t, alice.ID))
		assert.Equal(t, "100.50", f.balance(t, carol.ID))
		assert.Equal(t, "0.50", f.balance(t, f.system.ID))
	})

	t.Run("referral cycle does not loop", func(t *testing.T) {
		// A refers B and B refers A; the engine follows exactly one hop.
		f := newFixture(t)
		a := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
		b := f.addAccount(t, "bob", "1000000002", "1000.00", a.ID)
		// close the cycle through a fresh account owned by alice
		c := f.addAccount(t, "alice", "1000000004", "0.00", b.ID)

		_, err := f.svc.Transfer(ctx, b.ID, DestinationRef{AccountID: c.ID},
			money.MustParse("100.00"), b.OwnerUserID)
		require.NoError(t, err)

		assert.Equal(t, "899.00", f.balance(t, b.ID))
		assert.Equal(t, "100.00", f.balance(t, c.ID))
		assert.Equal(t, "0.50", f.balance(t, a.ID))
		assert.Equal(t, "0.50", f.balance(t, f.system.ID))
	})
}

// flakyLookupStore fails every account-number lookup with a transient
// store error.
type flakyLookupStore struct {
	ledger.Store
}

func (f *flakyLookupStore) FindAccountByNumber(ctx context.Context, number string) (ledger.Account, error) {
	return ledger.Account{}, errors.New("connection reset by peer")
}

// failingStore wraps a ledger.Store and fails a chosen Tx operation,
// simulating a write error after locks are held.
type failingStore struct {
	ledger.Store
	failOn string
}

func (f *failingStore) Transact(ctx context.Context, fn func(ledger.Tx) error) error {
	return f.Store.Transact(ctx, func(tx ledger.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: f.failOn})
	})
}

type failingTx struct {
	ledger.Tx
	failOn string
}

func (f *failingTx) InsertTransfer(ctx context.Context, t ledger.Transfer) error {
	if f.failOn == "transfer" {
		return errors.New("disk full")
	}
	return f.Tx.InsertTransfer(ctx, t)
}

func (f *failingTx) InsertCommission(ctx context.Context, c ledger.Commission) error {
	if f.failOn == "commission" {
		return errors.New("disk full")
	}
	return f.Tx.InsertCommission(ctx, c)
}

func TestAtomicityUnderFailure(t *testing.T) {
	ctx := context.Background()

	for _, failOn := range []string{"transfer", "commission"} {
		failOn := failOn
		t.Run("failure inserting "+failOn+" rolls back everything", func(t *testing.T) {
			f := newFixture(t)
			carol := f.addAccount(t, "carol", "1000000003", "7.00", 0)
			alice := f.addAccount(t, "alice", "1000000001", "1000.00", carol.ID)
			bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

			svc := NewService(&failingStore{Store: f.store, failOn: failOn},
				DefaultConfig(), zerolog.Nop(), nil)

			_, err := svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
				money.MustParse("100.00"), alice.OwnerUserID)
			assert.ErrorIs(t, err, ErrTransferFailed)

			assert.Equal(t, "1000.00", f.balance(t, alice.ID))
			assert.Equal(t, "500.00", f.balance(t, bob.ID))
			assert.Equal(t, "7.00", f.balance(t, carol.ID))
			assert.Equal(t, "0.00", f.balance(t, f.system.ID))

			history, err := f.store.ListTransfers(ctx, alice.ID, ledger.Page{Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestLockContention(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithTimeout(t, 50*time.Millisecond)
	alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
	bob := f.addAccount(t, "bob", "1000000002", "500.00", 0)

	// Hold alice's row lock in a competing transaction for longer than
	// the lock timeout.
	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.store.Transact(ctx, func(tx ledger.Tx) error {
			if _, err := tx.LockAccounts(ctx, alice.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()

	<-held
	_, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
		money.MustParse("10.00"), alice.OwnerUserID)
	assert.ErrorIs(t, err, ledger.ErrContention)

	close(release)
	wg.Wait()

	// The aborted transfer wrote nothing.
	assert.Equal(t, "1000.00", f.balance(t, alice.ID))
	assert.Equal(t, "500.00", f.balance(t, bob.ID))
}

func totalBalance(t *testing.T, f *fixture, ids []int64) decimal.Decimal {
	t.Helper()
	sum := decimal.Zero
	for _, id := range ids {
		acct, err := f.store.FindAccount(context.Background(), id)
		require.NoError(t, err)
		sum = sum.Add(acct.Balance)
	}
	return sum
}

func TestConcurrentDisjointTransfers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const pairs = 8
	var origins, dests []ledger.Account
	ids := []int64{f.system.ID}
	for i := 0; i < pairs; i++ {
		o := f.addAccount(t, fmt.Sprintf("user%d", i*2), fmt.Sprintf("20000000%02d", i*2), "1000.00", 0)
		d := f.addAccount(t, fmt.Sprintf("user%d", i*2+1), fmt.Sprintf("20000000%02d", i*2+1), "0.00", 0)
		origins = append(origins, o)
		dests = append(dests, d)
		ids = append(ids, o.ID, d.ID)
	}
	before := totalBalance(t, f, ids)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < pairs; i++ {
		i := i
		g.Go(func() error {
			_, err := f.svc.Transfer(gctx, origins[i].ID,
				DestinationRef{AccountID: dests[i].ID},
				money.MustParse("100.00"), origins[i].OwnerUserID)
			return err
		})
	}
	require.NoError(t, g.Wait(), "disjoint transfers must all commit")

	for i := 0; i < pairs; i++ {
		assert.Equal(t, "899.00", f.balance(t, origins[i].ID))
		assert.Equal(t, "100.00", f.balance(t, dests[i].ID))
	}
	assert.True(t, totalBalance(t, f, ids).Equal(before), "money must be conserved")
}

func TestConcurrentContendedTransfers(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithTimeout(t, 5*time.Second)
	carol := f.addAccount(t, "carol", "1000000003", "0.00", 0)
	alice := f.addAccount(t, "alice", "1000000001", "10000.00", carol.ID)
	bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)
	ids := []int64{f.system.ID, carol.ID, alice.ID, bob.ID}
	before := totalBalance(t, f, ids)

	const workers = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := f.svc.Transfer(gctx, alice.ID,
				DestinationRef{AccountID: bob.ID},
				money.MustParse("10.00"), alice.OwnerUserID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// 25 transfers of 10.00 with 0.10 commission each: alice pays
	// 252.50, bob receives 250.00, carol and system split 2.50.
	assert.Equal(t, "9747.50", f.balance(t, alice.ID))
	assert.Equal(t, "250.00", f.balance(t, bob.ID))
	assert.Equal(t, "1.25", f.balance(t, carol.ID))
	assert.Equal(t, "1.25", f.balance(t, f.system.ID))
	assert.True(t, totalBalance(t, f, ids).Equal(before))

	history, err := f.store.ListTransfers(ctx, alice.ID, ledger.Page{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, history, workers, "no transfer may be lost or duplicated")
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	// Two transfer storms in opposite directions over the same pair.
	// Canonical lock ordering means they serialize instead of
	// deadlocking.
	ctx := context.Background()
	f := newFixtureWithTimeout(t, 5*time.Second)
	alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
	bob := f.addAccount(t, "bob", "1000000002", "1000.00", 0)

	const rounds = 20
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if _, err := f.svc.Transfer(gctx, alice.ID,
				DestinationRef{AccountID: bob.ID},
				money.MustParse("1.00"), alice.OwnerUserID); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if _, err := f.svc.Transfer(gctx, bob.ID,
				DestinationRef{AccountID: alice.ID},
				money.MustParse("1.00"), bob.OwnerUserID); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	// Principals cancel out; each side paid 20 commissions of 0.01.
	assert.Equal(t, "999.80", f.balance(t, alice.ID))
	assert.Equal(t, "999.80", f.balance(t, bob.ID))
	assert.Equal(t, "0.40", f.balance(t, f.system.ID))
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := data.(Event); ok && subject == SubjectTransferCommitted {
		p.events = append(p.events, e)
	}
	return nil
}

func TestCommittedEventPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
	bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

	pub := &capturingPublisher{}
	svc := NewService(f.store, DefaultConfig(), zerolog.Nop(), pub)

	res, err := svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
		money.MustParse("100.00"), alice.OwnerUserID)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, res.TransferID, pub.events[0].TransferID)
	assert.Equal(t, "100.00", pub.events[0].Amount)
	assert.Equal(t, "1.00", pub.events[0].Commission)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addAccount(t, "alice", "1000000001", "1000.00", 0)
	bob := f.addAccount(t, "bob", "1000000002", "0.00", 0)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.Transfer(ctx, alice.ID, DestinationRef{AccountID: bob.ID},
			money.MustParse("10.00"), alice.OwnerUserID)
		require.NoError(t, err)
		ids = append(ids, res.TransferID)
	}

	t.Run("owner sees committed transfers newest first", func(t *testing.T) {
		history, err := f.svc.History(ctx, alice.ID, alice.OwnerUserID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, ids[2], history[0].ID, "most recent transfer must lead the page")
		assert.Equal(t, ids[1], history[1].ID)
		assert.Equal(t, ids[0], history[2].ID)
		for i := 1; i < len(history); i++ {
			assert.False(t, history[i].CreatedAt.After(history[i-1].CreatedAt))
		}
	})

	t.Run("pagination windows the result", func(t *testing.T) {
		history, err := f.svc.History(ctx, alice.ID, alice.OwnerUserID, ledger.Page{Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ids[1], history[0].ID)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		_, err := f.svc.History(ctx, alice.ID, bob.OwnerUserID, ledger.Page{Limit: 10})
		assert.ErrorIs(t, err, ErrNotAccountOwner)
	})

	t.Run("destination owner sees incoming transfers", func(t *testing.T) {
		history, err := f.svc.History(ctx, bob.ID, bob.OwnerUserID, ledger.Page{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})
}
