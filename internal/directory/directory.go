// Package directory resolves accounts by id or public account number
// for the read paths (listings, contact resolution, owner names). A
// Redis read-through cache fronts the store; cached rows are snapshots
// of committed state and are never consulted by the transfer engine,
// which re-reads every balance under lock.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/payring/payring/internal/ledger"
)

// Directory is the account lookup surface.
type Directory struct {
	store        ledger.Store
	cache        *redis.Client // may be nil
	ttl          time.Duration
	systemNumber string
	log          zerolog.Logger
}

// New creates a Directory. cache may be nil, in which case every lookup
// goes to the store. systemNumber names the commission sink account,
// which contact listings leave out.
func New(store ledger.Store, cache *redis.Client, ttl time.Duration, systemNumber string, log zerolog.Logger) *Directory {
	return &Directory{store: store, cache: cache, ttl: ttl, systemNumber: systemNumber, log: log}
}

// FindByID returns the account with the given internal id.
func (d *Directory) FindByID(ctx context.Context, id int64) (ledger.Account, error) {
	return d.store.FindAccount(ctx, id)
}

// FindByNumber resolves a public account number. The number-to-account
// mapping is immutable after provisioning, so it is safe to cache even
// though the embedded balance snapshot may lag a committing transfer.
func (d *Directory) FindByNumber(ctx context.Context, number string) (ledger.Account, error) {
	key := "account:number:" + number
	if acct, ok := d.cached(ctx, key); ok {
		return acct, nil
	}

	acct, err := d.store.FindAccountByNumber(ctx, number)
	if err != nil {
		return ledger.Account{}, err
	}
	d.put(ctx, key, acct)
	return acct, nil
}

// ListByUser returns the accounts owned by a user, with referrer owner
// names resolved for display.
func (d *Directory) ListByUser(ctx context.Context, userID int64) ([]AccountView, error) {
	accounts, err := d.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]AccountView, 0, len(accounts))
	for _, acct := range accounts {
		view := AccountView{Account: acct}
		if acct.HasReferrer() {
			view.ReferrerName = d.OwnerName(ctx, acct.ReferredBy)
		}
		views = append(views, view)
	}
	return views, nil
}

// AccountView decorates an account with display-only referral data.
type AccountView struct {
	ledger.Account
	ReferrerName string `json:"referrer_name,omitempty"`
}

// FrequentContact is a user the acting user repeatedly sends money to.
type FrequentContact struct {
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	AccountID     int64  `json:"account_id"`
	TransferCount int    `json:"transfer_count"`
}

// ReferralContact is a user linked to the acting user through the
// referral graph, one hop in either direction.
type ReferralContact struct {
	UserID     int64  `json:"user_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AccountID  int64  `json:"account_id"`
	IsReferrer bool   `json:"is_referrer"`
	IsReferred bool   `json:"is_referred"`
}

// FrequentContacts ranks the users the acting user sends to by the
// number of outgoing transfers, most frequent first. Transfers to the
// user's own accounts and to the system account do not count.
func (d *Directory) FrequentContacts(ctx context.Context, userID int64) ([]FrequentContact, error) {
	accounts, err := d.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	originIDs := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		originIDs = append(originIDs, a.ID)
	}

	counts, err := d.store.CountTransfersByDestination(ctx, originIDs)
	if err != nil {
		return nil, err
	}

	// Counts arrive per destination account; fold them per owner so a
	// contact with several accounts appears once. The first account seen
	// (the most-used one) represents the contact.
	byUser := make(map[int64]*FrequentContact)
	var order []int64
	for _, c := range counts {
		acct, err := d.store.FindAccount(ctx, c.DestinationAccountID)
		if err != nil {
			continue
		}
		if acct.OwnerUserID == userID || acct.Number == d.systemNumber {
			continue
		}
		if contact, ok := byUser[acct.OwnerUserID]; ok {
			contact.TransferCount += c.Transfers
			continue
		}
		owner, err := d.store.FindUser(ctx, acct.OwnerUserID)
		if err != nil {
			continue
		}
		byUser[owner.ID] = &FrequentContact{
			UserID:        owner.ID,
			Name:          owner.Name,
			Email:         owner.Email,
			AccountID:     acct.ID,
			TransferCount: c.Transfers,
		}
		order = append(order, owner.ID)
	}

	contacts := make([]FrequentContact, 0, len(order))
	for _, id := range order {
		contacts = append(contacts, *byUser[id])
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].TransferCount > contacts[j].TransferCount
	})
	return contacts, nil
}

// ReferralContacts lists the users the acting user referred and the one
// who referred them, flagged by direction.
func (d *Directory) ReferralContacts(ctx context.Context, userID int64) ([]ReferralContact, error) {
	accounts, err := d.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	ownIDs := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		ownIDs = append(ownIDs, a.ID)
	}

	referred, err := d.store.ListAccountsReferredBy(ctx, ownIDs)
	if err != nil {
		return nil, err
	}

	var contacts []ReferralContact
	for _, acct := range referred {
		if c, ok := d.referralContact(ctx, acct, false); ok {
			contacts = append(contacts, c)
		}
	}

	seen := make(map[int64]bool)
	for _, own := range accounts {
		if !own.HasReferrer() || seen[own.ReferredBy] {
			continue
		}
		seen[own.ReferredBy] = true
		// Dangling referral links are tolerated here exactly as the
		// transfer engine tolerates them.
		acct, err := d.store.FindAccount(ctx, own.ReferredBy)
		if err != nil {
			continue
		}
		if c, ok := d.referralContact(ctx, acct, true); ok {
			contacts = append(contacts, c)
		}
	}
	return contacts, nil
}

func (d *Directory) referralContact(ctx context.Context, acct ledger.Account, isReferrer bool) (ReferralContact, bool) {
	owner, err := d.store.FindUser(ctx, acct.OwnerUserID)
	if err != nil {
		return ReferralContact{}, false
	}
	return ReferralContact{
		UserID:     owner.ID,
		Name:       owner.Name,
		Email:      owner.Email,
		AccountID:  acct.ID,
		IsReferrer: isReferrer,
		IsReferred: !isReferrer,
	}, true
}

// OwnerName returns the display name of the user owning the account, or
// empty when either side of the lookup fails.
func (d *Directory) OwnerName(ctx context.Context, accountID int64) string {
	acct, err := d.store.FindAccount(ctx, accountID)
	if err != nil {
		return ""
	}
	user, err := d.store.FindUser(ctx, acct.OwnerUserID)
	if err != nil {
		return ""
	}
	return user.Name
}

func (d *Directory) cached(ctx context.Context, key string) (ledger.Account, bool) {
	if d.cache == nil {
		return ledger.Account{}, false
	}
	payload, err := d.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.Account{}, false
	}
	if err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("directory cache read failed")
		return ledger.Account{}, false
	}
	var acct ledger.Account
	if err := json.Unmarshal(payload, &acct); err != nil {
		return ledger.Account{}, false
	}
	return acct, true
}

func (d *Directory) put(ctx context.Context, key string, acct ledger.Account) {
	if d.cache == nil {
		return
	}
	payload, err := json.Marshal(acct)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, payload, d.ttl).Err(); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
}
