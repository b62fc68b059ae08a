// Package transfer is the atomic transfer engine. One call to Transfer
// validates the request, locks every account it may touch in canonical
// order, recomputes balances from the locked rows, allocates the
// commission and records the result — committed as a whole or not at
// all.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/payring/payring/internal/commission"
	"github.com/payring/payring/internal/ledger"
	"github.com/payring/payring/internal/metrics"
	"github.com/payring/payring/pkg/money"
)

// SubjectTransferCommitted is the messaging subject for committed
// transfer events.
const SubjectTransferCommitted = "transfers.committed"

// Config carries the commission policy and the system account handle.
type Config struct {
	FeeRate             decimal.Decimal
	MinFee              decimal.Decimal
	MinTransfer         decimal.Decimal
	SystemAccountNumber string
}

// DefaultConfig is the production policy: 1% fee, 0.01 minimum fee,
// 0.10 minimum transfer.
func DefaultConfig() Config {
	return Config{
		FeeRate:             money.MustParse("0.01"),
		MinFee:              money.MustParse("0.01"),
		MinTransfer:         money.MustParse("0.10"),
		SystemAccountNumber: "0000000001",
	}
}

// Publisher pushes committed-transfer events. Publishing is best
// effort; a failed publish never affects a committed transfer.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// DestinationRef names the destination account by exactly one of its
// two public handles. Callers choose the form; the engine never guesses
// what a bare string means.
type DestinationRef struct {
	AccountID     int64
	AccountNumber string
}

// Result describes one committed transfer to the caller.
type Result struct {
	TransferID               string          `json:"transfer_id"`
	Amount                   decimal.Decimal `json:"amount"`
	Commission               decimal.Decimal `json:"commission"`
	Timestamp                time.Time       `json:"timestamp"`
	DestinationAccountNumber string          `json:"destination_account_number"`
	DestinationOwnerName     string          `json:"destination_owner_name"`
}

// Event is the payload published on SubjectTransferCommitted.
type Event struct {
	TransferID           string `json:"transfer_id"`
	Amount               string `json:"amount"`
	Commission           string `json:"commission"`
	OriginAccountID      int64  `json:"origin_account_id"`
	DestinationAccountID int64  `json:"destination_account_id"`
}

// Service orchestrates transfers against a ledger.Store.
type Service struct {
	store ledger.Store
	cfg   Config
	log   zerolog.Logger
	pub   Publisher // may be nil
}

// NewService creates the orchestrator. pub may be nil when no event bus
// is configured.
func NewService(store ledger.Store, cfg Config, log zerolog.Logger, pub Publisher) *Service {
	return &Service{store: store, cfg: cfg, log: log, pub: pub}
}

// Transfer moves amount from the origin account to the destination,
// charging the commission on top of the principal: the origin is
// debited amount+commission, the destination receives the full amount,
// and the commission is split between the origin's referrer and the
// system account.
func (s *Service) Transfer(ctx context.Context, originID int64, dest DestinationRef, amount decimal.Decimal, actingUserID int64) (Result, error) {
	start := time.Now()
	res, err := s.transfer(ctx, originID, dest, amount, actingUserID)
	metrics.ObserveTransfer(statusLabel(err), time.Since(start))
	return res, err
}

func (s *Service) transfer(ctx context.Context, originID int64, dest DestinationRef, amount decimal.Decimal, actingUserID int64) (Result, error) {
	if amount.LessThan(s.cfg.MinTransfer) {
		return Result{}, ErrAmountBelowMinimum
	}

	origin, err := s.store.FindAccount(ctx, originID)
	if err != nil || origin.OwnerUserID != actingUserID {
		// Missing and foreign origin accounts are reported identically.
		return Result{}, ErrNotAccountOwner
	}

	destination, err := s.resolveDestination(ctx, dest)
	if err != nil {
		return Result{}, err
	}
	if destination.ID == origin.ID {
		return Result{}, ErrSameAccount
	}

	system, err := s.store.FindAccountByNumber(ctx, s.cfg.SystemAccountNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		s.log.Error().Str("system_account", s.cfg.SystemAccountNumber).
			Msg("system account missing; refusing to process transfers")
		return Result{}, ledger.ErrSystemAccountMissing
	}
	if err != nil {
		// Transient store failures are not a misconfiguration.
		s.log.Error().Err(err).Msg("failed to resolve system account")
		return Result{}, ErrTransferFailed
	}

	// The referral link is a weak reference; a dangling one downgrades
	// the transfer to the no-referrer split rather than failing it.
	referrerID := int64(0)
	if origin.HasReferrer() {
		if _, err := s.store.FindAccount(ctx, origin.ReferredBy); err == nil {
			referrerID = origin.ReferredBy
		} else {
			s.log.Warn().Int64("account_id", origin.ID).Int64("referred_by", origin.ReferredBy).
				Msg("referrer account does not resolve; commission goes to system account")
		}
	}

	lockSet := []int64{origin.ID, destination.ID, system.ID}
	if referrerID != 0 {
		lockSet = append(lockSet, referrerID)
	}

	record := ledger.Transfer{
		ID:                   uuid.NewString(),
		OriginAccountID:      origin.ID,
		DestinationAccountID: destination.ID,
		Amount:               amount,
	}

	err = s.store.Transact(ctx, func(tx ledger.Tx) error {
		// Locked rows are the only balances this block trusts; every
		// read before this point may be stale.
		locked, err := tx.LockAccounts(ctx, lockSet...)
		if err != nil {
			return err
		}

		lockedOrigin := locked[origin.ID]
		split := commission.Allocate(amount, s.cfg.FeeRate, s.cfg.MinFee, referrerID != 0)

		debit := amount.Add(split.Total)
		if lockedOrigin.Balance.LessThan(debit) {
			return ErrInsufficientFunds
		}

		// Deltas are accumulated per account id so overlapping roles
		// (destination doubling as system account, referrer doubling
		// as destination) net out instead of clobbering each other.
		deltas := map[int64]decimal.Decimal{}
		deltas[origin.ID] = deltas[origin.ID].Sub(debit)
		deltas[destination.ID] = deltas[destination.ID].Add(amount)
		deltas[system.ID] = deltas[system.ID].Add(split.SystemShare)
		if referrerID != 0 {
			deltas[referrerID] = deltas[referrerID].Add(split.ReferrerShare)
		}

		for id, delta := range deltas {
			balance := locked[id].Balance.Add(delta)
			if balance.IsNegative() {
				return ErrInsufficientFunds
			}
			if err := tx.UpdateBalance(ctx, id, balance); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		record.Commission = split.Total
		record.CreatedAt = now
		if err := tx.InsertTransfer(ctx, record); err != nil {
			return err
		}

		if err := tx.InsertCommission(ctx, ledger.Commission{
			ID:                   uuid.NewString(),
			Amount:               split.SystemShare,
			CreatedAt:            now,
			BeneficiaryAccountID: system.ID,
			TransferID:           record.ID,
		}); err != nil {
			return err
		}
		if referrerID != 0 && split.ReferrerShare.IsPositive() {
			if err := tx.InsertCommission(ctx, ledger.Commission{
				ID:                   uuid.NewString(),
				Amount:               split.ReferrerShare,
				CreatedAt:            now,
				BeneficiaryAccountID: referrerID,
				TransferID:           record.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, s.mapError(err, record.ID)
	}

	s.log.Info().
		Str("transfer_id", record.ID).
		Int64("origin", record.OriginAccountID).
		Int64("destination", record.DestinationAccountID).
		Str("amount", money.Format(record.Amount)).
		Str("commission", money.Format(record.Commission)).
		Msg("transfer committed")

	s.publish(ctx, record)

	return Result{
		TransferID:               record.ID,
		Amount:                   record.Amount,
		Commission:               record.Commission,
		Timestamp:                record.CreatedAt,
		DestinationAccountNumber: destination.Number,
		DestinationOwnerName:     s.ownerName(ctx, destination.OwnerUserID),
	}, nil
}

func (s *Service) resolveDestination(ctx context.Context, dest DestinationRef) (ledger.Account, error) {
	var (
		account ledger.Account
		err     error
	)
	switch {
	case dest.AccountNumber != "":
		account, err = s.store.FindAccountByNumber(ctx, dest.AccountNumber)
	case dest.AccountID != 0:
		account, err = s.store.FindAccount(ctx, dest.AccountID)
	default:
		return ledger.Account{}, ErrDestinationNotFound
	}
	if err != nil {
		return ledger.Account{}, ErrDestinationNotFound
	}
	return account, nil
}

// mapError keeps the classified kinds and hides everything else behind
// the opaque rejection.
func (s *Service) mapError(err error, transferID string) error {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ledger.ErrSystemAccountMissing):
		return err
	case errors.Is(err, ledger.ErrContention):
		metrics.ObserveContention()
		return err
	case errors.Is(err, ledger.ErrNotFound):
		// An account vanished between resolution and locking.
		return ErrDestinationNotFound
	default:
		s.log.Error().Err(err).Str("transfer_id", transferID).Msg("transfer aborted")
		return ErrTransferFailed
	}
}

func (s *Service) publish(ctx context.Context, record ledger.Transfer) {
	if s.pub == nil {
		return
	}
	event := Event{
		TransferID:           record.ID,
		Amount:               money.Format(record.Amount),
		Commission:           money.Format(record.Commission),
		OriginAccountID:      record.OriginAccountID,
		DestinationAccountID: record.DestinationAccountID,
	}
	if err := s.pub.Publish(ctx, SubjectTransferCommitted, event); err != nil {
		s.log.Warn().Err(err).Str("transfer_id", record.ID).Msg("failed to publish transfer event")
	}
}

func (s *Service) ownerName(ctx context.Context, userID int64) string {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return ""
	}
	return user.Name
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ledger.ErrContention):
		return "contention"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "rejected"
	}
}

// History returns the committed transfers touching the account, newest
// first. Only the account owner may read it.
func (s *Service) History(ctx context.Context, accountID, actingUserID int64, page ledger.Page) ([]ledger.Transfer, error) {
	if err := s.authorize(ctx, accountID, actingUserID); err != nil {
		return nil, err
	}
	if page.Limit <= 0 {
		page.Limit = 50
	}
	return s.store.ListTransfers(ctx, accountID, page)
}

// Commissions returns the committed commission rows credited to the
// account, newest first. Only the account owner may read it.
func (s *Service) Commissions(ctx context.Context, accountID, actingUserID int64, page ledger.Page) ([]ledger.Commission, error) {
	if err := s.authorize(ctx, accountID, actingUserID); err != nil {
		return nil, err
	}
	if page.Limit <= 0 {
		page.Limit = 50
	}
	return s.store.ListCommissions(ctx, accountID, page)
}

func (s *Service) authorize(ctx context.Context, accountID, actingUserID int64) error {
	account, err := s.store.FindAccount(ctx, accountID)
	if err != nil || account.OwnerUserID != actingUserID {
		return ErrNotAccountOwner
	}
	return nil
}
