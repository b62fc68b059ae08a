package transfer

import "errors"

var (
	// ErrAmountBelowMinimum rejects transfers under the configured
	// minimum amount.
	ErrAmountBelowMinimum = errors.New("amount below minimum")

	// ErrSameAccount rejects transfers where origin and destination
	// resolve to the same account.
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrNotAccountOwner means the acting user does not own the origin
	// account (or it does not exist; the two are indistinguishable to
	// the caller on purpose).
	ErrNotAccountOwner = errors.New("not the account owner")

	// ErrDestinationNotFound means the destination reference did not
	// resolve to an account.
	ErrDestinationNotFound = errors.New("destination account not found")

	// ErrInsufficientFunds means the origin balance cannot cover the
	// principal plus commission. Nothing was written.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransferFailed is the opaque rejection for unclassified
	// failures. The underlying cause is logged, never surfaced.
	ErrTransferFailed = errors.New("transfer failed")
)
