// Package commission computes the fee charged on a transfer and its
// split between the origin's referrer and the system account.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/payring/payring/pkg/money"
)

// Split is the outcome of allocating one transfer's commission.
// ReferrerShare + SystemShare always equals Total exactly.
type Split struct {
	Total         decimal.Decimal
	ReferrerShare decimal.Decimal
	SystemShare   decimal.Decimal
}

// Allocate computes the total commission for a transfer of amount and
// divides it between referrer and system account. The total is
// amount*feeRate rounded to the cent, floored at minFee. With a
// referrer the referrer receives half the total floored to the cent and
// the system account receives the remainder, so an odd cent always
// lands on the system account. Without a referrer the system account
// receives everything.
func Allocate(amount, feeRate, minFee decimal.Decimal, hasReferrer bool) Split {
	total := money.Round(amount.Mul(feeRate))
	if total.LessThan(minFee) {
		total = minFee
	}

	if !hasReferrer {
		return Split{Total: total, ReferrerShare: money.Zero, SystemShare: total}
	}

	half := money.Floor(total.Div(decimal.NewFromInt(2)))
	return Split{
		Total:         total,
		ReferrerShare: half,
		SystemShare:   total.Sub(half),
	}
}
