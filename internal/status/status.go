// Package status implements the StatusProjector (C8): a pure function
// turning an order, its execution sums, and cancellation/presignature
// facts into the one status a reader sees.
//
// Grounded on internal/risk/manager.go's style of expressing a decision as
// an ordered sequence of independent boolean checks over a small struct —
// generalized here to a total, side-effect-free projection instead of a
// stateful gatekeeper, since §4.8 requires purity: the same inputs must
// always project to the same status.
package status

import (
	"time"

	"github.com/cowbot/orderbook/internal/types"
)

// Facts bundles everything Project needs beyond the order itself, all of
// it sourced from C1 by the caller.
type Facts struct {
	Executed               types.ExecutedSums
	Invalidated            bool // an Invalidation row exists for this uid
	SignedCancellation     bool // an off-chain cancellation signature is recorded
	PresignatureObserved   bool // a presignature-set event has been indexed for this uid
	PresignatureSupported  bool // the deployment supports the presign scheme at all
}

// Project evaluates §4.8's clauses in order; the first match wins.
func Project(o *types.Order, f Facts, now time.Time) types.OrderStatus {
	if o.SigningScheme == types.SchemePreSign && f.PresignatureSupported && !f.PresignatureObserved {
		return types.StatusPresignaturePending
	}
	if f.Invalidated || f.SignedCancellation {
		return types.StatusCancelled
	}
	if fulfilled(o, f.Executed) {
		return types.StatusFulfilled
	}
	if now.After(time.Unix(int64(o.ValidTo), 0)) {
		return types.StatusExpired
	}
	return types.StatusOpen
}

func fulfilled(o *types.Order, executed types.ExecutedSums) bool {
	switch o.Kind {
	case types.KindSell:
		return executed.SellAmount.Cmp(o.SellAmount) >= 0
	case types.KindBuy:
		return executed.BuyAmount.Cmp(o.BuyAmount) >= 0
	default:
		return false
	}
}
