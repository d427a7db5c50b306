package status

import (
	"testing"
	"time"

	"github.com/cowbot/orderbook/internal/types"
)

func baseOrder() *types.Order {
	return &types.Order{
		SellAmount:    types.U256FromUint64(1000),
		BuyAmount:     types.U256FromUint64(2000),
		ValidTo:       types.U32(time.Now().Add(time.Hour).Unix()),
		Kind:          types.KindSell,
		SigningScheme: types.SchemeEIP712,
	}
}

func TestProjectOpen(t *testing.T) {
	o := baseOrder()
	got := Project(o, Facts{}, time.Now())
	if got != types.StatusOpen {
		t.Fatalf("got %s, want open", got)
	}
}

func TestProjectCancelledBeatsExpired(t *testing.T) {
	o := baseOrder()
	o.ValidTo = types.U32(time.Now().Add(-time.Hour).Unix()) // already expired
	got := Project(o, Facts{Invalidated: true}, time.Now())
	if got != types.StatusCancelled {
		t.Fatalf("got %s, want cancelled (cancellation must be evaluated before expiry)", got)
	}
}

func TestProjectFulfilledBeatsExpired(t *testing.T) {
	o := baseOrder()
	o.ValidTo = types.U32(time.Now().Add(-time.Hour).Unix())
	got := Project(o, Facts{Executed: types.ExecutedSums{SellAmount: o.SellAmount}}, time.Now())
	if got != types.StatusFulfilled {
		t.Fatalf("got %s, want fulfilled", got)
	}
}

func TestProjectExpired(t *testing.T) {
	o := baseOrder()
	o.ValidTo = types.U32(time.Now().Add(-time.Hour).Unix())
	got := Project(o, Facts{}, time.Now())
	if got != types.StatusExpired {
		t.Fatalf("got %s, want expired", got)
	}
}

func TestProjectPresignaturePending(t *testing.T) {
	o := baseOrder()
	o.SigningScheme = types.SchemePreSign
	got := Project(o, Facts{PresignatureSupported: true, PresignatureObserved: false}, time.Now())
	if got != types.StatusPresignaturePending {
		t.Fatalf("got %s, want presignaturePending", got)
	}
}

func TestProjectPresignObservedFallsThroughToOpen(t *testing.T) {
	o := baseOrder()
	o.SigningScheme = types.SchemePreSign
	got := Project(o, Facts{PresignatureSupported: true, PresignatureObserved: true}, time.Now())
	if got != types.StatusOpen {
		t.Fatalf("got %s, want open once presignature observed", got)
	}
}

func TestProjectBuySideFulfillment(t *testing.T) {
	o := baseOrder()
	o.Kind = types.KindBuy
	got := Project(o, Facts{Executed: types.ExecutedSums{BuyAmount: o.BuyAmount}}, time.Now())
	if got != types.StatusFulfilled {
		t.Fatalf("got %s, want fulfilled", got)
	}
}
