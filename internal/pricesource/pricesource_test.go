package pricesource

import (
	"context"
	"testing"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

type stubSource struct {
	name   string
	estErr error
	est    Estimate
	npErr  error
	np     types.U256
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Estimate(context.Context, types.Address, types.Address, types.U256, types.OrderKind) (Estimate, error) {
	if s.estErr != nil {
		return Estimate{}, s.estErr
	}
	return s.est, nil
}
func (s *stubSource) NativePrice(context.Context, types.Address) (types.U256, error) {
	if s.npErr != nil {
		return types.U256{}, s.npErr
	}
	return s.np, nil
}

func TestPriorityListReturnsFirstSuccess(t *testing.T) {
	want := types.U256FromUint64(42)
	list := NewPriorityList(
		&stubSource{name: "a", estErr: domainerr.Upstream(domainerr.UpstreamNoLiquidity, nil)},
		&stubSource{name: "b", est: Estimate{OutAmount: want}},
		&stubSource{name: "c", est: Estimate{OutAmount: types.U256FromUint64(99)}},
	)
	got, err := list.Estimate(context.Background(), types.Address{}, types.Address{}, types.U256FromUint64(1), types.KindSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OutAmount.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got.OutAmount, want)
	}
}

func TestPriorityListUnsupportedTokenBeatsNoLiquidity(t *testing.T) {
	list := NewPriorityList(
		&stubSource{name: "a", estErr: domainerr.Upstream(domainerr.UpstreamNoLiquidity, nil)},
		&stubSource{name: "b", estErr: domainerr.Upstream(domainerr.UpstreamUnsupportedToken, nil)},
	)
	_, err := list.Estimate(context.Background(), types.Address{}, types.Address{}, types.U256FromUint64(1), types.KindSell)
	var upErr *domainerr.UpstreamError
	if !asUpstream(err, &upErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upErr.Kind != domainerr.UpstreamUnsupportedToken {
		t.Fatalf("expected UnsupportedToken to win, got %s", upErr.Kind)
	}
}

func asUpstream(err error, target **domainerr.UpstreamError) bool {
	up, ok := err.(*domainerr.UpstreamError)
	if ok {
		*target = up
	}
	return ok
}
