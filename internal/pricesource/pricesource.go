// Package pricesource implements the PriceSource capability (C3): "how
// much of B per A", composed from multiple backings through a priority
// list, plus the NativePrice oracle.
//
// Grounded on internal/chainlink/client.go and internal/cmc/client.go for
// the polling-HTTP-client shape (buffered last value, background poll
// loop with stopCh), and on internal/polymarket/ws_client.go for the
// websocket-fed implementation's reconnect loop. Per §9 Design Notes,
// composition is a plain ordered slice of capabilities — no inheritance.
package pricesource

import (
	"context"
	"errors"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

// Estimate is the result of a quote against one side of the market.
type Estimate struct {
	OutAmount types.U256
	GasCostWei types.U256
}

// Source is the capability interface every price backing implements.
type Source interface {
	Name() string
	Estimate(ctx context.Context, sellToken, buyToken types.Address, amount types.U256, kind types.OrderKind) (Estimate, error)
	NativePrice(ctx context.Context, token types.Address) (types.U256, error)
}

// PriorityList tries sources in order and returns the first success. If
// every source fails, it returns the most specific error — UnsupportedToken
// beats NoLiquidity, per §4.3.
type PriorityList struct {
	sources []Source
}

func NewPriorityList(sources ...Source) *PriorityList {
	return &PriorityList{sources: sources}
}

func (p *PriorityList) Estimate(ctx context.Context, sellToken, buyToken types.Address, amount types.U256, kind types.OrderKind) (Estimate, error) {
	var best error
	for _, src := range p.sources {
		est, err := src.Estimate(ctx, sellToken, buyToken, amount, kind)
		if err == nil {
			return est, nil
		}
		best = mostSpecific(best, err)
	}
	if best == nil {
		return Estimate{}, domainerr.Upstream(domainerr.UpstreamNoLiquidity, errors.New("no price sources configured"))
	}
	return Estimate{}, best
}

func (p *PriorityList) NativePrice(ctx context.Context, token types.Address) (types.U256, error) {
	var best error
	for _, src := range p.sources {
		price, err := src.NativePrice(ctx, token)
		if err == nil {
			return price, nil
		}
		best = mostSpecific(best, err)
	}
	if best == nil {
		return types.U256{}, domainerr.Upstream(domainerr.UpstreamNoLiquidity, errors.New("no price sources configured"))
	}
	return types.U256{}, best
}

// mostSpecific implements "UnsupportedToken beats NoLiquidity": once an
// UnsupportedToken verdict is seen it sticks, since it means the token
// itself is the problem rather than momentary illiquidity.
func mostSpecific(current, candidate error) error {
	if current == nil {
		return candidate
	}
	var curUp, candUp *domainerr.UpstreamError
	if errors.As(current, &curUp) && curUp.Kind == domainerr.UpstreamUnsupportedToken {
		return current
	}
	if errors.As(candidate, &candUp) && candUp.Kind == domainerr.UpstreamUnsupportedToken {
		return candidate
	}
	return current
}
