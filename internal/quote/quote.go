// Package quote implements the QuoteEngine (C4): fee + expected-fill
// pricing with a TTL cache and at-most-one-inflight-computation
// coalescing per key.
//
// Grounded on §9 Design Notes' literal guidance ("a map whose values are
// either Ready or InFlight(waiters)") — implemented here with
// golang.org/x/sync/singleflight (pack dependency, erigon/hyperlicked)
// rather than a hand-rolled waiter list, since singleflight is exactly
// that state machine already, and github.com/hashicorp/golang-lru/v2/expirable
// (pack dependency, same two repos) for the TTL layer around it. Fee-ratio
// arithmetic follows internal/risk/manager.go's config-struct-as-policy
// style (RiskConfig fields feeding pure functions).
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/pricesource"
	"github.com/cowbot/orderbook/internal/types"
)

type PriceQuality string

const (
	QualityFast    PriceQuality = "fast"
	QualityOptimal PriceQuality = "optimal"
)

// Request is a quote request per §4.4.
type Request struct {
	SellToken    types.Address
	BuyToken     types.Address
	Amount       types.U256
	Kind         types.OrderKind
	PriceQuality PriceQuality
}

// Result is the quoted fee, expected fill, and expiry.
type Result struct {
	Fee            types.U256 // post-subsidy, denominated in sellToken
	FullFee        types.U256 // pre-subsidy
	FillAmount     types.U256
	ExpirationDate time.Time
}

// Config parametrizes fee computation — feeRatio = Numer/Denom — and the
// engine's TTLs.
type Config struct {
	FeeRatioNumer int64
	FeeRatioDenom int64
	FeeTTL        time.Duration
	CacheTTL      time.Duration
	NativeToken   types.Address
}

// SubsidyFunc reports the subsidized fee (post-subsidy) for a given
// pre-subsidy fee on a given sell token; the identity function if a
// deployment runs no subsidy program.
type SubsidyFunc func(sellToken types.Address, fullFee types.U256) types.U256

type Engine struct {
	cfg     Config
	prices  pricesource.Source
	subsidy SubsidyFunc

	cache    *lru.LRU[string, Result]
	errCache *lru.LRU[string, error]
	group    singleflight.Group
	now      func() time.Time
}

func NewEngine(cfg Config, prices pricesource.Source, subsidy SubsidyFunc) *Engine {
	if subsidy == nil {
		subsidy = func(_ types.Address, fullFee types.U256) types.U256 { return fullFee }
	}
	return &Engine{
		cfg:      cfg,
		prices:   prices,
		subsidy:  subsidy,
		cache:    lru.NewLRU[string, Result](4096, nil, cfg.CacheTTL),
		errCache: lru.NewLRU[string, error](4096, nil, cfg.CacheTTL),
		now:      time.Now,
	}
}

func cacheKey(r Request) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", r.SellToken.Hex(), r.BuyToken.Hex(), r.Amount.String(), r.Kind, r.PriceQuality)
}

// Quote produces {fee, fillAmount, expirationDate} for req. Concurrent
// calls sharing a key coalesce into a single upstream computation
// (property 5); cached entries are served without recomputation until
// their TTL lapses.
func (e *Engine) Quote(ctx context.Context, req Request) (Result, error) {
	if req.Amount.IsZero() {
		return Result{}, domainerr.Validation(domainerr.AmountIsZero, "quote amount is zero")
	}

	key := cacheKey(req)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	if cachedErr, ok := e.errCache.Get(key); ok {
		return Result{}, cachedErr
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		// Re-check both caches inside the singleflight critical section: a
		// sibling call may have populated either while we queued for the lock.
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
		if cachedErr, ok := e.errCache.Get(key); ok {
			return Result{}, cachedErr
		}
		result, err := e.compute(ctx, req)
		if err != nil {
			// Only upstream (price-provider) failures get negatively
			// cached — a broken provider shouldn't be hammered every
			// request — not validation errors, which are a property of
			// the request itself and would just mask a corrected retry.
			var upErr *domainerr.UpstreamError
			if errors.As(err, &upErr) {
				e.errCache.Add(key, err)
			}
			return Result{}, err
		}
		e.cache.Add(key, result)
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) compute(ctx context.Context, req Request) (Result, error) {
	est, err := e.prices.Estimate(ctx, req.SellToken, req.BuyToken, req.Amount, req.Kind)
	if err != nil {
		return Result{}, err
	}

	nativeSell, err := e.prices.NativePrice(ctx, req.SellToken)
	if err != nil {
		return Result{}, err
	}
	nativeOfNative, err := e.prices.NativePrice(ctx, e.cfg.NativeToken)
	if err != nil {
		// the native token is priced against itself at parity (1e18) by
		// convention; a missing entry means the deployment didn't seed it.
		nativeOfNative = types.U256FromUint64(1_000000000000000000)
	}

	minFee := minFeeWei(est.GasCostWei, nativeOfNative, nativeSell)

	var sellAmountEquivalent types.U256
	switch req.Kind {
	case types.KindSell:
		sellAmountEquivalent = req.Amount
	case types.KindBuy:
		sellAmountEquivalent = est.OutAmount
	}

	ratioFee := feeRatioFee(sellAmountEquivalent, e.cfg.FeeRatioNumer, e.cfg.FeeRatioDenom)

	fullFee := minFee
	if ratioFee.Cmp(fullFee) > 0 {
		fullFee = ratioFee
	}
	fee := e.subsidy(req.SellToken, fullFee)

	fillAmount := est.OutAmount
	if req.Kind == types.KindBuy {
		// implied sell amount must exceed the fee, else the order can
		// never net a positive sell after fees (§4.4 errors).
		if sellAmountEquivalent.Cmp(fee) <= 0 {
			return Result{}, domainerr.Validation(domainerr.SellAmountDoesNotCoverFee, "implied sell amount does not cover fee")
		}
		fillAmount = req.Amount
	}

	return Result{
		Fee:            fee,
		FullFee:        fullFee,
		FillAmount:     fillAmount,
		ExpirationDate: e.now().Add(e.cfg.FeeTTL),
	}, nil
}

// minFeeWei computes gasCostWei · NativePrice(nativeToken) / NativePrice(sellToken),
// i.e. the gas cost expressed in sellToken units, with ceiling division per
// §9's "at least" policy.
func minFeeWei(gasCostWei, nativeOfNative, nativeOfSell types.U256) types.U256 {
	if nativeOfSell.IsZero() {
		return types.U256{}
	}
	return ceilDiv(mul(gasCostWei, nativeOfNative), nativeOfSell)
}

// feeRatioFee computes ceil(numer*sellAmount/denom).
func feeRatioFee(sellAmount types.U256, numer, denom int64) types.U256 {
	if denom == 0 {
		return types.U256{}
	}
	n := types.U256FromUint64(uint64(numer))
	d := types.U256FromUint64(uint64(denom))
	return ceilDiv(mul(sellAmount, n), d)
}

func mul(a, b types.U256) types.U256 {
	av, bv := a.Big(), b.Big()
	result := new(uint256.Int).Mul(av, bv)
	return types.U256FromBig(result)
}

func ceilDiv(numerator, denominator types.U256) types.U256 {
	if denominator.IsZero() {
		return types.U256{}
	}
	nb, db := numerator.Big(), denominator.Big()
	quotient := new(uint256.Int).Div(nb, db)
	remainder := new(uint256.Int).Mod(nb, db)
	if !remainder.IsZero() {
		quotient.Add(quotient, uint256.NewInt(1))
	}
	return types.U256FromBig(quotient)
}
