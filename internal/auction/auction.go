// Package auction implements the AuctionCache (C9): a periodically
// rebuilt, pointer-swap snapshot of orders currently eligible for solving,
// plus the reference prices a solver needs for them.
//
// Grounded on internal/markets/manager.go's MarketManager.Start(ctx)
// periodic-rebuild loop (ticker + ctx.Done() select), generalized from
// per-market strategy evaluation to a single shared rebuild, and on the
// singleflight coalescing already used by internal/quote for the same
// "one rebuild in flight, concurrent triggers fold into it" shape.
package auction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/pricesource"
	"github.com/cowbot/orderbook/internal/status"
	"github.com/cowbot/orderbook/internal/store"
	"github.com/cowbot/orderbook/internal/types"
)

// Snapshot is the immutable value published on every successful rebuild.
type Snapshot struct {
	Block                 uint64
	LatestSettlementBlock uint64
	Orders                []*types.Order
	Prices                map[types.Address]types.U256
}

// BalanceKey mirrors balance.Key's shape; kept local for the same reason
// internal/validator keeps its own copy — avoiding an import solely for a
// three-field key type.
type BalanceKey struct {
	Owner types.Address
	Token types.Address
	Class types.BalanceClass
}

type balanceReader interface {
	Available(key BalanceKey) (types.U256, bool)
}

type Config struct {
	RefreshInterval   time.Duration
	PresignSupported  bool
	UnsupportedTokens map[types.Address]bool
}

// Cache holds the single shared snapshot slot (§5's "single shared slot,
// pointer-swap semantics").
type Cache struct {
	store    *store.Store
	prices   pricesource.Source
	balances balanceReader
	cfg      Config

	snapshot atomic.Pointer[Snapshot]
	group    singleflight.Group
	now      func() time.Time
}

func New(s *store.Store, prices pricesource.Source, balances balanceReader, cfg Config) *Cache {
	c := &Cache{store: s, prices: prices, balances: balances, cfg: cfg, now: time.Now}
	c.snapshot.Store(&Snapshot{Orders: []*types.Order{}, Prices: map[types.Address]types.U256{}})
	return c
}

// Snapshot returns the most recently published snapshot. Readers never
// observe a torn or partial rebuild.
func (c *Cache) Snapshot() *Snapshot { return c.snapshot.Load() }

// Run rebuilds on a fixed cadence until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Trigger(ctx)
		}
	}
}

// Trigger runs a rebuild, coalescing concurrent callers into the single
// rebuild already in flight rather than running one each.
func (c *Cache) Trigger(ctx context.Context) {
	_, err, _ := c.group.Do("rebuild", func() (interface{}, error) {
		return nil, c.rebuild(ctx)
	})
	if err != nil {
		log.Error().Err(err).Msg("auction: rebuild failed")
	}
}

// rebuild implements §4.9's five-step procedure. A failed rebuild returns
// without publishing, so the snapshot's block stays monotonic.
func (c *Cache) rebuild(ctx context.Context) error {
	block, err := c.store.LatestIndexedBlock()
	if err != nil {
		return err
	}

	now := c.now()
	minValidTo := types.U32(now.Unix())
	candidates, err := c.store.OrdersBy(store.OrderFilter{MinValidTo: &minValidTo})
	if err != nil {
		return err
	}

	surviving := make([]*types.Order, 0, len(candidates))
	for _, o := range candidates {
		if c.cfg.UnsupportedTokens[o.SellToken] || c.cfg.UnsupportedTokens[o.BuyToken] {
			continue
		}
		open, err := c.isOpen(o, now)
		if err != nil {
			return err
		}
		if !open {
			continue
		}
		if !o.PartiallyFillable && !c.hasSufficientBalance(o) {
			continue
		}
		surviving = append(surviving, o)
	}

	prices := c.fetchPrices(ctx, tokenUnion(surviving))

	final := surviving[:0]
	for _, o := range surviving {
		if _, ok := prices[o.SellToken]; !ok {
			continue
		}
		if _, ok := prices[o.BuyToken]; !ok {
			continue
		}
		final = append(final, o)
	}

	latestSettlement, _, err := c.store.MaxSettlementBlockAtOrBelow(block)
	if err != nil {
		return err
	}

	c.snapshot.Store(&Snapshot{
		Block:                 block,
		LatestSettlementBlock: latestSettlement,
		Orders:                final,
		Prices:                prices,
	})
	return nil
}

func (c *Cache) isOpen(o *types.Order, now time.Time) (bool, error) {
	executed, err := c.store.GetExecutedSums(o.Uid)
	if err != nil {
		return false, err
	}
	invalidated, err := c.store.HasInvalidation(o.Uid)
	if err != nil {
		return false, err
	}
	cancelled, err := c.store.HasSignedCancellation(o.Uid)
	if err != nil {
		return false, err
	}
	presignObserved, err := c.store.HasPresignature(o.Uid)
	if err != nil {
		return false, err
	}
	facts := status.Facts{
		Executed:              executed,
		Invalidated:           invalidated,
		SignedCancellation:    cancelled,
		PresignatureObserved:  presignObserved,
		PresignatureSupported: c.cfg.PresignSupported,
	}
	return status.Project(o, facts, now) == types.StatusOpen, nil
}

func (c *Cache) hasSufficientBalance(o *types.Order) bool {
	if c.balances == nil {
		return true
	}
	available, ok := c.balances.Available(BalanceKey{Owner: o.Owner, Token: o.SellToken, Class: o.SellTokenBalance})
	if !ok {
		return true
	}
	required := o.SellAmount.Add(o.FeeAmount)
	return available.Cmp(required) >= 0
}

func (c *Cache) fetchPrices(ctx context.Context, tokens []types.Address) map[types.Address]types.U256 {
	prices := make(map[types.Address]types.U256, len(tokens))
	if c.prices == nil {
		return prices
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok types.Address) {
			defer wg.Done()
			price, err := c.prices.NativePrice(ctx, tok)
			if err != nil {
				return
			}
			mu.Lock()
			prices[tok] = price
			mu.Unlock()
		}(tok)
	}
	wg.Wait()
	return prices
}

func tokenUnion(orders []*types.Order) []types.Address {
	seen := make(map[types.Address]bool)
	var out []types.Address
	for _, o := range orders {
		if !seen[o.SellToken] {
			seen[o.SellToken] = true
			out = append(out, o.SellToken)
		}
		if !seen[o.BuyToken] {
			seen[o.BuyToken] = true
			out = append(out, o.BuyToken)
		}
	}
	return out
}
