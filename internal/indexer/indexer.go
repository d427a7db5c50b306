// Package indexer implements the ChainIndexer (C7): a reorg-safe follower
// over the settlement contract's Trade/OrderInvalidated/Settlement topics.
//
// Grounded on internal/markets/manager.go's evaluateMarketLoop (ticker +
// ctx.Done()/stopCh select) for the poll cadence, and on
// other_examples' OrderBookEVM settlement.go for the ethclient-backed
// chain plumbing shape (generalized here to a read-only follower rather
// than a transaction submitter). Retry backoff uses cenkalti/backoff/v4,
// the pack dependency the erigon example carries for the same purpose.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/cowbot/orderbook/internal/chain"
	"github.com/cowbot/orderbook/internal/store"
	domaintypes "github.com/cowbot/orderbook/internal/types"
)

// DecodeError indicates a log could not be decoded under the expected
// event shape — a distinct, fatal failure mode per §4.7, since it
// signals ABI/schema drift rather than a transient network fault.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("indexer: decode %s: %v", e.Topic, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

type Config struct {
	SettlementContract common.Address
	ReorgDepth         uint64
	BatchSize          uint64
	PollInterval       time.Duration
	MaxBackoff         time.Duration
}

// FatalHook is invoked once per decode failure so the caller can page an
// operator; nil disables notification.
type FatalHook func(err error)

type Indexer struct {
	provider chain.Provider
	store    *store.Store
	cfg      Config
	onFatal  FatalHook
}

func New(provider chain.Provider, s *store.Store, cfg Config, onFatal FatalHook) *Indexer {
	return &Indexer{provider: provider, store: s, cfg: cfg, onFatal: onFatal}
}

// Run polls until ctx is cancelled, advancing the store's watermark one
// batch at a time. Network errors within a single iteration retry with
// capped exponential backoff and are retried again on the next tick;
// decode failures are reported via onFatal and then terminate the
// process, since the contract never un-emits a malformed log and
// retrying cannot get past it.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.runIteration(ctx); err != nil {
				log.Error().Err(err).Msg("indexer: iteration failed")
				var decodeErr *DecodeError
				if asDecodeError(err, &decodeErr) {
					if ix.onFatal != nil {
						ix.onFatal(err)
					}
					log.Fatal().Err(err).Msg("indexer: decode failure, terminating")
				}
			}
		}
	}
}

func (ix *Indexer) runIteration(ctx context.Context) error {
	return ix.withBackoff(ctx, func() error {
		head, err := ix.provider.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("indexer: latest block: %w", err)
		}

		lastIndexed, err := ix.store.LatestIndexedBlock()
		if err != nil {
			return fmt.Errorf("indexer: read watermark: %w", err)
		}

		if lastIndexed > 0 {
			if err := ix.reconcileReorg(ctx, lastIndexed); err != nil {
				return err
			}
			lastIndexed, err = ix.store.LatestIndexedBlock()
			if err != nil {
				return fmt.Errorf("indexer: read watermark after reorg: %w", err)
			}
		}

		if head <= lastIndexed {
			return nil
		}
		to := head
		if to > lastIndexed+ix.cfg.BatchSize {
			to = lastIndexed + ix.cfg.BatchSize
		}
		return ix.fetchRange(ctx, lastIndexed+1, to)
	})
}

// maxReorgProbe bounds how many recorded watermark samples the ancestor
// walk will consult before giving up and rewinding to block 0 (a full
// re-index), rather than probing the chain indefinitely.
const maxReorgProbe = 64

// reconcileReorg implements §4.7's ancestor search: compare the stored
// watermark's block hash against the chain's current hash for that height,
// and if they differ, walk backward through the indexer's own recorded
// watermark samples — doubling the stride each miss, the same spirit as
// probing powers of two, but grounded in data the indexer actually has —
// until one still agrees with the live chain, then delete everything above it.
func (ix *Indexer) reconcileReorg(ctx context.Context, lastIndexed uint64) error {
	chainHash, err := ix.provider.BlockHash(ctx, lastIndexed)
	if err != nil {
		return fmt.Errorf("indexer: block hash %d: %w", lastIndexed, err)
	}
	storedHash, ok, err := ix.store.BlockHashAt(lastIndexed)
	if err != nil {
		return fmt.Errorf("indexer: stored block hash %d: %w", lastIndexed, err)
	}
	if !ok || storedHash == chainHash {
		return nil
	}

	samples, err := ix.store.PrecedingBlockHashes(lastIndexed, maxReorgProbe)
	if err != nil {
		return fmt.Errorf("indexer: preceding block hashes: %w", err)
	}

	ancestor := uint64(0)
	idx, stride := 0, 1
	for idx < len(samples) {
		candidate := samples[idx]
		cHash, err := ix.provider.BlockHash(ctx, candidate)
		if err != nil {
			return fmt.Errorf("indexer: block hash %d: %w", candidate, err)
		}
		sHash, ok, err := ix.store.BlockHashAt(candidate)
		if err != nil {
			return fmt.Errorf("indexer: stored block hash %d: %w", candidate, err)
		}
		if ok && sHash == cHash {
			ancestor = candidate
			break
		}
		idx += stride
		stride *= 2
	}

	log.Warn().Uint64("ancestor", ancestor).Uint64("was", lastIndexed).Msg("indexer: reorg detected, rewinding")
	if err := ix.store.DeleteEventsAtOrAbove(ancestor + 1); err != nil {
		return fmt.Errorf("indexer: delete events at/above %d: %w", ancestor+1, err)
	}
	if err := ix.store.SetWatermark(ancestor); err != nil {
		return fmt.Errorf("indexer: set watermark %d: %w", ancestor, err)
	}
	if err := ix.store.PruneBlockHashesBelow(ancestor); err != nil {
		return fmt.Errorf("indexer: prune block hashes below %d: %w", ancestor, err)
	}
	return nil
}

func (ix *Indexer) fetchRange(ctx context.Context, from, to uint64) error {
	topics := [][]common.Hash{{chain.TopicTrade, chain.TopicOrderInvalidated, chain.TopicSettlement, chain.TopicPreSignature}}
	logs, err := ix.provider.GetLogs(ctx, from, to, ix.cfg.SettlementContract, topics)
	if err != nil {
		return fmt.Errorf("indexer: get logs [%d,%d]: %w", from, to, err)
	}

	trades, invalidations, settlements, presignatures, err := decodeLogs(logs)
	if err != nil {
		return err
	}

	toHash, err := ix.provider.BlockHash(ctx, to)
	if err != nil {
		return fmt.Errorf("indexer: block hash %d: %w", to, err)
	}

	if err := ix.store.WithTx(func(tx *gorm.DB) error {
		if err := ix.store.InsertTradesAtBlock(tx, trades); err != nil {
			return fmt.Errorf("indexer: insert trades: %w", err)
		}
		if err := ix.store.InsertInvalidationsAtBlock(tx, invalidations); err != nil {
			return fmt.Errorf("indexer: insert invalidations: %w", err)
		}
		if err := ix.store.InsertSettlementsAtBlock(tx, settlements); err != nil {
			return fmt.Errorf("indexer: insert settlements: %w", err)
		}
		if err := ix.store.InsertPresignaturesAtBlock(tx, presignatures); err != nil {
			return fmt.Errorf("indexer: insert presignatures: %w", err)
		}
		return nil
	}, to, toHash); err != nil {
		return err
	}

	if to > ix.cfg.ReorgDepth*2 {
		if err := ix.store.PruneBlockHashesBelow(to - ix.cfg.ReorgDepth*2); err != nil {
			log.Warn().Err(err).Msg("indexer: prune block hashes failed")
		}
	}
	return nil
}

func decodeLogs(logs []gethtypes.Log) (trades []*domaintypes.Trade, invalidations []*domaintypes.Invalidation, settlements []*domaintypes.Settlement, presignatures []*domaintypes.PresignatureEvent, err error) {
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case chain.TopicTrade:
			t, derr := chain.DecodeTrade(l)
			if derr != nil {
				return nil, nil, nil, nil, &DecodeError{Topic: "Trade", Err: derr}
			}
			trades = append(trades, &t)
		case chain.TopicOrderInvalidated:
			inv, derr := chain.DecodeOrderInvalidated(l)
			if derr != nil {
				return nil, nil, nil, nil, &DecodeError{Topic: "OrderInvalidated", Err: derr}
			}
			invalidations = append(invalidations, &inv)
		case chain.TopicSettlement:
			s, derr := chain.DecodeSettlement(l)
			if derr != nil {
				return nil, nil, nil, nil, &DecodeError{Topic: "Settlement", Err: derr}
			}
			settlements = append(settlements, &s)
		case chain.TopicPreSignature:
			p, derr := chain.DecodePreSignature(l)
			if derr != nil {
				return nil, nil, nil, nil, &DecodeError{Topic: "PreSignature", Err: derr}
			}
			presignatures = append(presignatures, &p)
		}
	}
	return trades, invalidations, settlements, presignatures, nil
}

func (ix *Indexer) withBackoff(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = ix.cfg.MaxBackoff
	var decodeErr *DecodeError
	return backoff.Retry(func() error {
		err := op()
		// decode failures are fatal for this iteration, not transient —
		// retrying a malformed log against the same chain data just
		// reproduces the same failure.
		if err != nil && asDecodeError(err, &decodeErr) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}
