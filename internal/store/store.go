// Package store is the durable persistence layer (C1): orders, trades,
// invalidations, settlements, and app data, plus the indexer watermark.
//
// Grounded on internal/database/database.go — a thin struct wrapping
// *gorm.DB, dialect chosen by DSN prefix (postgres:// vs. a filesystem
// path falling back to sqlite), AutoMigrate at startup, one receiver
// method per query shape.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

// ErrNotFound is returned by point lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *gorm.DB
}

func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		log.Info().Msg("store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("store initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&OrderRow{}, &TradeRow{}, &InvalidationRow{}, &SettlementRow{},
		&AppDataRow{}, &IndexerStateRow{}, &BlockHashRow{}, &PresignatureRow{},
	); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	return &Store{db: db}, nil
}

// --- Orders ---

// InsertOrder stores a new order. Per invariant 1, a duplicate uid is
// rejected atomically via the primary-key constraint rather than a
// preceding SELECT — eliminating the check-then-act race.
func (s *Store) InsertOrder(o *types.Order) error {
	row := orderToRow(o)
	if err := s.db.Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerr.Validation(domainerr.DuplicateOrder, o.Uid.Hex())
		}
		return fmt.Errorf("store: insert order: %w", err)
	}
	if err := s.upsertAppData(o.AppData); err != nil {
		log.Warn().Err(err).Msg("store: app_data upsert failed")
	}
	return nil
}

func (s *Store) upsertAppData(hash types.Hash32) error {
	row := AppDataRow{AppDataHash: hash, FirstSeenAt: time.Now().UTC()}
	return s.db.Where("app_data_hash = ?", hash).FirstOrCreate(&row).Error
}

func (s *Store) GetOrder(uid types.OrderUid) (*types.Order, error) {
	var row OrderRow
	err := s.db.Where("uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order: %w", err)
	}
	return rowToOrder(&row), nil
}

// OrderFilter narrows OrdersBy; every field is optional, and the zero
// filter matches every stored order.
type OrderFilter struct {
	Owner       *types.Address
	SellToken   *types.Address
	BuyToken    *types.Address
	MinValidTo  *types.U32
}

func (s *Store) OrdersBy(filter OrderFilter) ([]*types.Order, error) {
	q := s.db.Model(&OrderRow{})
	if filter.Owner != nil {
		q = q.Where("owner = ?", *filter.Owner)
	}
	if filter.SellToken != nil {
		q = q.Where("sell_token = ?", *filter.SellToken)
	}
	if filter.BuyToken != nil {
		q = q.Where("buy_token = ?", *filter.BuyToken)
	}
	if filter.MinValidTo != nil {
		q = q.Where("valid_to >= ?", int64(*filter.MinValidTo))
	}
	var rows []OrderRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: orders by: %w", err)
	}
	return rowsToOrders(rows), nil
}

// OrdersByOwner paginates descending by creation time, per §6's
// /account/{owner}/orders contract (offset>=0, 1<=limit<=1000).
func (s *Store) OrdersByOwner(owner types.Address, offset, limit int) ([]*types.Order, error) {
	var rows []OrderRow
	err := s.db.Where("owner = ?", owner).
		Order("creation_time DESC").
		Offset(offset).Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: orders by owner: %w", err)
	}
	return rowsToOrders(rows), nil
}

// MarkSignedCancellation records an off-chain cancellation signature,
// satisfying S6: a subsequent GET observes cancelled without waiting on
// a chain event.
func (s *Store) MarkSignedCancellation(uid types.OrderUid, sig types.Signature) error {
	res := s.db.Model(&OrderRow{}).Where("uid = ?", uid).Update("cancellation_signature", sig)
	if res.Error != nil {
		return fmt.Errorf("store: mark cancellation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) HasSignedCancellation(uid types.OrderUid) (bool, error) {
	var row OrderRow
	err := s.db.Select("cancellation_signature").Where("uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return row.CancellationSig != nil, nil
}

// HasInvalidation reports whether an on-chain OrderInvalidated event has
// been indexed for uid.
func (s *Store) HasInvalidation(uid types.OrderUid) (bool, error) {
	var count int64
	if err := s.db.Model(&InvalidationRow{}).Where("order_uid = ?", uid).Count(&count).Error; err != nil {
		return false, fmt.Errorf("store: has invalidation: %w", err)
	}
	return count > 0, nil
}

// --- Trades ---

func (s *Store) TradesByOwnerOrUid(owner *types.Address, uid *types.OrderUid) ([]*types.Trade, error) {
	q := s.db.Model(&TradeRow{})
	if uid != nil {
		q = q.Where("order_uid = ?", *uid)
	} else if owner != nil {
		q = q.Where("order_uid IN (?)", s.db.Model(&OrderRow{}).Select("uid").Where("owner = ?", *owner))
	} else {
		return nil, fmt.Errorf("store: trades query requires owner or uid")
	}
	var rows []TradeRow
	if err := q.Order("block_number, log_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: trades by owner/uid: %w", err)
	}
	return rowsToTrades(rows), nil
}

// TradesByTx serves /transactions/{txHash}/orders: it resolves the tx hash
// to its settlement row's block number and returns every trade indexed at
// that block. Trade rows carry no tx hash, so trades from other
// transactions in the same block are included too.
func (s *Store) TradesByTx(txHash types.Hash32) ([]*types.Trade, error) {
	var settlement SettlementRow
	err := s.db.Where("tx_hash = ?", txHash).First(&settlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup settlement: %w", err)
	}
	var rows []TradeRow
	err = s.db.Where("block_number = ?", settlement.BlockNumber).Order("log_index").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: trades by tx: %w", err)
	}
	return rowsToTrades(rows), nil
}

// GetExecutedSums computes the derived ExecutedSums view for one order uid.
func (s *Store) GetExecutedSums(uid types.OrderUid) (types.ExecutedSums, error) {
	trades, err := s.TradesByOwnerOrUid(nil, &uid)
	if err != nil {
		return types.ExecutedSums{}, err
	}
	var sums types.ExecutedSums
	for _, t := range trades {
		sums.SellAmount = sums.SellAmount.Add(t.SellAmount)
		sums.BuyAmount = sums.BuyAmount.Add(t.BuyAmount)
		sums.FeeAmount = sums.FeeAmount.Add(t.FeeAmount)
	}
	return sums, nil
}

// --- Event ingestion (indexer-only) ---

// InsertTradesAtBlock, InsertInvalidationsAtBlock, and InsertSettlementsAtBlock
// are called once per fetched block range from within a single transaction
// that also advances the watermark (see WithTx), satisfying "event
// inserts and block-watermark update are atomic per block" (§4.1).
func (s *Store) InsertTradesAtBlock(tx *gorm.DB, trades []*types.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{BlockNumber: t.BlockNumber, LogIndex: t.LogIndex, OrderUid: t.OrderUid, SellAmount: t.SellAmount, BuyAmount: t.BuyAmount, FeeAmount: t.FeeAmount}
	}
	return tx.Create(&rows).Error
}

func (s *Store) InsertInvalidationsAtBlock(tx *gorm.DB, invalidations []*types.Invalidation) error {
	if len(invalidations) == 0 {
		return nil
	}
	rows := make([]InvalidationRow, len(invalidations))
	for i, inv := range invalidations {
		rows[i] = InvalidationRow{BlockNumber: inv.BlockNumber, LogIndex: inv.LogIndex, OrderUid: inv.OrderUid}
	}
	return tx.Create(&rows).Error
}

func (s *Store) InsertSettlementsAtBlock(tx *gorm.DB, settlements []*types.Settlement) error {
	if len(settlements) == 0 {
		return nil
	}
	rows := make([]SettlementRow, len(settlements))
	for i, st := range settlements {
		rows[i] = SettlementRow{TxHash: st.TxHash, LogIndex: st.LogIndex, BlockNumber: st.BlockNumber, Solver: st.Solver}
	}
	return tx.Create(&rows).Error
}

// InsertPresignaturesAtBlock upserts the latest presignature state per
// order uid; a later setPreSignature call for the same uid replaces the
// earlier one rather than accumulating history.
func (s *Store) InsertPresignaturesAtBlock(tx *gorm.DB, events []*types.PresignatureEvent) error {
	for _, e := range events {
		row := PresignatureRow{OrderUid: e.OrderUid, BlockNumber: e.BlockNumber, LogIndex: e.LogIndex, Signed: e.Signed}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// HasPresignature reports whether uid's latest observed presignature state
// is "signed"; a never-observed uid is not presignature-observed.
func (s *Store) HasPresignature(uid types.OrderUid) (bool, error) {
	var row PresignatureRow
	err := s.db.Where("order_uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has presignature: %w", err)
	}
	return row.Signed, nil
}

// MaxSettlementBlockAtOrBelow returns the highest settlement block number
// not exceeding boundary, for the auction snapshot's latestSettlementBlock
// (§4.9). Zero with ok=false means no settlement has been indexed yet.
func (s *Store) MaxSettlementBlockAtOrBelow(boundary uint64) (uint64, bool, error) {
	var row SettlementRow
	err := s.db.Where("block_number <= ?", boundary).
		Order("block_number DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: max settlement block: %w", err)
	}
	return row.BlockNumber, true, nil
}

// DeleteEventsAtOrAbove removes all Trade/Invalidation/Settlement rows for
// blocks >= boundary, in one transaction, for reorg replay (§4.7).
func (s *Store) DeleteEventsAtOrAbove(boundary uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("block_number >= ?", boundary).Delete(&TradeRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("block_number >= ?", boundary).Delete(&InvalidationRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("block_number >= ?", boundary).Delete(&SettlementRow{}).Error; err != nil {
			return err
		}
		return nil
	})
}

// --- Indexer watermark ---

func (s *Store) LatestIndexedBlock() (uint64, error) {
	var row IndexerStateRow
	err := s.db.Where("id = ?", 1).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: latest indexed block: %w", err)
	}
	return row.LatestIndexedBlock, nil
}

// WithTx runs fn inside a single transaction and, on success, advances the
// watermark and records the chain's hash for newWatermark — the atomic unit
// the indexer uses per fetch range (§4.7). Recording the hash in the same
// transaction as the watermark advance keeps reorg detection consistent
// with what was actually committed.
func (s *Store) WithTx(fn func(tx *gorm.DB) error, newWatermark uint64, newWatermarkHash common.Hash) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Save(&IndexerStateRow{ID: 1, LatestIndexedBlock: newWatermark}).Error; err != nil {
			return err
		}
		return tx.Save(&BlockHashRow{BlockNumber: newWatermark, Hash: types.Hash32(newWatermarkHash)}).Error
	})
}

// SetWatermark rewinds the watermark without touching event rows — used
// after DeleteEventsAtOrAbove has already dropped the orphaned tail during
// reorg replay (§4.7).
func (s *Store) SetWatermark(number uint64) error {
	return s.db.Save(&IndexerStateRow{ID: 1, LatestIndexedBlock: number}).Error
}

// BlockHashAt returns the hash recorded for number and whether a row exists
// at all; no row means the indexer never advanced its watermark to number
// (e.g. a rewind target below the oldest retained sample).
func (s *Store) BlockHashAt(number uint64) (common.Hash, bool, error) {
	var row BlockHashRow
	err := s.db.Where("block_number = ?", number).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("store: block hash at %d: %w", number, err)
	}
	return common.Hash(row.Hash), true, nil
}

// PrecedingBlockHashes returns up to limit recorded block-hash rows strictly
// below before, ordered most-recent-first, for the reorg ancestor walk.
func (s *Store) PrecedingBlockHashes(before uint64, limit int) ([]uint64, error) {
	var rows []BlockHashRow
	err := s.db.Where("block_number < ?", before).
		Order("block_number DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: preceding block hashes: %w", err)
	}
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = r.BlockNumber
	}
	return out, nil
}

// PruneBlockHashesBelow deletes recorded block-hash rows older than
// boundary, bounding the table to roughly the reorg-detection window.
func (s *Store) PruneBlockHashesBelow(boundary uint64) error {
	return s.db.Where("block_number < ?", boundary).Delete(&BlockHashRow{}).Error
}

// --- conversions ---

func orderToRow(o *types.Order) *OrderRow {
	return &OrderRow{
		Uid: o.Uid, Owner: o.Owner, CreationTime: o.CreationTime,
		SellToken: o.SellToken, BuyToken: o.BuyToken, Receiver: o.Receiver,
		SellAmount: o.SellAmount, BuyAmount: o.BuyAmount, ValidTo: int64(o.ValidTo),
		AppData: o.AppData, FeeAmount: o.FeeAmount, FullFeeAmount: o.FullFeeAmount,
		Kind: string(o.Kind), PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance: string(o.SellTokenBalance), BuyTokenBalance: string(o.BuyTokenBalance),
		SigningScheme: string(o.SigningScheme), Signature: o.Signature,
		SettlementContract: o.SettlementContract,
	}
}

func rowToOrder(r *OrderRow) *types.Order {
	return &types.Order{
		Uid: r.Uid, Owner: r.Owner, CreationTime: r.CreationTime,
		SellToken: r.SellToken, BuyToken: r.BuyToken, Receiver: r.Receiver,
		SellAmount: r.SellAmount, BuyAmount: r.BuyAmount, ValidTo: types.U32(r.ValidTo),
		AppData: r.AppData, FeeAmount: r.FeeAmount, FullFeeAmount: r.FullFeeAmount,
		Kind: types.OrderKind(r.Kind), PartiallyFillable: r.PartiallyFillable,
		SellTokenBalance: types.BalanceClass(r.SellTokenBalance), BuyTokenBalance: types.BalanceClass(r.BuyTokenBalance),
		SigningScheme: types.SigningScheme(r.SigningScheme), Signature: r.Signature,
		SettlementContract: r.SettlementContract,
	}
}

func rowsToOrders(rows []OrderRow) []*types.Order {
	out := make([]*types.Order, len(rows))
	for i := range rows {
		out[i] = rowToOrder(&rows[i])
	}
	return out
}

func rowsToTrades(rows []TradeRow) []*types.Trade {
	out := make([]*types.Trade, len(rows))
	for i, r := range rows {
		out[i] = &types.Trade{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex, OrderUid: r.OrderUid, SellAmount: r.SellAmount, BuyAmount: r.BuyAmount, FeeAmount: r.FeeAmount}
	}
	return out
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
