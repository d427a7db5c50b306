package store

import (
	"time"

	"github.com/cowbot/orderbook/internal/types"
)

// OrderRow is the gorm model for the orders table (§6 Persistence layout).
// Grounded on internal/database/database.go's Market/Trade model shape:
// one flat struct per table, decimal columns pinned via struct tags.
type OrderRow struct {
	Uid                types.OrderUid  `gorm:"column:uid;primaryKey;type:bytea"`
	Owner              types.Address   `gorm:"column:owner;index:idx_orders_owner,type:hash"`
	CreationTime       time.Time       `gorm:"column:creation_time"`
	SellToken          types.Address   `gorm:"column:sell_token"`
	BuyToken           types.Address   `gorm:"column:buy_token"`
	Receiver           *types.Address  `gorm:"column:receiver"`
	SellAmount         types.U256      `gorm:"column:sell_amount;type:decimal(78,0)"`
	BuyAmount          types.U256      `gorm:"column:buy_amount;type:decimal(78,0)"`
	ValidTo            int64           `gorm:"column:valid_to;index:idx_orders_valid_to"`
	AppData            types.Hash32    `gorm:"column:app_data"`
	FeeAmount          types.U256      `gorm:"column:fee_amount;type:decimal(78,0)"`
	FullFeeAmount      types.U256      `gorm:"column:full_fee_amount;type:decimal(78,0)"`
	Kind               string          `gorm:"column:kind"`
	PartiallyFillable  bool            `gorm:"column:partially_fillable"`
	SellTokenBalance   string          `gorm:"column:sell_token_balance"`
	BuyTokenBalance    string          `gorm:"column:buy_token_balance"`
	SigningScheme      string          `gorm:"column:signing_scheme"`
	Signature          types.Signature `gorm:"column:signature"`
	SettlementContract types.Address   `gorm:"column:settlement_contract"` // resolves §9's V011/V012 ambiguity: bytea
	CancellationSig    *types.Signature `gorm:"column:cancellation_signature"`
}

func (OrderRow) TableName() string { return "orders" }

// TradeRow is the gorm model for the trades table; primary key is the
// composite (block_number, log_index) per §3 — independent of orders, so
// trades for unknown order uids can still be recorded (§9 Design Notes).
type TradeRow struct {
	BlockNumber uint64         `gorm:"column:block_number;primaryKey;index:idx_trades_uid_block_log,priority:2"`
	LogIndex    uint64         `gorm:"column:log_index;primaryKey;index:idx_trades_uid_block_log,priority:3"`
	OrderUid    types.OrderUid `gorm:"column:order_uid;index:idx_trades_uid_block_log,priority:1"`
	SellAmount  types.U256     `gorm:"column:sell_amount;type:decimal(78,0)"`
	BuyAmount   types.U256     `gorm:"column:buy_amount;type:decimal(78,0)"`
	FeeAmount   types.U256     `gorm:"column:fee_amount;type:decimal(78,0)"`
}

func (TradeRow) TableName() string { return "trades" }

// InvalidationRow is the gorm model for the invalidations table.
type InvalidationRow struct {
	BlockNumber uint64         `gorm:"column:block_number;primaryKey;index:idx_invalidations_uid_block_log,priority:2"`
	LogIndex    uint64         `gorm:"column:log_index;primaryKey;index:idx_invalidations_uid_block_log,priority:3"`
	OrderUid    types.OrderUid `gorm:"column:order_uid;index:idx_invalidations_uid_block_log,priority:1"`
}

func (InvalidationRow) TableName() string { return "invalidations" }

// SettlementRow is the gorm model for the settlements table.
type SettlementRow struct {
	TxHash      types.Hash32  `gorm:"column:tx_hash;primaryKey"`
	LogIndex    uint64        `gorm:"column:log_index;primaryKey"`
	BlockNumber uint64        `gorm:"column:block_number"`
	Solver      types.Address `gorm:"column:solver;index:idx_settlements_solver"`
}

func (SettlementRow) TableName() string { return "settlements" }

// AppDataRow is the gorm model for the app_data table (SPEC_FULL §3 ADDED).
type AppDataRow struct {
	AppDataHash  types.Hash32 `gorm:"column:app_data_hash;primaryKey"`
	FullAppData  []byte       `gorm:"column:full_app_data"`
	FirstSeenAt  time.Time    `gorm:"column:first_seen_at"`
}

func (AppDataRow) TableName() string { return "app_data" }

// IndexerStateRow holds the single-row watermark of the last block the
// indexer has fully and finally applied — latestIndexedBlock() in §4.1.
type IndexerStateRow struct {
	ID                 uint   `gorm:"column:id;primaryKey"`
	LatestIndexedBlock uint64 `gorm:"column:latest_indexed_block"`
}

func (IndexerStateRow) TableName() string { return "indexer_state" }

// BlockHashRow remembers the canonical hash the indexer observed for a
// block it advanced the watermark to. The reorg check (§4.7) walks these
// back from the watermark, doubling its stride each miss, until it finds
// one the live chain still agrees with.
type BlockHashRow struct {
	BlockNumber uint64       `gorm:"column:block_number;primaryKey"`
	Hash        types.Hash32 `gorm:"column:hash"`
}

func (BlockHashRow) TableName() string { return "block_hashes" }

// PresignatureRow tracks the latest setPreSignature call observed for an
// order uid; Signed false means the presignature was revoked.
type PresignatureRow struct {
	OrderUid    types.OrderUid `gorm:"column:order_uid;primaryKey"`
	BlockNumber uint64         `gorm:"column:block_number"`
	LogIndex    uint64         `gorm:"column:log_index"`
	Signed      bool           `gorm:"column:signed"`
}

func (PresignatureRow) TableName() string { return "presignatures" }
