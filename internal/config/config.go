// Package config loads process configuration from the environment,
// mirroring the getEnv*/struct-of-config shape of the teacher bot's
// config package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ValidatorConfig parametrizes the order acceptance rules of C6.
type ValidatorConfig struct {
	MinValidToHorizon time.Duration
	FeeSlack          decimal.Decimal // fraction, e.g. 0.01 = 1%
	DenyListed        []string        // operator-supplied owner addresses
}

// QuoteConfig parametrizes the fee/quote engine (C4).
type QuoteConfig struct {
	FeeRatioNumer int64 // feeRatio = Numer/Denom
	FeeRatioDenom int64
	FeeTTL        time.Duration
	CacheTTL      time.Duration
	NativeToken   string // hex address of the chain's native-wrapped token
}

// IndexerConfig parametrizes the chain indexer (C7).
type IndexerConfig struct {
	ReorgDepth        uint64
	BatchSize         uint64
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	SettlementAddress string
	// PresignSupported records whether this deployment's settlement
	// contract emits a PreSignature event at all; §4.8's
	// presignaturePending clause never fires when it doesn't.
	PresignSupported bool
}

// AuctionConfig parametrizes the auction cache rebuild cadence (C9).
type AuctionConfig struct {
	RefreshInterval time.Duration
}

// ChainConfig parametrizes the abstract chain provider (§6).
type ChainConfig struct {
	RPCURL  string
	ChainID int64
}

type Config struct {
	Debug bool

	HTTPAddr string

	DatabasePath string // postgres:// DSN or sqlite file path, per teacher's database.New

	Chain     ChainConfig
	Indexer   IndexerConfig
	Quote     QuoteConfig
	Validator ValidatorConfig
	Auction   AuctionConfig

	TelegramToken  string
	TelegramChatID int64
}

func Load() (*Config, error) {
	cfg := &Config{
		Debug:        getEnvBool("DEBUG", false),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		DatabasePath: getEnv("DATABASE_PATH", "data/orderbook.db"),

		Chain: ChainConfig{
			RPCURL:  getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			ChainID: int64(getEnvInt("CHAIN_ID", 1)),
		},
		Indexer: IndexerConfig{
			ReorgDepth:        uint64(getEnvInt("INDEXER_REORG_DEPTH", 64)),
			BatchSize:         uint64(getEnvInt("INDEXER_BATCH_SIZE", 500)),
			PollInterval:      getEnvDuration("INDEXER_POLL_INTERVAL", 12*time.Second),
			MaxBackoff:        getEnvDuration("INDEXER_MAX_BACKOFF", 2*time.Minute),
			SettlementAddress: getEnv("SETTLEMENT_CONTRACT", ""),
			PresignSupported:  getEnvBool("PRESIGN_SUPPORTED", true),
		},
		Quote: QuoteConfig{
			FeeRatioNumer: int64(getEnvInt("QUOTE_FEE_RATIO_NUMER", 1)),
			FeeRatioDenom: int64(getEnvInt("QUOTE_FEE_RATIO_DENOM", 1000)),
			FeeTTL:        getEnvDuration("QUOTE_FEE_TTL", 20*time.Minute),
			CacheTTL:      getEnvDuration("QUOTE_CACHE_TTL", 30*time.Second),
			NativeToken:   getEnv("NATIVE_TOKEN", ""),
		},
		Validator: ValidatorConfig{
			MinValidToHorizon: getEnvDuration("VALIDATOR_MIN_VALID_TO_HORIZON", 1*time.Minute),
			FeeSlack:          getEnvDecimal("VALIDATOR_FEE_SLACK", decimal.NewFromFloat(0.01)),
		},
		Auction: AuctionConfig{
			RefreshInterval: getEnvDuration("AUCTION_REFRESH_INTERVAL", 10*time.Second),
		},

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
