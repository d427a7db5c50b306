// orderbookd is the order-book backend's process entrypoint: it loads
// configuration, opens the store, wires C1-C9 and A1-A4 together, starts
// one goroutine per background loop (chain indexer, balance refresh,
// auction cache rebuild, HTTP API), and waits for SIGINT/SIGTERM to shut
// everything down.
//
// Mirrors cmd/polybot/main.go's load-config -> construct-components ->
// go Start() -> block-on-signal -> cancel()-and-stop shutdown shape,
// generalized from one Telegram bot and a handful of strategy goroutines
// to this backend's indexer/balance/auction/httpapi loops.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/alerting"
	"github.com/cowbot/orderbook/internal/auction"
	"github.com/cowbot/orderbook/internal/balance"
	"github.com/cowbot/orderbook/internal/chain"
	"github.com/cowbot/orderbook/internal/config"
	"github.com/cowbot/orderbook/internal/httpapi"
	"github.com/cowbot/orderbook/internal/indexer"
	"github.com/cowbot/orderbook/internal/logging"
	"github.com/cowbot/orderbook/internal/pricesource"
	"github.com/cowbot/orderbook/internal/quote"
	"github.com/cowbot/orderbook/internal/store"
	"github.com/cowbot/orderbook/internal/types"
	"github.com/cowbot/orderbook/internal/validator"
	gethcommon "github.com/ethereum/go-ethereum/common"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Setup(cfg.Debug, true)

	log.Info().Str("version", version).Msg("orderbookd starting")

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	notifier, err := alerting.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize alerting")
	}

	provider, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial chain RPC")
	}

	settlementContract, err := types.ParseAddress(cfg.Indexer.SettlementAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SETTLEMENT_CONTRACT")
	}

	var nativeToken types.Address
	if cfg.Quote.NativeToken != "" {
		nativeToken, err = types.ParseAddress(cfg.Quote.NativeToken)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid NATIVE_TOKEN")
		}
	}

	prices := pricesource.NewPriorityList(pricesource.NewHTTPSource("primary", cfg.Chain.RPCURL))

	quotes := quote.NewEngine(quote.Config{
		FeeRatioNumer: cfg.Quote.FeeRatioNumer,
		FeeRatioDenom: cfg.Quote.FeeRatioDenom,
		FeeTTL:        cfg.Quote.FeeTTL,
		CacheTTL:      cfg.Quote.CacheTTL,
		NativeToken:   nativeToken,
	}, prices, nil)

	balances := balance.NewReader(provider, settlementContract, cfg.Indexer.PollInterval)

	v := validator.New(validator.Config{
		Validator:      cfg.Validator,
		BalanceClasses: validator.DefaultSupportedBalanceClasses(),
		ChainID:        cfg.Chain.ChainID,
		Quotes:         quotes,
		Balances:       validatorBalances{balances},
	})

	ix := indexer.New(provider, st, indexer.Config{
		SettlementContract: gethcommon.Address(settlementContract),
		ReorgDepth:          cfg.Indexer.ReorgDepth,
		BatchSize:           cfg.Indexer.BatchSize,
		PollInterval:        cfg.Indexer.PollInterval,
		MaxBackoff:          cfg.Indexer.MaxBackoff,
	}, notifier.IndexerFatal)

	auctionCache := auction.New(st, prices, auctionBalances{balances}, auction.Config{
		RefreshInterval:  cfg.Auction.RefreshInterval,
		PresignSupported: cfg.Indexer.PresignSupported,
	})

	server := httpapi.NewServer(cfg.HTTPAddr, &httpapi.Deps{
		Store:            st,
		Validator:        v,
		Quotes:           quotes,
		Auction:          auctionCache,
		Balances:         httpapiBalances{balances},
		ChainID:          cfg.Chain.ChainID,
		PresignSupported: cfg.Indexer.PresignSupported,
	})

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Info().Str("loop", name).Msg("background loop stopped")
		}()
	}

	runLoop("indexer", ix.Run)
	runLoop("balances", func(ctx context.Context) {
		balances.Run(ctx, func() []balance.Key { return openOrderBalanceKeys(st) })
	})
	runLoop("auction", auctionCache.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			log.Error().Err(err).Msg("httpapi server exited with error")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("all services started")

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)
	<-quitCh

	log.Info().Msg("shutting down")
	cancel()
	wg.Wait()
	log.Info().Msg("goodbye")
}

// openOrderBalanceKeys derives the (owner, token, class) keys the balance
// reader must keep warm: the sell-side channel of every order currently on
// the books, since C9's hasSufficientBalance and C6's fill-or-kill check
// only ever look up the sell leg.
func openOrderBalanceKeys(st *store.Store) []balance.Key {
	orders, err := st.OrdersBy(store.OrderFilter{})
	if err != nil {
		log.Error().Err(err).Msg("balances: list orders for refresh")
		return nil
	}
	keys := make([]balance.Key, 0, len(orders))
	for _, o := range orders {
		keys = append(keys, balance.Key{Owner: o.Owner, Token: o.SellToken, Class: o.SellTokenBalance})
	}
	return keys
}

// validatorBalances adapts *balance.Reader to validator's local BalanceKey
// shape so the validator package does not need to import internal/balance.
type validatorBalances struct{ r *balance.Reader }

func (b validatorBalances) Available(key validator.BalanceKey) (types.U256, bool) {
	return b.r.Available(balance.Key{Owner: key.Owner, Token: key.Token, Class: key.Class})
}

// auctionBalances is the same adapter for auction's local BalanceKey shape.
type auctionBalances struct{ r *balance.Reader }

func (b auctionBalances) Available(key auction.BalanceKey) (types.U256, bool) {
	return b.r.Available(balance.Key{Owner: key.Owner, Token: key.Token, Class: key.Class})
}

// httpapiBalances is the same adapter for httpapi's local BalanceKey shape,
// used to compute the AvailableBalance derived view on order reads.
type httpapiBalances struct{ r *balance.Reader }

func (b httpapiBalances) Available(key httpapi.BalanceKey) (types.U256, bool) {
	return b.r.Available(balance.Key{Owner: key.Owner, Token: key.Token, Class: key.Class})
}
