// Package httpapi is the process's external surface (A3): gorilla/mux
// routing over C1 (store), C6 (validator), C4 (quote engine), and C9
// (auction cache), with the §7 domain-error taxonomy mapped to HTTP status
// codes at a single boundary.
//
// Grounded on uhyunpark-hyperlicked's pkg/api/server.go — a router built
// on gorilla/mux with a versioned subrouter, rs/cors wrapping the handler,
// and respondJSON/respondError helpers — the teacher itself ships no HTTP
// server (it is a Telegram bot), so routing style is borrowed from the
// nearest pack repo that does expose a chain-facing JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/auction"
	"github.com/cowbot/orderbook/internal/quote"
	"github.com/cowbot/orderbook/internal/store"
	"github.com/cowbot/orderbook/internal/types"
	"github.com/cowbot/orderbook/internal/validator"
)

// BalanceKey mirrors balance.Key's shape; kept local for the same reason
// internal/validator and internal/auction keep their own copies — avoiding
// an import solely for a three-field key type.
type BalanceKey struct {
	Owner types.Address
	Token types.Address
	Class types.BalanceClass
}

// BalanceReader is the subset of *balance.Reader the read path needs to
// compute §3's AvailableBalance derived view.
type BalanceReader interface {
	Available(key BalanceKey) (types.U256, bool)
}

// Deps bundles every component a handler may need. Handlers take a *Deps
// receiver rather than reaching through package-level globals (§9's
// "no implicit ambient globals" note).
type Deps struct {
	Store            *store.Store
	Validator        *validator.Validator
	Quotes           *quote.Engine
	Auction          *auction.Cache
	Balances         BalanceReader
	ChainID          int64
	PresignSupported bool
}

type Server struct {
	deps    *Deps
	router  *mux.Router
	addr    string
	httpSrv *http.Server
}

func NewServer(addr string, deps *Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter(), addr: addr}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{uid}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{uid}", s.handleCancelOrder).Methods(http.MethodDelete)
	v1.HandleFunc("/transactions/{txHash}/orders", s.handleOrdersByTx).Methods(http.MethodGet)
	v1.HandleFunc("/trades", s.handleListTrades).Methods(http.MethodGet)
	v1.HandleFunc("/solvable_orders", s.handleSolvableOrdersV1).Methods(http.MethodGet)
	v1.HandleFunc("/auction", s.handleAuction).Methods(http.MethodGet)
	v1.HandleFunc("/fee", s.handleFee).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{pair}/{kind}/{amount}", s.handleMarkets).Methods(http.MethodGet)
	v1.HandleFunc("/feeAndQuote/{side}", s.handleFeeAndQuote).Methods(http.MethodGet)
	v1.HandleFunc("/account/{owner}/orders", s.handleAccountOrders).Methods(http.MethodGet)
	v1.HandleFunc("/quote", s.handleQuote).Methods(http.MethodPost)

	v2 := s.router.PathPrefix("/api/v2").Subrouter()
	v2.HandleFunc("/solvable_orders", s.handleSolvableOrdersV2).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Run serves until ctx is cancelled, then shuts down gracefully — mirroring
// the one-goroutine-per-subsystem ctx.Done() convention the rest of the
// process's background loops use, adapted here to a blocking ListenAndServe
// plus a Shutdown call instead of a ticker select.
func (s *Server) Run(ctx context.Context) error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("httpapi: listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
