package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cowbot/orderbook/internal/types"
)

// handleListTrades serves GET /trades?owner=...&orderUid=...; at least one
// of the two is required, and orderUid takes precedence when both are given.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var owner *types.Address
	var uid *types.OrderUid

	if v := first(q, "owner"); v != "" {
		a, err := types.ParseAddress(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "InvalidOwner", err.Error())
			return
		}
		owner = &a
	}
	if v := first(q, "orderUid"); v != "" {
		u, err := types.ParseOrderUid(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "InvalidOrderUid", err.Error())
			return
		}
		uid = &u
	}
	if owner == nil && uid == nil {
		respondError(w, http.StatusBadRequest, "MissingFilter", "owner or orderUid is required")
		return
	}

	trades, err := s.deps.Store.TradesByOwnerOrUid(owner, uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeToResponse(t))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrdersByTx(w http.ResponseWriter, r *http.Request) {
	txHash, err := types.ParseHash32(mux.Vars(r)["txHash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidTxHash", err.Error())
		return
	}
	trades, err := s.deps.Store.TradesByTx(txHash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeToResponse(t))
	}
	respondJSON(w, http.StatusOK, out)
}
