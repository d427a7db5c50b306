package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/sigverify"
	"github.com/cowbot/orderbook/internal/status"
	"github.com/cowbot/orderbook/internal/store"
	"github.com/cowbot/orderbook/internal/types"
)

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderCreationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedBody", err.Error())
		return
	}

	order, err := s.deps.Validator.Validate(r.Context(), req.toDomain())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Store.InsertOrder(order); err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order.Uid)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := types.ParseOrderUid(mux.Vars(r)["uid"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidOrderUid", err.Error())
		return
	}
	order, err := s.deps.Store.GetOrder(uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	facts, err := s.orderFacts(uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	available := s.availableBalance(order, facts.Executed.SellAmount)
	respondJSON(w, http.StatusOK, orderToResponse(order, facts, time.Now(), available))
}

// handleListOrders serves GET /orders, requiring at least one of
// owner|sellToken|buyToken per §6.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseOrderFilter(q)
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidQuery", err.Error())
		return
	}
	if filter.Owner == nil && filter.SellToken == nil && filter.BuyToken == nil {
		respondError(w, http.StatusBadRequest, "MissingFilter", "at least one of owner, sellToken, buyToken is required")
		return
	}

	orders, err := s.deps.Store.OrdersBy(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now := time.Now()
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		facts, err := s.orderFacts(o.Uid)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		available := s.availableBalance(o, facts.Executed.SellAmount)
		out = append(out, orderToResponse(o, facts, now, available))
	}
	respondJSON(w, http.StatusOK, out)
}

func parseOrderFilter(q map[string][]string) (store.OrderFilter, error) {
	var filter store.OrderFilter
	if v := first(q, "owner"); v != "" {
		a, err := types.ParseAddress(v)
		if err != nil {
			return filter, err
		}
		filter.Owner = &a
	}
	if v := first(q, "sellToken"); v != "" {
		a, err := types.ParseAddress(v)
		if err != nil {
			return filter, err
		}
		filter.SellToken = &a
	}
	if v := first(q, "buyToken"); v != "" {
		a, err := types.ParseAddress(v)
		if err != nil {
			return filter, err
		}
		filter.BuyToken = &a
	}
	return filter, nil
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (s *Server) handleAccountOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := types.ParseAddress(mux.Vars(r)["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidOwner", err.Error())
		return
	}
	offset, limit, err := parsePagination(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidPagination", err.Error())
		return
	}
	orders, err := s.deps.Store.OrdersByOwner(owner, offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now := time.Now()
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		facts, err := s.orderFacts(o.Uid)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		available := s.availableBalance(o, facts.Executed.SellAmount)
		out = append(out, orderToResponse(o, facts, now, available))
	}
	respondJSON(w, http.StatusOK, out)
}

// parsePagination enforces offset>=0, 1<=limit<=1000, default limit 10.
func parsePagination(q map[string][]string) (offset, limit int, err error) {
	offset = 0
	limit = 10
	if v := first(q, "offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, domainerr.Validation(domainerr.ValidationKind("InvalidOffset"), v)
		}
	}
	if v := first(q, "limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			return 0, 0, domainerr.Validation(domainerr.ValidationKind("InvalidLimit"), v)
		}
	}
	return offset, limit, nil
}

type cancellationRequest struct {
	SigningScheme types.SigningScheme `json:"signingScheme"`
	Signature     types.Signature     `json:"signature"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := types.ParseOrderUid(mux.Vars(r)["uid"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidOrderUid", err.Error())
		return
	}
	var req cancellationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedBody", err.Error())
		return
	}

	order, err := s.deps.Store.GetOrder(uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	signer, err := sigverify.VerifyCancellation(uid, req.SigningScheme, req.Signature, order.SettlementContract, s.deps.ChainID)
	if err != nil {
		respondError(w, http.StatusBadRequest, string(domainerr.InvalidSignature), err.Error())
		return
	}
	if signer != order.Owner {
		respondError(w, http.StatusForbidden, string(domainerr.WrongOwner), "cancellation signer does not match order owner")
		return
	}

	if err := s.deps.Store.MarkSignedCancellation(uid, req.Signature); err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// orderFacts assembles status.Facts for uid from the store, the same set
// of lookups auction.Cache.isOpen performs for the auction-cache rebuild.
func (s *Server) orderFacts(uid types.OrderUid) (status.Facts, error) {
	executed, err := s.deps.Store.GetExecutedSums(uid)
	if err != nil {
		return status.Facts{}, err
	}
	invalidated, err := s.deps.Store.HasInvalidation(uid)
	if err != nil {
		return status.Facts{}, err
	}
	cancelled, err := s.deps.Store.HasSignedCancellation(uid)
	if err != nil {
		return status.Facts{}, err
	}
	presignObserved, err := s.deps.Store.HasPresignature(uid)
	if err != nil {
		return status.Facts{}, err
	}
	return status.Facts{
		Executed:              executed,
		Invalidated:           invalidated,
		SignedCancellation:    cancelled,
		PresignatureObserved:  presignObserved,
		PresignatureSupported: s.deps.PresignSupported,
	}, nil
}

// availableBalance computes §3's AvailableBalance derived view:
// BalanceReader(owner, sellToken, sellTokenBalance) - executedSellAmount.
// It reads back as nil (serialized as JSON null) whenever that isn't a
// well-defined non-negative amount — no balance reader wired, the
// (owner, token, class) key isn't tracked, a partially-fillable order
// whose full sellAmount+feeAmount the balance does not cover, or a
// balance smaller than executedSellAmount — per §4.6
// rule 10's "appear with availableBalance=null in reads when ineligible".
func (s *Server) availableBalance(o *types.Order, executedSellAmount types.U256) *types.U256 {
	if s.deps.Balances == nil {
		return nil
	}
	available, ok := s.deps.Balances.Available(BalanceKey{Owner: o.Owner, Token: o.SellToken, Class: o.SellTokenBalance})
	if !ok {
		return nil
	}
	if o.PartiallyFillable {
		required := o.SellAmount.Add(o.FeeAmount)
		if available.Cmp(required) < 0 {
			return nil
		}
	}
	remaining, ok := available.Sub(executedSellAmount)
	if !ok {
		return nil
	}
	return &remaining
}
