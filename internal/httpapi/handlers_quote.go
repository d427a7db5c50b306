package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/quote"
	"github.com/cowbot/orderbook/internal/types"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "MalformedBody", err.Error())
		return
	}

	amount, err := quoteAmount(req.Kind, req.SellAmount, req.BuyAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, string(domainerr.AmountIsZero), err.Error())
		return
	}

	result, err := s.deps.Quotes.Quote(r.Context(), quote.Request{
		SellToken:    req.SellToken,
		BuyToken:     req.BuyToken,
		Amount:       amount,
		Kind:         req.Kind,
		PriceQuality: quote.PriceQuality(req.PriceQuality),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, quoteResult(result))
}

func quoteAmount(kind types.OrderKind, sellAmount, buyAmount *types.U256) (types.U256, error) {
	switch kind {
	case types.KindSell:
		if sellAmount == nil {
			return types.U256{}, errMissingAmount
		}
		return *sellAmount, nil
	case types.KindBuy:
		if buyAmount == nil {
			return types.U256{}, errMissingAmount
		}
		return *buyAmount, nil
	default:
		return types.U256{}, errMissingAmount
	}
}

var errMissingAmount = &missingAmountError{}

type missingAmountError struct{}

func (e *missingAmountError) Error() string {
	return "sellAmountBeforeFee or buyAmountAfterFee is required for the given kind"
}

func quoteResult(r quote.Result) quoteResponse {
	return quoteResponse{
		Fee:            r.Fee,
		FullFee:        r.FullFee,
		FillAmount:     r.FillAmount,
		ExpirationDate: r.ExpirationDate,
	}
}

// handleFee serves the legacy GET /fee?sellToken=&buyToken=&amount=&kind=.
func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sellToken, err := types.ParseAddress(first(q, "sellToken"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidSellToken", err.Error())
		return
	}
	buyToken, err := types.ParseAddress(first(q, "buyToken"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidBuyToken", err.Error())
		return
	}
	kind := types.OrderKind(first(q, "kind"))
	amount, err := types.U256FromDecimalString(first(q, "amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidAmount", err.Error())
		return
	}

	result, err := s.deps.Quotes.Quote(r.Context(), quote.Request{
		SellToken: sellToken,
		BuyToken:  buyToken,
		Amount:    amount,
		Kind:      kind,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, quoteResult(result))
}

// handleFeeAndQuote serves GET /feeAndQuote/{sell|buy}, the combined
// fee-plus-counter-amount legacy endpoint.
func (s *Server) handleFeeAndQuote(w http.ResponseWriter, r *http.Request) {
	side := mux.Vars(r)["side"]
	var kind types.OrderKind
	switch side {
	case "sell":
		kind = types.KindSell
	case "buy":
		kind = types.KindBuy
	default:
		respondError(w, http.StatusBadRequest, "InvalidSide", "side must be sell or buy")
		return
	}

	q := r.URL.Query()
	sellToken, err := types.ParseAddress(first(q, "sellToken"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidSellToken", err.Error())
		return
	}
	buyToken, err := types.ParseAddress(first(q, "buyToken"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidBuyToken", err.Error())
		return
	}
	amountKey := "sellAmountBeforeFee"
	if kind == types.KindBuy {
		amountKey = "buyAmountAfterFee"
	}
	amount, err := types.U256FromDecimalString(first(q, amountKey))
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidAmount", err.Error())
		return
	}

	result, err := s.deps.Quotes.Quote(r.Context(), quote.Request{
		SellToken: sellToken,
		BuyToken:  buyToken,
		Amount:    amount,
		Kind:      kind,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		quoteResponse
		CounterAmount types.U256 `json:"counterAmount"`
	}{
		quoteResponse: quoteResult(result),
		CounterAmount: result.FillAmount,
	})
}

// handleMarkets serves GET /markets/{base}-{quote}/{kind}/{amount}.
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair := strings.SplitN(vars["pair"], "-", 2)
	if len(pair) != 2 {
		respondError(w, http.StatusBadRequest, "InvalidPair", "expected {base}-{quote}")
		return
	}
	base, err := types.ParseAddress(pair[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidBase", err.Error())
		return
	}
	quoteToken, err := types.ParseAddress(pair[1])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidQuote", err.Error())
		return
	}
	kind := types.OrderKind(vars["kind"])
	amount, err := types.U256FromDecimalString(vars["amount"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidAmount", err.Error())
		return
	}

	result, err := s.deps.Quotes.Quote(r.Context(), quote.Request{
		SellToken: base,
		BuyToken:  quoteToken,
		Amount:    amount,
		Kind:      kind,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, quoteResult(result))
}
