package httpapi

import (
	"net/http"
	"time"

	"github.com/cowbot/orderbook/internal/auction"
	"github.com/cowbot/orderbook/internal/types"
)

func (s *Server) solvableOrderResponses(snap *auction.Snapshot) ([]solvableOrderResponse, error) {
	now := time.Now()
	out := make([]solvableOrderResponse, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		facts, err := s.orderFacts(o.Uid)
		if err != nil {
			return nil, err
		}
		available := s.availableBalance(o, facts.Executed.SellAmount)
		out = append(out, solvableOrderResponse{
			orderResponse:  orderToResponse(o, facts, now, available),
			SellTokenPrice: snap.Prices[o.SellToken],
			BuyTokenPrice:  snap.Prices[o.BuyToken],
		})
	}
	return out, nil
}

func (s *Server) handleSolvableOrdersV1(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Auction.Snapshot()
	orders, err := s.solvableOrderResponses(snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleSolvableOrdersV2(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Auction.Snapshot()
	orders, err := s.solvableOrderResponses(snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, solvableOrdersV2Response{
		LatestSettlementBlock: snap.LatestSettlementBlock,
		Orders:                orders,
	})
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Auction.Snapshot()
	orders, err := s.solvableOrderResponses(snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	prices := make(map[string]types.U256, len(snap.Prices))
	for tok, price := range snap.Prices {
		prices[tok.Hex()] = price
	}
	respondJSON(w, http.StatusOK, auctionResponse{
		Block:                 snap.Block,
		LatestSettlementBlock: snap.LatestSettlementBlock,
		Orders:                orders,
		Prices:                prices,
	})
}
