package httpapi

import (
	"time"

	"github.com/cowbot/orderbook/internal/status"
	"github.com/cowbot/orderbook/internal/types"
)

// orderCreationRequest is the POST /orders body (§6). Receiver and From
// are pointers so their absence is distinguishable from the zero address.
type orderCreationRequest struct {
	SellToken          types.Address       `json:"sellToken"`
	BuyToken           types.Address       `json:"buyToken"`
	Receiver           *types.Address      `json:"receiver,omitempty"`
	SellAmount         types.U256          `json:"sellAmount"`
	BuyAmount          types.U256          `json:"buyAmount"`
	ValidTo            types.U32           `json:"validTo"`
	AppData            types.Hash32        `json:"appData"`
	FeeAmount          types.U256          `json:"feeAmount"`
	Kind               types.OrderKind     `json:"kind"`
	PartiallyFillable  bool                `json:"partiallyFillable"`
	SellTokenBalance   types.BalanceClass  `json:"sellTokenBalance"`
	BuyTokenBalance    types.BalanceClass  `json:"buyTokenBalance"`
	SigningScheme      types.SigningScheme `json:"signingScheme"`
	Signature          types.Signature     `json:"signature"`
	From               *types.Address      `json:"from,omitempty"`
	SettlementContract types.Address       `json:"settlementContract"`
}

func (r orderCreationRequest) toDomain() *types.OrderCreation {
	return &types.OrderCreation{
		SellToken:          r.SellToken,
		BuyToken:           r.BuyToken,
		Receiver:           r.Receiver,
		SellAmount:         r.SellAmount,
		BuyAmount:          r.BuyAmount,
		ValidTo:            r.ValidTo,
		AppData:            r.AppData,
		FeeAmount:          r.FeeAmount,
		Kind:               r.Kind,
		PartiallyFillable:  r.PartiallyFillable,
		SellTokenBalance:   r.SellTokenBalance,
		BuyTokenBalance:    r.BuyTokenBalance,
		SigningScheme:      r.SigningScheme,
		Signature:          r.Signature,
		From:               r.From,
		SettlementContract: r.SettlementContract,
	}
}

// orderResponse is the GET /orders/{uid} shape: the stored order plus its
// derived status and executed sums, computed fresh on every read.
type orderResponse struct {
	Uid                 types.OrderUid      `json:"uid"`
	Owner               types.Address       `json:"owner"`
	CreationDate        time.Time           `json:"creationDate"`
	SellToken           types.Address       `json:"sellToken"`
	BuyToken             types.Address      `json:"buyToken"`
	Receiver             *types.Address     `json:"receiver,omitempty"`
	SellAmount           types.U256         `json:"sellAmount"`
	BuyAmount            types.U256         `json:"buyAmount"`
	ValidTo               types.U32         `json:"validTo"`
	AppData               types.Hash32      `json:"appData"`
	FeeAmount             types.U256        `json:"feeAmount"`
	FullFeeAmount         types.U256        `json:"fullFeeAmount"`
	Kind                  types.OrderKind   `json:"kind"`
	PartiallyFillable     bool              `json:"partiallyFillable"`
	SellTokenBalance      types.BalanceClass `json:"sellTokenBalance"`
	BuyTokenBalance       types.BalanceClass `json:"buyTokenBalance"`
	SigningScheme         types.SigningScheme `json:"signingScheme"`
	Signature             types.Signature    `json:"signature"`
	SettlementContract    types.Address      `json:"settlementContract"`
	Status                types.OrderStatus  `json:"status"`
	ExecutedSellAmount    types.U256         `json:"executedSellAmount"`
	ExecutedBuyAmount     types.U256         `json:"executedBuyAmount"`
	ExecutedFeeAmount     types.U256         `json:"executedFeeAmount"`
	Invalidated           bool               `json:"invalidated"`
	AvailableBalance      *types.U256        `json:"availableBalance"`
}

func orderToResponse(o *types.Order, f status.Facts, now time.Time, availableBalance *types.U256) orderResponse {
	return orderResponse{
		Uid:                o.Uid,
		Owner:              o.Owner,
		CreationDate:       o.CreationTime,
		SellToken:          o.SellToken,
		BuyToken:           o.BuyToken,
		Receiver:           o.Receiver,
		SellAmount:         o.SellAmount,
		BuyAmount:          o.BuyAmount,
		ValidTo:            o.ValidTo,
		AppData:            o.AppData,
		FeeAmount:          o.FeeAmount,
		FullFeeAmount:      o.FullFeeAmount,
		Kind:               o.Kind,
		PartiallyFillable:  o.PartiallyFillable,
		SellTokenBalance:   o.SellTokenBalance,
		BuyTokenBalance:    o.BuyTokenBalance,
		SigningScheme:      o.SigningScheme,
		Signature:          o.Signature,
		SettlementContract: o.SettlementContract,
		Status:             status.Project(o, f, now),
		ExecutedSellAmount: f.Executed.SellAmount,
		ExecutedBuyAmount:  f.Executed.BuyAmount,
		ExecutedFeeAmount:  f.Executed.FeeAmount,
		Invalidated:        f.Invalidated,
		AvailableBalance:   availableBalance,
	}
}

type tradeResponse struct {
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint64         `json:"logIndex"`
	OrderUid    types.OrderUid `json:"orderUid"`
	SellAmount  types.U256     `json:"sellAmountIncludingFee"`
	BuyAmount   types.U256     `json:"buyAmount"`
	FeeAmount   types.U256     `json:"feeAmount"`
}

func tradeToResponse(t *types.Trade) tradeResponse {
	return tradeResponse{
		BlockNumber: t.BlockNumber,
		LogIndex:    t.LogIndex,
		OrderUid:    t.OrderUid,
		SellAmount:  t.SellAmount,
		BuyAmount:   t.BuyAmount,
		FeeAmount:   t.FeeAmount,
	}
}

// solvableOrderResponse is the auction-facing projection: the full order
// response (status included; every order in the snapshot is open) plus a
// reference price for each of its two tokens.
type solvableOrderResponse struct {
	orderResponse
	SellTokenPrice types.U256 `json:"sellTokenPrice,omitempty"`
	BuyTokenPrice  types.U256 `json:"buyTokenPrice,omitempty"`
}

type auctionResponse struct {
	Block                 uint64                  `json:"block"`
	LatestSettlementBlock uint64                  `json:"latestSettlementBlock"`
	Orders                []solvableOrderResponse `json:"orders"`
	Prices                map[string]types.U256   `json:"prices"`
}

type solvableOrdersV2Response struct {
	LatestSettlementBlock uint64                  `json:"latestSettlementBlock"`
	Orders                []solvableOrderResponse `json:"orders"`
}

type quoteRequest struct {
	SellToken    types.Address        `json:"sellToken"`
	BuyToken     types.Address        `json:"buyToken"`
	SellAmount   *types.U256          `json:"sellAmountBeforeFee,omitempty"`
	BuyAmount    *types.U256          `json:"buyAmountAfterFee,omitempty"`
	Kind         types.OrderKind      `json:"kind"`
	PriceQuality string               `json:"priceQuality,omitempty"`
}

type quoteResponse struct {
	Fee            types.U256 `json:"fee"`
	FullFee        types.U256 `json:"fullFee"`
	FillAmount     types.U256 `json:"fillAmount"`
	ExpirationDate time.Time  `json:"expirationDate"`
}
