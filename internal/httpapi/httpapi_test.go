package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cowbot/orderbook/internal/auction"
	"github.com/cowbot/orderbook/internal/pricesource"
	"github.com/cowbot/orderbook/internal/quote"
	"github.com/cowbot/orderbook/internal/store"
	"github.com/cowbot/orderbook/internal/types"
	"github.com/cowbot/orderbook/internal/validator"
)

const testChainID = 1

var testSettlement = mustAddr2("0x9008D19f58AAbD9eD0D60971565AA8510560ab4")
var testSellToken = mustAddr2("0x6B175474E89094C44Da98b954EedeAC495271d0")
var testBuyToken = mustAddr2("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

func mustAddr2(hex string) types.Address {
	a, err := types.ParseAddress(hex)
	if err != nil {
		panic(err)
	}
	return a
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "httpapi-test.db")
	s, err := store.New(dsn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { os.Remove(dsn) })

	engine := quote.NewEngine(quote.Config{FeeRatioNumer: 0, FeeRatioDenom: 1, FeeTTL: time.Minute, CacheTTL: time.Minute}, stubSource{}, nil)
	v := validator.New(validator.Config{
		BalanceClasses: validator.DefaultSupportedBalanceClasses(),
		ChainID:        testChainID,
		Quotes:         engine,
	})

	cache := auction.New(s, stubSource{}, nil, auction.Config{RefreshInterval: time.Minute, PresignSupported: true})

	srv := NewServer(":0", &Deps{Store: s, Validator: v, Quotes: engine, Auction: cache, ChainID: testChainID, PresignSupported: true})
	return srv, s
}

// newTestServerWithBalances is newTestServer plus a wired BalanceReader, for
// tests covering the AvailableBalance derived view.
func newTestServerWithBalances(t *testing.T, balances BalanceReader) (*Server, *store.Store) {
	t.Helper()
	srv, s := newTestServer(t)
	srv.deps.Balances = balances
	return srv, s
}

type fakeBalances map[BalanceKey]types.U256

func (b fakeBalances) Available(key BalanceKey) (types.U256, bool) {
	v, ok := b[key]
	return v, ok
}

type stubSource struct{}

func (stubSource) Estimate(context.Context, types.Address, types.Address, types.U256, types.OrderKind) (pricesource.Estimate, error) {
	return pricesource.Estimate{OutAmount: types.U256FromUint64(1)}, nil
}
func (stubSource) NativePrice(context.Context, types.Address) (types.U256, error) {
	return types.U256FromUint64(1), nil
}
func (stubSource) Name() string { return "stub" }

func baseOrderCreationJSON(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	oc := &orderCreationRequest{
		SellToken:         testSellToken,
		BuyToken:          testBuyToken,
		SellAmount:        types.U256FromUint64(1_000000000000000000),
		BuyAmount:         types.U256FromUint64(2_000000),
		ValidTo:           types.U32(time.Now().Add(time.Hour).Unix()),
		Kind:              types.KindSell,
		SellTokenBalance:  types.BalanceERC20,
		BuyTokenBalance:   types.BalanceERC20,
		SigningScheme:     types.SchemeEIP712,
		SettlementContract: testSettlement,
	}
	signOrderCreation(t, oc, key)
	b, err := json.Marshal(oc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// signOrderCreation duplicates sigverify's typed-data construction for
// test purposes, exactly as validator_test.go's signCreation does.
func signOrderCreation(t *testing.T, oc *orderCreationRequest, key *ecdsa.PrivateKey) {
	t.Helper()
	domain := apitypes.TypedDataDomain{
		Name:              "Gnosis Protocol",
		Version:           "v2",
		ChainId:           math.NewHexOrDecimal256(testChainID),
		VerifyingContract: oc.SettlementContract.Hex(),
	}
	var receiver types.Address
	if oc.Receiver != nil {
		receiver = *oc.Receiver
	}
	message := apitypes.TypedDataMessage{
		"sellToken":         oc.SellToken.Hex(),
		"buyToken":          oc.BuyToken.Hex(),
		"receiver":          receiver.Hex(),
		"sellAmount":        oc.SellAmount.String(),
		"buyAmount":         oc.BuyAmount.String(),
		"validTo":           fmt.Sprintf("%d", oc.ValidTo),
		"appData":           oc.AppData.Hex(),
		"feeAmount":         oc.FeeAmount.String(),
		"kind":              string(oc.Kind),
		"partiallyFillable": oc.PartiallyFillable,
		"sellTokenBalance":  string(oc.SellTokenBalance),
		"buyTokenBalance":   string(oc.BuyTokenBalance),
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "sellToken", Type: "address"},
				{Name: "buyToken", Type: "address"},
				{Name: "receiver", Type: "address"},
				{Name: "sellAmount", Type: "uint256"},
				{Name: "buyAmount", Type: "uint256"},
				{Name: "validTo", Type: "uint32"},
				{Name: "appData", Type: "bytes32"},
				{Name: "feeAmount", Type: "uint256"},
				{Name: "kind", Type: "string"},
				{Name: "partiallyFillable", Type: "bool"},
				{Name: "sellTokenBalance", Type: "string"},
				{Name: "buyTokenBalance", Type: "string"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}
	domainSep, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		t.Fatalf("domain separator: %v", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		t.Fatalf("struct hash: %v", err)
	}
	raw := append([]byte{0x19, 0x01}, append(domainSep, structHash...)...)
	digest := crypto.Keccak256(raw)

	sigBytes, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sigBytes[64] < 27 {
		sigBytes[64] += 27
	}
	copy(oc.Signature[:], sigBytes)
}

func TestSubmitAndGetOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := baseOrderCreationJSON(t, key)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: got %d, body %s", rec.Code, rec.Body.String())
	}
	var uid types.OrderUid
	if err := json.Unmarshal(rec.Body.Bytes(), &uid); err != nil {
		t.Fatalf("unmarshal uid: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uid.Hex(), nil)
	getRec := httptest.NewRecorder()
	srv.router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: got %d, body %s", getRec.Code, getRec.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if resp.Status != types.StatusOpen {
		t.Fatalf("got status %s, want open", resp.Status)
	}
	if resp.ExecutedSellAmount.String() != "0" {
		t.Fatalf("got executedSellAmount %s, want 0", resp.ExecutedSellAmount.String())
	}
}

func TestSubmitDuplicateOrderRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := baseOrderCreationJSON(t, key)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		return rec
	}
	if rec := post(); rec.Code != http.StatusCreated {
		t.Fatalf("first submit: got %d, body %s", rec.Code, rec.Body.String())
	}
	rec := post()
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate submit: got %d, want 400, body %s", rec.Code, rec.Body.String())
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if errResp.ErrorType != "DuplicateOrder" {
		t.Fatalf("got errorType %s, want DuplicateOrder", errResp.ErrorType)
	}
}

func TestListOrdersRequiresFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	uid := types.OrderUid{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uid.Hex(), nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404, body %s", rec.Code, rec.Body.String())
	}
}

func TestAccountOrdersPaginationRejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/"+testSellToken.Hex()+"/orders?limit=0", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestSolvableOrdersV2EmptySnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v2/solvable_orders", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp solvableOrdersV2Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Orders) != 0 {
		t.Fatalf("got %d orders, want 0 (auction cache never rebuilt in this server)", len(resp.Orders))
	}
}

func TestGetOrderAvailableBalance(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := types.AddressFromCommon(crypto.PubkeyToAddress(key.PublicKey))
	balances := fakeBalances{
		{Owner: owner, Token: testSellToken, Class: types.BalanceERC20}: types.U256FromUint64(2_000000000000000000),
	}
	srv, _ := newTestServerWithBalances(t, balances)

	body := baseOrderCreationJSON(t, key)
	postReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	postRec := httptest.NewRecorder()
	srv.router.ServeHTTP(postRec, postReq)
	if postRec.Code != http.StatusCreated {
		t.Fatalf("submit: got %d, body %s", postRec.Code, postRec.Body.String())
	}
	var uid types.OrderUid
	if err := json.Unmarshal(postRec.Body.Bytes(), &uid); err != nil {
		t.Fatalf("unmarshal uid: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uid.Hex(), nil)
	getRec := httptest.NewRecorder()
	srv.router.ServeHTTP(getRec, getReq)
	var resp orderResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if resp.AvailableBalance == nil {
		t.Fatalf("got nil availableBalance, want 2000000000000000000 (balance tracked, fill-or-kill order)")
	}
	if resp.AvailableBalance.String() != "2000000000000000000" {
		t.Fatalf("got availableBalance %s, want 2000000000000000000", resp.AvailableBalance.String())
	}
}

func TestGetOrderAvailableBalanceNullWhenPartiallyFillableIneligible(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := types.AddressFromCommon(crypto.PubkeyToAddress(key.PublicKey))
	// Balance tracked but short of the sellAmount the partially-fillable
	// order still needs in full before any fill — §4.6 rule 10.
	balances := fakeBalances{
		{Owner: owner, Token: testSellToken, Class: types.BalanceERC20}: types.U256FromUint64(1),
	}
	srv, _ := newTestServerWithBalances(t, balances)

	oc := &orderCreationRequest{
		SellToken:          testSellToken,
		BuyToken:           testBuyToken,
		SellAmount:         types.U256FromUint64(1_000000000000000000),
		BuyAmount:          types.U256FromUint64(2_000000),
		ValidTo:            types.U32(time.Now().Add(time.Hour).Unix()),
		Kind:               types.KindSell,
		PartiallyFillable:  true,
		SellTokenBalance:   types.BalanceERC20,
		BuyTokenBalance:    types.BalanceERC20,
		SigningScheme:      types.SchemeEIP712,
		SettlementContract: testSettlement,
	}
	signOrderCreation(t, oc, key)
	body, err := json.Marshal(oc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	postReq := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	postRec := httptest.NewRecorder()
	srv.router.ServeHTTP(postRec, postReq)
	if postRec.Code != http.StatusCreated {
		t.Fatalf("submit: got %d, body %s", postRec.Code, postRec.Body.String())
	}
	var uid types.OrderUid
	if err := json.Unmarshal(postRec.Body.Bytes(), &uid); err != nil {
		t.Fatalf("unmarshal uid: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uid.Hex(), nil)
	getRec := httptest.NewRecorder()
	srv.router.ServeHTTP(getRec, getReq)
	var resp orderResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if resp.AvailableBalance != nil {
		t.Fatalf("got availableBalance %s, want null (balance insufficient for partially-fillable order)", resp.AvailableBalance.String())
	}
}
