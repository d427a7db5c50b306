package validator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/cowbot/orderbook/internal/config"
	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/pricesource"
	"github.com/cowbot/orderbook/internal/quote"
	"github.com/cowbot/orderbook/internal/types"
)

const testChainID = 1

var testSettlement = must(types.ParseAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab4"))
var testSellToken = must(types.ParseAddress("0x6B175474E89094C44Da98b954EedeAC495271d0"))
var testBuyToken = must(types.ParseAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))

func must(a types.Address, err error) types.Address {
	if err != nil {
		panic(err)
	}
	return a
}

func baseCreation() *types.OrderCreation {
	return &types.OrderCreation{
		SellToken:          testSellToken,
		BuyToken:           testBuyToken,
		SellAmount:         types.U256FromUint64(1_000000000000000000),
		BuyAmount:          types.U256FromUint64(2_000000),
		ValidTo:            types.U32(time.Now().Add(time.Hour).Unix()),
		Kind:               types.KindSell,
		SellTokenBalance:   types.BalanceERC20,
		BuyTokenBalance:    types.BalanceERC20,
		SigningScheme:      types.SchemeEIP712,
		SettlementContract: testSettlement,
	}
}

// signCreation signs oc's order fields exactly as sigverify.buildOrderTypedData
// would, duplicated here rather than exported from sigverify since only tests
// need to originate a signature — production callers only verify one.
func signCreation(t *testing.T, oc *types.OrderCreation, key *ecdsa.PrivateKey) {
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

	signHash := digest
	if oc.SigningScheme == types.SchemeEthSign {
		signHash = accounts.TextHash(digest)
	}
	sigBytes, err := crypto.Sign(signHash, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sigBytes[64] < 27 {
		sigBytes[64] += 27
	}
	copy(oc.Signature[:], sigBytes)
}

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func keyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func TestValidateRejectsSameToken(t *testing.T) {
	v := New(Config{Validator: config.ValidatorConfig{}, BalanceClasses: DefaultSupportedBalanceClasses(), ChainID: testChainID})
	oc := baseCreation()
	oc.BuyToken = oc.SellToken
	_, err := v.Validate(context.Background(), oc)
	assertValidationKind(t, err, domainerr.SameBuyAndSellToken)
}

func TestValidateRejectsZeroAmount(t *testing.T) {
	v := New(Config{BalanceClasses: DefaultSupportedBalanceClasses(), ChainID: testChainID})
	oc := baseCreation()
	oc.SellAmount = types.U256{}
	_, err := v.Validate(context.Background(), oc)
	assertValidationKind(t, err, domainerr.ZeroAmount)
}

func TestValidateRejectsUnsupportedToken(t *testing.T) {
	v := New(Config{
		BalanceClasses:    DefaultSupportedBalanceClasses(),
		ChainID:           testChainID,
		UnsupportedTokens: []types.Address{testSellToken},
	})
	oc := baseCreation()
	_, err := v.Validate(context.Background(), oc)
	assertValidationKind(t, err, domainerr.UnsupportedToken)
}

func TestValidateRejectsInsufficientValidTo(t *testing.T) {
	v := New(Config{
		Validator:      config.ValidatorConfig{MinValidToHorizon: time.Hour},
		BalanceClasses: DefaultSupportedBalanceClasses(),
		ChainID:        testChainID,
	})
	oc := baseCreation()
	oc.ValidTo = types.U32(time.Now().Add(time.Minute).Unix())
	_, err := v.Validate(context.Background(), oc)
	assertValidationKind(t, err, domainerr.InsufficientValidTo)
}

func TestValidateRejectsDenyListedFrom(t *testing.T) {
	owner := testSellToken // any address works as a stand-in for an owner here
	v := New(Config{
		Validator:      config.ValidatorConfig{DenyListed: []string{owner.Hex()}},
		BalanceClasses: DefaultSupportedBalanceClasses(),
		ChainID:        testChainID,
	})
	oc := baseCreation()
	oc.From = &owner
	_, err := v.Validate(context.Background(), oc)
	if _, ok := err.(*domainerr.DenyListedError); !ok {
		t.Fatalf("expected DenyListedError, got %v", err)
	}
}

func TestValidateRejectsWrongOwner(t *testing.T) {
	v := New(Config{BalanceClasses: DefaultSupportedBalanceClasses(), ChainID: testChainID})
	oc := baseCreation()
	key := newTestKey(t)
	signCreation(t, oc, key)
	wrong := testBuyToken
	oc.From = &wrong
	_, err := v.Validate(context.Background(), oc)
	assertValidationKind(t, err, domainerr.WrongOwner)
}

type stubEstimateSource struct{ np types.U256 }

func (s stubEstimateSource) Estimate(context.Context, types.Address, types.Address, types.U256, types.OrderKind) (pricesource.Estimate, error) {
	return pricesource.Estimate{OutAmount: types.U256FromUint64(1), GasCostWei: types.U256{}}, nil
}
func (s stubEstimateSource) NativePrice(context.Context, types.Address) (types.U256, error) {
	return s.np, nil
}
func (s stubEstimateSource) Name() string { return "stub" }

func TestValidateAcceptsWellFormedSignedOrder(t *testing.T) {
	engine := quote.NewEngine(quote.Config{FeeRatioNumer: 0, FeeRatioDenom: 1, FeeTTL: time.Minute, CacheTTL: time.Minute}, stubEstimateSource{np: types.U256FromUint64(1)}, nil)
	v := New(Config{
		Validator:      config.ValidatorConfig{FeeSlack: decimal.NewFromFloat(0.01)},
		BalanceClasses: DefaultSupportedBalanceClasses(),
		ChainID:        testChainID,
		Quotes:         engine,
	})
	oc := baseCreation()
	key := newTestKey(t)
	signCreation(t, oc, key)

	order, err := v.Validate(context.Background(), oc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := types.AddressFromCommon(keyAddress(key))
	if order.Owner != want {
		t.Fatalf("owner %s, want %s", order.Owner.Hex(), want.Hex())
	}
	if order.Uid.Owner() != want {
		t.Fatalf("uid owner mismatch")
	}
}

func assertValidationKind(t *testing.T, err error, want domainerr.ValidationKind) {
	t.Helper()
	ve, ok := err.(*domainerr.ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Kind != want {
		t.Fatalf("got kind %s, want %s", ve.Kind, want)
	}
}
