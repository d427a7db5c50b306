// Package sigverify recovers an order's signer from its signature (C2).
//
// Grounded on internal/arbitrage/eip712.go: apitypes.TypedData for the
// domain separator + struct hash, the "\x19\x01" prefix, crypto.Sign /
// crypto.SigToPub, and V-value normalization. The teacher only ever
// *signs*; this generalizes the same typed-data machinery to *recover*,
// and adds the ethsign scheme and OrderCancellation verification the
// teacher has no analog for.
package sigverify

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cowbot/orderbook/internal/domainerr"
	"github.com/cowbot/orderbook/internal/types"
)

const domainName = "Gnosis Protocol"
const domainVersion = "v2"

var orderTypes = apitypes.Types{
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
}

var cancellationTypes = apitypes.Types{
	"EIP712Domain": orderTypes["EIP712Domain"],
	"OrderCancellation": {
		{Name: "orderUid", Type: "bytes"},
	},
}

// buildOrderTypedData constructs the EIP-712 typed-data structure for an
// order, parameterized by the settlement contract and chain id that make
// up its domain (§4.2).
func buildOrderTypedData(o *types.Order, chainID int64) apitypes.TypedData {
	// receiver is hashed as signed: the zero address when unset, never
	// the owner, so the digest is the same before and after recovery.
	var receiver types.Address
	if o.Receiver != nil {
		receiver = *o.Receiver
	}
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: o.SettlementContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         o.SellToken.Hex(),
			"buyToken":          o.BuyToken.Hex(),
			"receiver":          receiver.Hex(),
			"sellAmount":        o.SellAmount.String(),
			"buyAmount":         o.BuyAmount.String(),
			"validTo":           fmt.Sprintf("%d", o.ValidTo),
			"appData":           o.AppData.Hex(),
			"feeAmount":         o.FeeAmount.String(),
			"kind":              string(o.Kind),
			"partiallyFillable": o.PartiallyFillable,
			"sellTokenBalance":  string(o.SellTokenBalance),
			"buyTokenBalance":   string(o.BuyTokenBalance),
		},
	}
}

// OrderDigest returns the EIP-712 struct hash of the order parameters over
// the domain of its settlement contract, per §3 invariant 2 — the first
// 32 bytes of OrderUid must equal this value.
func OrderDigest(o *types.Order, chainID int64) (types.Hash32, error) {
	typedData := buildOrderTypedData(o, chainID)
	hash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return types.Hash32{}, fmt.Errorf("sigverify: hash order struct: %w", err)
	}
	var out types.Hash32
	copy(out[:], hash)
	return out, nil
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("sigverify: hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("sigverify: hash struct: %w", err)
	}
	rawData := append(append([]byte("\x19\x01"), domainSeparator...), structHash...)
	return crypto.Keccak256(rawData), nil
}

// Verify recovers the signer of an order under its declared signing
// scheme and chain id. It never returns a zero address on success —
// recovery failures are reported as *domainerr.ValidationError.
func Verify(o *types.Order, chainID int64) (types.Address, error) {
	typedData := buildOrderTypedData(o, chainID)
	hash, err := eip712Hash(typedData)
	if err != nil {
		return types.Address{}, domainerr.Validation(domainerr.InvalidSignature, err.Error())
	}

	switch o.SigningScheme {
	case types.SchemeEIP712:
		return recoverFromHash(hash, o.Signature)
	case types.SchemeEthSign:
		personalHash := accounts.TextHash(hash)
		return recoverFromHash(personalHash, o.Signature)
	default:
		return types.Address{}, domainerr.Validation(domainerr.InvalidSignature, "unsupported signing scheme")
	}
}

// VerifyCancellation recovers the signer of a signed OrderCancellation{orderUid}.
func VerifyCancellation(uid types.OrderUid, scheme types.SigningScheme, sig types.Signature, settlementContract types.Address, chainID int64) (types.Address, error) {
	typedData := apitypes.TypedData{
		Types:       cancellationTypes,
		PrimaryType: "OrderCancellation",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: settlementContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"orderUid": uid[:],
		},
	}
	hash, err := eip712Hash(typedData)
	if err != nil {
		return types.Address{}, domainerr.Validation(domainerr.InvalidSignature, err.Error())
	}
	switch scheme {
	case types.SchemeEIP712:
		return recoverFromHash(hash, sig)
	case types.SchemeEthSign:
		return recoverFromHash(accounts.TextHash(hash), sig)
	default:
		return types.Address{}, domainerr.Validation(domainerr.InvalidSignature, "unsupported signing scheme")
	}
}

func recoverFromHash(hash []byte, sig types.Signature) (types.Address, error) {
	// crypto.Ecrecover/SigToPub expect v in {0,1}; orders are signed with
	// the Ethereum-convention v in {27,28} (see eip712.go's "Adjust V
	// value" comment in the teacher), so normalize before recovery.
	normalized := make([]byte, 65)
	copy(normalized, sig[:])
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return types.Address{}, domainerr.Validation(domainerr.InvalidSignature, err.Error())
	}
	return types.AddressFromCommon(crypto.PubkeyToAddress(*pub)), nil
}

