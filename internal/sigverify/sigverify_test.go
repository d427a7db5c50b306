package sigverify

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowbot/orderbook/internal/types"
)

func mustAddr(t *testing.T, hex string) types.Address {
	t.Helper()
	a, err := types.ParseAddress(hex)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	return a
}

func baseOrder(t *testing.T) *types.Order {
	t.Helper()
	return &types.Order{
		SellToken:          mustAddr(t, "0x6B175474E89094C44Da98b954EedeAC495271d0"),
		BuyToken:           mustAddr(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		SellAmount:         types.U256FromUint64(1000000000000000000),
		BuyAmount:          types.U256FromUint64(2000000),
		ValidTo:            2000000000,
		Kind:               types.KindSell,
		SellTokenBalance:   types.BalanceERC20,
		BuyTokenBalance:    types.BalanceERC20,
		SigningScheme:      types.SchemeEIP712,
		SettlementContract: mustAddr(t, "0x9008D19f58AAbD9eD0D60971565AA8510560ab4"),
	}
}

// TestVerifyRoundTrip checks property 6: for any order signed by key k
// under either scheme, Verify recovers k's address.
func TestVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := types.AddressFromCommon(crypto.PubkeyToAddress(key.PublicKey))

	for _, scheme := range []types.SigningScheme{types.SchemeEIP712, types.SchemeEthSign} {
		o := baseOrder(t)
		o.SigningScheme = scheme

		typedData := buildOrderTypedData(o, 1)
		structHash, err := eip712Hash(typedData)
		if err != nil {
			t.Fatalf("[%s] hash: %v", scheme, err)
		}

		signHash := structHash
		if scheme == types.SchemeEthSign {
			signHash = accounts.TextHash(structHash)
		}

		sigBytes, err := crypto.Sign(signHash, key)
		if err != nil {
			t.Fatalf("[%s] sign: %v", scheme, err)
		}
		if sigBytes[64] < 27 {
			sigBytes[64] += 27
		}
		var sig types.Signature
		copy(sig[:], sigBytes)
		o.Signature = sig

		got, err := Verify(o, 1)
		if err != nil {
			t.Fatalf("[%s] verify: %v", scheme, err)
		}
		if got != want {
			t.Fatalf("[%s] recovered %s, want %s", scheme, got.Hex(), want.Hex())
		}
	}
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	o := baseOrder(t)
	o.Signature = types.Signature{}
	if _, err := Verify(o, 1); err == nil {
		t.Fatal("expected error recovering from zero signature")
	}
}

func TestOrderDigestMatchesUidDigestConvention(t *testing.T) {
	o := baseOrder(t)
	digest, err := OrderDigest(o, 1)
	if err != nil {
		t.Fatalf("order digest: %v", err)
	}
	owner := mustAddr(t, "0x000000000000000000000000000000000000dEaD")
	uid := types.BuildOrderUid(digest, owner, o.ValidTo)
	if uid.Digest() != digest {
		t.Fatalf("uid digest mismatch: got %s want %s", uid.Digest().Hex(), digest.Hex())
	}
	if uid.Owner() != owner {
		t.Fatalf("uid owner mismatch")
	}
	if uid.ValidTo() != o.ValidTo {
		t.Fatalf("uid validTo mismatch")
	}
}
