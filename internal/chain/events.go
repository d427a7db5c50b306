package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	domaintypes "github.com/cowbot/orderbook/internal/types"
)

// Event topic0 hashes for the settlement contract's Trade, OrderInvalidated,
// and Settlement events. These mirror the well-known GPv2Settlement ABI.
var (
	TopicTrade            = common.HexToHash("0xa07a543ab8a018198e99ca0184c93fe9050a79400a0a723441f84de1d972cc17")
	TopicOrderInvalidated  = common.HexToHash("0x875b6cb035bbd4ac6500fabc6d1e4ca5bdc58a3e2b424ccb5c24cdbebeb009a9")
	TopicSettlement        = common.HexToHash("0x40338ce1a7c49204f0099533b1e9a7ee0a3d261f84974ab7af36105b8c4e9db4")
	TopicPreSignature      = common.HexToHash("0x01bf7c8b0ca55deecbea89d7e58295b7ffbf685fd0d96801034ba8c6ffe1c68d")
)

// DecodeTrade decodes a Trade log into the domain Trade event.
// Trade(address owner, address sellToken, address buyToken, uint256 sellAmount,
//
//	uint256 buyAmount, uint256 feeAmount, bytes orderUid)
//
// owner is indexed (topics[1]); the rest is packed in Data, orderUid last as
// a dynamic bytes tail - we only need the fixed-offset amounts and the uid.
func DecodeTrade(l types.Log) (domaintypes.Trade, error) {
	if len(l.Topics) < 2 {
		return domaintypes.Trade{}, fmt.Errorf("chain: trade log missing owner topic")
	}
	if len(l.Data) < 32*6 {
		return domaintypes.Trade{}, fmt.Errorf("chain: trade log data too short: %d bytes", len(l.Data))
	}
	sellAmount := new(big.Int).SetBytes(l.Data[64:96])
	buyAmount := new(big.Int).SetBytes(l.Data[96:128])
	feeAmount := new(big.Int).SetBytes(l.Data[128:160])

	// orderUid is ABI-encoded as a dynamic `bytes` parameter: a 32-byte
	// offset, then at that offset a 32-byte length, then the 56 uid bytes.
	offset := new(big.Int).SetBytes(l.Data[160:192]).Int64()
	if int64(len(l.Data)) < offset+64 {
		return domaintypes.Trade{}, fmt.Errorf("chain: trade log orderUid offset out of range")
	}
	uidLen := new(big.Int).SetBytes(l.Data[offset : offset+32]).Int64()
	uidStart := offset + 32
	if int64(len(l.Data)) < uidStart+uidLen || uidLen != 56 {
		return domaintypes.Trade{}, fmt.Errorf("chain: trade log orderUid length %d invalid", uidLen)
	}
	var uid domaintypes.OrderUid
	copy(uid[:], l.Data[uidStart:uidStart+uidLen])

	u256, err := decodeU256(sellAmount, buyAmount, feeAmount)
	if err != nil {
		return domaintypes.Trade{}, err
	}

	return domaintypes.Trade{
		BlockNumber: l.BlockNumber,
		LogIndex:    uint64(l.Index),
		OrderUid:    uid,
		SellAmount:  u256[0],
		BuyAmount:   u256[1],
		FeeAmount:   u256[2],
	}, nil
}

// DecodeOrderInvalidated decodes an OrderInvalidated(address owner, bytes orderUid) log.
func DecodeOrderInvalidated(l types.Log) (domaintypes.Invalidation, error) {
	if len(l.Data) < 64 {
		return domaintypes.Invalidation{}, fmt.Errorf("chain: invalidation log data too short")
	}
	offset := new(big.Int).SetBytes(l.Data[0:32]).Int64()
	if int64(len(l.Data)) < offset+64 {
		return domaintypes.Invalidation{}, fmt.Errorf("chain: invalidation orderUid offset out of range")
	}
	uidLen := new(big.Int).SetBytes(l.Data[offset : offset+32]).Int64()
	uidStart := offset + 32
	if int64(len(l.Data)) < uidStart+uidLen || uidLen != 56 {
		return domaintypes.Invalidation{}, fmt.Errorf("chain: invalidation orderUid length %d invalid", uidLen)
	}
	var uid domaintypes.OrderUid
	copy(uid[:], l.Data[uidStart:uidStart+uidLen])

	return domaintypes.Invalidation{
		BlockNumber: l.BlockNumber,
		LogIndex:    uint64(l.Index),
		OrderUid:    uid,
	}, nil
}

// DecodeSettlement decodes a Settlement(address solver) log.
func DecodeSettlement(l types.Log) (domaintypes.Settlement, error) {
	if len(l.Topics) < 2 {
		return domaintypes.Settlement{}, fmt.Errorf("chain: settlement log missing solver topic")
	}
	solver := domaintypes.AddressFromCommon(common.HexToAddress(l.Topics[1].Hex()))
	return domaintypes.Settlement{
		TxHash:      domaintypes.Hash32(l.TxHash),
		LogIndex:    uint64(l.Index),
		BlockNumber: l.BlockNumber,
		Solver:      solver,
	}, nil
}

// DecodePreSignature decodes a PreSignature(address owner, bytes orderUid,
// bool signed) log.
func DecodePreSignature(l types.Log) (domaintypes.PresignatureEvent, error) {
	if len(l.Data) < 96 {
		return domaintypes.PresignatureEvent{}, fmt.Errorf("chain: presignature log data too short")
	}
	offset := new(big.Int).SetBytes(l.Data[0:32]).Int64()
	if int64(len(l.Data)) < offset+64 {
		return domaintypes.PresignatureEvent{}, fmt.Errorf("chain: presignature orderUid offset out of range")
	}
	uidLen := new(big.Int).SetBytes(l.Data[offset : offset+32]).Int64()
	uidStart := offset + 32
	if int64(len(l.Data)) < uidStart+uidLen || uidLen != 56 {
		return domaintypes.PresignatureEvent{}, fmt.Errorf("chain: presignature orderUid length %d invalid", uidLen)
	}
	var uid domaintypes.OrderUid
	copy(uid[:], l.Data[uidStart:uidStart+uidLen])

	signed := new(big.Int).SetBytes(l.Data[32:64]).Sign() != 0

	return domaintypes.PresignatureEvent{
		BlockNumber: l.BlockNumber,
		LogIndex:    uint64(l.Index),
		OrderUid:    uid,
		Signed:      signed,
	}, nil
}

func decodeU256(vals ...*big.Int) ([3]domaintypes.U256, error) {
	var out [3]domaintypes.U256
	for i, v := range vals {
		parsed, err := domaintypes.U256FromDecimalString(v.String())
		if err != nil {
			return out, err
		}
		out[i] = parsed
	}
	return out, nil
}
