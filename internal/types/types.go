// Package types defines the primitive and entity types of the order-book
// domain: fixed-width addresses and hashes, the composite order uid, and
// the Order/Trade/Invalidation/Settlement entities themselves.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address is a 20-byte account or contract identifier.
type Address [20]byte

func (a Address) Bytes() []byte    { return a[:] }
func (a Address) Hex() string      { return common.BytesToAddress(a[:]).Hex() }
func (a Address) String() string   { return a.Hex() }
func (a Address) IsZero() bool     { return a == Address{} }
func (a Address) Common() common.Address { return common.BytesToAddress(a[:]) }

func AddressFromCommon(c common.Address) Address {
	var a Address
	copy(a[:], c[:])
	return a
}

func ParseAddress(hexStr string) (Address, error) {
	b := common.FromHex(hexStr)
	if len(b) != 20 {
		return Address{}, fmt.Errorf("types: invalid address length %d", len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Hex() + `"`), nil
}

func (a *Address) UnmarshalJSON(data []byte) error {
	s, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Hash32 is a 32-byte digest (order digest, app data hash, tx hash, ...).
type Hash32 [32]byte

func (h Hash32) Bytes() []byte  { return h[:] }
func (h Hash32) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash32) String() string { return h.Hex() }
func (h Hash32) IsZero() bool   { return h == Hash32{} }

func ParseHash32(hexStr string) (Hash32, error) {
	b := common.FromHex(hexStr)
	if len(b) != 32 {
		return Hash32{}, fmt.Errorf("types: invalid hash length %d", len(b))
	}
	var h Hash32
	copy(h[:], b)
	return h, nil
}

func (h Hash32) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

func (h *Hash32) UnmarshalJSON(data []byte) error {
	s, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := ParseHash32(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// unquoteJSONString strips the surrounding quotes a JSON string literal
// carries; shared by the hex-encoded fixed-width types' UnmarshalJSON.
func unquoteJSONString(data []byte) (string, error) {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return "", fmt.Errorf("types: expected JSON string, got %s", data)
	}
	return string(data[1 : len(data)-1]), nil
}

// U32 is a nonnegative integer up to 2^32-1, typically a unix timestamp
// or block number bound.
type U32 uint32

// U256 is a nonnegative integer up to 2^256-1. It wraps uint256.Int rather
// than demoting to float64 or a bare string, per the "numerics" design note:
// token amounts never lose integer precision.
type U256 struct {
	inner uint256.Int
}

func U256FromUint64(v uint64) U256 {
	var u U256
	u.inner.SetUint64(v)
	return u
}

func U256FromBig(v *uint256.Int) U256 {
	var u U256
	u.inner.Set(v)
	return u
}

// U256FromDecimalString parses a base-10 string into a U256. Used for JSON
// request bodies and decimal(78,0) column scans alike.
func U256FromDecimalString(s string) (U256, error) {
	var u U256
	if s == "" {
		return u, errors.New("types: empty U256 string")
	}
	if err := u.inner.SetFromDecimal(s); err != nil {
		return U256{}, fmt.Errorf("types: invalid U256 %q: %w", s, err)
	}
	return u, nil
}

func (u U256) String() string { return u.inner.Dec() }

func (u U256) Big() *uint256.Int {
	var cp uint256.Int
	cp.Set(&u.inner)
	return &cp
}

func (u U256) IsZero() bool { return u.inner.IsZero() }

func (u U256) Cmp(other U256) int { return u.inner.Cmp(&other.inner) }

func (u U256) Add(other U256) U256 {
	var out U256
	out.inner.Add(&u.inner, &other.inner)
	return out
}

func (u U256) Sub(other U256) (U256, bool) {
	if u.Cmp(other) < 0 {
		return U256{}, false
	}
	var out U256
	out.inner.Sub(&u.inner, &other.inner)
	return out, true
}

func (u U256) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.inner.Dec() + `"`), nil
}

func (u *U256) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := U256FromDecimalString(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Signature is a 65-byte r||s||v ECDSA signature.
type Signature [65]byte

func (s Signature) Bytes() []byte  { return s[:] }
func (s Signature) Hex() string    { return "0x" + hex.EncodeToString(s[:]) }
func (s Signature) String() string { return s.Hex() }
func (s Signature) IsZero() bool   { return s == Signature{} }

func ParseSignature(hexStr string) (Signature, error) {
	b := common.FromHex(hexStr)
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("types: invalid signature length %d", len(b))
	}
	var s Signature
	copy(s[:], b)
	return s, nil
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.Hex() + `"`), nil
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	str, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AppData is the 32-byte hash of arbitrary order metadata.
type AppData = Hash32

// OrderKind distinguishes the side the amounts are denominated for.
type OrderKind string

const (
	KindSell OrderKind = "sell"
	KindBuy  OrderKind = "buy"
)

// BalanceClass enumerates the channel a sell or buy transfer flows through.
type BalanceClass string

const (
	BalanceERC20    BalanceClass = "erc20"
	BalanceInternal BalanceClass = "internal"
	BalanceExternal BalanceClass = "external"
)

// SigningScheme enumerates the supported order-signing schemes.
type SigningScheme string

const (
	SchemeEIP712  SigningScheme = "eip712"
	SchemeEthSign SigningScheme = "ethsign"
	// SchemePreSign denotes an order authorized by an on-chain presignature
	// transaction rather than an off-chain ECDSA signature; Signature is
	// unused until the presignature event is observed by the indexer.
	SchemePreSign SigningScheme = "presign"
)

// OrderUid is the 56-byte composite identifier: digest(32) || owner(20) || validTo(4, BE).
type OrderUid [56]byte

func BuildOrderUid(digest Hash32, owner Address, validTo U32) OrderUid {
	var uid OrderUid
	copy(uid[0:32], digest[:])
	copy(uid[32:52], owner[:])
	uid[52] = byte(validTo >> 24)
	uid[53] = byte(validTo >> 16)
	uid[54] = byte(validTo >> 8)
	uid[55] = byte(validTo)
	return uid
}

func (u OrderUid) Digest() Hash32 {
	var h Hash32
	copy(h[:], u[0:32])
	return h
}

func (u OrderUid) Owner() Address {
	var a Address
	copy(a[:], u[32:52])
	return a
}

func (u OrderUid) ValidTo() U32 {
	return U32(uint32(u[52])<<24 | uint32(u[53])<<16 | uint32(u[54])<<8 | uint32(u[55]))
}

func (u OrderUid) Hex() string  { return "0x" + hex.EncodeToString(u[:]) }
func (u OrderUid) String() string { return u.Hex() }

func ParseOrderUid(hexStr string) (OrderUid, error) {
	b := common.FromHex(hexStr)
	if len(b) != 56 {
		return OrderUid{}, fmt.Errorf("types: invalid order uid length %d", len(b))
	}
	var u OrderUid
	copy(u[:], b)
	return u, nil
}

func (u OrderUid) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.Hex() + `"`), nil
}

func (u *OrderUid) UnmarshalJSON(data []byte) error {
	s, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := ParseOrderUid(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Order is a signed limit order as accepted by the backend. It is never
// mutated after creation; see store.Store.InsertOrder.
type Order struct {
	Uid                 OrderUid
	Owner               Address
	CreationTime        time.Time
	SellToken           Address
	BuyToken            Address
	Receiver            *Address
	SellAmount          U256
	BuyAmount           U256
	ValidTo             U32
	AppData             Hash32
	FeeAmount           U256
	FullFeeAmount       U256
	Kind                OrderKind
	PartiallyFillable   bool
	SellTokenBalance    BalanceClass
	BuyTokenBalance     BalanceClass
	SigningScheme       SigningScheme
	Signature           Signature
	SettlementContract  Address
}

// EffectiveReceiver returns the explicit receiver if set, otherwise the owner.
func (o *Order) EffectiveReceiver() Address {
	if o.Receiver != nil {
		return *o.Receiver
	}
	return o.Owner
}

// OrderCreation is the inbound POST /api/v1/orders payload, prior to
// signature recovery establishing Owner. From, when set, must match the
// recovered signer (§4.6 rule 7); for presign orders, which carry no
// signature to recover, it is required and names the owner.
type OrderCreation struct {
	SellToken          Address
	BuyToken           Address
	Receiver           *Address
	SellAmount         U256
	BuyAmount          U256
	ValidTo            U32
	AppData            Hash32
	FeeAmount          U256
	Kind               OrderKind
	PartiallyFillable  bool
	SellTokenBalance   BalanceClass
	BuyTokenBalance    BalanceClass
	SigningScheme      SigningScheme
	Signature          Signature
	From               *Address
	SettlementContract Address
}

// Trade is an on-chain fill event, keyed by (blockNumber, logIndex).
type Trade struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    OrderUid
	SellAmount  U256 // includes fees
	BuyAmount   U256
	FeeAmount   U256
}

// Invalidation is an on-chain order-cancellation event.
type Invalidation struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    OrderUid
}

// Settlement records one executed batch-settlement transaction.
type Settlement struct {
	TxHash      Hash32
	LogIndex    uint64
	BlockNumber uint64
	Solver      Address
}

// PresignatureEvent records one setPreSignature(orderUid, signed) call
// observed on chain, for the presign signing scheme's presignaturePending
// status clause.
type PresignatureEvent struct {
	BlockNumber uint64
	LogIndex    uint64
	OrderUid    OrderUid
	Signed      bool
}

// ExecutedSums is the derived view Σ Trade rows for one order.
type ExecutedSums struct {
	SellAmount U256 // includes fees
	BuyAmount  U256
	FeeAmount  U256
}

// OrderStatus is the value produced by the status projector (C8).
type OrderStatus string

const (
	StatusPresignaturePending OrderStatus = "presignaturePending"
	StatusOpen                OrderStatus = "open"
	StatusFulfilled           OrderStatus = "fulfilled"
	StatusCancelled           OrderStatus = "cancelled"
	StatusExpired             OrderStatus = "expired"
)
