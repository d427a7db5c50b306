// Package domainerr defines the domain-level error kinds of §7 and their
// fixed mapping to HTTP status codes. Handlers in internal/httpapi switch
// on these types rather than on string matching.
package domainerr

import "fmt"

// ValidationKind enumerates the OrderPostError.errorType values of §4.6.
type ValidationKind string

const (
	SameBuyAndSellToken             ValidationKind = "SameBuyAndSellToken"
	ZeroAmount                      ValidationKind = "ZeroAmount"
	UnsupportedBuyTokenDestination   ValidationKind = "UnsupportedBuyTokenDestination"
	UnsupportedSellTokenSource       ValidationKind = "UnsupportedSellTokenSource"
	UnsupportedToken                ValidationKind = "UnsupportedToken"
	InsufficientValidTo              ValidationKind = "InsufficientValidTo"
	InvalidSignature                 ValidationKind = "InvalidSignature"
	WrongOwner                       ValidationKind = "WrongOwner"
	InsufficientFee                  ValidationKind = "InsufficientFee"
	TransferEthToContract            ValidationKind = "TransferEthToContract"
	TransferSimulationFailed         ValidationKind = "TransferSimulationFailed"
	InsufficientBalance              ValidationKind = "InsufficientBalance"
	InsufficientAllowance            ValidationKind = "InsufficientAllowance"
	DuplicateOrder                   ValidationKind = "DuplicateOrder"

	// AmountIsZero and SellAmountDoesNotCoverFee are C4's quote-error
	// literals (§4.4) — distinct from C6's ZeroAmount/InsufficientFee,
	// which describe an already-submitted order rather than a quote.
	AmountIsZero              ValidationKind = "AmountIsZero"
	SellAmountDoesNotCoverFee ValidationKind = "SellAmountDoesNotCoverFee"
)

// ValidationError maps to HTTP 400.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func Validation(kind ValidationKind, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail}
}

// DenyListedError maps to HTTP 403.
type DenyListedError struct{ Owner string }

func (e *DenyListedError) Error() string { return fmt.Sprintf("owner %s is deny-listed", e.Owner) }

// RateLimitedError maps to HTTP 429.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string { return "rate limited" }

// NotFoundError maps to HTTP 404.
type NotFoundError struct{ What string }

func (e *NotFoundError) Error() string { return e.What + " not found" }

// ConflictError is an internal invariant violation; currently unused publicly.
type ConflictError struct{ Detail string }

func (e *ConflictError) Error() string { return "conflict: " + e.Detail }

// UpstreamKind enumerates Upstream(kind) error kinds.
type UpstreamKind string

const (
	UpstreamNoLiquidity     UpstreamKind = "NoLiquidity"
	UpstreamUnsupportedToken UpstreamKind = "UnsupportedToken"
	UpstreamTimeout          UpstreamKind = "Timeout"
	UpstreamProviderError    UpstreamKind = "ProviderError"
)

// UpstreamError maps to 404 (NoLiquidity/UnsupportedToken) or 500
// (Timeout/ProviderError), per §7.
type UpstreamError struct {
	Kind UpstreamKind
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s", e.Kind)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func Upstream(kind UpstreamKind, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Err: err}
}

// InternalError maps to HTTP 500 — a bug or unrecoverable DB error.
type InternalError struct{ Err error }

func (e *InternalError) Error() string { return fmt.Sprintf("internal: %v", e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

func Internal(err error) *InternalError { return &InternalError{Err: err} }
