// Package errs defines MAMMON's named error kinds (spec §7).
//
// Every fatal error raised by the transport, wallet, or executor wraps one
// of these sentinels so callers can classify failures with errors.Is /
// errors.As instead of matching on message text.
package errs

import "fmt"

// Kind is a coarse classification of a MAMMON error.
type Kind string

const (
	KindTransport           Kind = "transport"
	KindRateLimited         Kind = "rate_limited"
	KindCircuitOpen         Kind = "circuit_open"
	KindRevert              Kind = "revert"
	KindGasPriceCapExceeded Kind = "gas_price_cap_exceeded"
	KindSpendingLimit       Kind = "spending_limit_exceeded"
	KindApprovalDenied      Kind = "approval_denied"
	KindDryRunBlocked       Kind = "dry_run_blocked"
	KindPartiallyRecovered  Kind = "partially_recovered"
	KindOracleStale         Kind = "oracle_stale"
	KindOracleUnavailable   Kind = "oracle_unavailable"
	KindConfig              Kind = "config"
)

// Error is a MAMMON error carrying a named kind plus sanitized detail.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is allows errors.Is(err, errs.Transport) style checks against a bare Kind
// sentinel created via New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a new *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a new *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: err}
}

// sentinels usable with errors.Is(err, errs.Transport)
var (
	Transport           = New(KindTransport, "")
	RateLimited         = New(KindRateLimited, "")
	CircuitOpen         = New(KindCircuitOpen, "")
	Revert              = New(KindRevert, "")
	GasPriceCapExceeded = New(KindGasPriceCapExceeded, "")
	SpendingLimit       = New(KindSpendingLimit, "")
	ApprovalDenied      = New(KindApprovalDenied, "")
	DryRunBlocked       = New(KindDryRunBlocked, "")
	PartiallyRecovered  = New(KindPartiallyRecovered, "")
	OracleStale         = New(KindOracleStale, "")
	OracleUnavailable   = New(KindOracleUnavailable, "")
	Config              = New(KindConfig, "")
)

// OfKind reports whether err (or something it wraps) carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if me, ok := err.(*Error); ok {
			e = me
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
