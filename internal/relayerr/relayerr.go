// Package relayerr defines the discriminated error taxonomy shared by every
// component of the relay. Callers branch on Kind, never on string matching.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers know whether to retry, skip, or fail
// terminally without inspecting the underlying cause.
type Kind int

const (
	// UpstreamUnavailable means the REST/stream data source was unreachable
	// or returned a 5xx. Transient.
	UpstreamUnavailable Kind = iota
	// UpstreamBadData means a record was malformed or missing a required
	// field. Permanent for that record.
	UpstreamBadData
	// DuplicateObservation means a trade was already ingested. Expected.
	DuplicateObservation
	// RiskRejected means admission or re-check blocked an intent. Terminal
	// SKIPPED, never retried.
	RiskRejected
	// SlippageRejected means live price drift exceeded tolerance. Terminal
	// FAILED, never retried.
	SlippageRejected
	// ExchangeTransient means a network timeout, 5xx, or rate limit from the
	// exchange. Transient.
	ExchangeTransient
	// ExchangeRejected means the exchange declined the order outright.
	// Terminal FAILED.
	ExchangeRejected
	// InternalError means a store failure or serialization error.
	// Transient.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case UpstreamBadData:
		return "upstream_bad_data"
	case DuplicateObservation:
		return "duplicate_observation"
	case RiskRejected:
		return "risk_rejected"
	case SlippageRejected:
		return "slippage_rejected"
	case ExchangeTransient:
		return "exchange_transient"
	case ExchangeRejected:
		return "exchange_rejected"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Transient reports whether a caller should retry an operation that failed
// with this kind.
func (k Kind) Transient() bool {
	switch k {
	case UpstreamUnavailable, ExchangeTransient, InternalError:
		return true
	default:
		return false
	}
}

// Error is the single discriminated result type every fallible relay
// operation returns instead of mixing sentinel errors, bare strings, and
// nils.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no specific reason attached.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithReason builds a classified error carrying a skip/failure reason enum
// value (e.g. "position_limit", "below_min").
func WithReason(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Upstream wraps err as UpstreamUnavailable.
func Upstream(err error) *Error { return New(UpstreamUnavailable, err) }

// BadData wraps err as UpstreamBadData.
func BadData(err error) *Error { return New(UpstreamBadData, err) }

// Internal wraps err as InternalError.
func Internal(err error) *Error { return New(InternalError, err) }

// RiskRejection builds a terminal RiskRejected error for the given reason.
func RiskRejection(reason string) *Error {
	return WithReason(RiskRejected, reason, errors.New("risk gate rejected intent"))
}

// Slippage builds a terminal SlippageRejected error.
func Slippage(drift, tolerance string) *Error {
	return WithReason(SlippageRejected, "slippage", fmt.Errorf("drift %s exceeds tolerance %s", drift, tolerance))
}

// OfKind reports whether err (or something it wraps) is a *Error of kind k.
func OfKind(err error, k Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == k
	}
	return false
}
