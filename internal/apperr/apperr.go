// Package apperr classifies application errors so the transport layer
// can map them to HTTP statuses and stable machine codes without
// inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry policy. The
// zero value is deliberately unused: an unclassified error surfaces as
// Fatal at the API boundary.
type Kind int

const (
	// Validation rejects malformed input before any state change.
	Validation Kind = iota + 1
	// Unauthenticated covers missing or invalid credentials and tokens.
	Unauthenticated
	// Forbidden covers role, ownership and account-state refusals.
	Forbidden
	// NotFound covers missing entities.
	NotFound
	// Conflict covers unique-constraint, idempotency and state-machine
	// CAS failures.
	Conflict
	// RateLimited covers exhausted token buckets.
	RateLimited
	// DomainRejection covers business rules refusing an otherwise valid
	// request; it always carries a stable Code.
	DomainRejection
	// Transient covers external-dependency failures that are safe to
	// retry.
	Transient
	// Fatal covers violated invariants. Never compensated silently.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate_limited"
	case DomainRejection:
		return "domain_rejection"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Machine-readable rejection codes. Clients switch on these, so they
// never change meaning once shipped.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeStakeLocked         = "STAKE_LOCKED"
	CodeStakeNotActive      = "STAKE_NOT_ACTIVE"
	CodeUnstakeInProgress   = "UNSTAKE_IN_PROGRESS"
	CodeNothingToClaim      = "NOTHING_TO_CLAIM"
	CodePoolInactive        = "POOL_INACTIVE"
	CodePoolFull            = "POOL_FULL"
	CodeStakeBelowMinimum   = "STAKE_BELOW_MINIMUM"
	CodeStakeAboveMaximum   = "STAKE_ABOVE_MAXIMUM"
	CodeAmountTooSmall      = "AMOUNT_TOO_SMALL"
	CodeAssetInactive       = "ASSET_INACTIVE"
	CodeChainInactive       = "CHAIN_INACTIVE"
	CodeAccountDisabled     = "ACCOUNT_DISABLED"
	CodeTwoFactorRequired   = "2FA_REQUIRED"
	CodeTwoFactorInvalid    = "2FA_INVALID"
	CodeInvalidStatus       = "INVALID_STATUS"
)

// E is a classified application error. Services return *E for outcomes
// the client can act on; plumbing failures stay plain wrapped errors
// and surface as Fatal.
type E struct {
	Kind Kind
	Code string // stable machine code, optional
	Msg  string // client-safe message
	Err  error  // wrapped cause, internal only
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *E) Unwrap() error { return e.Err }

// New returns a classified error with a stable code.
func New(kind Kind, code, msg string) *E {
	return &E{Kind: kind, Code: code, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, code, format string, args ...interface{}) *E {
	return &E{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err without losing the cause chain.
func Wrap(err error, kind Kind, code, msg string) *E {
	return &E{Kind: kind, Code: code, Msg: msg, Err: err}
}

func Invalid(msg string) *E { return New(Validation, "", msg) }

func Invalidf(format string, args ...interface{}) *E {
	return Newf(Validation, "", format, args...)
}

func Unauthorized(msg string) *E { return New(Unauthenticated, "", msg) }

func Forbiddenf(format string, args ...interface{}) *E {
	return Newf(Forbidden, "", format, args...)
}

func NotFoundf(format string, args ...interface{}) *E {
	return Newf(NotFound, "", format, args...)
}

func Conflictf(format string, args ...interface{}) *E {
	return Newf(Conflict, "", format, args...)
}

// Reject refuses an operation on a business rule. Code is mandatory.
func Reject(code, msg string) *E { return New(DomainRejection, code, msg) }

func Rejectf(code, format string, args ...interface{}) *E {
	return Newf(DomainRejection, code, format, args...)
}

// KindOf returns the Kind recorded in err's chain, or Fatal when the
// error was never classified.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// CodeOf returns the stable code recorded in err's chain, if any.
func CodeOf(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
