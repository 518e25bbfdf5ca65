// Package apierr defines the typed error taxonomy shared by the prover and
// relay services. Every error that crosses a system boundary (HTTP handler,
// worker job, registry-client call) is one of these kinds; ad-hoc string
// errors stay internal to a single function and never leak upward.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, user-agnostic error category.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindInvalidShape       Kind = "InvalidShape"
	KindCredentialMissing  Kind = "CredentialMissing"
	KindCredentialExpired  Kind = "CredentialExpired"
	KindRateLimited        Kind = "RateLimited"
	KindUnauthorized       Kind = "Unauthorized"
	KindPolicyViolation    Kind = "PolicyViolation"
	KindDuplicateAction    Kind = "DuplicateAction"
	KindProverBusy         Kind = "ProverBusy"
	KindInitFailed         Kind = "InitFailed"
	KindNetworkError       Kind = "NetworkError"
	KindTreeRebuilding     Kind = "TreeRebuilding"
	KindCancelled          Kind = "Cancelled"
	KindWitnessInvalid     Kind = "WitnessInvalid"
	KindKeyFetchFailed     Kind = "KeyFetchFailed"
	KindKeyExpired         Kind = "KeyExpired"
	KindEncryptFailed      Kind = "EncryptFailed"
	KindBusy               Kind = "Busy"
	KindInternal           Kind = "Internal"
)

// Error is a typed, boundary-safe error. Detail is developer-facing and must
// never contain witness data, plaintext addresses, or message content.
type Error struct {
	Kind    Kind
	Detail  string
	wrapped error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New builds a typed error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds a typed error that carries cause for logging/tracing, while
// still rendering only kind+detail to API callers.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, wrapped: cause}
}

// As extracts a *Error from err, if any is in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// otherwise KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the HTTP status code the spec's indicative
// mapping (§4.7, §7) assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidInput, KindInvalidShape, KindWitnessInvalid:
		return http.StatusBadRequest
	case KindDuplicateAction:
		return http.StatusConflict
	case KindRateLimited, KindBusy, KindProverBusy:
		return http.StatusTooManyRequests
	case KindPolicyViolation:
		return http.StatusForbidden
	case KindCredentialMissing, KindCredentialExpired:
		return http.StatusUnprocessableEntity
	case KindCancelled:
		return http.StatusRequestTimeout
	case KindTreeRebuilding, KindNetworkError, KindKeyFetchFailed, KindKeyExpired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the spec's indicative user-facing copy for a kind
// (§7), never the developer-facing Detail.
func UserMessage(kind Kind) string {
	switch kind {
	case KindInvalidInput, KindInvalidShape:
		return "something wrong with your request"
	case KindCredentialMissing, KindCredentialExpired:
		return "please verify your identity again"
	case KindRateLimited:
		return "too many attempts, please wait"
	case KindUnauthorized:
		return "please sign in"
	case KindPolicyViolation:
		return "action not allowed for this campaign"
	case KindDuplicateAction:
		return "you've already sent this to this recipient"
	case KindProverBusy, KindInitFailed, KindBusy:
		return "please try again"
	case KindNetworkError, KindTreeRebuilding:
		return "connection issue, retrying"
	case KindCancelled:
		return ""
	default:
		return "something went wrong"
	}
}
