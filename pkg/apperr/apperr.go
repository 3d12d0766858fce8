package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Code represents an authentication error category independent of transport layer.
// These codes describe what went wrong in domain terms, not HTTP terms.
type Code string

const (
	CodeInvalidInput Code = "invalid_input" // caller supplied a malformed identity or code
	CodeValidation   Code = "validation_failed"
	CodeNotFound     Code = "not_found"
	CodeMismatch     Code = "mismatch" // presented code exists but does not match
	CodeExpired      Code = "expired"
	CodeMalformed    Code = "malformed" // token structure or signature is unusable
	CodeRateLimited  Code = "rate_limited"
	CodeSuspended    Code = "suspended"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal_error"

	// CodeConfiguration marks operator mistakes (missing or unsafe signing
	// secrets). Callers must never see the underlying detail.
	CodeConfiguration Code = "configuration"

	CodeDeliveryFailed   Code = "delivery_failed"   // out-of-band code could not be sent
	CodeStoreUnavailable Code = "store_unavailable" // backing store unreachable, state unknown
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error

	// RetryAfter carries the wait hint for rate_limited and suspended errors
	// so transports can surface it without parsing messages.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a new domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, RetryAfter: existing.RetryAfter, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// WithRetryAfter creates a domain error carrying a wait hint.
func WithRetryAfter(code Code, msg string, retryAfter time.Duration) error {
	return &Error{Code: code, Message: msg, RetryAfter: retryAfter}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the domain code from an error chain.
// Non-domain errors report CodeInternal so metrics labels stay bounded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// RetryAfterOf extracts the wait hint from an error chain, or zero when absent.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
