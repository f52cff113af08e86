package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of error codes that can cross a service
// boundary, per the wire-level error taxonomy.
type ErrorCode string

const (
	ErrNotActive          ErrorCode = "NOT_ACTIVE"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrElecting           ErrorCode = "ELECTING"
	ErrCASConflict        ErrorCode = "CAS_CONFLICT"
	ErrRegistrationFailed ErrorCode = "REGISTRATION_FAILED"
	ErrTransportUnavail   ErrorCode = "TRANSPORT_UNAVAILABLE"
)

// Error is a typed, wire-carryable error: every AegisTrader error that can
// reach a caller across a service boundary is one of these, never a bare
// fmt.Errorf string, so callers can branch on Code without parsing messages.
type Error struct {
	Code    ErrorCode
	Message string
	TraceID string
}

func (e *Error) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace=%s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a domain error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithTrace returns a copy of the error carrying the given trace id.
func (e *Error) WithTrace(traceID string) *Error {
	return &Error{Code: e.Code, Message: e.Message, TraceID: traceID}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *Error,
// otherwise returns INTERNAL_ERROR — the default for unclassified failures.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrInternalError
}

// IsRetryable reports whether code is in the default retryable set.
// RetryPolicy carries its own configurable set; this is only used where no
// policy is in scope (e.g. transport-level reconnect decisions).
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrNotActive, ErrServiceUnavailable, ErrTimeout, ErrElecting:
		return true
	default:
		return false
	}
}
