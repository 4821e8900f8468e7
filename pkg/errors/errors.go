package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Lifecycle errors for the maintenance request state machine.
var (
	// ErrInvalidTransition rejects a target state that is not a legal
	// successor of the expected current state. Never retried.
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusUnprocessableEntity, "transition is not allowed from the current state")
	// ErrStateConflict means the compare-and-swap guard lost: the persisted
	// state no longer matches what the caller expected.
	ErrStateConflict = New("STATE_CONFLICT", http.StatusConflict, "request state changed since it was last fetched")
	// ErrNotCompleted rejects a review on a request that has not reached COMPLETED.
	ErrNotCompleted = New("NOT_COMPLETED", http.StatusConflict, "request is not completed yet")
	// ErrAlreadyReviewed rejects a second review; the original is immutable.
	ErrAlreadyReviewed = New("ALREADY_REVIEWED", http.StatusConflict, "request already has a review")
	// ErrTerminalState rejects any mutation of a terminal request.
	ErrTerminalState = New("TERMINAL_STATE", http.StatusConflict, "request is in a terminal state")
	// ErrAmbiguousFailure marks a write whose outcome is unknown (timeout
	// mid-flight). Resolved client-side by re-fetch-and-compare, never by
	// blind retry.
	ErrAmbiguousFailure = New("AMBIGUOUS_FAILURE", http.StatusGatewayTimeout, "outcome of the last action is unknown")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Is reports whether err carries the given predefined code.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
