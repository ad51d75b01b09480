package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph construction error codes. Build failures are fatal: they reflect a
// configuration defect and the process must not start.
const (
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// Execution error codes
const (
	ErrRoutingFallback  ErrorCode = "ROUTING_FALLBACK"
	ErrCapabilityFailed ErrorCode = "CAPABILITY_ERROR"
	ErrPersistence      ErrorCode = "PERSISTENCE_ERROR"
	ErrSequenceConflict ErrorCode = "SEQUENCE_CONFLICT"
)

// Thread lifecycle error codes
const (
	ErrThreadNotFound  ErrorCode = "THREAD_NOT_FOUND"
	ErrThreadExists    ErrorCode = "THREAD_EXISTS"
	ErrThreadCompleted ErrorCode = "THREAD_COMPLETED"
	ErrNotSuspended    ErrorCode = "NOT_SUSPENDED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Node      string    `json:"node,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNode records the node that produced the error.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, or "" if it carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
