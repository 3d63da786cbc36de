// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories that follow the layer where the
// failure happened:
//   - General errors (1-99): Unknown errors
//   - Configuration errors (100-199): Missing credentials, missing required fields, invalid parameters
//   - Transport errors (200-299): Network failures, aborted rate limiter waits, stream dial/write failures
//   - Broker errors (300-399): Well-formed responses carrying the broker's own error envelope
//   - Decode errors (400-499): Bodies that do not parse as their declared content type
//   - Protocol errors (500-599): Rejected stream authentication, invalid stream state
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeMissingField, "watchlist name is required")
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeRequestFailed, "GET account failed", originalErr)
//
//	// Check error code or category
//	if errors.HasCode(err, errors.ErrCodeBrokerRejected) { ... }
//	if errors.IsCategory(err, errors.CategoryTransport) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsCategory checks if the outermost *Error in err's chain belongs to category.
func IsCategory(err error, category Category) bool {
	return GetCode(err).Category() == category
}

// BrokerError is the cause attached to broker errors. It carries the broker's
// error envelope together with the raw response body.
type BrokerError struct {
	StatusCode int    // HTTP status of the response
	Code       int    // Broker-assigned error code, 0 when the body had no envelope
	Message    string // Broker-assigned message
	Body       string // Serialized response body
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error detected in response (status %d): %s", e.StatusCode, e.Body)
}

// IsBrokerError checks if an error chain contains a BrokerError.
func IsBrokerError(err error) bool {
	var brokerErr *BrokerError

	return errors.As(err, &brokerErr)
}
