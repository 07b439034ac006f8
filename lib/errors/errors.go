// Package errors provides structured error types for authd.
// All errors are designed to be safe to return to clients without exposing
// internal implementation details.
//
// This package provides:
//   - Sentinel errors for pool, store and authentication conditions
//   - Client-facing error codes and their HTTP status mapping
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak sensitive information
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes returned to HTTP clients. They are stable strings so that
// clients can branch on them without parsing messages.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeUnavailable          = "SERVICE_UNAVAILABLE"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error. It is only produced
	// at construction time and is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Pool errors
var (
	// ErrPoolExhausted indicates no connection became available in time.
	ErrPoolExhausted = fmt.Errorf("pool: exhausted: %w", ErrUnavailable)

	// ErrPoolClosed indicates the pool has begun shutting down.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)

	// ErrLeaseReleased indicates a lease was released more than once.
	ErrLeaseReleased = fmt.Errorf("pool: lease already released: %w", ErrInvalidState)

	// ErrLeaseNotOwned indicates a lease was handed to a pool that did not issue it.
	ErrLeaseNotOwned = fmt.Errorf("pool: lease not owned by this pool: %w", ErrInvalidState)

	// ErrDrainTimeout indicates shutdown force-closed connections that were still in use.
	ErrDrainTimeout = errors.New("pool: drain timed out, in-use connections force-closed")
)

// Store errors
var (
	// ErrStoreUnavailable indicates an I/O or protocol failure talking to the store.
	ErrStoreUnavailable = fmt.Errorf("store: %w", ErrUnavailable)

	// ErrDataIntegrity indicates the store returned an unexpected row cardinality.
	ErrDataIntegrity = errors.New("store: data integrity fault")

	// ErrNoRecord indicates the lookup matched no row.
	ErrNoRecord = errors.New("store: no record")
)

// Authentication verdict errors. These are business outcomes; the verifier
// returns them as verdicts, they are listed here so the HTTP layer can map
// them to one client-facing code.
var (
	// ErrInvalidCredentials indicates the identifier or secret did not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountDisabled indicates the account exists but may not log in.
	ErrAccountDisabled = errors.New("auth: account disabled")
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code string `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// HTTPStatus returns the HTTP status code matching the error code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new structured error with the given code and message.
// The message should be safe to return to clients.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an internal error with a generic message.
// Use this when the original error contains sensitive information.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// Invalid credentials and disabled accounts share one code and one message
// so a client cannot tell them apart.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	code, message := classify(err)
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// classify maps sentinel errors to a code and a client-safe message.
func classify(err error) (string, string) {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountDisabled):
		return CodeAuthenticationFailed, "authentication failed"
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited, "too many attempts, try again later"
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput, "invalid input"
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrClosed),
		errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrDataIntegrity):
		return CodeUnavailable, "service temporarily unavailable, retry later"
	default:
		return CodeInternal, "internal error"
	}
}

// IsUnavailable returns true if the error indicates a service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInvalidState returns true if the error indicates an invalid state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
