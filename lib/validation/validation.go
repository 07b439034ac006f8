// Package validation provides input checks for the login boundary and for
// configuration values. Validators return nil on success and a *Result on
// failure; the message is safe to return to clients.
package validation

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Common validation errors. These are sentinel errors that can be checked with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")
)

// Login field limits.
const (
	// MaxIdentifierLength bounds the identifier in characters.
	MaxIdentifierLength = 256

	// MaxSecretBytes bounds the secret in bytes. bcrypt reads at most 72.
	MaxSecretBytes = 72
)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength validates that a string has at most max characters.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// MaxBytes validates that a string encodes to at most max bytes.
func MaxBytes(field, value string, max int) error {
	if len(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum size of %d bytes", max), ErrTooLong)
	}
	return nil
}

// Printable validates that a string is valid UTF-8 without control characters.
func Printable(field, value string) error {
	if !utf8.ValidString(value) {
		return NewResult(field, "must be valid UTF-8", ErrInvalidFormat)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return NewResult(field, "must not contain control characters", ErrInvalidFormat)
		}
	}
	return nil
}

// Identifier checks a login identifier. An empty identifier passes: it is a
// failed login, not malformed input.
func Identifier(field, value string) error {
	return All(
		func() error { return MaxLength(field, value, MaxIdentifierLength) },
		func() error { return Printable(field, value) },
	)
}

// Secret checks a login secret. Only the size is bounded; any byte content
// is a legal secret.
func Secret(field, value string) error {
	return MaxBytes(field, value, MaxSecretBytes)
}

// Positive validates that an integer is positive (> 0).
func Positive(field string, value int) error {
	if value <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// NonNegative validates that an integer is non-negative (>= 0).
func NonNegative(field string, value int) error {
	if value < 0 {
		return NewResult(field, "must be non-negative", ErrOutOfRange)
	}
	return nil
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// PositiveDuration validates that a duration is greater than zero.
func PositiveDuration(field string, value time.Duration) error {
	if value <= 0 {
		return NewResult(field, "must be a positive duration", ErrOutOfRange)
	}
	return nil
}

// Port validates a network port number.
func Port(field string, value int) error {
	return IntRange(field, value, 1, 65535)
}

// HostPort validates a host:port address. The host may be empty to listen
// on all interfaces.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	_, port, err := net.SplitHostPort(value)
	if err != nil || port == "" {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}

	return nil
}

// OneOf validates that value is one of the allowed strings.
func OneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return NewResult(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), ErrInvalidFormat)
}

// All runs multiple validation functions and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Err returns the collection as an error, or nil if it is empty.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}
