package auth

import (
	"fmt"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// Kind is the outcome of a login attempt.
type Kind int

const (
	// Authenticated means the secret matched an active account.
	Authenticated Kind = iota
	// InvalidCredentials means the identifier is unknown or the secret is wrong.
	InvalidCredentials
	// AccountDisabled means the account exists but may not log in.
	AccountDisabled
	// Unavailable means the store could not answer in time.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case InvalidCredentials:
		return "invalid_credentials"
	case AccountDisabled:
		return "account_disabled"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// LoginRequest is the submitted credential pair.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// Verdict is the result of Verify.
type Verdict struct {
	Kind Kind
	// Identifier is set for Authenticated verdicts, as stored.
	Identifier string
	// Cause records why an Unavailable verdict was reached. It is for logs
	// only and must not be sent to clients.
	Cause error
}

// Authenticated reports whether the login succeeded.
func (v Verdict) Authenticated() bool {
	return v.Kind == Authenticated
}

// Err maps the verdict onto the error taxonomy, or nil when authenticated.
func (v Verdict) Err() error {
	switch v.Kind {
	case Authenticated:
		return nil
	case InvalidCredentials:
		return apperrors.ErrInvalidCredentials
	case AccountDisabled:
		return apperrors.ErrAccountDisabled
	default:
		if v.Cause != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, v.Cause)
		}
		return apperrors.ErrUnavailable
	}
}
