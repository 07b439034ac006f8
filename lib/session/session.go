// Package session issues opaque tokens for authenticated identifiers.
//
// The verifier only decides whether a login succeeds; what a successful
// login yields is delegated here. RedisIssuer stores sessions in Redis so
// several authd instances can share them; MemoryIssuer keeps them in
// process for tests and single-instance deployments.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = 12 * time.Hour

// ErrNotFound is returned for unknown, expired or revoked tokens.
var ErrNotFound = errors.New("session: not found")

// ErrUnavailable is returned when the session backend cannot be reached.
var ErrUnavailable = fmt.Errorf("session: %w", apperrors.ErrUnavailable)

// Session is an issued token and what it stands for.
type Session struct {
	Token      string    `json:"token"`
	Identifier string    `json:"identifier"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Issuer issues, resolves and revokes sessions.
type Issuer interface {
	// Issue creates a session for identifier.
	Issue(ctx context.Context, identifier string) (Session, error)
	// Lookup resolves a token. Unknown or expired tokens return ErrNotFound.
	Lookup(ctx context.Context, token string) (Session, error)
	// Revoke deletes a token. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, token string) error
}

// newSession builds a session with a random token.
func newSession(identifier string, now time.Time, ttl time.Duration) Session {
	return Session{
		Token:      uuid.NewString(),
		Identifier: identifier,
		IssuedAt:   now.UTC(),
		ExpiresAt:  now.Add(ttl).UTC(),
	}
}

// validToken rejects strings that cannot be tokens we issued.
func validToken(token string) bool {
	_, err := uuid.Parse(token)
	return err == nil
}
