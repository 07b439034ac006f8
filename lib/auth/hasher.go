package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch is returned by SecretHasher.Compare when the secret is wrong.
var ErrMismatch = errors.New("auth: secret does not match")

// SecretHasher hashes secrets and compares them against stored hashes in
// constant time.
type SecretHasher interface {
	// Hash returns a storable hash of secret.
	Hash(secret string) (string, error)
	// Compare returns nil if secret matches hash, ErrMismatch if it does not,
	// and another error if hash is malformed.
	Compare(hash, secret string) error
}

// BcryptHasher is a SecretHasher backed by bcrypt.
type BcryptHasher struct {
	// Cost is the bcrypt work factor used by Hash. Zero means bcrypt.DefaultCost.
	Cost int
}

// Hash implements SecretHasher.
func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash secret: %w", err)
	}
	return string(b), nil
}

// Compare implements SecretHasher.
func (h BcryptHasher) Compare(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("auth: compare secret: %w", err)
	}
}
