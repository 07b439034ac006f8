// Package auth verifies login credentials against the credential store.
//
// A Verifier leases one store connection per attempt, runs a single
// parameterized lookup, hands the connection back, and compares the secret
// in constant time. Every store fault becomes an Unavailable verdict; raw
// store errors never leave this package except as Verdict.Cause.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
	"github.com/DiegoLinaresM/test-auto/lib/pool"
	"github.com/DiegoLinaresM/test-auto/lib/resilience"
	"github.com/DiegoLinaresM/test-auto/lib/store"
)

// dummySecret is hashed once at construction. Unknown identifiers are
// compared against it so they cost the same as a wrong secret.
const dummySecret = "authd-timing-equalizer"

// Leaser hands out store connection leases. *pool.Pool implements it.
type Leaser interface {
	Acquire(ctx context.Context) (*pool.Lease, error)
}

// Config configures a Verifier.
type Config struct {
	// AcquireTimeout bounds the wait for a store connection. It must be
	// shorter than the request timeout of the caller.
	AcquireTimeout time.Duration
	// Hasher compares secrets. Defaults to bcrypt at the default cost.
	Hasher SecretHasher
	// Breaker, when set, fails logins fast while the store is faulting.
	Breaker *resilience.Breaker
}

// Verifier checks credentials. It is safe for concurrent use and holds no
// per-request state.
type Verifier struct {
	pool           Leaser
	hasher         SecretHasher
	breaker        *resilience.Breaker
	acquireTimeout time.Duration
	dummyHash      string
}

// NewVerifier creates a verifier that leases connections from p.
func NewVerifier(p Leaser, cfg Config) (*Verifier, error) {
	if p == nil {
		return nil, fmt.Errorf("auth: pool is required: %w", apperrors.ErrConfiguration)
	}
	if cfg.AcquireTimeout <= 0 {
		return nil, fmt.Errorf("auth: acquire timeout must be positive: %w", apperrors.ErrConfiguration)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}

	dummy, err := cfg.Hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}

	return &Verifier{
		pool:           p,
		hasher:         cfg.Hasher,
		breaker:        cfg.Breaker,
		acquireTimeout: cfg.AcquireTimeout,
		dummyHash:      dummy,
	}, nil
}

// Verify checks req against the store. It never blocks longer than the
// acquire timeout plus one lookup and one hash comparison, and it never
// retries.
func (v *Verifier) Verify(ctx context.Context, req LoginRequest) Verdict {
	start := time.Now()
	verdict := v.verify(ctx, req)
	VerifyLatency.ObserveSince(start)
	recordVerdict(verdict.Kind)

	entry := log.WithField("verdict", verdict.Kind.String())
	if verdict.Cause != nil {
		entry = entry.WithError(verdict.Cause)
	}
	entry.Debug("login verified")
	return verdict
}

func (v *Verifier) verify(ctx context.Context, req LoginRequest) Verdict {
	if req.Identifier == "" || req.Secret == "" {
		return Verdict{Kind: InvalidCredentials}
	}

	if v.breaker != nil {
		if !v.breaker.Allow() {
			return unavailable(resilience.ErrCircuitOpen)
		}
	}
	outcome := resilience.Ignored
	defer func() {
		if v.breaker != nil {
			v.breaker.Record(outcome)
		}
	}()

	rec, err := v.lookup(ctx, req.Identifier, &outcome)
	switch {
	case errors.Is(err, store.ErrNoRecord):
		// Keep unknown identifiers as slow as wrong secrets.
		_ = v.hasher.Compare(v.dummyHash, req.Secret)
		return Verdict{Kind: InvalidCredentials}
	case err != nil:
		return unavailable(err)
	}

	if !rec.Active() {
		log.WithField("status", rec.Status).Debug("login for inactive account")
		return Verdict{Kind: AccountDisabled}
	}

	if err := v.hasher.Compare(rec.SecretHash, req.Secret); err != nil {
		if !errors.Is(err, ErrMismatch) {
			log.WithError(err).Warn("stored secret hash is unusable")
		}
		return Verdict{Kind: InvalidCredentials}
	}

	return Verdict{Kind: Authenticated, Identifier: rec.Identifier}
}

// lookup leases a connection, reads the credential row and releases the
// lease before returning, so the hash comparison does not hold a
// connection. outcome is set to what the breaker should record.
func (v *Verifier) lookup(ctx context.Context, identifier string, outcome *resilience.Outcome) (store.CredentialRecord, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, v.acquireTimeout)
	lease, err := v.pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, apperrors.ErrStoreUnavailable) {
			*outcome = resilience.Failure
			metrics.StoreFaults.Inc()
		}
		return store.CredentialRecord{}, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			log.WithError(err).Error("failed to release store lease")
		}
	}()

	reader, ok := lease.Conn().(store.CredentialReader)
	if !ok {
		lease.MarkBroken(nil)
		return store.CredentialRecord{}, fmt.Errorf("auth: leased connection %T cannot read credentials: %w", lease.Conn(), apperrors.ErrInternal)
	}

	rec, err := reader.LookupCredential(ctx, identifier)
	switch {
	case err == nil, errors.Is(err, store.ErrNoRecord):
		*outcome = resilience.Success
	case errors.Is(err, store.ErrDataIntegrity):
		*outcome = resilience.Success
		metrics.IntegrityFaults.Inc()
		log.WithError(err).Error("credential lookup returned an inconsistent result")
	default:
		lease.MarkBroken(err)
		if ctx.Err() == nil {
			*outcome = resilience.Failure
		}
		metrics.StoreFaults.Inc()
		log.WithError(err).Warn("credential lookup failed, discarding connection")
	}
	return rec, err
}

func unavailable(cause error) Verdict {
	return Verdict{Kind: Unavailable, Cause: cause}
}
