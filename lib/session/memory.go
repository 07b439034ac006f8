package session

import (
	"context"
	"sync"
	"time"
)

// MemoryIssuer keeps sessions in process memory. Expired sessions are
// dropped lazily and on Sweep.
type MemoryIssuer struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryIssuer creates an in-memory issuer. A non-positive ttl means DefaultTTL.
func NewMemoryIssuer(ttl time.Duration) *MemoryIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryIssuer{
		ttl:      ttl,
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Issue implements Issuer.
func (m *MemoryIssuer) Issue(ctx context.Context, identifier string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSession(identifier, m.now(), m.ttl)
	m.sessions[s.Token] = s
	return s, nil
}

// Lookup implements Issuer.
func (m *MemoryIssuer) Lookup(ctx context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Expired(m.now()) {
		delete(m.sessions, token)
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Revoke implements Issuer.
func (m *MemoryIssuer) Revoke(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Sweep removes expired sessions and returns how many were removed.
func (m *MemoryIssuer) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryIssuer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
