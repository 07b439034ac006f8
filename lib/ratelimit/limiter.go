// Package ratelimit provides a token bucket rate limiter and a per-key
// variant. authd uses it to throttle login attempts per client address so a
// single client cannot monopolize the store connection pool.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter is a token bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	rate     float64   // tokens per second
	capacity float64   // max tokens
	tokens   float64   // current tokens
	lastTime time.Time // last refill time
}

// New creates a new rate limiter.
// rate is tokens per second, capacity is the maximum burst size.
func New(rate float64, capacity int) *Limiter {
	return &Limiter{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		lastTime: time.Now(),
	}
}

// Allow returns true if a request is allowed, consuming one token.
func (l *Limiter) Allow() bool {
	ok, _ := l.Take()
	return ok
}

// Take consumes one token if available. When it is not, it returns the
// time until the next token accrues, which is what a Retry-After header
// should carry.
func (l *Limiter) Take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, time.Duration(math.MaxInt64)
	}
	missing := 1 - l.tokens
	return false, time.Duration(missing / l.rate * float64(time.Second))
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastTime).Seconds()
	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.rate)
	l.lastTime = now
}

// idle reports whether the bucket is full and untouched for at least d.
func (l *Limiter) idle(now time.Time, d time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastTime) > d && l.tokens+now.Sub(l.lastTime).Seconds()*l.rate >= l.capacity
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// KeyedLimiter provides per-key rate limiting.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	capacity int
	cleanup  time.Duration // how long to keep idle limiters
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKeyed creates a per-key rate limiter. Buckets that sit full and unused
// for cleanup are dropped.
func NewKeyed(rate float64, capacity int, cleanup time.Duration) *KeyedLimiter {
	kl := &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		capacity: capacity,
		cleanup:  cleanup,
		stopCh:   make(chan struct{}),
	}
	go kl.cleanupLoop()
	return kl
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

// Allow checks if a request for the given key is allowed.
func (kl *KeyedLimiter) Allow(key string) bool {
	ok, _ := kl.Take(key)
	return ok
}

// Take consumes a token for key, returning the wait until the next one when
// the bucket is empty.
func (kl *KeyedLimiter) Take(key string) (bool, time.Duration) {
	kl.mu.Lock()
	limiter, ok := kl.limiters[key]
	if !ok {
		limiter = New(kl.rate, kl.capacity)
		kl.limiters[key] = limiter
	}
	kl.mu.Unlock()

	return limiter.Take()
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.sweep(time.Now())
		}
	}
}

// sweep removes idle, full buckets.
func (kl *KeyedLimiter) sweep(now time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	removed := 0
	for key, limiter := range kl.limiters {
		if limiter.idle(now, kl.cleanup) {
			delete(kl.limiters, key)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).WithField("remaining", len(kl.limiters)).Debug("rate limiter sweep")
	}
}
