// Package resilience guards the credential store from the caller side.
//
// A Breaker counts store faults seen by the verifier. After enough
// consecutive faults it opens and logins fail fast as unavailable instead
// of queueing on a pool whose connections cannot be opened. After OpenFor it
// lets a few trial requests through (half-open) and closes again once enough
// of them succeed.
//
//	Closed -> Open -> HalfOpen -> Closed
//	           ^          |
//	           +----------+ (trial fails)
//
// The pool never retries; the breaker only decides whether to try at all.
package resilience

import (
	"sync"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// ErrCircuitOpen is returned when a request is rejected by an open breaker.
// This is an alias to the central error definition in lib/errors.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// State is the breaker state.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests.
	StateOpen
	// StateHalfOpen lets a limited number of trial requests through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is what an allowed request reports back.
type Outcome int

const (
	// Success means the store answered.
	Success Outcome = iota
	// Failure means the store faulted.
	Failure
	// Ignored means the request ended without reaching the store, e.g. the
	// pool was exhausted or the caller gave up.
	Ignored
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive faults that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int
	// OpenFor is how long the breaker stays open before trying again.
	OpenFor time.Duration
	// MaxTrials caps concurrent requests while half-open.
	MaxTrials int
}

// DefaultBreakerConfig returns defaults sized for a single database.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenFor:          10 * time.Second,
		MaxTrials:        2,
	}
}

// Breaker is a consecutive-failure circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	name   string
	config BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time
	changedAt time.Time
	lastFault time.Time

	onChange func(from, to State)
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = def.OpenFor
	}
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = def.MaxTrials
	}

	return &Breaker{
		name:      name,
		config:    cfg,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// OnStateChange registers fn to run after every transition. It runs on its
// own goroutine.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose OpenFor elapsed is
// reported as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.OpenFor {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a request may go to the store. Every true result
// must be followed by exactly one Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.config.OpenFor {
			BreakerRejections.Inc()
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.trials = 1
		return true
	case StateHalfOpen:
		if b.trials < b.config.MaxTrials {
			b.trials++
			return true
		}
		BreakerRejections.Inc()
		return false
	}
	return false
}

// Record reports the outcome of an allowed request.
func (b *Breaker) Record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o {
	case Success:
		BreakerSuccesses.Inc()
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			b.successes++
			b.releaseTrialLocked()
			if b.successes >= b.config.SuccessThreshold {
				b.transitionLocked(StateClosed)
			}
		}
	case Failure:
		BreakerFailures.Inc()
		b.lastFault = time.Now()
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				b.transitionLocked(StateOpen)
			}
		case StateHalfOpen:
			b.transitionLocked(StateOpen)
		}
	case Ignored:
		if b.state == StateHalfOpen {
			b.releaseTrialLocked()
		}
	}
}

func (b *Breaker) releaseTrialLocked() {
	if b.trials > 0 {
		b.trials--
	}
}

// ForceOpen opens the breaker, e.g. when a monitor finds the store unreachable.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen)
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.trials = 0
}

// transitionLocked moves to next. Caller must hold the lock.
func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		if next == StateOpen {
			b.openedAt = time.Now()
		}
		return
	}

	prev := b.state
	b.state = next
	b.changedAt = time.Now()
	b.successes = 0

	switch next {
	case StateClosed:
		b.failures = 0
		b.trials = 0
	case StateOpen:
		b.openedAt = b.changedAt
		b.trials = 0
		BreakerTrips.Inc()
	case StateHalfOpen:
		b.trials = 0
	}
	BreakerState.Set(int64(next))

	log.WithField("breaker", b.name).
		WithField("from", prev.String()).
		WithField("to", next.String()).
		Info("breaker state transition")

	if b.onChange != nil {
		go b.onChange(prev, next)
	}
}

// BreakerStats is a snapshot of breaker state.
type BreakerStats struct {
	Name          string
	State         State
	Failures      int
	Successes     int
	Trials        int
	LastFault     time.Time
	LastChange    time.Time
	Configuration BreakerConfig
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:          b.name,
		State:         state,
		Failures:      b.failures,
		Successes:     b.successes,
		Trials:        b.trials,
		LastFault:     b.lastFault,
		LastChange:    b.changedAt,
		Configuration: b.config,
	}
}
