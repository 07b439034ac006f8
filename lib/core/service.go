package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/DiegoLinaresM/test-auto/lib/auth"
	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
	"github.com/DiegoLinaresM/test-auto/lib/pool"
	"github.com/DiegoLinaresM/test-auto/lib/resilience"
	"github.com/DiegoLinaresM/test-auto/lib/session"
	"github.com/DiegoLinaresM/test-auto/lib/store"
	"github.com/DiegoLinaresM/test-auto/lib/web"
)

// sessionSweepInterval is how often expired in-memory sessions are dropped.
const sessionSweepInterval = time.Minute

// ServiceState represents the current state of the service.
type ServiceState int

const (
	// StateInitial is the initial state before Start is called.
	StateInitial ServiceState = iota
	// StateStarting means the service is in the process of starting.
	StateStarting
	// StateRunning means the service is accepting logins.
	StateRunning
	// StateStopping means the service is shutting down.
	StateStopping
	// StateStopped means the service has been stopped.
	StateStopped
)

func (s ServiceState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithFactory replaces the PostgreSQL connection factory.
func WithFactory(f pool.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithIssuer replaces the session issuer selected by configuration.
func WithIssuer(i session.Issuer) Option {
	return func(s *Service) { s.issuer = i }
}

// WithHasher replaces the bcrypt secret hasher.
func WithHasher(h auth.SecretHasher) Option {
	return func(s *Service) { s.hasher = h }
}

// Service owns the connection pool, the verifier and the HTTP server for
// one authd process. Nothing here is global: each Service builds its own
// pool on Start and shuts it down on Stop.
type Service struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
	state  ServiceState

	factory pool.Factory
	issuer  session.Issuer
	hasher  auth.SecretHasher

	pool     *pool.Pool
	breaker  *resilience.Breaker
	monitor  *resilience.Monitor
	verifier *auth.Verifier
	server   *web.Server
	// closeIssuer is set when the service opened the session backend itself
	closeIssuer func() error

	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	onStateChange func(oldState, newState ServiceState)
	onError       func(err error, message string)
}

// NewService creates a Service. The configuration is validated here; a
// configuration error is fatal.
func NewService(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", apperrors.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config: cfg,
		logger: logger.With("component", "service"),
		state:  StateInitial,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = store.Factory(cfg.Endpoint())
	}
	if s.hasher == nil {
		s.hasher = auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}
	}
	return s, nil
}

// Start builds the pool, verifier and session issuer and starts serving.
// A store that is down at startup does not fail Start; logins report
// Unavailable until it comes back.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitial && s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("cannot start service in state %s", s.state)
	}
	oldState := s.state
	s.state = StateStarting
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.emitStateChange(oldState, StateStarting)

	ep := s.config.Endpoint()
	s.logger.Info("starting service",
		"store", ep.Redacted(),
		"max_connections", s.config.Pool.MaxConnections,
	)

	if err := s.startComponents(ctx, ep); err != nil {
		s.teardown(context.Background())
		s.transitionToStopped()
		s.emitError(err, "failed to start service")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	metrics.RecordStartTime()
	s.emitStateChange(StateStarting, StateRunning)
	s.logger.Info("service started", "addr", s.Addr())

	go s.run(runCtx)

	return nil
}

func (s *Service) startComponents(ctx context.Context, ep store.Endpoint) error {
	p, err := pool.New(s.factory, s.config.PoolConfig())
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	s.pool = p

	s.breaker = resilience.NewBreaker("store", s.config.BreakerConfig())
	s.breaker.OnStateChange(func(from, to resilience.State) {
		s.logger.Warn("store circuit breaker changed state", "from", from.String(), "to", to.String())
	})

	s.monitor = resilience.NewMonitor(resilience.MonitorConfig{
		Addr:     ep.Addr(),
		Interval: s.config.Database.MonitorInterval.D(),
	}, s.breaker)
	s.monitor.OnChange(func(healthy bool) {
		if !healthy {
			s.emitError(store.ErrStoreUnavailable, "store unreachable")
		}
	})
	if !s.monitor.Check(ctx) {
		s.logger.Warn("store is not reachable at startup", "addr", ep.Addr())
	}
	s.monitor.Start(context.Background())

	s.verifier, err = auth.NewVerifier(s.pool, auth.Config{
		AcquireTimeout: s.config.Auth.AcquireTimeout.D(),
		Hasher:         s.hasher,
		Breaker:        s.breaker,
	})
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}

	if s.issuer == nil {
		issuer, closeFn, err := s.openIssuer(ctx)
		if err != nil {
			return err
		}
		s.issuer = issuer
		s.closeIssuer = closeFn
	}

	s.server, err = web.New(web.Config{
		ListenAddr:     s.config.Server.Listen,
		RequestTimeout: s.config.Server.RequestTimeout.D(),
		RetryAfter:     s.config.Server.RetryAfter.D(),
		Verifier:       s.verifier,
		Sessions:       s.issuer,
		Readiness:      s.readiness,
		RateLimit:      s.config.WebRateLimit(),
		AllowedOrigins: s.config.Server.AllowedOrigins,
		TrustedProxies: s.config.Server.TrustedProxies,
		MaxConnections: s.config.Server.MaxConnections,
		Logger:         s.logger.With("component", "web"),
	})
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("starting web server: %w", err)
	}
	return nil
}

// openIssuer connects the configured session backend.
func (s *Service) openIssuer(ctx context.Context) (session.Issuer, func() error, error) {
	ttl := s.config.Session.TTL.D()
	if s.config.Session.RedisURL == "" {
		s.logger.Info("sessions kept in memory")
		return session.NewMemoryIssuer(ttl), nil, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.config.Session.DialTimeout.D())
	defer cancel()
	rdb, err := session.DialRedis(dialCtx, s.config.Session.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting session store: %w", err)
	}
	s.logger.Info("sessions stored in redis")
	issuer := session.NewRedisIssuer(rdb, ttl)
	return issuer, issuer.Close, nil
}

// run sweeps in-memory sessions until the context is cancelled.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m, ok := s.issuer.(*session.MemoryIssuer); ok {
				if n := m.Sweep(); n > 0 {
					s.logger.Debug("expired sessions swept", "count", n)
				}
			}
		}
	}
}

// Stop drains the service: the HTTP server stops accepting requests and
// finishes in-flight ones, then the pool is shut down. Both are bounded by
// ctx. Connections still leased when ctx ends are force-closed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("cannot stop service in state %s", s.state)
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	s.emitStateChange(StateRunning, StateStopping)
	s.logger.Info("stopping service")

	err := s.teardown(ctx)

	if cancel != nil {
		cancel()
	}
	<-s.done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.emitStateChange(StateStopping, StateStopped)

	if err != nil {
		s.logger.Warn("service stopped with errors", "error", err)
		return err
	}
	s.logger.Info("service stopped")
	return nil
}

// teardown releases whatever components exist, in reverse start order.
func (s *Service) teardown(ctx context.Context) error {
	var errs []error

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping web server: %w", err))
		}
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down pool: %w", err))
		}
	}
	if s.closeIssuer != nil {
		if err := s.closeIssuer(); err != nil {
			errs = append(errs, fmt.Errorf("closing session store: %w", err))
		}
		s.closeIssuer = nil
		s.issuer = nil
	}
	return errors.Join(errs...)
}

// readiness backs /readyz. The service is ready while the pool is open,
// the breaker admits requests and the store answers TCP probes.
func (s *Service) readiness(ctx context.Context) (bool, map[string]string) {
	checks := make(map[string]string)
	ready := true

	if s.State() != StateRunning {
		checks["service"] = s.State().String()
		ready = false
	}

	st := s.pool.Stats()
	if st.Closed {
		checks["pool"] = "closed"
		ready = false
	} else {
		checks["pool"] = "open " + strconv.Itoa(st.NumInUse) + "/" + strconv.Itoa(st.MaxSize) + " in use"
	}

	switch state := s.breaker.State(); state {
	case resilience.StateOpen:
		checks["breaker"] = state.String()
		ready = false
	default:
		checks["breaker"] = state.String()
	}

	if s.monitor.Healthy() {
		checks["store"] = "reachable"
	} else {
		checks["store"] = "unreachable"
		ready = false
	}

	if p, ok := s.issuer.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			checks["sessions"] = "unreachable"
			ready = false
		} else {
			checks["sessions"] = "reachable"
		}
	}

	return ready, checks
}

// transitionToStopped updates the state to stopped.
func (s *Service) transitionToStopped() {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// State returns the current state of the service.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Addr returns the HTTP listen address once started.
func (s *Service) Addr() net.Addr {
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// PoolStats returns a snapshot of the connection pool, or zero stats
// before Start.
func (s *Service) PoolStats() pool.Stats {
	if s.pool == nil {
		return pool.Stats{}
	}
	return s.pool.Stats()
}

// Verify runs a login through the service's verifier.
func (s *Service) Verify(ctx context.Context, req auth.LoginRequest) auth.Verdict {
	if s.verifier == nil {
		return auth.Verdict{Kind: auth.Unavailable, Cause: pool.ErrPoolClosed}
	}
	return s.verifier.Verify(ctx, req)
}

// Done returns a channel that is closed when the service has stopped.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// StartedAt returns when the service was started.
// Returns zero time if not started.
func (s *Service) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Uptime returns how long the service has been running.
// Returns zero if not running.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() || s.state != StateRunning {
		return 0
	}
	return time.Since(s.startedAt)
}

// SetOnStateChange sets a callback for state changes.
// The callback is invoked synchronously during state transitions.
func (s *Service) SetOnStateChange(callback func(oldState, newState ServiceState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = callback
}

// SetOnError sets a callback for error events.
// The callback is invoked when recoverable errors occur.
func (s *Service) SetOnError(callback func(err error, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

func (s *Service) emitStateChange(oldState, newState ServiceState) {
	s.mu.RLock()
	callback := s.onStateChange
	s.mu.RUnlock()

	if callback != nil {
		callback(oldState, newState)
	}
}

func (s *Service) emitError(err error, message string) {
	s.mu.RLock()
	callback := s.onError
	s.mu.RUnlock()

	if callback != nil {
		callback(err, message)
	}
}
