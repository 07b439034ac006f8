package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// Pool errors. These are aliases to the central definitions in lib/errors.
var (
	// ErrPoolClosed is returned once shutdown has begun.
	ErrPoolClosed = apperrors.ErrPoolClosed
	// ErrPoolExhausted is returned when no connection became available in time.
	ErrPoolExhausted = apperrors.ErrPoolExhausted
	// ErrStoreUnavailable wraps factory failures.
	ErrStoreUnavailable = apperrors.ErrStoreUnavailable
	// ErrLeaseReleased is returned when a lease is released twice.
	ErrLeaseReleased = apperrors.ErrLeaseReleased
	// ErrLeaseNotOwned is returned when a lease is released to the wrong pool.
	ErrLeaseNotOwned = apperrors.ErrLeaseNotOwned
	// ErrDrainTimeout is returned by Shutdown when it had to force-close leases.
	ErrDrainTimeout = apperrors.ErrDrainTimeout
)

// Connection represents a poolable connection.
type Connection interface {
	// Close closes the connection. It may be called while another
	// goroutine is still using the connection after a forced shutdown.
	Close() error
}

// Factory opens a new connection.
type Factory func(ctx context.Context) (Connection, error)

// HealthChecker runs a cheap liveness probe against a connection.
// A nil error means the connection is usable.
type HealthChecker func(ctx context.Context, conn Connection) error

// ConnState is the lifecycle state of a pooled connection.
type ConnState int

const (
	// StateIdle means the connection sits in the idle set, owned by the pool.
	StateIdle ConnState = iota
	// StateInUse means the connection is leased to exactly one caller.
	StateInUse
	// StateBroken means the connection failed and must be discarded.
	StateBroken
	// StateReleased means the lease has been handed back and is no longer usable.
	StateReleased
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateBroken:
		return "broken"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// idleConn wraps an idle connection with metadata.
type idleConn struct {
	conn      Connection
	createdAt time.Time
	lastUsed  time.Time
}

// Lease is an exclusive, checked-out connection. It must be released exactly
// once, by the caller that acquired it. A lease still held when Shutdown's
// grace period ends is revoked and its connection closed from the pool's
// goroutine, possibly while the holder is using it.
type Lease struct {
	pool       *Pool
	conn       Connection
	createdAt  time.Time
	acquiredAt time.Time

	// released and revoked are guarded by pool.mu.
	released bool
	revoked  bool

	brokenMu sync.Mutex
	broken   error
}

// Conn returns the leased connection, or nil once the lease is no longer
// usable (released, or force-closed by shutdown).
func (l *Lease) Conn() Connection {
	if l.pool == nil {
		return nil
	}
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if l.released || l.revoked {
		return nil
	}
	return l.conn
}

// MarkBroken flags the connection as broken. It will be discarded on release
// and never returned to the idle set.
func (l *Lease) MarkBroken(cause error) {
	if cause == nil {
		cause = ErrStoreUnavailable
	}
	l.brokenMu.Lock()
	if l.broken == nil {
		l.broken = cause
	}
	l.brokenMu.Unlock()
}

func (l *Lease) brokenErr() error {
	l.brokenMu.Lock()
	defer l.brokenMu.Unlock()
	return l.broken
}

// State reports the lease state.
func (l *Lease) State() ConnState {
	if l.pool != nil {
		l.pool.mu.Lock()
		released := l.released || l.revoked
		l.pool.mu.Unlock()
		if released {
			return StateReleased
		}
	}
	if l.brokenErr() != nil {
		return StateBroken
	}
	return StateInUse
}

// Release hands the lease back to the pool that issued it.
func (l *Lease) Release() error {
	if l.pool == nil {
		return ErrLeaseNotOwned
	}
	return l.pool.Release(l)
}

// Pool is a bounded connection pool. It is safe for concurrent use.
type Pool struct {
	factory Factory
	config  Config

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*idleConn // ordered oldest to newest; acquire pops the newest
	inUse   map[*Lease]struct{}
	numOpen int // idle + in use + being opened + being closed
	closed  bool

	ctx          context.Context
	cancel       context.CancelFunc
	refill       chan struct{}
	maintDone    chan struct{}
	shutdownDone chan struct{}

	// Metrics
	acquireCount   uint64
	acquireSuccess uint64
	acquireFailed  uint64
	exhaustedCount uint64
	waitCount      uint64
	releaseCount   uint64
	brokenCount    uint64
	healthFails    uint64
	idleExpired    uint64
}

// New creates a new connection pool. The configuration is validated once;
// an invalid configuration returns an error wrapping ErrConfiguration.
// Connections up to MinIdle are opened in the background.
func New(factory Factory, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("pool: factory is required: %w", apperrors.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		factory:      factory,
		config:       cfg,
		idle:         make([]*idleConn, 0, cfg.MaxSize),
		inUse:        make(map[*Lease]struct{}, cfg.MaxSize),
		ctx:          ctx,
		cancel:       cancel,
		refill:       make(chan struct{}, 1),
		maintDone:    make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.maintenanceLoop()

	PoolConnectionsMax.Set(int64(cfg.MaxSize))
	log.WithField("maxSize", cfg.MaxSize).
		WithField("minIdle", cfg.MinIdle).
		WithField("acquireTimeout", cfg.AcquireTimeout).
		Debug("pool created")
	return p, nil
}

// Acquire leases a connection. It prefers the most recently released idle
// connection, opens a new one while under MaxSize, and otherwise waits until
// a release, the acquire timeout (or the caller's earlier deadline), or
// shutdown. An elapsed deadline wins over a release that arrives late.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	start := time.Now()
	atomic.AddUint64(&p.acquireCount, 1)
	PoolAcquireTotal.Inc()

	acquireCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	lease, err := p.acquire(acquireCtx)
	PoolAcquireLatency.ObserveSince(start)
	if err != nil {
		atomic.AddUint64(&p.acquireFailed, 1)
		PoolAcquireFailedTotal.Inc()
		if apperrors.Is(err, ErrPoolExhausted) {
			atomic.AddUint64(&p.exhaustedCount, 1)
			PoolExhaustedTotal.Inc()
		}
		return nil, err
	}

	atomic.AddUint64(&p.acquireSuccess, 1)
	PoolAcquireSuccessTotal.Inc()
	return lease, nil
}

func (p *Pool) acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	waited := false
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if err := ctx.Err(); err != nil {
			if waited {
				// A release may have signalled us; hand the wakeup on.
				p.cond.Signal()
			}
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
		}

		if ic := p.popIdleLocked(); ic != nil {
			lease := p.checkoutLocked(ic.conn, ic.createdAt)
			p.mu.Unlock()

			if !p.needsProbe(ic) {
				log.Debug("acquired idle connection from pool")
				return lease, nil
			}
			if err := p.config.HealthCheck(ctx, ic.conn); err != nil {
				atomic.AddUint64(&p.healthFails, 1)
				PoolHealthCheckFailsTotal.Inc()
				log.WithError(err).Debug("closing connection that failed liveness probe")
				p.discard(lease)
				p.mu.Lock()
				continue
			}
			log.Debug("acquired probed idle connection from pool")
			return lease, nil
		}

		if p.numOpen < p.config.MaxSize {
			p.numOpen++
			p.mu.Unlock()

			conn, err := p.factory(ctx)

			p.mu.Lock()
			if err != nil {
				p.numOpen--
				p.cond.Signal()
				p.mu.Unlock()
				log.WithError(err).Debug("failed to create new connection")
				return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
			if p.closed {
				p.destroyLocked(conn)
				p.mu.Unlock()
				return nil, ErrPoolClosed
			}
			lease := p.checkoutLocked(conn, time.Now())
			p.mu.Unlock()
			log.Debug("created new connection")
			return lease, nil
		}

		atomic.AddUint64(&p.waitCount, 1)
		waited = true
		log.Debug("waiting for available connection")
		p.waitWithContext(ctx)
	}
}

// popIdleLocked takes the most recently released idle connection (LIFO).
// Caller must hold the lock.
func (p *Pool) popIdleLocked() *idleConn {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	ic := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return ic
}

// checkoutLocked registers a new lease. Caller must hold the lock.
func (p *Pool) checkoutLocked(conn Connection, createdAt time.Time) *Lease {
	lease := &Lease{
		pool:       p,
		conn:       conn,
		createdAt:  createdAt,
		acquiredAt: time.Now(),
	}
	p.inUse[lease] = struct{}{}
	return lease
}

// needsProbe reports whether an idle connection sat long enough to warrant
// a liveness probe before being handed out.
func (p *Pool) needsProbe(ic *idleConn) bool {
	return p.config.HealthCheck != nil && time.Since(ic.lastUsed) > p.config.StaleAfter
}

// waitWithContext waits for a condition signal or context cancellation.
// Caller must hold the lock.
func (p *Pool) waitWithContext(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
}

// Release returns a lease to the pool. A healthy connection goes back to the
// idle set; a broken one is closed and a replacement is opened in the
// background if the idle set is below MinIdle. Release never blocks on I/O.
//
// Releasing a lease twice, or releasing a lease issued by another pool, is a
// programming error: it is logged, rejected with ErrLeaseReleased or
// ErrLeaseNotOwned, and leaves the pool untouched.
func (p *Pool) Release(lease *Lease) error {
	if lease == nil {
		return nil
	}
	if lease.pool != p {
		log.Error("release of a lease not issued by this pool")
		return ErrLeaseNotOwned
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if lease.released {
		log.Error("lease released twice")
		return ErrLeaseReleased
	}
	lease.released = true
	atomic.AddUint64(&p.releaseCount, 1)
	PoolReleaseTotal.Inc()

	if lease.revoked {
		// Shutdown already force-closed this connection.
		return nil
	}
	delete(p.inUse, lease)

	if p.closed {
		log.Debug("pool closed, closing connection")
		p.destroyLocked(lease.conn)
		p.cond.Broadcast()
		return nil
	}

	if err := lease.brokenErr(); err != nil || reportsClosed(lease.conn) {
		atomic.AddUint64(&p.brokenCount, 1)
		PoolBrokenTotal.Inc()
		log.WithError(err).Debug("discarding broken connection")
		p.destroyLocked(lease.conn)
		p.kickRefill()
		return nil
	}

	now := time.Now()
	p.idle = append(p.idle, &idleConn{
		conn:      lease.conn,
		createdAt: lease.createdAt,
		lastUsed:  now,
	})
	p.cond.Signal()
	log.Debug("connection released to pool")
	return nil
}

// discard drops a lease whose connection must not be reused.
func (p *Pool) discard(lease *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lease.released || lease.revoked {
		return
	}
	lease.released = true
	delete(p.inUse, lease)
	p.destroyLocked(lease.conn)
	if p.closed {
		p.cond.Broadcast()
	}
}

// destroyLocked closes a connection on its own goroutine. The slot it held
// is freed only once Close returns, so the number of live connections never
// exceeds MaxSize. Caller must hold the lock.
func (p *Pool) destroyLocked(conn Connection) {
	go func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("error closing connection")
		}
		p.mu.Lock()
		p.numOpen--
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
}

// reportsClosed checks connections that can tell they are dead (pgx does).
func reportsClosed(conn Connection) bool {
	c, ok := conn.(interface{ IsClosed() bool })
	return ok && c.IsClosed()
}

// kickRefill asks the maintenance loop to top the idle set up to MinIdle.
func (p *Pool) kickRefill() {
	if p.config.MinIdle == 0 {
		return
	}
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

// Shutdown stops issuing connections, closes idle ones, and waits for leased
// connections to be released until ctx is done. Leases still outstanding at
// that point are force-closed and an error wrapping ErrDrainTimeout is
// returned. Shutdown is idempotent: later calls wait for the first one to
// finish and return nil.
//
// Force-closing calls Connection.Close concurrently with whatever the lease
// holder is doing, so connections must make Close safe against in-flight use.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		select {
		case <-p.shutdownDone:
		case <-ctx.Done():
		}
		return nil
	}

	p.closed = true
	p.cancel()
	for _, ic := range p.idle {
		p.destroyLocked(ic.conn)
	}
	p.idle = nil
	p.cond.Broadcast()
	log.WithField("inUse", len(p.inUse)).Debug("pool shutting down")

	for len(p.inUse) > 0 && ctx.Err() == nil {
		p.waitWithContext(ctx)
	}

	var err error
	if forced := len(p.inUse); forced > 0 {
		for lease := range p.inUse {
			lease.revoked = true
			p.destroyLocked(lease.conn)
		}
		clear(p.inUse)
		err = fmt.Errorf("%w: %d connection(s)", ErrDrainTimeout, forced)
		log.WithField("forced", forced).Warn("pool drain timed out, force-closing leased connections")
	}

	for p.numOpen > 0 && ctx.Err() == nil {
		p.waitWithContext(ctx)
	}
	p.mu.Unlock()

	<-p.maintDone
	close(p.shutdownDone)

	UpdateMetrics(p.Stats())
	log.Debug("pool closed")
	return err
}

// Closed reports whether shutdown has begun.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// IdleContains reports whether conn currently sits in the idle set.
func (p *Pool) IdleContains(conn Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ic := range p.idle {
		if ic.conn == conn {
			return true
		}
	}
	return false
}

// maintenanceLoop warms the pool up to MinIdle, then periodically expires
// idle connections and tops the idle set back up.
func (p *Pool) maintenanceLoop() {
	defer close(p.maintDone)

	p.fillMinIdle()

	ticker := time.NewTicker(p.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
			p.fillMinIdle()
			UpdateMetrics(p.Stats())
		case <-p.refill:
			p.fillMinIdle()
		}
	}
}

// reapIdle closes connections idle longer than MaxIdleTime, oldest first,
// without taking the idle set below MinIdle.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	now := time.Now()
	expired := 0
	for len(p.idle) > p.config.MinIdle && now.Sub(p.idle[0].lastUsed) > p.config.MaxIdleTime {
		p.destroyLocked(p.idle[0].conn)
		p.idle[0] = nil
		p.idle = p.idle[1:]
		expired++
	}

	if expired > 0 {
		atomic.AddUint64(&p.idleExpired, uint64(expired))
		PoolIdleExpiredTotal.Add(uint64(expired))
		log.WithField("closed", expired).Debug("maintenance removed idle connections")
	}
}

// fillMinIdle opens connections until the idle set holds MinIdle of them or
// the pool is at MaxSize. Connections are opened outside the lock; the first
// failure ends the round.
func (p *Pool) fillMinIdle() {
	for {
		p.mu.Lock()
		if p.closed || len(p.idle) >= p.config.MinIdle || p.numOpen >= p.config.MaxSize {
			p.mu.Unlock()
			return
		}
		p.numOpen++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(p.ctx, p.config.AcquireTimeout)
		conn, err := p.factory(ctx)
		cancel()

		p.mu.Lock()
		if err != nil {
			p.numOpen--
			p.cond.Broadcast()
			p.mu.Unlock()
			log.WithError(err).Warn("failed to open connection toward min idle")
			return
		}
		if p.closed {
			p.destroyLocked(conn)
			p.mu.Unlock()
			return
		}
		now := time.Now()
		p.idle = append(p.idle, &idleConn{conn: conn, createdAt: now, lastUsed: now})
		p.cond.Signal()
		p.mu.Unlock()
	}
}

// Stats holds pool statistics.
type Stats struct {
	// MaxSize is the maximum pool size.
	MaxSize int
	// NumOpen counts every live slot: idle, in use, being opened or closed.
	NumOpen int
	// NumIdle is the current number of idle connections.
	NumIdle int
	// NumInUse is the number of outstanding leases.
	NumInUse int
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64
	// AcquireSuccess is the number of successful acquires.
	AcquireSuccess uint64
	// AcquireFailed is the number of failed acquires.
	AcquireFailed uint64
	// Exhausted is the number of acquires that ran out of time.
	Exhausted uint64
	// Waits is the number of times an acquire had to wait at the cap.
	Waits uint64
	// ReleaseCount is the number of accepted releases.
	ReleaseCount uint64
	// BrokenDiscards is the number of broken connections discarded on release.
	BrokenDiscards uint64
	// HealthCheckFails is the number of connections that failed the liveness probe.
	HealthCheckFails uint64
	// IdleExpired is the number of idle connections closed by maintenance.
	IdleExpired uint64
	// Closed reports whether shutdown has begun.
	Closed bool
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		MaxSize:          p.config.MaxSize,
		NumOpen:          p.numOpen,
		NumIdle:          len(p.idle),
		NumInUse:         len(p.inUse),
		AcquireCount:     atomic.LoadUint64(&p.acquireCount),
		AcquireSuccess:   atomic.LoadUint64(&p.acquireSuccess),
		AcquireFailed:    atomic.LoadUint64(&p.acquireFailed),
		Exhausted:        atomic.LoadUint64(&p.exhaustedCount),
		Waits:            atomic.LoadUint64(&p.waitCount),
		ReleaseCount:     atomic.LoadUint64(&p.releaseCount),
		BrokenDiscards:   atomic.LoadUint64(&p.brokenCount),
		HealthCheckFails: atomic.LoadUint64(&p.healthFails),
		IdleExpired:      atomic.LoadUint64(&p.idleExpired),
		Closed:           p.closed,
	}
}
