package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// mockConn is a mock connection for testing.
type mockConn struct {
	id      int
	mu      sync.Mutex
	closed  bool
	leased  int32
	onClose func()
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	already := m.closed
	m.closed = true
	m.mu.Unlock()
	if !already && m.onClose != nil {
		m.onClose()
	}
	return nil
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockFactory creates mock connections.
func mockFactory(counter *int32) Factory {
	return func(ctx context.Context) (Connection, error) {
		id := atomic.AddInt32(counter, 1)
		return &mockConn{id: int(id)}, nil
	}
}

// failingFactory returns errors.
func failingFactory() Factory {
	return func(ctx context.Context) (Connection, error) {
		return nil, errors.New("connection refused")
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxSize = 3
	cfg.AcquireTimeout = time.Second
	cfg.MaintenanceInterval = time.Hour
	return cfg
}

func newTestPool(t *testing.T, factory Factory, cfg Config) *Pool {
	t.Helper()
	p, err := New(factory, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestPoolAcquireRelease(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if lease.Conn() == nil {
		t.Fatal("Expected non-nil connection")
	}
	if lease.State() != StateInUse {
		t.Errorf("Expected state in-use, got %s", lease.State())
	}

	stats := p.Stats()
	if stats.NumOpen != 1 {
		t.Errorf("Expected 1 open, got %d", stats.NumOpen)
	}
	if stats.NumIdle != 0 {
		t.Errorf("Expected 0 idle, got %d", stats.NumIdle)
	}
	if stats.NumInUse != 1 {
		t.Errorf("Expected 1 in use, got %d", stats.NumInUse)
	}

	conn := lease.Conn()
	if err := lease.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lease.Conn() != nil {
		t.Error("Released lease should not expose its connection")
	}
	if lease.State() != StateReleased {
		t.Errorf("Expected state released, got %s", lease.State())
	}

	stats = p.Stats()
	if stats.NumIdle != 1 || stats.NumInUse != 0 {
		t.Errorf("Expected 1 idle and 0 in use, got %d/%d", stats.NumIdle, stats.NumInUse)
	}
	if !p.IdleContains(conn) {
		t.Error("Released connection should be idle")
	}

	// Reuse without opening a new connection
	lease2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Second Acquire failed: %v", err)
	}
	if lease2.Conn() != conn {
		t.Error("Expected to reuse the idle connection")
	}
	if atomic.LoadInt32(&counter) != 1 {
		t.Errorf("Expected 1 connection created, got %d", counter)
	}
	_ = lease2.Release()
}

func TestPoolLIFO(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	connB := b.Conn()

	_ = a.Release()
	_ = b.Release()

	next, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer next.Release()
	if next.Conn() != connB {
		t.Error("Expected the most recently released connection")
	}
}

func TestPoolExhaustion(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxSize = 2
	cfg.AcquireTimeout = 100 * time.Millisecond
	p := newTestPool(t, mockFactory(&counter), cfg)

	l1, _ := p.Acquire(context.Background())
	l2, _ := p.Acquire(context.Background())
	defer l1.Release()
	defer l2.Release()

	before := p.Stats()

	start := time.Now()
	_, err := p.Acquire(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the deadline to be wrapped, got %v", err)
	}
	if !apperrors.IsUnavailable(err) {
		t.Error("Exhaustion should classify as unavailable")
	}
	if elapsed < cfg.AcquireTimeout {
		t.Errorf("Returned before the timeout: %v", elapsed)
	}
	if elapsed > cfg.AcquireTimeout+150*time.Millisecond {
		t.Errorf("Overshot the timeout: %v", elapsed)
	}

	after := p.Stats()
	if after.NumOpen != before.NumOpen || after.NumIdle != before.NumIdle || after.NumInUse != before.NumInUse {
		t.Errorf("Timed-out acquire changed pool counters: before %+v after %+v", before, after)
	}
	if after.Exhausted != 1 {
		t.Errorf("Expected 1 exhausted acquire, got %d", after.Exhausted)
	}
}

func TestPoolCallerDeadlineWins(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, mockFactory(&counter), cfg)

	held, _ := p.Acquire(context.Background())
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Caller deadline should cut the wait short")
	}
}

func TestPoolReleaseWakesWaiter(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, mockFactory(&counter), cfg)

	held, _ := p.Acquire(context.Background())
	heldConn := held.Conn()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release()
	}()

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Waiter should have been served: %v", err)
	}
	defer lease.Release()
	if lease.Conn() != heldConn {
		t.Error("Waiter should receive the released connection")
	}
	if p.Stats().Waits == 0 {
		t.Error("Expected the acquire to have waited")
	}
}

func TestPoolFactoryError(t *testing.T) {
	p := newTestPool(t, failingFactory(), testConfig())

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}

	stats := p.Stats()
	if stats.NumOpen != 0 {
		t.Errorf("Failed open should free its slot, got %d open", stats.NumOpen)
	}
	if stats.AcquireFailed != 1 {
		t.Errorf("Expected 1 failed acquire, got %d", stats.AcquireFailed)
	}
}

func TestPoolDoubleRelease(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	lease, _ := p.Acquire(context.Background())
	if err := p.Release(lease); err != nil {
		t.Fatalf("First release failed: %v", err)
	}
	before := p.Stats()

	err := p.Release(lease)
	if !errors.Is(err, ErrLeaseReleased) {
		t.Fatalf("Expected ErrLeaseReleased, got %v", err)
	}

	after := p.Stats()
	if after.NumIdle != before.NumIdle || after.NumOpen != before.NumOpen {
		t.Errorf("Double release changed the pool: before %+v after %+v", before, after)
	}
	if after.NumIdle != 1 {
		t.Errorf("Connection must be idle exactly once, got %d idle", after.NumIdle)
	}
}

func TestPoolForeignRelease(t *testing.T) {
	var c1, c2 int32
	p1 := newTestPool(t, mockFactory(&c1), testConfig())
	p2 := newTestPool(t, mockFactory(&c2), testConfig())

	foreign, _ := p2.Acquire(context.Background())
	before := p1.Stats()

	if err := p1.Release(foreign); !errors.Is(err, ErrLeaseNotOwned) {
		t.Fatalf("Expected ErrLeaseNotOwned, got %v", err)
	}
	if p1.Stats().NumIdle != before.NumIdle {
		t.Error("Foreign release must not add to the idle set")
	}

	// The lease still belongs to p2.
	if err := foreign.Release(); err != nil {
		t.Errorf("Owner release failed: %v", err)
	}
	if p2.Stats().NumIdle != 1 {
		t.Errorf("Expected 1 idle in owning pool, got %d", p2.Stats().NumIdle)
	}

	var zero Lease
	if err := p1.Release(&zero); !errors.Is(err, ErrLeaseNotOwned) {
		t.Errorf("Expected ErrLeaseNotOwned for a zero lease, got %v", err)
	}
}

func TestPoolReleaseNil(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	if err := p.Release(nil); err != nil {
		t.Errorf("Release(nil) should be a no-op, got %v", err)
	}
}

func TestPoolMarkBroken(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	lease, _ := p.Acquire(context.Background())
	conn := lease.Conn().(*mockConn)

	lease.MarkBroken(errors.New("connection reset by peer"))
	if lease.State() != StateBroken {
		t.Errorf("Expected state broken, got %s", lease.State())
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if p.IdleContains(conn) {
		t.Error("Broken connection must not return to the idle set")
	}
	eventually(t, time.Second, conn.IsClosed, "broken connection closed")
	eventually(t, time.Second, func() bool { return p.Stats().NumOpen == 0 }, "slot freed")

	if p.Stats().BrokenDiscards != 1 {
		t.Errorf("Expected 1 broken discard, got %d", p.Stats().BrokenDiscards)
	}

	next, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after discard failed: %v", err)
	}
	defer next.Release()
	if next.Conn() == Connection(conn) {
		t.Error("Discarded connection was handed out again")
	}
}

func TestPoolReleaseDeadConnection(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	lease, _ := p.Acquire(context.Background())
	conn := lease.Conn().(*mockConn)
	_ = conn.Close()

	_ = lease.Release()
	if p.IdleContains(conn) {
		t.Error("Connection that reports closed must be discarded")
	}
}

func TestPoolStaleProbe(t *testing.T) {
	var counter int32
	var probes int32
	cfg := testConfig()
	cfg.StaleAfter = 10 * time.Millisecond
	cfg.HealthCheck = func(ctx context.Context, conn Connection) error {
		atomic.AddInt32(&probes, 1)
		if conn.(*mockConn).id == 1 {
			return errors.New("server closed the connection unexpectedly")
		}
		return nil
	}
	p := newTestPool(t, mockFactory(&counter), cfg)

	lease, _ := p.Acquire(context.Background())
	first := lease.Conn().(*mockConn)
	_ = lease.Release()

	time.Sleep(30 * time.Millisecond)

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lease.Release()

	if lease.Conn() == Connection(first) {
		t.Error("Connection that failed the probe was handed out")
	}
	if atomic.LoadInt32(&probes) != 1 {
		t.Errorf("Expected 1 probe, got %d", probes)
	}
	if p.Stats().HealthCheckFails != 1 {
		t.Errorf("Expected 1 health check failure, got %d", p.Stats().HealthCheckFails)
	}
	eventually(t, time.Second, first.IsClosed, "failed connection closed")
}

func TestPoolFreshConnectionNotProbed(t *testing.T) {
	var counter int32
	var probes int32
	cfg := testConfig()
	cfg.StaleAfter = time.Hour
	cfg.HealthCheck = func(ctx context.Context, conn Connection) error {
		atomic.AddInt32(&probes, 1)
		return nil
	}
	p := newTestPool(t, mockFactory(&counter), cfg)

	for i := 0; i < 3; i++ {
		lease, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		_ = lease.Release()
	}
	if atomic.LoadInt32(&probes) != 0 {
		t.Errorf("Fresh connections should not be probed, got %d probes", probes)
	}
}

func TestPoolIdleExpiry(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxIdleTime = 20 * time.Millisecond
	cfg.MaintenanceInterval = 10 * time.Millisecond
	p := newTestPool(t, mockFactory(&counter), cfg)

	lease, _ := p.Acquire(context.Background())
	conn := lease.Conn().(*mockConn)
	_ = lease.Release()

	eventually(t, time.Second, conn.IsClosed, "idle connection expired")
	eventually(t, time.Second, func() bool { return p.Stats().NumOpen == 0 }, "expired slot freed")
	if p.Stats().IdleExpired == 0 {
		t.Error("Expected an idle expiry to be counted")
	}
}

func TestPoolMinIdleWarmup(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MinIdle = 2
	cfg.MaxIdleTime = 10 * time.Millisecond
	cfg.MaintenanceInterval = 10 * time.Millisecond
	p := newTestPool(t, mockFactory(&counter), cfg)

	eventually(t, time.Second, func() bool { return p.Stats().NumIdle == 2 }, "warm-up to min idle")

	// Maintenance must not reap below MinIdle.
	time.Sleep(50 * time.Millisecond)
	if n := p.Stats().NumIdle; n < 2 {
		t.Errorf("Idle set dropped below min idle: %d", n)
	}
}

func TestPoolMinIdleRefillAfterBroken(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MinIdle = 1
	p := newTestPool(t, mockFactory(&counter), cfg)

	eventually(t, time.Second, func() bool { return p.Stats().NumIdle == 1 }, "warm-up")

	lease, _ := p.Acquire(context.Background())
	lease.MarkBroken(nil)
	_ = lease.Release()

	eventually(t, time.Second, func() bool { return p.Stats().NumIdle == 1 }, "refill after broken discard")
	if atomic.LoadInt32(&counter) < 2 {
		t.Errorf("Expected a replacement connection, got %d created", counter)
	}
}

func TestPoolContextCancellation(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxSize = 1
	p := newTestPool(t, mockFactory(&counter), cfg)

	held, _ := p.Acquire(context.Background())
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrPoolExhausted) || !errors.Is(err, context.Canceled) {
			t.Errorf("Expected exhausted wrapping context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}

	if p.Stats().NumInUse != 1 {
		t.Errorf("Cancelled acquire left a reservation: %+v", p.Stats())
	}
}

func TestPoolShutdownDrains(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	idle, _ := p.Acquire(context.Background())
	idleConn := idle.Conn().(*mockConn)
	_ = idle.Release()

	lease, _ := p.Acquire(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = lease.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown should drain cleanly, got %v", err)
	}

	if !idleConn.IsClosed() {
		t.Error("Connections should be closed after shutdown")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after shutdown, got %v", err)
	}
	if !p.Closed() {
		t.Error("Closed should report true")
	}
	if stats := p.Stats(); stats.NumOpen != 0 {
		t.Errorf("Expected 0 open after shutdown, got %d", stats.NumOpen)
	}
}

func TestPoolShutdownForceCloses(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	lease, _ := p.Acquire(context.Background())
	conn := lease.Conn().(*mockConn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	if !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Expected ErrDrainTimeout, got %v", err)
	}

	eventually(t, time.Second, conn.IsClosed, "leased connection force-closed")
	if lease.Conn() != nil {
		t.Error("Force-closed lease should not expose its connection")
	}
	if err := lease.Release(); err != nil {
		t.Errorf("Late release of a revoked lease should be accepted, got %v", err)
	}
	if err := lease.Release(); !errors.Is(err, ErrLeaseReleased) {
		t.Errorf("Second late release should be rejected, got %v", err)
	}
}

func TestPoolShutdownIdempotent(t *testing.T) {
	var counter int32
	p := newTestPool(t, mockFactory(&counter), testConfig())

	ctx := context.Background()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("First shutdown failed: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Second shutdown should return nil, got %v", err)
	}
}

func TestPoolShutdownWakesWaiters(t *testing.T) {
	var counter int32
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, mockFactory(&counter), cfg)

	held, _ := p.Acquire(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Release()
	}()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("Waiter should see ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter was not woken by shutdown")
	}
}

// TestPoolConcurrentInvariants hammers the pool and checks that no connection
// is ever leased twice at once and that live connections never exceed MaxSize.
func TestPoolConcurrentInvariants(t *testing.T) {
	const maxSize = 4
	var counter int32
	var live, peak int32

	factory := func(ctx context.Context) (Connection, error) {
		id := atomic.AddInt32(&counter, 1)
		n := atomic.AddInt32(&live, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		return &mockConn{id: int(id), onClose: func() { atomic.AddInt32(&live, -1) }}, nil
	}

	cfg := testConfig()
	cfg.MaxSize = maxSize
	cfg.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, factory, cfg)

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				lease, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				conn := lease.Conn().(*mockConn)
				if !atomic.CompareAndSwapInt32(&conn.leased, 0, 1) {
					t.Errorf("Connection %d leased twice", conn.id)
				}
				if stats := p.Stats(); stats.NumIdle+stats.NumInUse > maxSize {
					t.Errorf("Idle+InUse exceeds max: %+v", stats)
				}
				if rng.Intn(10) == 0 {
					lease.MarkBroken(errors.New("injected"))
				}
				atomic.StoreInt32(&conn.leased, 0)
				if err := lease.Release(); err != nil {
					t.Errorf("Release failed: %v", err)
				}
			}
		}(int64(g))
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > maxSize {
		t.Errorf("Live connections peaked at %d, max is %d", got, maxSize)
	}
	stats := p.Stats()
	if stats.NumInUse != 0 {
		t.Errorf("Expected no leases outstanding, got %d", stats.NumInUse)
	}
	if stats.AcquireSuccess != stats.ReleaseCount {
		t.Errorf("Acquires %d and releases %d differ", stats.AcquireSuccess, stats.ReleaseCount)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max size", func(c *Config) { c.MaxSize = 0 }},
		{"negative min idle", func(c *Config) { c.MinIdle = -1 }},
		{"min idle above max", func(c *Config) { c.MinIdle = c.MaxSize + 1 }},
		{"zero acquire timeout", func(c *Config) { c.AcquireTimeout = 0 }},
		{"zero max idle time", func(c *Config) { c.MaxIdleTime = 0 }},
		{"negative stale after", func(c *Config) { c.StaleAfter = -time.Second }},
		{"zero stale after", func(c *Config) { c.StaleAfter = 0 }},
		{"zero maintenance interval", func(c *Config) { c.MaintenanceInterval = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !apperrors.IsConfiguration(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
			var counter int32
			if _, err := New(mockFactory(&counter), cfg); !apperrors.IsConfiguration(err) {
				t.Errorf("New should reject the config, got %v", err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	if _, err := New(nil, DefaultConfig()); !apperrors.IsConfiguration(err) {
		t.Errorf("New should reject a nil factory, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxSize != 10 {
		t.Errorf("Expected MaxSize 10, got %d", cfg.MaxSize)
	}
	if cfg.MinIdle != 0 {
		t.Errorf("Expected MinIdle 0, got %d", cfg.MinIdle)
	}
	if cfg.AcquireTimeout != 2*time.Second {
		t.Errorf("Expected AcquireTimeout 2s, got %v", cfg.AcquireTimeout)
	}
	if cfg.MaxIdleTime != 10*time.Minute {
		t.Errorf("Expected MaxIdleTime 10m, got %v", cfg.MaxIdleTime)
	}
}

func TestUpdateMetrics(t *testing.T) {
	UpdateMetrics(Stats{MaxSize: 10, NumOpen: 5, NumIdle: 3, NumInUse: 2})

	if PoolConnectionsMax.Value() != 10 {
		t.Errorf("Expected max 10, got %d", PoolConnectionsMax.Value())
	}
	if PoolConnectionsOpen.Value() != 5 {
		t.Errorf("Expected open 5, got %d", PoolConnectionsOpen.Value())
	}
	if PoolConnectionsIdle.Value() != 3 {
		t.Errorf("Expected idle 3, got %d", PoolConnectionsIdle.Value())
	}
	if PoolConnectionsInUse.Value() != 2 {
		t.Errorf("Expected in use 2, got %d", PoolConnectionsInUse.Value())
	}
}

func TestConnStateString(t *testing.T) {
	states := map[ConnState]string{
		StateIdle:     "idle",
		StateInUse:    "in-use",
		StateBroken:   "broken",
		StateReleased: "released",
		ConnState(99): "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
