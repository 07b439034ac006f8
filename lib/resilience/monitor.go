package resilience

import (
	"context"
	"net"
	"sync"
	"time"
)

// MonitorConfig configures a store reachability Monitor.
type MonitorConfig struct {
	// Addr is the host:port of the store.
	Addr string
	// Interval is the time between probes.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultMonitorConfig returns defaults for addr.
func DefaultMonitorConfig(addr string) MonitorConfig {
	return MonitorConfig{
		Addr:         addr,
		Interval:     15 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}
}

// Monitor periodically checks that the store accepts TCP connections. It
// feeds failures into a Breaker so logins fail fast while the store is down,
// and reports reachability for readiness checks. It does not use pool
// connections.
type Monitor struct {
	config  MonitorConfig
	breaker *Breaker
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu          sync.RWMutex
	healthy     bool
	lastCheck   time.Time
	lastHealthy time.Time
	onChange    func(healthy bool)

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor. breaker may be nil.
func NewMonitor(cfg MonitorConfig, breaker *Breaker) *Monitor {
	def := DefaultMonitorConfig(cfg.Addr)
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	d := &net.Dialer{}
	return &Monitor{
		config:  cfg,
		breaker: breaker,
		dial:    d.DialContext,
		healthy: true,
	}
}

// OnChange registers fn to run when reachability flips.
func (m *Monitor) OnChange(fn func(healthy bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start begins probing. It is a no-op if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	log.WithField("addr", m.config.Addr).
		WithField("interval", m.config.Interval).
		Debug("starting store monitor")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	log.Debug("store monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe and returns whether the store was reachable.
func (m *Monitor) Check(ctx context.Context) bool {
	healthy := m.probe(ctx)

	m.mu.Lock()
	was := m.healthy
	m.healthy = healthy
	m.lastCheck = time.Now()
	if healthy {
		m.lastHealthy = m.lastCheck
	}
	onChange := m.onChange
	m.mu.Unlock()

	if !healthy {
		MonitorProbeFailures.Inc()
		if m.breaker != nil && was {
			m.breaker.ForceOpen()
		}
	}
	if healthy != was {
		log.WithField("addr", m.config.Addr).
			WithField("reachable", healthy).
			Warn("store reachability changed")
		if onChange != nil {
			go onChange(healthy)
		}
	}
	return healthy
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.config.Addr)
	if err != nil {
		log.WithError(err).Debug("store probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

// Healthy reports the result of the last probe. It is true before the
// first probe.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

// LastCheck returns when the last probe ran.
func (m *Monitor) LastCheck() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

// LastHealthy returns when the store was last reachable.
func (m *Monitor) LastHealthy() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHealthy
}
