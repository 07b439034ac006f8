// Package pool provides a bounded connection pool for store sessions.
//
// The pool supports:
//   - A hard cap on live connections, including ones being opened or closed
//   - LIFO reuse of idle connections and a MinIdle warm set
//   - Liveness probes for connections idle longer than StaleAfter
//   - Exclusive leases that are released exactly once
//   - Graceful shutdown with a caller-supplied grace period
//
// # Basic Usage
//
//	p, err := pool.New(store.Factory(endpoint), cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(ctx)
//
//	lease, err := p.Acquire(ctx)
//	if err != nil {
//	    return err // ErrPoolExhausted, ErrPoolClosed or ErrStoreUnavailable
//	}
//	defer lease.Release()
//
//	if err := use(lease.Conn()); err != nil {
//	    lease.MarkBroken(err)
//	}
//
// A released lease is inert: Conn returns nil and a second Release returns
// ErrLeaseReleased without touching the pool.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package under the
// authd_pool_ prefix: connection gauges, acquire and release counters,
// exhaustion and broken-connection counters, and an acquire latency histogram.
package pool
