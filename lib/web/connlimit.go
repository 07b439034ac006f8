package web

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/DiegoLinaresM/test-auto/lib/metrics"
)

// DefaultMaxConnections is the default cap on concurrent HTTP connections.
const DefaultMaxConnections = 1024

// ConnectionsRejected counts connections closed at accept because the
// server was at its connection cap.
var ConnectionsRejected = metrics.NewCounter("authd_http_connections_rejected_total",
	"HTTP connections closed at accept because the connection cap was reached")

// limitListener sheds connections beyond max instead of queueing them, so a
// flood of clients cannot pile up behind the bounded store pool.
type limitListener struct {
	net.Listener
	max      int32
	active   atomic.Int32
	onReject func(addr net.Addr)
}

func newLimitListener(ln net.Listener, max int, onReject func(addr net.Addr)) *limitListener {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	return &limitListener{Listener: ln, max: int32(max), onReject: onReject}
}

// Accept returns the next connection under the cap. Connections over the cap
// are closed immediately and Accept keeps waiting.
func (l *limitListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.acquire() {
			return &limitedConn{Conn: conn, release: l.release}, nil
		}
		ConnectionsRejected.Inc()
		if l.onReject != nil {
			l.onReject(conn.RemoteAddr())
		}
		_ = conn.Close()
	}
}

func (l *limitListener) acquire() bool {
	for {
		current := l.active.Load()
		if current >= l.max {
			return false
		}
		if l.active.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *limitListener) release() {
	l.active.Add(-1)
}

// Active returns the number of open connections.
func (l *limitListener) Active() int {
	return int(l.active.Load())
}

// limitedConn frees its slot exactly once on Close.
type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
