package pool

import "github.com/DiegoLinaresM/test-auto/lib/metrics"

// Pool utilization metrics
var (
	// PoolConnectionsMax is the maximum pool size.
	PoolConnectionsMax = metrics.NewGauge(
		"authd_pool_connections_max",
		"Maximum number of store connections in the pool",
	)
	// PoolConnectionsOpen is the current number of live connections.
	PoolConnectionsOpen = metrics.NewGauge(
		"authd_pool_connections_open",
		"Current number of live store connections",
	)
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = metrics.NewGauge(
		"authd_pool_connections_idle",
		"Current number of idle connections in the pool",
	)
	// PoolConnectionsInUse is the number of outstanding leases.
	PoolConnectionsInUse = metrics.NewGauge(
		"authd_pool_connections_in_use",
		"Number of connections currently leased",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"authd_pool_acquire_total",
		"Total number of connection acquire attempts",
	)
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = metrics.NewCounter(
		"authd_pool_acquire_success_total",
		"Total number of successful connection acquires",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"authd_pool_acquire_failed_total",
		"Total number of failed connection acquires",
	)
	// PoolExhaustedTotal is the number of acquires that timed out at the cap.
	PoolExhaustedTotal = metrics.NewCounter(
		"authd_pool_exhausted_total",
		"Total number of acquires that found no connection in time",
	)
	// PoolReleaseTotal is the number of accepted releases.
	PoolReleaseTotal = metrics.NewCounter(
		"authd_pool_release_total",
		"Total number of lease releases",
	)
	// PoolBrokenTotal is the number of broken connections discarded on release.
	PoolBrokenTotal = metrics.NewCounter(
		"authd_pool_broken_total",
		"Total number of broken connections discarded",
	)
	// PoolHealthCheckFailsTotal is the number of liveness probe failures.
	PoolHealthCheckFailsTotal = metrics.NewCounter(
		"authd_pool_healthcheck_fails_total",
		"Total number of connections that failed the liveness probe",
	)
	// PoolIdleExpiredTotal is the number of idle connections closed by maintenance.
	PoolIdleExpiredTotal = metrics.NewCounter(
		"authd_pool_idle_expired_total",
		"Total number of idle connections closed after max idle time",
	)
	// PoolAcquireLatency tracks time spent acquiring connections.
	PoolAcquireLatency = metrics.NewHistogram(
		"authd_pool_acquire_duration_seconds",
		"Time spent acquiring a connection from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolConnectionsMax.Set(int64(stats.MaxSize))
	PoolConnectionsOpen.Set(int64(stats.NumOpen))
	PoolConnectionsIdle.Set(int64(stats.NumIdle))
	PoolConnectionsInUse.Set(int64(stats.NumInUse))
}
