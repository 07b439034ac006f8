package resilience

import (
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
)

// Breaker metrics for Prometheus exposition.
var (
	// BreakerState tracks the store breaker state.
	// 0 = closed, 1 = open, 2 = half-open
	BreakerState = metrics.NewGauge(
		"authd_store_breaker_state",
		"Current state of the store breaker (0=closed, 1=open, 2=half-open)",
	)

	// BreakerTrips counts how often the breaker opened.
	BreakerTrips = metrics.NewCounter(
		"authd_store_breaker_trips_total",
		"Total number of times the store breaker opened",
	)

	// BreakerSuccesses counts store answers recorded by the breaker.
	BreakerSuccesses = metrics.NewCounter(
		"authd_store_breaker_successes_total",
		"Total store answers recorded by the breaker",
	)

	// BreakerFailures counts store faults recorded by the breaker.
	BreakerFailures = metrics.NewCounter(
		"authd_store_breaker_failures_total",
		"Total store faults recorded by the breaker",
	)

	// BreakerRejections counts requests rejected while open.
	BreakerRejections = metrics.NewCounter(
		"authd_store_breaker_rejections_total",
		"Total logins rejected by the open store breaker",
	)

	// MonitorProbeFailures counts failed store reachability probes.
	MonitorProbeFailures = metrics.NewCounter(
		"authd_store_probe_failures_total",
		"Total failed store reachability probes",
	)
)
