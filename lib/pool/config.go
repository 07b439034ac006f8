package pool

import (
	"fmt"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// Config holds pool configuration.
type Config struct {
	// MaxSize is the maximum number of live connections.
	// Default: 10
	MaxSize int
	// MinIdle is the number of idle connections kept warm.
	// Default: 0
	MinIdle int
	// AcquireTimeout bounds how long Acquire waits for a connection.
	// Default: 2 seconds
	AcquireTimeout time.Duration
	// MaxIdleTime is how long an idle connection may sit before maintenance
	// closes it. Connections within MinIdle are kept regardless.
	// Default: 10 minutes
	MaxIdleTime time.Duration
	// StaleAfter is the idle age past which a connection is probed with
	// HealthCheck before being leased.
	// Default: 30 seconds
	StaleAfter time.Duration
	// MaintenanceInterval is how often idle connections are expired and the
	// idle set is topped up.
	// Default: 1 minute
	MaintenanceInterval time.Duration
	// HealthCheck probes a stale connection. If nil, no probes run.
	HealthCheck HealthChecker
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:             10,
		MinIdle:             0,
		AcquireTimeout:      2 * time.Second,
		MaxIdleTime:         10 * time.Minute,
		StaleAfter:          30 * time.Second,
		MaintenanceInterval: 1 * time.Minute,
	}
}

// Validate checks the configuration. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.MaxSize < 1:
		return fmt.Errorf("pool: max size must be at least 1, got %d: %w", c.MaxSize, apperrors.ErrConfiguration)
	case c.MinIdle < 0:
		return fmt.Errorf("pool: min idle must not be negative, got %d: %w", c.MinIdle, apperrors.ErrConfiguration)
	case c.MinIdle > c.MaxSize:
		return fmt.Errorf("pool: min idle %d exceeds max size %d: %w", c.MinIdle, c.MaxSize, apperrors.ErrConfiguration)
	case c.AcquireTimeout <= 0:
		return fmt.Errorf("pool: acquire timeout must be positive: %w", apperrors.ErrConfiguration)
	case c.MaxIdleTime <= 0:
		return fmt.Errorf("pool: max idle time must be positive: %w", apperrors.ErrConfiguration)
	case c.StaleAfter <= 0:
		return fmt.Errorf("pool: stale-after must be positive: %w", apperrors.ErrConfiguration)
	case c.MaintenanceInterval <= 0:
		return fmt.Errorf("pool: maintenance interval must be positive: %w", apperrors.ErrConfiguration)
	}
	return nil
}
