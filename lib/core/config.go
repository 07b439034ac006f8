// Package core wires authd together: it loads configuration and runs the
// Service that owns the connection pool, the verifier and the HTTP server.
package core

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/pool"
	"github.com/DiegoLinaresM/test-auto/lib/resilience"
	"github.com/DiegoLinaresM/test-auto/lib/store"
	"github.com/DiegoLinaresM/test-auto/lib/validation"
	"github.com/DiegoLinaresM/test-auto/lib/web"
)

// Default configuration values
const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultRequestTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultDatabaseHost    = "localhost"
	DefaultSSLMode         = "prefer"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultAuthAcquire     = 2 * time.Second
	DefaultSessionTTL      = 12 * time.Hour
	DefaultDialTimeout     = 5 * time.Second
	DefaultMonitorInterval = 15 * time.Second
)

// Config holds all configuration for authd.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Pool      PoolConfig      `toml:"pool"`
	Auth      AuthConfig      `toml:"auth"`
	Session   SessionConfig   `toml:"session"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Listen is the address to bind the HTTP server to
	Listen string `toml:"listen"`
	// RequestTimeout bounds a single login
	RequestTimeout Duration `toml:"request_timeout"`
	// ShutdownTimeout bounds the graceful drain on stop
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	// RetryAfter is advertised on 503 responses
	RetryAfter Duration `toml:"retry_after"`
	// AllowedOrigins enables CORS for browser clients
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	// TrustedProxies are honored for X-Forwarded-For
	TrustedProxies []string `toml:"trusted_proxies,omitempty"`
	// MaxConnections caps concurrent HTTP connections
	MaxConnections int `toml:"max_connections"`
}

// DatabaseConfig identifies the PostgreSQL credential store.
type DatabaseConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Name           string   `toml:"name"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"sslmode"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	// MonitorInterval is how often store reachability is probed
	MonitorInterval Duration `toml:"monitor_interval"`
}

// PoolConfig sizes the store connection pool.
type PoolConfig struct {
	MaxConnections      int      `toml:"max_connections"`
	MinIdle             int      `toml:"min_idle"`
	AcquireTimeout      Duration `toml:"acquire_timeout"`
	IdleTimeout         Duration `toml:"idle_timeout"`
	StaleAfter          Duration `toml:"stale_after"`
	MaintenanceInterval Duration `toml:"maintenance_interval"`
}

// AuthConfig contains verifier settings.
type AuthConfig struct {
	// AcquireTimeout bounds the wait for a store connection per login.
	// It must be shorter than server.request_timeout.
	AcquireTimeout Duration `toml:"acquire_timeout"`
	// BcryptCost is used by "authd hash"; 0 means bcrypt's default
	BcryptCost int `toml:"bcrypt_cost"`
	// Breaker settings for the store circuit breaker
	BreakerFailures  int      `toml:"breaker_failures"`
	BreakerSuccesses int      `toml:"breaker_successes"`
	BreakerOpenFor   Duration `toml:"breaker_open_for"`
}

// SessionConfig selects the session backend.
type SessionConfig struct {
	// RedisURL selects the Redis issuer; empty keeps sessions in memory
	RedisURL string `toml:"redis_url,omitempty"`
	// TTL is the session lifetime
	TTL Duration `toml:"ttl"`
	// DialTimeout bounds the initial Redis connect and ping
	DialTimeout Duration `toml:"dial_timeout"`
}

// RateLimitConfig throttles /login per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	pc := pool.DefaultConfig()
	bc := resilience.DefaultBreakerConfig()
	rl := web.DefaultRateLimitConfig()

	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListen,
			RequestTimeout:  Duration(DefaultRequestTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			RetryAfter:      Duration(time.Second),
			MaxConnections:  web.DefaultMaxConnections,
		},
		Database: DatabaseConfig{
			Host:            DefaultDatabaseHost,
			Port:            store.DefaultPort,
			Name:            "authd",
			User:            "authd",
			SSLMode:         DefaultSSLMode,
			ConnectTimeout:  Duration(DefaultConnectTimeout),
			MonitorInterval: Duration(DefaultMonitorInterval),
		},
		Pool: PoolConfig{
			MaxConnections:      pc.MaxSize,
			MinIdle:             pc.MinIdle,
			AcquireTimeout:      Duration(pc.AcquireTimeout),
			IdleTimeout:         Duration(pc.MaxIdleTime),
			StaleAfter:          Duration(pc.StaleAfter),
			MaintenanceInterval: Duration(pc.MaintenanceInterval),
		},
		Auth: AuthConfig{
			AcquireTimeout:   Duration(DefaultAuthAcquire),
			BreakerFailures:  bc.FailureThreshold,
			BreakerSuccesses: bc.SuccessThreshold,
			BreakerOpenFor:   Duration(bc.OpenFor),
		},
		Session: SessionConfig{
			TTL:         Duration(DefaultSessionTTL),
			DialTimeout: Duration(DefaultDialTimeout),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.BurstSize,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
// The result is not validated; callers apply overrides first and then
// call Validate.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w: %w", err, apperrors.ErrConfiguration)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("restricting config file: %w", err)
	}

	return nil
}

// WriteConfig encodes the configuration as TOML to w.
func WriteConfig(cfg *Config, w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print, with the database password and any
// Redis credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "xxxxx"
	}
	if u, err := url.Parse(out.Session.RedisURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			out.Session.RedisURL = u.String()
		}
	}
	return &out
}

// Validate checks the configuration for errors. All problems are reported
// together and the result wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.HostPort("server.listen", c.Server.Listen))
	errs.Add(validation.PositiveDuration("server.request_timeout", c.Server.RequestTimeout.D()))
	errs.Add(validation.PositiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout.D()))
	errs.Add(validation.PositiveDuration("server.retry_after", c.Server.RetryAfter.D()))
	errs.Add(validation.Positive("server.max_connections", c.Server.MaxConnections))

	errs.Add(validation.Required("database.host", c.Database.Host))
	errs.Add(validation.Port("database.port", c.Database.Port))
	errs.Add(validation.Required("database.name", c.Database.Name))
	errs.Add(validation.Required("database.user", c.Database.User))
	errs.Add(validation.OneOf("database.sslmode", c.Database.SSLMode,
		"disable", "allow", "prefer", "require", "verify-ca", "verify-full"))
	errs.Add(validation.PositiveDuration("database.monitor_interval", c.Database.MonitorInterval.D()))

	errs.Add(validation.PositiveDuration("auth.acquire_timeout", c.Auth.AcquireTimeout.D()))
	if c.Auth.AcquireTimeout >= c.Server.RequestTimeout {
		errs.Add(validation.NewResult("auth.acquire_timeout",
			"must be shorter than server.request_timeout", validation.ErrOutOfRange))
	}
	if c.Auth.BcryptCost != 0 {
		errs.Add(validation.IntRange("auth.bcrypt_cost", c.Auth.BcryptCost, 4, 31))
	}
	errs.Add(validation.Positive("auth.breaker_failures", c.Auth.BreakerFailures))
	errs.Add(validation.Positive("auth.breaker_successes", c.Auth.BreakerSuccesses))
	errs.Add(validation.PositiveDuration("auth.breaker_open_for", c.Auth.BreakerOpenFor.D()))

	errs.Add(validation.PositiveDuration("session.ttl", c.Session.TTL.D()))
	errs.Add(validation.PositiveDuration("session.dial_timeout", c.Session.DialTimeout.D()))

	if c.RateLimit.RequestsPerSecond <= 0 {
		errs.Add(validation.NewResult("ratelimit.requests_per_second", "must be positive", validation.ErrOutOfRange))
	}
	errs.Add(validation.Positive("ratelimit.burst", c.RateLimit.Burst))

	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return err
	}
	return c.Endpoint().Validate()
}

// Endpoint returns the store endpoint described by the database section.
func (c *Config) Endpoint() store.Endpoint {
	return store.Endpoint{
		Host:           c.Database.Host,
		Port:           c.Database.Port,
		Database:       c.Database.Name,
		User:           c.Database.User,
		Password:       c.Database.Password,
		SSLMode:        c.Database.SSLMode,
		ConnectTimeout: c.Database.ConnectTimeout.D(),
	}
}

// PoolConfig returns the pool configuration, with idle connections probed
// through the store.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MaxSize:             c.Pool.MaxConnections,
		MinIdle:             c.Pool.MinIdle,
		AcquireTimeout:      c.Pool.AcquireTimeout.D(),
		MaxIdleTime:         c.Pool.IdleTimeout.D(),
		StaleAfter:          c.Pool.StaleAfter.D(),
		MaintenanceInterval: c.Pool.MaintenanceInterval.D(),
		HealthCheck:         store.Probe,
	}
}

// BreakerConfig returns the store circuit breaker configuration.
func (c *Config) BreakerConfig() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig()
	cfg.FailureThreshold = c.Auth.BreakerFailures
	cfg.SuccessThreshold = c.Auth.BreakerSuccesses
	cfg.OpenFor = c.Auth.BreakerOpenFor.D()
	return cfg
}

// WebRateLimit returns the login throttle configuration.
func (c *Config) WebRateLimit() web.RateLimitConfig {
	cfg := web.DefaultRateLimitConfig()
	cfg.RequestsPerSecond = c.RateLimit.RequestsPerSecond
	cfg.BurstSize = c.RateLimit.Burst
	return cfg
}
