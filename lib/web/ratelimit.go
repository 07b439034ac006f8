package web

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
	"github.com/DiegoLinaresM/test-auto/lib/ratelimit"
)

// RateLimitConfig configures per-IP throttling of login attempts.
type RateLimitConfig struct {
	// RequestsPerSecond is the rate of allowed requests per IP.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size per IP.
	BurstSize int
	// CleanupInterval is how often to clean up idle limiters.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the default login throttle: a burst of 10
// attempts, then one every two seconds.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 0.5,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter provides gin middleware for per-IP rate limiting.
type RateLimiter struct {
	limiter  *ratelimit.KeyedLimiter
	onReject func(ip string, path string)
}

// NewRateLimiter creates a new rate limiter. Zero or negative fields take
// the defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	return &RateLimiter{
		limiter: ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.BurstSize, cfg.CleanupInterval),
	}
}

// SetOnReject sets a callback that is invoked when a request is rate limited.
// It must be called before the middleware serves requests.
func (rl *RateLimiter) SetOnReject(fn func(ip string, path string)) {
	rl.onReject = fn
}

// Close stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.limiter.Close()
}

// Middleware rejects requests over the per-IP limit with 429 and a
// Retry-After header.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		ok, wait := rl.limiter.Take(ip)
		if !ok {
			metrics.RateLimitRejections.Inc()
			if rl.onReject != nil {
				rl.onReject(ip, c.Request.URL.Path)
			}
			if wait > 0 && wait < math.MaxInt64 {
				c.Header("Retry-After", retryAfterSeconds(wait))
			}
			e := apperrors.FromSentinel(apperrors.ErrRateLimited)
			c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{
				"code":    e.Code,
				"message": e.SafeMessage(),
			})
			return
		}

		c.Next()
	}
}
