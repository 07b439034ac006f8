// Package web provides the HTTP front of authd: the login endpoint, token
// introspection, health and readiness probes and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DiegoLinaresM/test-auto/lib/auth"
	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
	"github.com/DiegoLinaresM/test-auto/lib/session"
)

// Authenticator decides login attempts. *auth.Verifier implements it.
type Authenticator interface {
	Verify(ctx context.Context, req auth.LoginRequest) auth.Verdict
}

// ReadinessFunc reports whether the service can serve logins, with one
// entry per dependency checked.
type ReadinessFunc func(ctx context.Context) (ready bool, checks map[string]string)

// Server is the authd HTTP server.
type Server struct {
	httpServer     *http.Server
	engine         *gin.Engine
	verifier       Authenticator
	sessions       session.Issuer
	readiness      ReadinessFunc
	limiter        *RateLimiter
	requestTimeout time.Duration
	retryAfter     time.Duration
	maxConns       int
	logger         *slog.Logger
	mu             sync.RWMutex
	running        bool
	addr           net.Addr
}

// Config holds web server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8080")
	ListenAddr string
	// RequestTimeout bounds each login, including the wait for a store
	// connection.
	RequestTimeout time.Duration
	// RetryAfter is advertised on 503 responses. Defaults to one second.
	RetryAfter time.Duration
	// Verifier decides login attempts. Required.
	Verifier Authenticator
	// Sessions issues tokens for successful logins. Required.
	Sessions session.Issuer
	// Readiness backs /readyz. When nil the server reports ready.
	Readiness ReadinessFunc
	// RateLimit throttles /login per client IP.
	RateLimit RateLimitConfig
	// AllowedOrigins enables CORS for the listed origins. "*" allows any.
	AllowedOrigins []string
	// TrustedProxies lists proxies whose forwarding headers are honored
	// when resolving the client IP. Empty means none.
	TrustedProxies []string
	// MaxConnections caps concurrent HTTP connections. Defaults to
	// DefaultMaxConnections.
	MaxConnections int
	// Logger is the structured logger
	Logger *slog.Logger
}

// New creates a new web server. Call Start to begin serving.
func New(cfg Config) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("web: verifier is required: %w", apperrors.ErrConfiguration)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("web: session issuer is required: %w", apperrors.ErrConfiguration)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("web: request timeout must be positive: %w", apperrors.ErrConfiguration)
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		verifier:       cfg.Verifier,
		sessions:       cfg.Sessions,
		readiness:      cfg.Readiness,
		requestTimeout: cfg.RequestTimeout,
		retryAfter:     cfg.RetryAfter,
		maxConns:       cfg.MaxConnections,
		logger:         cfg.Logger,
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("web: trusted proxies: %w: %w", err, apperrors.ErrConfiguration)
	}
	engine.Use(gin.Recovery(), s.requestID(), s.logRequests(), securityHeaders())

	if len(cfg.AllowedOrigins) > 0 {
		corsHandler, err := newCORS(cfg.AllowedOrigins)
		if err != nil {
			return nil, err
		}
		engine.Use(corsHandler)
	}

	s.limiter = NewRateLimiter(cfg.RateLimit)
	s.limiter.SetOnReject(func(ip, path string) {
		s.logger.Warn("rate limited", "ip", ip, "path", path)
	})

	engine.POST("/login", s.limiter.Middleware(), s.handleLogin)
	engine.GET("/session", s.handleSession)
	engine.POST("/logout", s.handleLogout)

	engine.GET("/healthz", s.handleLiveness)
	engine.GET("/readyz", s.handleReadiness)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// newCORS builds the CORS middleware, rejecting origins that would make
// cors.New panic.
func newCORS(origins []string) (gin.HandlerFunc, error) {
	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	cc.ExposeHeaders = []string{"Retry-After", "X-Request-Id"}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			cc.AllowOrigins = nil
			break
		}
		cc.AllowOrigins = append(cc.AllowOrigins, strings.TrimRight(o, "/"))
	}
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("web: cors: %w: %w", err, apperrors.ErrConfiguration)
	}
	return cors.New(cc), nil
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the web server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	limited := newLimitListener(ln, s.maxConns, func(addr net.Addr) {
		s.logger.Warn("connection limit reached", "remote", addr.String())
	})

	s.logger.Info("web server started", "addr", ln.Addr().String(), "max_connections", limited.max)

	go func() {
		if err := s.httpServer.Serve(limited); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop stops the web server gracefully, waiting for in-flight requests
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.limiter.Close()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	defer s.limiter.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("web server stopped")
	return nil
}

// requestID tags each request with an X-Request-Id, keeping a well-formed
// one supplied by the client.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote", c.ClientIP(),
			"request_id", c.GetString("requestID"),
		)

		c.Next()

		s.logger.Debug("response",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
