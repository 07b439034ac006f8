package web

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DiegoLinaresM/test-auto/lib/auth"
	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/metrics"
	"github.com/DiegoLinaresM/test-auto/lib/session"
	"github.com/DiegoLinaresM/test-auto/lib/validation"
	"github.com/DiegoLinaresM/test-auto/version"
)

// maxLoginBody bounds the login request body. Valid requests are far smaller.
const maxLoginBody = 4 << 10

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// SessionResponse describes the session behind a bearer token.
type SessionResponse struct {
	Identifier string    `json:"identifier"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// HealthResponse is the body of the liveness and readiness probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// handleLogin serves POST /login.
func (s *Server) handleLogin(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxLoginBody)

	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.Wrap(apperrors.CodeInvalidInput,
			"request body must be a JSON object with identifier and secret", err))
		return
	}
	if err := validateLogin(req); err != nil {
		message := "invalid input"
		var res *validation.Result
		if errors.As(err, &res) {
			message = res.Error()
		}
		s.respondError(c, apperrors.Wrap(apperrors.CodeInvalidInput, message, err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	verdict := s.verifier.Verify(ctx, req)
	if !verdict.Authenticated() {
		if verdict.Kind == auth.Unavailable {
			s.logger.Warn("login unavailable",
				"request_id", c.GetString("requestID"),
				"error", verdict.Cause,
			)
		}
		s.respondError(c, apperrors.FromSentinel(verdict.Err()))
		return
	}

	sess, err := s.sessions.Issue(ctx, verdict.Identifier)
	if err != nil {
		metrics.SessionIssueFailures.Inc()
		s.logger.Error("failed to issue session",
			"request_id", c.GetString("requestID"),
			"error", err,
		)
		s.respondError(c, apperrors.FromSentinel(err))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Identifier: sess.Identifier,
		Token:      sess.Token,
		ExpiresAt:  sess.ExpiresAt,
	})
}

func validateLogin(req auth.LoginRequest) error {
	return validation.All(
		func() error { return validation.Identifier("identifier", req.Identifier) },
		func() error { return validation.Secret("secret", req.Secret) },
	)
}

// handleSession serves GET /session, resolving the bearer token.
func (s *Server) handleSession(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		s.respondError(c, apperrors.FromSentinel(apperrors.ErrInvalidCredentials))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	sess, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			err = apperrors.ErrInvalidCredentials
		}
		s.respondError(c, apperrors.FromSentinel(err))
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		Identifier: sess.Identifier,
		IssuedAt:   sess.IssuedAt,
		ExpiresAt:  sess.ExpiresAt,
	})
}

// handleLogout serves POST /logout, revoking the bearer token.
func (s *Server) handleLogout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		s.respondError(c, apperrors.FromSentinel(apperrors.ErrInvalidCredentials))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	if err := s.sessions.Revoke(ctx, token); err != nil {
		s.respondError(c, apperrors.FromSentinel(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// handleLiveness returns a simple liveness probe response.
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Full(),
	})
}

// handleReadiness reports whether logins can currently be served.
func (s *Server) handleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ready, checks := true, map[string]string(nil)
	if s.readiness != nil {
		ready, checks = s.readiness(ctx)
	}

	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
		s.setRetryAfter(c, s.retryAfter)
	}
	c.JSON(status, resp)
}

// respondError writes e as {"code", "message"} and aborts the chain.
// Internal detail in e.Err is never written.
func (s *Server) respondError(c *gin.Context, e *apperrors.Error) {
	status := e.HTTPStatus()
	if status == http.StatusServiceUnavailable {
		s.setRetryAfter(c, s.retryAfter)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error",
			"request_id", c.GetString("requestID"),
			"error", e.Err,
		)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":    e.Code,
		"message": e.SafeMessage(),
	})
}

func (s *Server) setRetryAfter(c *gin.Context, d time.Duration) {
	c.Header("Retry-After", retryAfterSeconds(d))
}

// retryAfterSeconds renders d as whole seconds, rounding up, never below 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func bearerToken(c *gin.Context) (string, bool) {
	const prefix = "bearer "
	h := c.GetHeader("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
