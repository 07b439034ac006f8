package store

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// DefaultPort is the PostgreSQL port used when none is configured.
const DefaultPort = 5432

// Endpoint identifies the PostgreSQL server and the role to log in as.
type Endpoint struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("store: host is required: %w", apperrors.ErrConfiguration)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("store: port %d out of range: %w", e.Port, apperrors.ErrConfiguration)
	}
	if e.Database == "" {
		return fmt.Errorf("store: database name is required: %w", apperrors.ErrConfiguration)
	}
	if e.User == "" {
		return fmt.Errorf("store: user is required: %w", apperrors.ErrConfiguration)
	}
	if e.ConnectTimeout < 0 {
		return fmt.Errorf("store: connect timeout must not be negative: %w", apperrors.ErrConfiguration)
	}
	return nil
}

// ConnString renders the endpoint as a postgres:// URL understood by pgx.
func (e Endpoint) ConnString() string {
	return e.url(url.UserPassword(e.User, e.Password)).String()
}

// Redacted renders the endpoint with the password masked, for logs.
func (e Endpoint) Redacted() string {
	if e.Password == "" {
		return e.url(url.User(e.User)).String()
	}
	return e.url(url.UserPassword(e.User, "xxxxx")).String()
}

// Addr returns host:port, for reachability probes.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) url(user *url.Userinfo) *url.URL {
	q := url.Values{}
	if e.SSLMode != "" {
		q.Set("sslmode", e.SSLMode)
	}
	if e.ConnectTimeout > 0 {
		secs := int(e.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	return &url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     e.Addr(),
		Path:     "/" + e.Database,
		RawQuery: q.Encode(),
	}
}
