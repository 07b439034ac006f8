// Package store talks to the PostgreSQL credential store through pgx.
// It supplies the pool's connection factory and liveness probe, and the
// single credential lookup the verifier runs on a leased connection.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
	"github.com/DiegoLinaresM/test-auto/lib/pool"
)

// Store errors. These are aliases to the central definitions in lib/errors.
var (
	// ErrStoreUnavailable wraps I/O and protocol failures.
	ErrStoreUnavailable = apperrors.ErrStoreUnavailable
	// ErrDataIntegrity is returned when an identifier matches more than one row.
	ErrDataIntegrity = apperrors.ErrDataIntegrity
	// ErrNoRecord is returned when an identifier matches no row.
	ErrNoRecord = apperrors.ErrNoRecord
)

// StatusActive is the only account status that may log in.
const StatusActive = "active"

// closeTimeout bounds the terminate message sent on Close.
const closeTimeout = 5 * time.Second

// lookupQuery fetches at most two rows so a duplicate identifier is detected
// without scanning the table.
const lookupQuery = `SELECT identifier, secret_hash, account_status FROM credentials WHERE identifier = $1 LIMIT 2`

// CredentialRecord is one row of the credentials table. It is read per
// request and never cached.
type CredentialRecord struct {
	Identifier string
	SecretHash string
	Status     string
}

// Active reports whether the account may log in.
func (r CredentialRecord) Active() bool {
	return r.Status == StatusActive
}

// CredentialReader looks up the credential row for an identifier.
type CredentialReader interface {
	LookupCredential(ctx context.Context, identifier string) (CredentialRecord, error)
}

// session is the part of *pgx.Conn a Conn drives.
type session interface {
	querier
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
	IsClosed() bool
}

// Conn is a single PostgreSQL session. It satisfies pool.Connection.
//
// pgx sessions are not safe for concurrent use, but the pool may close a
// connection from its own goroutine while a force-revoked lease holder is
// still querying. Close therefore cancels the in-flight operation first and
// terminates the session only once that operation has returned.
type Conn struct {
	sess session

	// mu is held for the duration of every operation and by Close.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

var _ session = (*pgx.Conn)(nil)

func newConn(sess session) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{sess: sess, ctx: ctx, cancel: cancel}
}

// Connect opens a session to the endpoint.
func Connect(ctx context.Context, ep Endpoint) (*Conn, error) {
	cfg, err := pgx.ParseConfig(ep.ConnString())
	if err != nil {
		return nil, fmt.Errorf("store: parse connection config: %w", err)
	}

	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		log.WithField("endpoint", ep.Redacted()).WithError(err).Debug("failed to connect to store")
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return newConn(c), nil
}

// Factory returns a pool factory that opens sessions to ep.
func Factory(ep Endpoint) pool.Factory {
	return func(ctx context.Context) (pool.Connection, error) {
		return Connect(ctx, ep)
	}
}

// Probe is a pool.HealthChecker that pings a store session.
func Probe(ctx context.Context, conn pool.Connection) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("store: unexpected connection type %T", conn)
	}
	return c.Ping(ctx)
}

// begin locks the session for one operation. The returned context is also
// cancelled when the session is closed.
func (c *Conn) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: session closed", ErrStoreUnavailable)
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
		c.mu.Unlock()
	}, nil
}

// Close aborts any in-flight operation and terminates the session. It is
// safe to call concurrently with an operation and more than once.
func (c *Conn) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.sess.Close(ctx)
}

// IsClosed reports whether the session is known to be dead.
func (c *Conn) IsClosed() bool {
	if c.ctx.Err() != nil {
		return true
	}
	return c.sess.IsClosed()
}

// Ping runs an empty round-trip.
func (c *Conn) Ping(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.sess.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// LookupCredential fetches the credential row for identifier. It returns
// ErrNoRecord for an unknown identifier, ErrDataIntegrity when more than one
// row matches, and an error wrapping ErrStoreUnavailable for I/O failures.
func (c *Conn) LookupCredential(ctx context.Context, identifier string) (CredentialRecord, error) {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return CredentialRecord{}, err
	}
	defer done()

	return lookupCredential(ctx, c.sess, identifier)
}

// ApplySchema creates the credentials table if it does not exist.
func (c *Conn) ApplySchema(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := c.sess.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func lookupCredential(ctx context.Context, q querier, identifier string) (CredentialRecord, error) {
	rows, err := q.Query(ctx, lookupQuery, identifier)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("%w: query credentials: %w", ErrStoreUnavailable, err)
	}
	return scanCredential(rows)
}

// scanCredential reads every returned row and enforces single-row cardinality.
func scanCredential(rows pgx.Rows) (CredentialRecord, error) {
	defer rows.Close()

	var (
		rec   CredentialRecord
		count int
	)
	for rows.Next() {
		count++
		if count > 1 {
			continue
		}
		if err := rows.Scan(&rec.Identifier, &rec.SecretHash, &rec.Status); err != nil {
			return CredentialRecord{}, fmt.Errorf("%w: scan credential: %w", ErrStoreUnavailable, err)
		}
	}
	if err := rows.Err(); err != nil {
		return CredentialRecord{}, fmt.Errorf("%w: read credentials: %w", ErrStoreUnavailable, err)
	}

	switch count {
	case 0:
		return CredentialRecord{}, ErrNoRecord
	case 1:
		return rec, nil
	default:
		log.WithField("rows", count).Error("credential lookup matched more than one row")
		return CredentialRecord{}, fmt.Errorf("%w: identifier matched %d rows", ErrDataIntegrity, count)
	}
}
