package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "authd:session:"

// RedisIssuer stores sessions in Redis with a TTL.
type RedisIssuer struct {
	rdb *redis.Client
	ttl time.Duration
}

// DialRedis connects to the Redis server at url (redis://...) and pings it.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrUnavailable, err)
	}
	return rdb, nil
}

// NewRedisIssuer creates an issuer on rdb. A non-positive ttl means DefaultTTL.
func NewRedisIssuer(rdb *redis.Client, ttl time.Duration) *RedisIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisIssuer{rdb: rdb, ttl: ttl}
}

// Issue implements Issuer.
func (r *RedisIssuer) Issue(ctx context.Context, identifier string) (Session, error) {
	s := newSession(identifier, time.Now(), r.ttl)
	payload, err := json.Marshal(s)
	if err != nil {
		return Session{}, fmt.Errorf("session: encode: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKey(s.Token), payload, r.ttl).Err(); err != nil {
		log.WithError(err).Warn("failed to store session")
		return Session{}, fmt.Errorf("%w: store session: %w", ErrUnavailable, err)
	}
	return s, nil
}

// Lookup implements Issuer.
func (r *RedisIssuer) Lookup(ctx context.Context, token string) (Session, error) {
	if !validToken(token) {
		return Session{}, ErrNotFound
	}
	data, err := r.rdb.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("%w: load session: %w", ErrUnavailable, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		log.WithError(err).Warn("discarding undecodable session")
		return Session{}, ErrNotFound
	}
	if s.Expired(time.Now()) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Revoke implements Issuer.
func (r *RedisIssuer) Revoke(ctx context.Context, token string) error {
	if !validToken(token) {
		return nil
	}
	if err := r.rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: revoke session: %w", ErrUnavailable, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (r *RedisIssuer) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisIssuer) Close() error {
	return r.rdb.Close()
}

func sessionKey(token string) string {
	return keyPrefix + token
}
