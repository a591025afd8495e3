// Package cache adapts the short-term key-value store (Redis) behind the
// narrow interface the core needs: TTL-bounded byte payloads plus a bounded
// keyspace scan.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent. Callers treat a miss as absence,
// never as a failure.
var ErrMiss = errors.New("cache: key not found")

// TTL sentinel values, matching Redis semantics.
const (
	TTLNoExpiry = time.Duration(-1)
	TTLMissing  = time.Duration(-2)
)

// KV is the key-value surface used by the continuity manager and the
// quota/consent gate. Implemented by Client; tests substitute an in-memory
// fake.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Del(ctx context.Context, key string) error
	ScanByPrefix(ctx context.Context, prefix string, limit int) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Client is the Redis-backed KV implementation.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewClient(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing redis client (useful for testing).
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Get fetches a key's payload. Returns ErrMiss when absent.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return b, nil
}

// SetEx writes a payload with a TTL. Non-positive TTLs are rejected: the
// caller is expected to drop already-expired writes before reaching here.
func (c *Client) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: non-positive ttl %v", key, ttl)
	}
	if err := c.rdb.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Del removes a key. Deleting an absent key is not an error.
func (c *Client) Del(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	return nil
}

// ScanByPrefix returns up to limit keys matching prefix. The scan is
// cursor-based and bounded so it never walks the full keyspace.
func (c *Client) ScanByPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := prefix + "*"
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if len(keys) >= limit {
			return keys[:limit], nil
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// TTL returns the remaining lifetime of a key. Redis semantics are preserved:
// TTLNoExpiry means no expiry, TTLMissing means the key does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl %s: %w", key, err)
	}
	return d, nil
}
