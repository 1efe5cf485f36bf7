// Package cache holds the Redis-backed fast paths. Redis is never the source of truth: callers
// fall back to the durable store whenever it fails.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/config"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
)

// ErrDisabled is returned by a cache built without a Redis client.
var ErrDisabled = errors.New("cache: redis disabled")

const defaultEventTTL = 72 * time.Hour

// NewRedisClient builds a client from configuration; it returns nil when no address is set.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// Ping is a readiness probe for the Redis client.
func Ping(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return ErrDisabled
	}
	return wrap("ping", rdb.Ping(ctx).Err())
}

// AppliedEventCache remembers provider events already applied to an order.
type AppliedEventCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAppliedEventCache binds the cache to rdb. A nil client yields a cache whose calls all
// return ErrDisabled.
func NewAppliedEventCache(rdb *redis.Client, ttl time.Duration) *AppliedEventCache {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &AppliedEventCache{rdb: rdb, ttl: ttl}
}

// AppliedEventKey formats the cache key for one (order, event type, event id) triple.
func AppliedEventKey(orderID, eventType, eventID string) string {
	return "webhook:applied:" + orderID + ":" + eventType + ":" + eventID
}

// Seen reports whether the event was remembered as applied.
func (c *AppliedEventCache) Seen(ctx context.Context, orderID, eventType, eventID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, ErrDisabled
	}
	n, err := c.rdb.Exists(ctx, AppliedEventKey(orderID, eventType, eventID)).Result()
	if err != nil {
		return false, wrap("applied_event.seen", err)
	}
	return n > 0, nil
}

// Remember marks the event as applied. It reports false when the key was already present.
func (c *AppliedEventCache) Remember(ctx context.Context, orderID, eventType, eventID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, ErrDisabled
	}
	created, err := c.rdb.SetNX(ctx, AppliedEventKey(orderID, eventType, eventID), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, wrap("applied_event.remember", err)
	}
	return created, nil
}

// wrap marks connection-level Redis failures as transient.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrPoolTimeout) || errors.Is(err, redis.ErrClosed) {
		return retry.Transient(fmt.Errorf("cache: %s: %w", op, err))
	}
	return fmt.Errorf("cache: %s: %w", op, err)
}
