package risk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	id "vigil/pkg/domain"
)

// DefaultCacheTTL is how long a computed risk result stays valid. Risk
// inputs (baselines, recent activity) drift slowly, so a short TTL keeps
// scores fresh without recomputing on every read.
const DefaultCacheTTL = 30 * time.Minute

const riskScoreKeyPrefix = "risk:event:"

// Cache stores computed risk results keyed by event ID. Misses return
// (zero, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, eventID id.EventID) (Result, bool, error)
	Put(ctx context.Context, eventID id.EventID, r Result) error
	Invalidate(ctx context.Context, eventID id.EventID) error
}

// RedisCache is a Redis-backed risk result cache for distributed
// deployments where multiple instances score the same stream.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithTTL overrides the default cache TTL.
func WithTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewRedisCache constructs a Redis-backed risk cache.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		ttl:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, eventID id.EventID) (Result, bool, error) {
	raw, err := c.client.Get(ctx, riskScoreKeyPrefix+eventID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return Result{}, false, nil
	}
	return r, true, nil
}

func (c *RedisCache) Put(ctx context.Context, eventID id.EventID, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, riskScoreKeyPrefix+eventID.String(), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, eventID id.EventID) error {
	return c.client.Del(ctx, riskScoreKeyPrefix+eventID.String()).Err()
}

// NoopCache satisfies Cache without storing anything. Used when no Redis
// is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, id.EventID) (Result, bool, error) { return Result{}, false, nil }
func (NoopCache) Put(context.Context, id.EventID, Result) error         { return nil }
func (NoopCache) Invalidate(context.Context, id.EventID) error          { return nil }
