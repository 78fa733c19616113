package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/audit"
	"vigil/internal/audit/store"
)

// DefaultQueryTTL bounds how long a cached page can serve even without
// an intervening write.
const DefaultQueryTTL = 2 * time.Minute

const (
	queryGenerationKey = "audit:query:gen"
	queryKeyPrefix     = "audit:query:"
)

// QueryCache caches search result pages. InvalidateAll drops every
// cached page; it is called on each successful write.
type QueryCache interface {
	Get(ctx context.Context, q store.Query) (store.Page, bool)
	Put(ctx context.Context, q store.Query, page store.Page)
	InvalidateAll(ctx context.Context)
}

// NopQueryCache caches nothing.
type NopQueryCache struct{}

func (NopQueryCache) Get(context.Context, store.Query) (store.Page, bool) { return store.Page{}, false }
func (NopQueryCache) Put(context.Context, store.Query, store.Page)       {}
func (NopQueryCache) InvalidateAll(context.Context)                      {}

// RedisQueryCache keys cached pages by a monotonic generation counter
// plus a hash of the normalized filter. Invalidation bumps the counter,
// orphaning every existing entry; orphans age out via the TTL.
type RedisQueryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisQueryCacheOption configures a RedisQueryCache.
type RedisQueryCacheOption func(*RedisQueryCache)

// WithQueryTTL overrides the per-entry lifetime.
func WithQueryTTL(ttl time.Duration) RedisQueryCacheOption {
	return func(c *RedisQueryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithQueryCacheLogger sets the cache logger.
func WithQueryCacheLogger(logger *slog.Logger) RedisQueryCacheOption {
	return func(c *RedisQueryCache) { c.logger = logger }
}

// NewRedisQueryCache builds a query cache over an existing redis client.
func NewRedisQueryCache(client *redis.Client, opts ...RedisQueryCacheOption) *RedisQueryCache {
	c := &RedisQueryCache{client: client, ttl: DefaultQueryTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisQueryCache) Get(ctx context.Context, q store.Query) (store.Page, bool) {
	key, err := c.entryKey(ctx, q)
	if err != nil {
		return store.Page{}, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WarnContext(ctx, "query cache read failed", "error", err)
		}
		return store.Page{}, false
	}
	var cached cachedPage
	if err := json.Unmarshal(raw, &cached); err != nil {
		// Corrupt entry, treat as a miss.
		return store.Page{}, false
	}
	page, err := cached.page()
	if err != nil {
		return store.Page{}, false
	}
	return page, true
}

func (c *RedisQueryCache) Put(ctx context.Context, q store.Query, page store.Page) {
	key, err := c.entryKey(ctx, q)
	if err != nil {
		return
	}
	raw, err := json.Marshal(newCachedPage(page))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "query cache write failed", "error", err)
	}
}

func (c *RedisQueryCache) InvalidateAll(ctx context.Context) {
	if err := c.client.Incr(ctx, queryGenerationKey).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "query cache invalidation failed", "error", err)
	}
}

// cachedPage is the wire shape for cached pages. Events go through the
// record codec so typed metadata survives the JSON round-trip.
type cachedPage struct {
	Events []audit.EventRecord `json:"events"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func newCachedPage(page store.Page) cachedPage {
	cp := cachedPage{
		Events: make([]audit.EventRecord, 0, len(page.Events)),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, ev := range page.Events {
		cp.Events = append(cp.Events, ev.Record())
	}
	return cp
}

func (cp cachedPage) page() (store.Page, error) {
	page := store.Page{
		Events: make([]audit.Event, 0, len(cp.Events)),
		Total:  cp.Total,
		Limit:  cp.Limit,
		Offset: cp.Offset,
	}
	for _, rec := range cp.Events {
		ev, err := rec.Event()
		if err != nil {
			return store.Page{}, err
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (c *RedisQueryCache) entryKey(ctx context.Context, q store.Query) (string, error) {
	gen, err := c.client.Get(ctx, queryGenerationKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s%d:%s", queryKeyPrefix, gen, hex.EncodeToString(sum[:])), nil
}
