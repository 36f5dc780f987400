package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
	pkgredis "github.com/eklundh/strandr/pkg/redis"
)

const cacheKeyPrefix = "search:"

// Cache memoizes result envelopes in redis, with singleflight collapsing
// concurrent identical requests into one engine round trip. Cache
// failures degrade to executing the search; they are logged, never
// surfaced.
type Cache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCache creates a Cache.
func NewCache(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		log:     logger.WithComponent("search-cache"),
	}
}

// GetOrCompute returns the cached envelope for a request, or computes,
// stores, and returns it. The second return reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, req *Request, compute func() (*Envelope, error)) (*Envelope, bool, error) {
	key, err := c.buildKey(req)
	if err != nil {
		env, err := compute()
		return env, false, err
	}
	if env, ok := c.get(ctx, key); ok {
		return env, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if env, ok := c.get(ctx, key); ok {
			return env, nil
		}
		env, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, env)
		return env, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Envelope), false, nil
}

// Invalidate drops every cached search result. Called after reindexing,
// when cached envelopes may reference dropped documents.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating search cache: %w", err)
	}
	c.log.Info("search cache invalidated", slog.Int64("keys_deleted", deleted))
	return nil
}

func (c *Cache) get(ctx context.Context, key string) (*Envelope, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.log.Error("cache get failed", slog.String("key", key), slog.Any("error", err))
		}
		c.miss()
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		c.log.Error("cache unmarshal failed", slog.String("key", key), slog.Any("error", err))
		c.miss()
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &env, true
}

func (c *Cache) set(ctx context.Context, key string, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("cache marshal failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.log.Error("cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey hashes the canonical JSON form of the request. Requests that
// differ in any field cache separately.
func (c *Cache) buildKey(req *Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16]), nil
}
