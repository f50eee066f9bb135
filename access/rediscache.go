package access

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/srs-writer/agent-engine/telemetry"
	"github.com/srs-writer/agent-engine/toolregistry"
)

// RedisCache is a distributed alternative to MemoryCache for deployments
// that run more than one engine process against the same tool registry.
// It keeps the same (CallerType, specialistId?) keying and the same
// invalidate-wholesale semantics; instead of a
// process-local map it stores entries under a shared key prefix and clears
// them with a single pattern scan on invalidation.
type RedisCache struct {
	client     *redis.Client
	controller *Controller
	logger     telemetry.Logger
	keyPrefix  string
	ttl        time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithKeyPrefix overrides the default "agentcore:access:" key prefix.
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.keyPrefix = prefix }
}

// WithEntryTTL bounds how long an entry survives between invalidation
// sweeps, as a safety net against a missed invalidation event.
func WithEntryTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

// NewRedisCache builds a RedisCache wired to registry's invalidation channel.
func NewRedisCache(client *redis.Client, registry *toolregistry.Registry, controller *Controller, logger telemetry.Logger, opts ...RedisCacheOption) *RedisCache {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	c := &RedisCache{
		client:     client,
		controller: controller,
		logger:     logger,
		keyPrefix:  "agentcore:access:",
		ttl:        10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	registry.OnCacheInvalidation(c.Invalidate)
	return c
}

func (c *RedisCache) redisKey(key CacheKey) string {
	return fmt.Sprintf("%s%s:%s", c.keyPrefix, key.Caller, key.SpecialistID)
}

// Get returns the cached visibility view for key, populating Redis on a
// miss. As with MemoryCache, a miss recomputes from the registry; the
// result is then written through to Redis, so a failed Redis read or write
// degrades to recomputing on the next Get rather than serving a stale view.
func (c *RedisCache) Get(key CacheKey) (CacheEntry, bool) {
	ctx := context.Background()
	redisKey := c.redisKey(key)

	if raw, err := c.client.Get(ctx, redisKey).Bytes(); err == nil {
		var entry CacheEntry
		if json.Unmarshal(raw, &entry) == nil {
			return entry, true
		}
	}

	defs := c.controller.GetAvailableTools(key.Caller, key.SpecialistID)
	entry := CacheEntry{Definitions: defs, SchemaJSON: encodeSchemas(defs)}
	if raw, err := json.Marshal(entry); err == nil {
		if err := c.client.Set(ctx, redisKey, raw, c.ttl).Err(); err != nil {
			c.logger.Warn(ctx, "redis access cache write failed", "key", redisKey, "error", err.Error())
		}
	}
	return entry, true
}

// Invalidate clears every cached entry under this cache's key prefix.
func (c *RedisCache) Invalidate() {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn(ctx, "redis access cache scan failed during invalidation", "error", err.Error())
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn(ctx, "redis access cache delete failed during invalidation", "error", err.Error())
	}
}
