package refdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheMiss is the sentinel stored for confirmed-absent keys so repeated
// lookups of clean values do not hammer Postgres.
const cacheMiss = "∅"

// CacheTTLs holds the per-kind reference cache TTLs.
type CacheTTLs struct {
	Blacklist   time.Duration
	Disposable  time.Duration
	TorNode     time.Duration
	ASN         time.Duration
	Geolocation time.Duration
}

// DefaultCacheTTLs mirrors the configuration defaults.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Blacklist:   300 * time.Second,
		Disposable:  3600 * time.Second,
		TorNode:     3600 * time.Second,
		ASN:         3600 * time.Second,
		Geolocation: 86400 * time.Second,
	}
}

// refCache is a thin read-through JSON cache over Redis. A nil client
// disables caching entirely; every accessor degrades to the database.
// Staleness up to the TTL is acceptable because ground truth lives in
// Postgres and cache entries are last-writer-wins.
type refCache struct {
	redis *redis.Client
}

// get loads key into dest. The three-valued return distinguishes a cached
// positive (found=true), a cached negative (negative=true) and a cold miss.
func (c *refCache) get(ctx context.Context, key string, dest any) (found, negative bool) {
	if c.redis == nil {
		return false, false
	}
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil and transport errors both mean "go to the database"
		return false, false
	}
	if raw == cacheMiss {
		return false, true
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, false
	}
	return true, false
}

// set stores value under key. Errors are deliberately dropped: the cache is
// an accelerator, never a source of truth.
func (c *refCache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, data, ttl)
}

// setNegative records a confirmed absence under key.
func (c *refCache) setNegative(ctx context.Context, key string, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	c.redis.Set(ctx, key, cacheMiss, ttl)
}

// invalidatePrefix drops all cache entries under a prefix. Used by refresh
// jobs after a table rewrite.
func (c *refCache) invalidatePrefix(ctx context.Context, prefix string) {
	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			c.redis.Del(ctx, keys...)
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
	}
}
