package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a counting window for velocity tracking.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// TTL returns the window length, which is also the key TTL.
func (w Window) TTL() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// bucket returns the time-bucket suffix so counts reset at window
// boundaries rather than sliding.
func (w Window) bucket(now time.Time) string {
	switch w {
	case WindowMinute:
		return fmt.Sprintf("%d", now.Unix()/60)
	case WindowHour:
		return fmt.Sprintf("%d", now.Unix()/3600)
	case WindowDay:
		return now.UTC().Format("2006-01-02")
	default:
		return fmt.Sprintf("%d", now.Unix()/3600)
	}
}

// Lua script for atomic increment-with-TTL. The EXPIRE only fires on the
// first write of the window, mirroring INCR semantics exactly; GET → INCR
// patterns race under concurrent evaluations.
const bumpLuaScript = `
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIRE", key, ttl)
end

return count
`

// Counter provides short-window per-key velocity counters in Redis.
// Keys are always keyed hashes, never plaintext identity values.
type Counter struct {
	redis      *redis.Client
	bumpScript *redis.Script
}

// NewCounter creates a velocity counter with a pre-compiled Lua script.
func NewCounter(redisClient *redis.Client) *Counter {
	return &Counter{
		redis:      redisClient,
		bumpScript: redis.NewScript(bumpLuaScript),
	}
}

// Bump atomically increments the counter for (kind, key, window) and returns
// the post-increment count. The TTL is set on first write to the window
// length; no other eviction exists.
func (c *Counter) Bump(ctx context.Context, kind, key string, window Window) (int64, error) {
	redisKey := c.counterKey(kind, key, window, time.Now())

	count, err := c.bumpScript.Run(ctx, c.redis,
		[]string{redisKey},
		int(window.TTL().Seconds()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("velocity bump %s/%s: %w", kind, window, err)
	}
	return count, nil
}

// Peek returns the current count without incrementing. Missing keys count
// as zero.
func (c *Counter) Peek(ctx context.Context, kind, key string, window Window) (int64, error) {
	redisKey := c.counterKey(kind, key, window, time.Now())
	count, err := c.redis.Get(ctx, redisKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("velocity peek %s/%s: %w", kind, window, err)
	}
	return count, nil
}

func (c *Counter) counterKey(kind, key string, window Window, now time.Time) string {
	return fmt.Sprintf("velocity:%s:%s:%s:%s", kind, key, window, window.bucket(now))
}
