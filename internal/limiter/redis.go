package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL bumps a counter and guarantees it carries a TTL, so a crashed
// window cannot leak a permanently exhausted key.
var incrWithTTL = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
else
  if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
  end
end
return current
`)

// Redis is a fixed-window limiter over a shared Redis counter, for
// deployments where several processes must agree on one budget.
type Redis struct {
	client  *redis.Client
	window  time.Duration
	maxReqs int
	prefix  string
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client, window time.Duration, maxReqs int, prefix string) *Redis {
	return &Redis{client: client, window: window, maxReqs: maxReqs, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	count, err := incrWithTTL.Run(ctx, r.client, []string{r.prefix + ":" + key}, r.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return count <= r.maxReqs, nil
}

// Open connects a Redis client and validates connectivity with a PING.
func Open(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
