package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCounter shares fixed-window counters across instances through Redis.
// The window is enforced by key expiry: the first INCR of a key anchors the
// window and sets the TTL, later increments ride it until it expires.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to the given Redis URL and verifies the connection.
func NewRedisCounter(url string) (*RedisCounter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisCounter{client: c}, nil
}

// Ensure interface compliance at compile time.
var _ Counter = (*RedisCounter)(nil)

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, key string, span time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX so only the first increment of a window sets the expiry.
	pipe.ExpireNX(ctx, key, span)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the underlying client.
func (r *RedisCounter) Close() error { return r.client.Close() }
