package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters is a fixed-window CounterStore shared across replicas.
// Each (key, window slot) pair is one INCR counter that expires with the
// window.
type RedisCounters struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures RedisCounters.
type RedisOption func(*RedisCounters)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisCounters) { r.prefix = strings.Trim(prefix, ":") }
}

// WithRedisClock overrides the time source used to pick the window slot.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisCounters) { r.now = now }
}

// NewRedisCounters creates a counter store on rdb.
func NewRedisCounters(rdb redis.UniversalClient, opts ...RedisOption) *RedisCounters {
	r := &RedisCounters{
		rdb:    rdb,
		prefix: "feedbackd:ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Take implements CounterStore.
func (r *RedisCounters) Take(ctx context.Context, key string, b Budget) (Decision, error) {
	windowMs := b.Window.Milliseconds()
	if windowMs <= 0 {
		return Decision{}, fmt.Errorf("window must be at least 1ms, got %s", b.Window)
	}

	nowMs := r.now().UnixMilli()
	slot := nowMs / windowMs
	counterKey := r.slotKey(key, slot)

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, counterKey)
	pipe.PExpire(ctx, counterKey, b.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis counter %s: %w", counterKey, err)
	}

	n := incr.Val()
	if n > int64(b.Limit) {
		reset := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond
		return Decision{Allowed: false, RetryAfter: reset}, nil
	}
	return Decision{Allowed: true, Remaining: b.Limit - int(n)}, nil
}

func (r *RedisCounters) slotKey(key string, slot int64) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, key, slot)
}

// Ping checks connectivity to redis.
func (r *RedisCounters) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
