package events

import (
	"context"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
)

// Deduper answers whether a dedup key has already been observed. Seen marks the
// key as observed as a side effect, so the first caller gets false and every
// subsequent caller within the retention window gets true.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type memoryDeduper struct {
	mu   sync.Mutex
	m    map[string]time.Time
	ttl  time.Duration
	clk  clock.Clock
	last time.Time
}

// NewMemoryDeduper keeps dedup keys in process memory with the given retention.
func NewMemoryDeduper(clk clock.Clock, ttl time.Duration) Deduper {
	return &memoryDeduper{
		m:   make(map[string]time.Time),
		ttl: ttl,
		clk: clk,
	}
}

func (d *memoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clk.Now()
	if exp, ok := d.m[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.m[key] = now.Add(d.ttl)

	// Prune expired keys at most once per retention window.
	if now.Sub(d.last) >= d.ttl {
		for k, exp := range d.m {
			if !now.Before(exp) {
				delete(d.m, k)
			}
		}
		d.last = now
	}
	return false, nil
}

type redisDeduper struct {
	r   *redis.Client
	ttl time.Duration
}

// NewRedisDeduper shares dedup state through Redis so restarts within the
// retention window still suppress redelivered events.
func NewRedisDeduper(r *redis.Client, ttl time.Duration) Deduper {
	return &redisDeduper{r: r, ttl: ttl}
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.r.SetNX(ctx, "dedup:"+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// NewAutoDeduper returns a Redis-backed deduper when REDIS_ADDR is set and the
// server answers a ping, otherwise the in-memory deduper.
func NewAutoDeduper(clk clock.Clock, ttl time.Duration) Deduper {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return NewMemoryDeduper(clk, ttl)
	}
	r := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Redis unreachable, falling back to in-memory dedup")
		return NewMemoryDeduper(clk, ttl)
	}
	return NewRedisDeduper(r, ttl)
}
