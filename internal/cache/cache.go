// Package cache provides the small byte cache used to memoize uplift prior
// computations and foundation-model inference responses.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

// Key joins namespace parts into a cache key. Keys are namespaced by the
// producing component ("uplift", "foundation") so the two never collide on a
// shared Redis instance.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// GetJSON reads key and unmarshals it into v, reporting whether a usable
// value was found. A corrupt cached value reads as a miss.
func GetJSON(c Cache, key string, v any) bool {
	if c == nil {
		return false
	}
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON marshals v under key. Marshal failures drop the write; the cache
// is a memoization layer, never a source of truth.
func SetJSON(c Cache, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(key, data, ttl)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val []byte
	exp time.Time
}

// New returns an in-process cache, the default backend for single-run
// pipeline invocations.
func New() Cache { return &memoryCache{entries: make(map[string]memoryEntry)} }

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

func (c *memoryCache) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.entries[key] = e
}

// redisOpTimeout bounds each Redis round trip; a slow cache must never stall
// a backtest worker.
const redisOpTimeout = 500 * time.Millisecond

type redisCache struct{ r *redis.Client }

// NewAuto picks Redis when REDIS_ADDR is set, memory otherwise. Scheduled
// deployments set REDIS_ADDR so foundation responses survive across runs.
func NewAuto() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
	}
	return New()
}

// NewRedis wraps an existing client, used directly in tests.
func NewRedis(client *redis.Client) Cache { return &redisCache{r: client} }

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
