package drafts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache abstracts the key/value operations the draft store needs. A missing key
// is reported as redis.Nil by every implementation.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Del removes key from Redis.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

type memoryEntry struct {
	value string
	timer *time.Timer
}

// MemoryCache keeps drafts in process memory. Entries expire via timers.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]*memoryEntry
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]*memoryEntry)}
}

// Set stores value under key, replacing any previous entry.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}

	entry := &memoryEntry{value: s}
	if expiration > 0 {
		entry.timer = time.AfterFunc(expiration, func() {
			c.expire(key, entry)
		})
	}

	c.mu.Lock()
	previous := c.data[key]
	c.data[key] = entry
	c.mu.Unlock()

	if previous != nil && previous.timer != nil {
		previous.timer.Stop()
	}
	return nil
}

// Get returns the value for key or redis.Nil.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return "", redis.Nil
	}
	return entry.value, nil
}

// Del stops the entry's timer and removes it.
func (c *MemoryCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	entry, ok := c.data[key]
	if ok {
		delete(c.data, key)
	}
	c.mu.Unlock()

	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *MemoryCache) expire(key string, entry *memoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data[key] == entry {
		delete(c.data, key)
	}
}
