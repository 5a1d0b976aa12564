package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache stores prior results of idempotent capabilities keyed by the
// capability name and an argument hash. It is a pure accelerator: losing it
// never changes correctness, only latency, so implementations may evict
// freely and misses on error are silent.
type ResultCache interface {
	Get(ctx context.Context, key string) (map[string]interface{}, bool)
	Set(ctx context.Context, key string, result map[string]interface{}, ttl time.Duration)
}

// CacheKey derives a deterministic key from a capability name and its
// arguments. Arguments are serialized with sorted keys so equivalent maps
// hash identically.
func CacheKey(capability string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		b, _ := json.Marshal(args[k])
		fmt.Fprintf(h, "%s=%s;", k, b)
	}
	return capability + ":" + hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	result    map[string]interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process ResultCache used when redis is not configured
// and in tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (map[string]interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Expired entries are treated as absent, never returned.
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.result, true
}

func (c *MemoryCache) Set(_ context.Context, key string, result map[string]interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{result: result, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// RedisCache is a ResultCache backed by redis with TTL-based expiry.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects a redis-backed cache.
func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisCache{client: rdb, prefix: "placeagent:result:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (map[string]interface{}, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result map[string]interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}
