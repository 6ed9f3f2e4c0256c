package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandguard/sandguard/pkg/domain"
)

// DefaultSampleTTL is how long a collected sample serves reads before a
// fresh collection is forced.
const DefaultSampleTTL = 5 * time.Minute

// SampleCache serves metric reads within the TTL window. Concurrent reads
// never block on writes.
type SampleCache interface {
	Get(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, bool, error)
	Put(ctx context.Context, sample *domain.PerformanceSample) error
	Delete(ctx context.Context, key domain.SandboxKey) error
}

// MemoryCache is an in-process SampleCache. Expiry is checked on read.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[domain.SandboxKey]memoryEntry
}

type memoryEntry struct {
	sample  domain.PerformanceSample
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultSampleTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[domain.SandboxKey]memoryEntry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expires) {
		return nil, false, nil
	}
	sample := entry.sample
	return &sample, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, sample *domain.PerformanceSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sample.Key] = memoryEntry{
		sample:  *sample,
		expires: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key domain.SandboxKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// RedisCache stores samples as JSON under a TTL'd key, so reads stay cheap
// across governor instances and expiry is enforced server-side.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, db int, password string, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultSampleTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func sampleKey(key domain.SandboxKey) string {
	return fmt.Sprintf("sandguard:sample:%s", key)
}

func (c *RedisCache) Get(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, bool, error) {
	val, err := c.client.Get(ctx, sampleKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read sample: %w", err)
	}

	var sample domain.PerformanceSample
	if err := json.Unmarshal([]byte(val), &sample); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	return &sample, true, nil
}

func (c *RedisCache) Put(ctx context.Context, sample *domain.PerformanceSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}
	if err := c.client.Set(ctx, sampleKey(sample.Key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache sample: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key domain.SandboxKey) error {
	if err := c.client.Del(ctx, sampleKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to drop sample: %w", err)
	}
	return nil
}
