package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandguard/sandguard/pkg/domain"
)

var cacheKey = domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

func TestMemoryCache_ServesWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCache(5 * time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	sample := &domain.PerformanceSample{Key: cacheKey, CPUUsage: 42, CollectedAt: now}
	if err := c.Put(ctx, sample); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, err := c.Get(ctx, cacheKey)
	if err != nil || !hit {
		t.Fatalf("Expected cache hit, hit=%v err=%v", hit, err)
	}
	if got.CPUUsage != 42 {
		t.Errorf("Expected cached cpu 42, got %v", got.CPUUsage)
	}

	// Just inside the window.
	now = now.Add(5 * time.Minute)
	if _, hit, _ := c.Get(ctx, cacheKey); !hit {
		t.Errorf("Expected hit at exactly the TTL boundary")
	}

	// Past the window.
	now = now.Add(time.Second)
	if _, hit, _ := c.Get(ctx, cacheKey); hit {
		t.Errorf("Expected miss after the TTL elapsed")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(5 * time.Minute)
	ctx := context.Background()

	_ = c.Put(ctx, &domain.PerformanceSample{Key: cacheKey, CPUUsage: 1})
	if err := c.Delete(ctx, cacheKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, hit, _ := c.Get(ctx, cacheKey); hit {
		t.Errorf("Expected miss after delete")
	}
}

func TestMemoryCache_CopiesOnRead(t *testing.T) {
	c := NewMemoryCache(5 * time.Minute)
	ctx := context.Background()

	_ = c.Put(ctx, &domain.PerformanceSample{Key: cacheKey, CPUUsage: 10})
	first, _, _ := c.Get(ctx, cacheKey)
	first.CPUUsage = 99

	second, _, _ := c.Get(ctx, cacheKey)
	if second.CPUUsage != 10 {
		t.Errorf("Cached sample was mutated through a read, got %v", second.CPUUsage)
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := &RedisCache{client: client, ttl: 5 * time.Minute}
	ctx := context.Background()

	if _, hit, err := c.Get(ctx, cacheKey); err != nil || hit {
		t.Fatalf("Expected clean miss, hit=%v err=%v", hit, err)
	}

	sample := &domain.PerformanceSample{Key: cacheKey, CPUUsage: 55, MemoryMB: 200}
	if err := c.Put(ctx, sample); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, hit, err := c.Get(ctx, cacheKey)
	if err != nil || !hit {
		t.Fatalf("Expected hit, hit=%v err=%v", hit, err)
	}
	if got.CPUUsage != 55 || got.MemoryMB != 200 {
		t.Errorf("Unexpected sample: %+v", got)
	}

	// Server-side expiry.
	mr.FastForward(6 * time.Minute)
	if _, hit, _ := c.Get(ctx, cacheKey); hit {
		t.Errorf("Expected miss after redis TTL expiry")
	}

	_ = c.Put(ctx, sample)
	if err := c.Delete(ctx, cacheKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, hit, _ := c.Get(ctx, cacheKey); hit {
		t.Errorf("Expected miss after delete")
	}
}
