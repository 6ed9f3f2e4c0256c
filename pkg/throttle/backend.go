package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sandguard/sandguard/pkg/domain"
)

// Level is the strength of an applied throttle.
type Level string

const (
	LevelSoft Level = "soft" // halve the allowance
	LevelHard Level = "hard" // quarter the allowance
)

// Throttler is the per-resource enforcement backend. The governor records
// the effect; the backend does the actual squeezing.
type Throttler interface {
	Apply(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, level Level, duration time.Duration) error
	Release(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType) error
}

// NopThrottler records nothing and enforces nothing. Deployments without a
// backend for a resource fall back to it.
type NopThrottler struct{}

func (NopThrottler) Apply(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, level Level, duration time.Duration) error {
	return nil
}

func (NopThrottler) Release(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType) error {
	return nil
}

// APIRateThrottler enforces API throttles with per-sandbox token buckets.
// The platform gateway consults Allow before admitting a request.
type APIRateThrottler struct {
	baseRPM float64
	burst   int

	mu       sync.RWMutex
	limiters map[domain.SandboxKey]*bucketEntry
}

type bucketEntry struct {
	limiter *rate.Limiter
	until   time.Time
}

func NewAPIRateThrottler(baseRequestsPerMinute float64, burst int) *APIRateThrottler {
	return &APIRateThrottler{
		baseRPM:  baseRequestsPerMinute,
		burst:    burst,
		limiters: make(map[domain.SandboxKey]*bucketEntry),
	}
}

func (t *APIRateThrottler) limiter(key domain.SandboxKey) *bucketEntry {
	t.mu.RLock()
	entry, ok := t.limiters[key]
	t.mu.RUnlock()
	if ok {
		return entry
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok = t.limiters[key]; ok {
		return entry
	}
	entry = &bucketEntry{
		limiter: rate.NewLimiter(rate.Limit(t.baseRPM/60), t.burst),
	}
	t.limiters[key] = entry
	return entry
}

// Apply reduces a sandbox's token rate for the throttle duration.
func (t *APIRateThrottler) Apply(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, level Level, duration time.Duration) error {
	if resource != domain.ResourceAPI {
		return nil
	}

	divisor := 2.0
	if level == LevelHard {
		divisor = 4.0
	}

	entry := t.limiter(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.limiter.SetLimit(rate.Limit(t.baseRPM / 60 / divisor))
	entry.until = time.Now().Add(duration)
	return nil
}

// Release restores the base rate.
func (t *APIRateThrottler) Release(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType) error {
	if resource != domain.ResourceAPI {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.limiters[key]; ok {
		entry.limiter.SetLimit(rate.Limit(t.baseRPM / 60))
		entry.until = time.Time{}
	}
	return nil
}

// Allow reports whether a request for the sandbox should be admitted, and
// lazily restores the base rate once a throttle window has lapsed.
func (t *APIRateThrottler) Allow(key domain.SandboxKey) bool {
	entry := t.limiter(key)

	t.mu.Lock()
	if !entry.until.IsZero() && time.Now().After(entry.until) {
		entry.limiter.SetLimit(rate.Limit(t.baseRPM / 60))
		entry.until = time.Time{}
	}
	t.mu.Unlock()

	return entry.limiter.Allow()
}

// Forget drops the bucket for a destroyed sandbox.
func (t *APIRateThrottler) Forget(key domain.SandboxKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, key)
}
