package throttle

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sandguard/sandguard/pkg/domain"
)

func TestAPIRateThrottler_ApplyAndRelease(t *testing.T) {
	key := domain.SandboxKey{ModuleID: "m", TenantID: "t", Version: "1"}
	th := NewAPIRateThrottler(60, 10) // 1 token/sec base
	ctx := context.Background()

	base := th.limiter(key).limiter.Limit()
	if base != rate.Limit(1) {
		t.Fatalf("Expected base rate 1/s, got %v", base)
	}

	if err := th.Apply(ctx, key, domain.ResourceAPI, LevelSoft, time.Minute); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := th.limiter(key).limiter.Limit(); got != rate.Limit(0.5) {
		t.Errorf("Expected soft throttle to halve the rate, got %v", got)
	}

	if err := th.Apply(ctx, key, domain.ResourceAPI, LevelHard, time.Minute); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := th.limiter(key).limiter.Limit(); got != rate.Limit(0.25) {
		t.Errorf("Expected hard throttle to quarter the rate, got %v", got)
	}

	if err := th.Release(ctx, key, domain.ResourceAPI); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := th.limiter(key).limiter.Limit(); got != base {
		t.Errorf("Expected base rate restored, got %v", got)
	}
}

func TestAPIRateThrottler_IgnoresOtherResources(t *testing.T) {
	key := domain.SandboxKey{ModuleID: "m", TenantID: "t", Version: "1"}
	th := NewAPIRateThrottler(60, 10)

	if err := th.Apply(context.Background(), key, domain.ResourceCPU, LevelHard, time.Minute); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := th.limiter(key).limiter.Limit(); got != rate.Limit(1) {
		t.Errorf("Non-api resource should not change the rate, got %v", got)
	}
}

func TestAPIRateThrottler_AllowConsumesBurst(t *testing.T) {
	key := domain.SandboxKey{ModuleID: "m", TenantID: "t", Version: "1"}
	th := NewAPIRateThrottler(60, 2)

	if !th.Allow(key) || !th.Allow(key) {
		t.Fatalf("Expected the burst to admit 2 requests")
	}
	if th.Allow(key) {
		t.Errorf("Expected the third immediate request to be rejected")
	}
}
