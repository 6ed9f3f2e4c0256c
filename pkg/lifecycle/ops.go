package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sandguard/sandguard/pkg/alerting"
	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/evaluator"
	"github.com/sandguard/sandguard/pkg/limits"
	"github.com/sandguard/sandguard/pkg/throttle"
)

// GetMetrics serves a performance report from the sample cache within its
// TTL; a miss triggers a fresh collection. Reads never take the tick lock
// during collection, so they cannot stall monitoring.
func (m *Manager) GetMetrics(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceReport, error) {
	e, err := m.lockedEntry(key)
	if err != nil {
		return nil, err
	}
	lim := e.sandbox.Limits
	activeThrottle := len(e.throttles) > 0
	e.mu.Unlock()

	sample, hit, err := m.Cache.Get(ctx, key)
	if err != nil {
		m.Logger.Warn(ctx, "Sample cache read failed", map[string]any{
			"sandbox": key.String(), "error": err.Error(),
		})
	}
	if !hit {
		sample, err = m.collect(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := m.Cache.Put(ctx, sample); err != nil {
			m.Logger.Warn(ctx, "Failed to cache sample", map[string]any{
				"sandbox": key.String(), "error": err.Error(),
			})
		}
	}

	violations, derived := evaluator.Evaluate(sample, lim, activeThrottle)
	return &domain.PerformanceReport{
		Key:        key,
		Status:     derived,
		Sample:     *sample,
		Violations: violations,
	}, nil
}

// ApplyThrottle applies a throttle of the given level to one resource. The
// effect is recorded on the sandbox and pushed to the enforcement backend.
func (m *Manager) ApplyThrottle(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, level throttle.Level, duration time.Duration) error {
	e, err := m.lockedEntry(key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return m.throttleLocked(ctx, e, resource, level, duration)
}

// AddThrottleRule validates and appends a rule to the sandbox's ordered rule
// list, returning its assigned id.
func (m *Manager) AddThrottleRule(ctx context.Context, key domain.SandboxKey, rule domain.ThrottleRule) (string, error) {
	if err := limits.ValidateRule(rule); err != nil {
		return "", err
	}
	if rule.Expression != "" {
		if err := throttle.ValidateExpression(rule.Expression); err != nil {
			return "", err
		}
	}

	e, err := m.lockedEntry(key)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	sb := e.sandbox
	sb.Rules = append(sb.Rules, rule)
	sb.UpdatedAt = m.now()
	m.persist(ctx, sb)

	m.Logger.Info(ctx, "Throttle rule added", map[string]any{
		"sandbox": key.String(),
		"rule_id": rule.ID,
		"action":  string(rule.Action),
	})
	return rule.ID, nil
}

// ListAlerts passes the filter through to the alert store.
func (m *Manager) ListAlerts(ctx context.Context, f alerting.AlertFilter) ([]domain.Alert, error) {
	return m.Alerts.ListAlerts(ctx, f)
}

// AcknowledgeAlert marks an alert acknowledged; a second acknowledgment is a
// successful no-op.
func (m *Manager) AcknowledgeAlert(ctx context.Context, alertID, by string) error {
	return m.Alerts.Acknowledge(ctx, alertID, by)
}

// Violations returns a sandbox's violation history.
func (m *Manager) Violations(ctx context.Context, key domain.SandboxKey) ([]domain.Violation, error) {
	if _, ok := m.entryFor(key); !ok {
		return nil, domain.NewNotFoundError("sandbox", key.String())
	}
	return m.Alerts.Violations(ctx, key)
}

// GetStatistics aggregates status counts plus average cpu/memory over the
// sandboxes with a cached sample. Cache reads fan out concurrently.
func (m *Manager) GetStatistics(ctx context.Context) (domain.Statistics, error) {
	m.mu.Lock()
	entries := make(map[domain.SandboxKey]*entry, len(m.entries))
	for k, e := range m.entries {
		entries[k] = e
	}
	m.mu.Unlock()

	var stats domain.Statistics
	stats.Total = len(entries)

	keys := make([]domain.SandboxKey, 0, len(entries))
	for key, e := range entries {
		e.mu.Lock()
		if e.destroyed {
			e.mu.Unlock()
			stats.Total--
			continue
		}
		switch e.sandbox.Status {
		case domain.StatusActive:
			stats.Active++
		case domain.StatusSuspended:
			stats.Suspended++
		case domain.StatusThrottled:
			stats.Throttled++
		}
		e.mu.Unlock()
		keys = append(keys, key)
	}

	var (
		mu      sync.Mutex
		cpuSum  float64
		memSum  float64
		sampled int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			sample, hit, err := m.Cache.Get(gctx, key)
			if err != nil || !hit {
				return nil // absent samples just don't contribute
			}
			mu.Lock()
			cpuSum += sample.CPUUsage
			memSum += sample.MemoryMB
			sampled++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if sampled > 0 {
		stats.AvgCPU = cpuSum / float64(sampled)
		stats.AvgMemory = memSum / float64(sampled)
	}
	return stats, nil
}
