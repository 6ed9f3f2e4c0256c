package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/evaluator"
	"github.com/sandguard/sandguard/pkg/events"
	"github.com/sandguard/sandguard/pkg/obs"
	"github.com/sandguard/sandguard/pkg/throttle"
)

// startLoopLocked launches the per-sandbox monitoring goroutine. Caller holds
// e.mu. One independent timer per active sandbox; fires are dispatched as
// independent units of work serialized only by the entry lock.
func (m *Manager) startLoopLocked(e *entry) {
	if e.loopCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.loopCancel = cancel
	e.loopDone = done

	key := e.sandbox.Key
	interval := e.sandbox.Monitoring.Interval
	if interval <= 0 {
		interval = m.Interval
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Tick(ctx, key); err != nil {
					var nf *domain.NotFoundError
					if errors.As(err, &nf) {
						return // destroyed underneath us
					}
					m.Logger.Error(ctx, "Monitoring tick failed", map[string]any{
						"sandbox": key.String(), "error": err.Error(),
					})
				}
			}
		}
	}()
}

// stopLoopLocked cancels the monitoring goroutine without waiting for it.
// Caller holds e.mu; e.loopDone stays readable for destroy's bounded wait.
func (m *Manager) stopLoopLocked(e *entry) {
	if e.loopCancel != nil {
		e.loopCancel()
		e.loopCancel = nil
	}
}

// Tick runs one collect -> evaluate -> act cycle for a sandbox. Ticks for the
// same sandbox never overlap; ticks across sandboxes run concurrently.
func (m *Manager) Tick(ctx context.Context, key domain.SandboxKey) error {
	e, ok := m.entryFor(key)
	if !ok {
		return domain.NewNotFoundError("sandbox", key.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return domain.NewNotFoundError("sandbox", key.String())
	}
	sb := e.sandbox
	if sb.Status == domain.StatusSuspended || sb.Status == domain.StatusInitializing {
		return nil
	}

	start := m.now()
	sample, err := m.collect(ctx, key)
	if err != nil {
		// A failing source never crashes the loop: log, count, retry on the
		// next scheduled tick.
		m.Logger.Warn(ctx, "Metrics collection failed, skipping tick", map[string]any{
			"sandbox": key.String(), "error": err.Error(),
		})
		m.Metrics.IncCounter("sandguard_collection_errors_total", 1)
		return nil
	}

	if err := m.Cache.Put(ctx, sample); err != nil {
		m.Logger.Warn(ctx, "Failed to cache sample", map[string]any{
			"sandbox": key.String(), "error": err.Error(),
		})
	}

	m.pruneThrottlesLocked(ctx, e)
	activeThrottle := len(e.throttles) > 0

	violations, derived := evaluator.Evaluate(sample, sb.Limits, activeThrottle)

	critical := evaluator.HasCritical(violations)
	for i := range violations {
		if violations[i].Severity == domain.SeverityCritical {
			violations[i].Action = string(domain.ActionSuspend)
		}
		if err := m.Alerts.AppendViolation(ctx, violations[i]); err != nil {
			m.Logger.Warn(ctx, "Failed to record violation", map[string]any{
				"sandbox": key.String(), "error": err.Error(),
			})
		}
		m.Metrics.IncCounter("sandguard_violations_total", 1,
			obs.Label{Key: "resource", Value: string(violations[i].Resource)},
			obs.Label{Key: "severity", Value: string(violations[i].Severity)},
		)
	}

	if t := sb.Monitoring.AlertThreshold; t > 0 && len(violations) >= t {
		if _, err := m.Alerts.CreateAlert(ctx, domain.Alert{
			ModuleID: key.ModuleID,
			TenantID: key.TenantID,
			Version:  key.Version,
			Type:     domain.AlertWarning,
			Message:  fmt.Sprintf("%d violations in one monitoring tick", len(violations)),
		}); err != nil {
			m.Logger.Warn(ctx, "Failed to record threshold alert", map[string]any{
				"sandbox": key.String(), "error": err.Error(),
			})
		}
	}

	m.Engine.EvaluateTick(ctx, key, sample, sb.Rules, &tickActions{m: m, e: e})

	// A rule may already have suspended the sandbox; suspendLocked is
	// idempotent either way.
	if critical && sb.Status != domain.StatusSuspended {
		if err := m.suspendLocked(ctx, e, "critical resource violation"); err != nil {
			return err
		}
	}

	m.probeWorkerLocked(ctx, e)

	m.Metrics.ObserveHistogram("sandguard_tick_duration_seconds", m.now().Sub(start).Seconds())
	m.Metrics.IncCounter("sandguard_ticks_total", 1,
		obs.Label{Key: "status", Value: string(derived)})
	return nil
}

// collect samples the metrics source under the hard collection timeout.
func (m *Manager) collect(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error) {
	collectCtx, cancel := context.WithTimeout(ctx, m.CollectTimeout)
	defer cancel()

	sample, err := m.Source.Sample(collectCtx, key)
	if err != nil {
		var ce *domain.CollectionError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &domain.CollectionError{Key: key, Cause: err}
	}
	return sample, nil
}

// pruneThrottlesLocked drops expired throttles and, when the last one lapses,
// moves a throttled sandbox back to active.
func (m *Manager) pruneThrottlesLocked(ctx context.Context, e *entry) {
	sb := e.sandbox
	now := m.now()
	for resource, until := range e.throttles {
		if now.Before(until) {
			continue
		}
		delete(e.throttles, resource)
		if err := m.throttler(resource).Release(ctx, sb.Key, resource); err != nil {
			m.Logger.Warn(ctx, "Failed to release throttle", map[string]any{
				"sandbox": sb.Key.String(), "resource": string(resource), "error": err.Error(),
			})
		}
	}
	if len(e.throttles) == 0 && sb.Status == domain.StatusThrottled {
		sb.Status = domain.StatusActive
		sb.UpdatedAt = now
		m.persist(ctx, sb)
		m.Logger.Info(ctx, "Throttle lapsed, sandbox active again", map[string]any{
			"sandbox": sb.Key.String(),
		})
	}
}

// probeWorkerLocked raises a warning alert when an active worker stops
// answering its health probe. Alerts only on the healthy->unhealthy edge.
func (m *Manager) probeWorkerLocked(ctx context.Context, e *entry) {
	sb := e.sandbox
	if e.worker == nil || sb.Status == domain.StatusSuspended {
		return
	}
	healthy := e.worker.Healthy(ctx)
	if healthy {
		e.workerUnhealthy = false
		return
	}
	if e.workerUnhealthy {
		return
	}
	e.workerUnhealthy = true
	if _, err := m.Alerts.CreateAlert(ctx, domain.Alert{
		ModuleID: sb.Key.ModuleID,
		TenantID: sb.Key.TenantID,
		Version:  sb.Key.Version,
		Type:     domain.AlertWarning,
		Message:  "isolated worker failed health probe",
	}); err != nil {
		m.Logger.Warn(ctx, "Failed to record health alert", map[string]any{
			"sandbox": sb.Key.String(), "error": err.Error(),
		})
	}
	m.Metrics.IncCounter("sandguard_worker_unhealthy_total", 1)
}

func (m *Manager) throttler(resource domain.ResourceType) throttle.Throttler {
	if t, ok := m.Throttlers[resource]; ok {
		return t
	}
	return throttle.NopThrottler{}
}

// throttleLocked records a throttle in effect and applies the backend.
// Caller holds e.mu.
func (m *Manager) throttleLocked(ctx context.Context, e *entry, resource domain.ResourceType, level throttle.Level, duration time.Duration) error {
	sb := e.sandbox
	if duration <= 0 {
		duration = time.Minute
	}
	e.throttles[resource] = m.now().Add(duration)

	if err := m.throttler(resource).Apply(ctx, sb.Key, resource, level, duration); err != nil {
		m.Logger.Error(ctx, "Throttle backend failed", map[string]any{
			"sandbox": sb.Key.String(), "resource": string(resource), "error": err.Error(),
		})
	}

	if sb.Status == domain.StatusActive {
		sb.Status = domain.StatusThrottled
		sb.UpdatedAt = m.now()
		m.persist(ctx, sb)
	}

	m.Logger.Info(ctx, "Throttle applied", map[string]any{
		"sandbox":  sb.Key.String(),
		"resource": string(resource),
		"level":    string(level),
		"duration": duration.String(),
	})
	m.Metrics.IncCounter("sandguard_throttles_total", 1,
		obs.Label{Key: "resource", Value: string(resource)})
	m.publish(ctx, events.Event{Type: events.SandboxThrottled, Key: sb.Key, Resource: resource})
	return nil
}

// restartLocked replaces the worker without any suspend bookkeeping.
func (m *Manager) restartLocked(ctx context.Context, e *entry) error {
	sb := e.sandbox

	if e.worker != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.CollectTimeout)
		if err := e.worker.Stop(stopCtx); err != nil {
			m.Logger.Error(ctx, "Failed to stop isolated worker", map[string]any{
				"sandbox": sb.Key.String(), "error": err.Error(),
			})
		}
		cancel()
		e.worker = nil
	}

	w, err := m.Workers.Create(ctx, sb.Key, sb.Limits)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to restart isolated worker: %w", err)
	}
	e.worker = w
	e.workerUnhealthy = false

	m.Logger.Info(ctx, "Worker restarted", map[string]any{
		"sandbox": sb.Key.String(), "worker_id": w.ID(),
	})
	m.Metrics.IncCounter("sandguard_worker_restarted_total", 1)
	m.publish(ctx, events.Event{Type: events.WorkerRestarted, Key: sb.Key, WorkerID: w.ID()})
	return nil
}

// tickActions adapts the rule engine's verdicts onto the locked entry. The
// engine runs inside the tick, so these must not re-acquire e.mu.
type tickActions struct {
	m *Manager
	e *entry
}

func (a *tickActions) Throttle(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, duration time.Duration) error {
	return a.m.throttleLocked(ctx, a.e, resource, throttle.LevelSoft, duration)
}

func (a *tickActions) Suspend(ctx context.Context, key domain.SandboxKey, reason string) error {
	return a.m.suspendLocked(ctx, a.e, reason)
}

func (a *tickActions) Alert(ctx context.Context, key domain.SandboxKey, message string) error {
	_, err := a.m.Alerts.CreateAlert(ctx, domain.Alert{
		ModuleID: key.ModuleID,
		TenantID: key.TenantID,
		Version:  key.Version,
		Type:     domain.AlertInfo,
		Message:  message,
	})
	return err
}

func (a *tickActions) Restart(ctx context.Context, key domain.SandboxKey) error {
	return a.m.restartLocked(ctx, a.e)
}
