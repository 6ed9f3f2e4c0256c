// Package lifecycle owns sandbox state: creation, monitoring, graduated
// remediation (throttle, suspend, resume), and teardown. All per-sandbox
// operations are totally ordered via a per-key lock; operations on different
// sandboxes run fully in parallel.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandguard/sandguard/pkg/alerting"
	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/events"
	"github.com/sandguard/sandguard/pkg/limits"
	"github.com/sandguard/sandguard/pkg/metrics"
	"github.com/sandguard/sandguard/pkg/obs"
	"github.com/sandguard/sandguard/pkg/registry"
	"github.com/sandguard/sandguard/pkg/throttle"
	"github.com/sandguard/sandguard/pkg/worker"
)

const (
	// DefaultInterval is the monitoring tick period when a sandbox doesn't
	// configure its own.
	DefaultInterval = 30 * time.Second

	// DefaultCollectTimeout bounds one metrics collection; an expired tick is
	// abandoned and logged, not retried mid-tick.
	DefaultCollectTimeout = 5 * time.Second
)

// Manager is the sandbox lifecycle manager. One instance owns the registry;
// there is no ambient global state.
type Manager struct {
	Registry   registry.Store
	Alerts     alerting.Store
	Source     metrics.Source
	Cache      metrics.SampleCache
	Engine     *throttle.Engine
	Throttlers map[domain.ResourceType]throttle.Throttler
	Workers    worker.Factory
	Bus        events.Bus
	Logger     obs.Logger
	Metrics    obs.Metrics

	Interval       time.Duration
	CollectTimeout time.Duration

	now func() time.Time

	mu      sync.Mutex
	entries map[domain.SandboxKey]*entry
}

// ManagerConfig holds the collaborators a Manager needs.
type ManagerConfig struct {
	Registry   registry.Store
	Alerts     alerting.Store
	Source     metrics.Source
	Cache      metrics.SampleCache
	Engine     *throttle.Engine
	Throttlers map[domain.ResourceType]throttle.Throttler
	Workers    worker.Factory
	Bus        events.Bus
	Logger     obs.Logger
	Metrics    obs.Metrics

	Interval       time.Duration
	CollectTimeout time.Duration
}

// NewManager creates a Manager, filling in safe defaults for optional
// collaborators.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = obs.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewNoopMetrics()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NopBus{}
	}
	if cfg.Cache == nil {
		cfg.Cache = metrics.NewMemoryCache(metrics.DefaultSampleTTL)
	}
	if cfg.Engine == nil {
		cfg.Engine = throttle.NewEngine(cfg.Logger, cfg.Metrics)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = DefaultCollectTimeout
	}
	return &Manager{
		Registry:       cfg.Registry,
		Alerts:         cfg.Alerts,
		Source:         cfg.Source,
		Cache:          cfg.Cache,
		Engine:         cfg.Engine,
		Throttlers:     cfg.Throttlers,
		Workers:        cfg.Workers,
		Bus:            cfg.Bus,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Interval:       cfg.Interval,
		CollectTimeout: cfg.CollectTimeout,
		now:            time.Now,
		entries:        make(map[domain.SandboxKey]*entry),
	}
}

// entry is the live state for one registered sandbox. Its mutex totally
// orders the sandbox's tick and administrative operations.
type entry struct {
	mu sync.Mutex

	sandbox *domain.Sandbox
	worker  worker.Worker

	// throttles maps resource -> expiry of the throttle in effect.
	throttles map[domain.ResourceType]time.Time

	workerUnhealthy bool // last probe result, to alert on transition only
	destroyed       bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func (m *Manager) entryFor(key domain.SandboxKey) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// lockedEntry looks up a sandbox and acquires its lock. An entry that was
// destroyed while the caller queued on the lock is as gone as one that was
// never registered: operating on it would resurrect the deleted record.
// The caller unlocks e.mu on a nil error.
func (m *Manager) lockedEntry(key domain.SandboxKey) (*entry, error) {
	e, ok := m.entryFor(key)
	if !ok {
		return nil, domain.NewNotFoundError("sandbox", key.String())
	}
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil, domain.NewNotFoundError("sandbox", key.String())
	}
	return e, nil
}

// CreateRequest carries everything CreateSandbox needs.
type CreateRequest struct {
	ModuleID  string
	TenantID  string
	Version   string
	Isolation domain.IsolationLevel
	Overrides *domain.ResourceLimits
	// ExtraRules are appended after the default rules, in order.
	ExtraRules []domain.ThrottleRule
	Monitoring *domain.MonitoringConfig
	AutoScale  *domain.AutoScalingConfig
}

// CreateSandbox registers a sandbox, starts its isolated worker, and begins
// monitoring. Fails with AlreadyExists if the key is registered.
func (m *Manager) CreateSandbox(ctx context.Context, req CreateRequest) (*domain.Sandbox, error) {
	key := domain.SandboxKey{ModuleID: req.ModuleID, TenantID: req.TenantID, Version: req.Version}

	resolved, err := limits.ForLevel(req.Isolation, req.Overrides)
	if err != nil {
		return nil, err
	}

	rules := limits.DefaultRules(resolved)
	for _, r := range req.ExtraRules {
		if err := limits.ValidateRule(r); err != nil {
			return nil, err
		}
		if r.Expression != "" {
			if err := throttle.ValidateExpression(r.Expression); err != nil {
				return nil, err
			}
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		rules = append(rules, r)
	}

	monitoring := domain.MonitoringConfig{Interval: m.Interval}
	if req.Monitoring != nil {
		monitoring = *req.Monitoring
		if monitoring.Interval <= 0 {
			monitoring.Interval = m.Interval
		}
	}

	sb := &domain.Sandbox{
		ID:         uuid.New().String(),
		Key:        key,
		Isolation:  req.Isolation,
		Limits:     resolved,
		Rules:      rules,
		Monitoring: monitoring,
		Status:     domain.StatusInitializing,
		CreatedAt:  m.now(),
		UpdatedAt:  m.now(),
	}
	if req.AutoScale != nil {
		sb.AutoScaling = *req.AutoScale
	}

	// Register the key before any side effects so a concurrent create fails
	// fast with AlreadyExists.
	e := &entry{sandbox: sb, throttles: make(map[domain.ResourceType]time.Time)}
	m.mu.Lock()
	if _, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return nil, &domain.AlreadyExistsError{Key: key}
	}
	m.entries[key] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.Registry.Save(ctx, sb); err != nil {
		m.unregister(key)
		return nil, fmt.Errorf("failed to persist sandbox: %w", err)
	}

	w, err := m.Workers.Create(ctx, key, resolved)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		m.unregister(key)
		if delErr := m.Registry.Delete(ctx, key); delErr != nil {
			m.Logger.Warn(ctx, "Failed to clean up sandbox record", map[string]any{
				"sandbox": key.String(), "error": delErr.Error(),
			})
		}
		return nil, fmt.Errorf("failed to start isolated worker: %w", err)
	}
	e.worker = w

	sb.Status = domain.StatusActive
	sb.UpdatedAt = m.now()
	m.persist(ctx, sb)

	m.startLoopLocked(e)

	m.Logger.Info(ctx, "Sandbox created", map[string]any{
		"sandbox":   key.String(),
		"isolation": string(req.Isolation),
		"worker_id": w.ID(),
		"interval":  monitoring.Interval.String(),
	})
	m.Metrics.IncCounter("sandguard_sandbox_created_total", 1,
		obs.Label{Key: "isolation", Value: string(req.Isolation)})
	m.publish(ctx, events.Event{Type: events.SandboxCreated, Key: key, WorkerID: w.ID()})

	snapshot := *sb
	return &snapshot, nil
}

func (m *Manager) unregister(key domain.SandboxKey) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// GetSandbox returns a copy of the sandbox record.
func (m *Manager) GetSandbox(ctx context.Context, key domain.SandboxKey) (*domain.Sandbox, error) {
	e, err := m.lockedEntry(key)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	snapshot := *e.sandbox
	snapshot.Rules = append([]domain.ThrottleRule(nil), e.sandbox.Rules...)
	return &snapshot, nil
}

// Suspend stops a sandbox's worker and monitoring loop. Suspending an
// already-suspended sandbox is a no-op.
func (m *Manager) Suspend(ctx context.Context, key domain.SandboxKey, reason string) error {
	e, err := m.lockedEntry(key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return m.suspendLocked(ctx, e, reason)
}

// suspendLocked performs the suspension with e.mu held. It cancels the
// monitoring loop but does not wait for it: the loop may be the caller.
func (m *Manager) suspendLocked(ctx context.Context, e *entry, reason string) error {
	sb := e.sandbox
	if sb.Status == domain.StatusSuspended {
		return nil
	}

	m.stopLoopLocked(e)

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

	sb.Status = domain.StatusSuspended
	sb.SuspendReason = reason
	sb.UpdatedAt = m.now()
	m.persist(ctx, sb)

	if _, err := m.Alerts.CreateAlert(ctx, domain.Alert{
		ModuleID: sb.Key.ModuleID,
		TenantID: sb.Key.TenantID,
		Version:  sb.Key.Version,
		Type:     domain.AlertBlocking,
		Message:  fmt.Sprintf("sandbox suspended: %s", reason),
	}); err != nil {
		m.Logger.Warn(ctx, "Failed to record suspension alert", map[string]any{
			"sandbox": sb.Key.String(), "error": err.Error(),
		})
	}

	m.Logger.Info(ctx, "Sandbox suspended", map[string]any{
		"sandbox": sb.Key.String(), "reason": reason,
	})
	m.Metrics.IncCounter("sandguard_sandbox_suspended_total", 1)
	m.publish(ctx, events.Event{Type: events.SandboxSuspended, Key: sb.Key, Reason: reason})
	return nil
}

// Resume restarts a suspended sandbox with a freshly created worker.
func (m *Manager) Resume(ctx context.Context, key domain.SandboxKey) error {
	e, err := m.lockedEntry(key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	sb := e.sandbox
	if sb.Status != domain.StatusSuspended {
		return &domain.NotSuspendedError{Key: key, Status: sb.Status}
	}

	w, err := m.Workers.Create(ctx, key, sb.Limits)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to start isolated worker: %w", err)
	}
	e.worker = w
	e.workerUnhealthy = false

	sb.Status = domain.StatusActive
	sb.SuspendReason = ""
	sb.UpdatedAt = m.now()
	m.persist(ctx, sb)

	m.startLoopLocked(e)

	m.Logger.Info(ctx, "Sandbox resumed", map[string]any{
		"sandbox": key.String(), "worker_id": w.ID(),
	})
	m.Metrics.IncCounter("sandguard_sandbox_resumed_total", 1)
	m.publish(ctx, events.Event{Type: events.SandboxResumed, Key: key, WorkerID: w.ID()})
	return nil
}

// UpdateLimits validates and merges partial limits into the sandbox. The new
// limits take effect on the next tick, never retroactively.
func (m *Manager) UpdateLimits(ctx context.Context, key domain.SandboxKey, partial domain.ResourceLimits) error {
	if err := limits.Validate(partial); err != nil {
		return err
	}

	e, err := m.lockedEntry(key)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	sb := e.sandbox
	sb.Limits = limits.Merge(sb.Limits, partial)
	sb.UpdatedAt = m.now()
	m.persist(ctx, sb)

	m.Logger.Info(ctx, "Sandbox limits updated", map[string]any{
		"sandbox": key.String(),
	})
	return nil
}

// Destroy permanently removes a sandbox: cancels its timer, waits out any
// in-flight tick (bounded by the collection timeout), terminates the worker,
// and deletes the record.
func (m *Manager) Destroy(ctx context.Context, key domain.SandboxKey) error {
	e, err := m.lockedEntry(key)
	if err != nil {
		return err
	}
	// Cancel first so a tick blocked on the entry lock bails out once it
	// sees the entry gone.
	m.stopLoopLocked(e)
	done := e.loopDone

	if e.worker != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.CollectTimeout)
		if err := e.worker.Stop(stopCtx); err != nil {
			m.Logger.Error(ctx, "Failed to stop isolated worker", map[string]any{
				"sandbox": key.String(), "error": err.Error(),
			})
		}
		cancel()
		e.worker = nil
	}

	sb := e.sandbox
	e.destroyed = true
	m.unregister(key)
	m.Engine.Forget(sb.Rules)
	e.mu.Unlock()

	// The loop goroutine exits after the in-flight dispatch completes; no
	// orphaned timers survive a destroy.
	if done != nil {
		select {
		case <-done:
		case <-time.After(m.CollectTimeout + time.Second):
			m.Logger.Warn(ctx, "Monitoring loop did not stop in time", map[string]any{
				"sandbox": key.String(),
			})
		}
	}

	if err := m.Cache.Delete(ctx, key); err != nil {
		m.Logger.Warn(ctx, "Failed to drop cached sample", map[string]any{
			"sandbox": key.String(), "error": err.Error(),
		})
	}
	if err := m.Registry.Delete(ctx, key); err != nil {
		m.Logger.Warn(ctx, "Failed to delete sandbox record", map[string]any{
			"sandbox": key.String(), "error": err.Error(),
		})
	}

	m.Logger.Info(ctx, "Sandbox destroyed", map[string]any{"sandbox": key.String()})
	m.Metrics.IncCounter("sandguard_sandbox_destroyed_total", 1)
	m.publish(ctx, events.Event{Type: events.SandboxDestroyed, Key: key})
	return nil
}

// Shutdown stops every monitoring loop and worker without deleting records.
// Used by the daemon on graceful exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	keys := make([]domain.SandboxKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		e, ok := m.entryFor(key)
		if !ok {
			continue
		}
		e.mu.Lock()
		m.stopLoopLocked(e)
		if e.worker != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), m.CollectTimeout)
			_ = e.worker.Stop(stopCtx)
			cancel()
			e.worker = nil
		}
		e.mu.Unlock()
	}
}

// persist writes the record through and logs a warning on failure. In-memory
// state is never rolled back: resource protection must not be weakened by a
// storage outage.
func (m *Manager) persist(ctx context.Context, sb *domain.Sandbox) {
	if err := m.Registry.Save(ctx, sb); err != nil {
		m.Logger.Warn(ctx, "Failed to persist sandbox state", map[string]any{
			"sandbox": sb.Key.String(),
			"status":  string(sb.Status),
			"error":   err.Error(),
		})
		m.Metrics.IncCounter("sandguard_persistence_failures_total", 1)
	}
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if err := m.Bus.Publish(ctx, ev); err != nil {
		m.Logger.Warn(ctx, "Failed to publish event", map[string]any{
			"type":  string(ev.Type),
			"error": err.Error(),
		})
	}
}
