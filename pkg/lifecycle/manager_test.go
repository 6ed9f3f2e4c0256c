package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandguard/sandguard/pkg/alerting"
	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/events"
	"github.com/sandguard/sandguard/pkg/registry"
	"github.com/sandguard/sandguard/pkg/throttle"
	"github.com/sandguard/sandguard/pkg/worker"
)

// stubSource serves a controllable sample and counts collections.
type stubSource struct {
	mu      sync.Mutex
	samples map[domain.SandboxKey]domain.PerformanceSample
	err     error
	calls   int
	block   chan struct{} // when set, Sample waits for it (or ctx)
}

func newStubSource() *stubSource {
	return &stubSource{samples: make(map[domain.SandboxKey]domain.PerformanceSample)}
}

func (s *stubSource) set(key domain.SandboxKey, sample domain.PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.Key = key
	if sample.CollectedAt.IsZero() {
		sample.CollectedAt = time.Now()
	}
	s.samples[key] = sample
}

func (s *stubSource) Sample(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	sample, ok := s.samples[key]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &domain.CollectionError{Key: key, Cause: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.CollectionError{Key: key}
	}
	return &sample, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	manager *Manager
	source  *stubSource
	factory *worker.FakeFactory
	store   *registry.MemoryStore
	alerts  *alerting.MemoryStore
	bus     *events.ChannelBus
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		source:  newStubSource(),
		factory: worker.NewFakeFactory(),
		store:   registry.NewMemoryStore(),
		alerts:  alerting.NewMemoryStore(),
		bus:     events.NewChannelBus(),
		now:     time.Unix(10000, 0),
	}
	env.manager = NewManager(ManagerConfig{
		Registry: env.store,
		Alerts:   env.alerts,
		Source:   env.source,
		Workers:  env.factory,
		Bus:      env.bus,
		Interval: time.Hour, // background loops stay inert; ticks run manually
	})
	env.manager.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) create(t *testing.T, module string, isolation domain.IsolationLevel) domain.SandboxKey {
	t.Helper()
	key := domain.SandboxKey{ModuleID: module, TenantID: "acme", Version: "1.0.0"}
	_, err := env.manager.CreateSandbox(context.Background(), CreateRequest{
		ModuleID:  key.ModuleID,
		TenantID:  key.TenantID,
		Version:   key.Version,
		Isolation: isolation,
	})
	if err != nil {
		t.Fatalf("CreateSandbox failed: %v", err)
	}
	return key
}

func (env *testEnv) alertsOfType(t *testing.T, typ domain.AlertType) []domain.Alert {
	t.Helper()
	all, err := env.alerts.ListAlerts(context.Background(), alerting.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	var out []domain.Alert
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestCreateSandbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sb, err := env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: "billing", TenantID: "acme", Version: "1.0.0",
		Isolation: domain.IsolationStrict,
	})
	if err != nil {
		t.Fatalf("CreateSandbox failed: %v", err)
	}

	if sb.Status != domain.StatusActive {
		t.Errorf("Expected active status, got %s", sb.Status)
	}
	if sb.Limits.CPU.MaxUsage != 15 {
		t.Errorf("Expected strict cpu limit 15, got %v", sb.Limits.CPU.MaxUsage)
	}
	if len(sb.Rules) != 3 {
		t.Errorf("Expected 3 default rules, got %d", len(sb.Rules))
	}

	workers := env.factory.Created()
	if len(workers) != 1 || !workers[0].Started() {
		t.Errorf("Expected one started worker")
	}

	stored, err := env.store.Get(ctx, sb.Key)
	if err != nil {
		t.Fatalf("Record not persisted: %v", err)
	}
	if stored.Status != domain.StatusActive {
		t.Errorf("Persisted status %s, want active", stored.Status)
	}

	// The key is taken until destroyed.
	_, err = env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: "billing", TenantID: "acme", Version: "1.0.0",
		Isolation: domain.IsolationLight,
	})
	var exists *domain.AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Errorf("Expected AlreadyExists for duplicate key, got %v", err)
	}
}

func TestCreateSandbox_WorkerFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.factory.FailCreate = errors.New("runtime unavailable")

	_, err := env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: "billing", TenantID: "acme", Version: "1.0.0",
		Isolation: domain.IsolationMedium,
	})
	if err == nil {
		t.Fatalf("Expected worker failure to surface")
	}

	key := domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}
	var nf *domain.NotFoundError
	if _, err := env.store.Get(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected no persisted record after failed create, got %v", err)
	}

	// The key is free again.
	if _, err := env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: "billing", TenantID: "acme", Version: "1.0.0",
		Isolation: domain.IsolationMedium,
	}); err != nil {
		t.Errorf("Expected create to succeed after cleanup, got %v", err)
	}
}

func TestSuspendAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	if err := env.manager.Suspend(ctx, key, "tenant budget exhausted"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusSuspended || sb.SuspendReason != "tenant budget exhausted" {
		t.Errorf("Unexpected state after suspend: %+v", sb)
	}
	if !env.factory.Created()[0].Stopped() {
		t.Errorf("Expected the worker stopped on suspend")
	}

	blocking := env.alertsOfType(t, domain.AlertBlocking)
	if len(blocking) != 1 || !strings.Contains(blocking[0].Message, "tenant budget exhausted") {
		t.Fatalf("Expected one blocking alert with the reason, got %+v", blocking)
	}

	// Second suspend is a no-op: no second alert, no error.
	if err := env.manager.Suspend(ctx, key, "again"); err != nil {
		t.Fatalf("Idempotent suspend failed: %v", err)
	}
	if got := env.alertsOfType(t, domain.AlertBlocking); len(got) != 1 {
		t.Errorf("Second suspend must not create another alert, got %d", len(got))
	}

	if err := env.manager.Resume(ctx, key); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	sb, _ = env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusActive || sb.SuspendReason != "" {
		t.Errorf("Unexpected state after resume: %+v", sb)
	}

	workers := env.factory.Created()
	if len(workers) != 2 {
		t.Fatalf("Expected a fresh worker on resume, got %d workers", len(workers))
	}
	if workers[0].ID() == workers[1].ID() {
		t.Errorf("Resumed worker must have a new identity")
	}

	// Resume only applies to suspended sandboxes.
	var ns *domain.NotSuspendedError
	if err := env.manager.Resume(ctx, key); !errors.As(err, &ns) {
		t.Errorf("Expected NotSuspended for active sandbox, got %v", err)
	}
}

func TestTick_CriticalViolationSuspends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationStrict)

	env.source.set(key, domain.PerformanceSample{CPUUsage: 92})
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusSuspended {
		t.Fatalf("Expected suspension on critical violation, got %s", sb.Status)
	}
	if sb.SuspendReason == "" {
		t.Errorf("Expected a recorded suspend reason")
	}

	history, _ := env.alerts.Violations(ctx, key)
	if len(history) != 1 {
		t.Fatalf("Expected one violation recorded, got %d", len(history))
	}
	if history[0].Severity != domain.SeverityCritical {
		t.Errorf("Expected critical violation, got %s", history[0].Severity)
	}
	if history[0].Action != string(domain.ActionSuspend) {
		t.Errorf("Expected suspend action on the record, got %q", history[0].Action)
	}

	stats, err := env.manager.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Suspended != 1 || stats.Active != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	// A suspended sandbox's ticks are no-ops.
	before := env.source.callCount()
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick on suspended sandbox failed: %v", err)
	}
	if env.source.callCount() != before {
		t.Errorf("Suspended sandbox must not be sampled")
	}
}

func TestTick_RuleThrottlesAndExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	// Above the default 80% cpu rule but below the 90% critical line.
	env.source.set(key, domain.PerformanceSample{CPUUsage: 85})
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusThrottled {
		t.Fatalf("Expected throttled status, got %s", sb.Status)
	}

	report, err := env.manager.GetMetrics(ctx, key)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if report.Status != domain.DerivedWarning {
		t.Errorf("Expected warning verdict (violation beats throttle), got %s", report.Status)
	}

	// Usage drops; once the throttle window lapses the sandbox goes active.
	env.source.set(key, domain.PerformanceSample{CPUUsage: 10})
	env.now = env.now.Add(301 * time.Second)
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	sb, _ = env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusActive {
		t.Errorf("Expected active after throttle expiry, got %s", sb.Status)
	}
}

func TestTick_CollectionFailureSkips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	// No sample registered: the source fails for this key.
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick must swallow collection failures, got %v", err)
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusActive {
		t.Errorf("Collection failure must not change status, got %s", sb.Status)
	}
	history, _ := env.alerts.Violations(ctx, key)
	if len(history) != 0 {
		t.Errorf("Collection failure must not record violations, got %d", len(history))
	}
}

func TestTick_AlertThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

	threshold := 2
	_, err := env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: key.ModuleID, TenantID: key.TenantID, Version: key.Version,
		Isolation:  domain.IsolationMedium,
		Monitoring: &domain.MonitoringConfig{Interval: time.Hour, AlertThreshold: threshold},
	})
	if err != nil {
		t.Fatalf("CreateSandbox failed: %v", err)
	}

	// Two warning violations in one tick: cpu and storage.
	env.source.set(key, domain.PerformanceSample{CPUUsage: 50, StorageMB: 1100})
	if err := env.manager.Tick(ctx, key); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	warnings := env.alertsOfType(t, domain.AlertWarning)
	found := false
	for _, a := range warnings {
		if strings.Contains(a.Message, "violations in one monitoring tick") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a threshold warning alert, got %+v", warnings)
	}
}

func TestTick_WorkerHealthAlertOnEdgeOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	env.source.set(key, domain.PerformanceSample{CPUUsage: 5})
	env.factory.Created()[0].SetHealthy(false)

	for i := 0; i < 3; i++ {
		if err := env.manager.Tick(ctx, key); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	count := 0
	for _, a := range env.alertsOfType(t, domain.AlertWarning) {
		if strings.Contains(a.Message, "health probe") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one health alert across repeated failures, got %d", count)
	}
}

func TestUpdateLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	// Invalid partials are rejected and nothing changes.
	err := env.manager.UpdateLimits(ctx, key, domain.ResourceLimits{
		CPU: domain.CPULimits{MaxUsage: -5},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Limits.CPU.MaxUsage != 40 {
		t.Errorf("Limits changed after rejected update: %v", sb.Limits.CPU.MaxUsage)
	}

	// Valid partials merge field-by-field and persist.
	if err := env.manager.UpdateLimits(ctx, key, domain.ResourceLimits{
		CPU: domain.CPULimits{MaxUsage: 55},
	}); err != nil {
		t.Fatalf("UpdateLimits failed: %v", err)
	}
	sb, _ = env.manager.GetSandbox(ctx, key)
	if sb.Limits.CPU.MaxUsage != 55 {
		t.Errorf("Expected cpu limit 55, got %v", sb.Limits.CPU.MaxUsage)
	}
	if sb.Limits.Memory.MaxMB != 512 {
		t.Errorf("Untouched limits must keep their values, got %v", sb.Limits.Memory.MaxMB)
	}

	stored, _ := env.store.Get(ctx, key)
	if stored.Limits.CPU.MaxUsage != 55 {
		t.Errorf("Updated limits not persisted")
	}
}

func TestDestroy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	if err := env.manager.Destroy(ctx, key); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if !env.factory.Created()[0].Stopped() {
		t.Errorf("Expected the worker stopped on destroy")
	}

	var nf *domain.NotFoundError
	if _, err := env.manager.GetSandbox(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected NotFound after destroy, got %v", err)
	}
	if _, err := env.store.Get(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected record deleted, got %v", err)
	}
	if err := env.manager.Destroy(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected NotFound on double destroy, got %v", err)
	}

	// The key is immediately reusable.
	if _, err := env.manager.CreateSandbox(ctx, CreateRequest{
		ModuleID: key.ModuleID, TenantID: key.TenantID, Version: key.Version,
		Isolation: domain.IsolationMedium,
	}); err != nil {
		t.Errorf("Expected create after destroy to succeed, got %v", err)
	}
}

func TestDestroy_ConcurrentAdminOpsGetNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	// Hold Destroy inside worker.Stop, with the entry lock held, while
	// operations queue on the same entry.
	w := env.factory.Created()[0]
	entered, release := w.HoldStop()

	destroyDone := make(chan error, 1)
	go func() { destroyDone <- env.manager.Destroy(ctx, key) }()
	<-entered

	suspendDone := make(chan error, 1)
	updateDone := make(chan error, 1)
	go func() { suspendDone <- env.manager.Suspend(ctx, key, "too late") }()
	go func() {
		updateDone <- env.manager.UpdateLimits(ctx, key, domain.ResourceLimits{
			CPU: domain.CPULimits{MaxUsage: 50},
		})
	}()
	time.Sleep(10 * time.Millisecond) // let both queue on the entry lock
	release()

	if err := <-destroyDone; err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	var nf *domain.NotFoundError
	if err := <-suspendDone; !errors.As(err, &nf) {
		t.Errorf("Expected NotFound from Suspend racing destroy, got %v", err)
	}
	if err := <-updateDone; !errors.As(err, &nf) {
		t.Errorf("Expected NotFound from UpdateLimits racing destroy, got %v", err)
	}

	// The record stays deleted and no suspension alert was raised.
	if _, err := env.store.Get(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected record to stay deleted, got %v", err)
	}
	if got := env.alertsOfType(t, domain.AlertBlocking); len(got) != 0 {
		t.Errorf("Expected no blocking alerts for a destroyed sandbox, got %d", len(got))
	}

	if err := env.manager.Resume(ctx, key); !errors.As(err, &nf) {
		t.Errorf("Expected NotFound from Resume after destroy, got %v", err)
	}
	if err := env.manager.ApplyThrottle(ctx, key, domain.ResourceCPU, throttle.LevelSoft, time.Minute); !errors.As(err, &nf) {
		t.Errorf("Expected NotFound from ApplyThrottle after destroy, got %v", err)
	}
	if _, err := env.manager.AddThrottleRule(ctx, key, domain.ThrottleRule{
		Resource:  domain.ResourceCPU,
		Condition: domain.ConditionExceeds,
		Threshold: 10,
		Action:    domain.ActionAlert,
	}); !errors.As(err, &nf) {
		t.Errorf("Expected NotFound from AddThrottleRule after destroy, got %v", err)
	}
}

func TestGetMetrics_ServesFromCacheWithinTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)
	env.source.set(key, domain.PerformanceSample{CPUUsage: 33})

	first, err := env.manager.GetMetrics(ctx, key)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	calls := env.source.callCount()

	second, err := env.manager.GetMetrics(ctx, key)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if env.source.callCount() != calls {
		t.Errorf("Second read within the TTL must not hit the source")
	}
	if !second.Sample.CollectedAt.Equal(first.Sample.CollectedAt) {
		t.Errorf("Expected identical cached sample, got %v vs %v",
			second.Sample.CollectedAt, first.Sample.CollectedAt)
	}

	// Unknown keys are NotFound.
	var nf *domain.NotFoundError
	_, err = env.manager.GetMetrics(ctx, domain.SandboxKey{ModuleID: "nope", TenantID: "x", Version: "1"})
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestGetStatistics_Aggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.create(t, "billing", domain.IsolationMedium)
	b := env.create(t, "payments", domain.IsolationMedium)
	c := env.create(t, "reports", domain.IsolationMedium)

	env.source.set(a, domain.PerformanceSample{CPUUsage: 10, MemoryMB: 100})
	env.source.set(b, domain.PerformanceSample{CPUUsage: 30, MemoryMB: 300})
	if err := env.manager.Tick(ctx, a); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if err := env.manager.Tick(ctx, b); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if err := env.manager.Suspend(ctx, c, "manual"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if err := env.manager.ApplyThrottle(ctx, b, domain.ResourceAPI, throttle.LevelSoft, time.Minute); err != nil {
		t.Fatalf("ApplyThrottle failed: %v", err)
	}

	stats, err := env.manager.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 3 || stats.Active != 1 || stats.Suspended != 1 || stats.Throttled != 1 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.AvgCPU != 20 {
		t.Errorf("Expected avg cpu 20 over cached samples, got %v", stats.AvgCPU)
	}
	if stats.AvgMemory != 200 {
		t.Errorf("Expected avg memory 200, got %v", stats.AvgMemory)
	}
}

func TestAddThrottleRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	id, err := env.manager.AddThrottleRule(ctx, key, domain.ThrottleRule{
		Resource:  domain.ResourceDatabase,
		Condition: domain.ConditionExceeds,
		Threshold: 9,
		Action:    domain.ActionAlert,
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("AddThrottleRule failed: %v", err)
	}
	if id == "" {
		t.Fatalf("Expected an assigned rule id")
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if len(sb.Rules) != 4 || sb.Rules[3].ID != id {
		t.Errorf("Expected the rule appended last, got %+v", sb.Rules)
	}

	var verr *domain.ValidationError
	_, err = env.manager.AddThrottleRule(ctx, key, domain.ThrottleRule{
		Resource: domain.ResourceCPU, Action: domain.ActionAlert,
		Expression: "cpu +", Enabled: true,
	})
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for bad expression, got %v", err)
	}
}

// failingStore wraps a registry store and fails saves on demand.
type failingStore struct {
	registry.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) setFail(f bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

func (s *failingStore) Save(ctx context.Context, sb *domain.Sandbox) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return &domain.PersistenceError{Op: "save sandbox", Cause: errors.New("store down")}
	}
	return s.Store.Save(ctx, sb)
}

func TestSuspend_PersistenceFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	failing := &failingStore{Store: env.store}
	env.manager.Registry = failing

	key := env.create(t, "billing", domain.IsolationMedium)
	failing.setFail(true)

	if err := env.manager.Suspend(ctx, key, "storage outage drill"); err != nil {
		t.Fatalf("Suspend must succeed despite persistence failure, got %v", err)
	}

	sb, _ := env.manager.GetSandbox(ctx, key)
	if sb.Status != domain.StatusSuspended {
		t.Errorf("In-memory state must not roll back, got %s", sb.Status)
	}

	// The durable record still shows the pre-outage state.
	stored, _ := env.store.Get(ctx, key)
	if stored.Status != domain.StatusActive {
		t.Errorf("Expected stale persisted record, got %s", stored.Status)
	}
}

func TestTicks_IndependentAcrossSandboxes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slowKey := env.create(t, "billing", domain.IsolationMedium)
	fastKey := env.create(t, "payments", domain.IsolationMedium)

	env.source.set(slowKey, domain.PerformanceSample{CPUUsage: 5})
	env.source.set(fastKey, domain.PerformanceSample{CPUUsage: 5})

	// Block the source, start the slow sandbox's tick, then verify another
	// sandbox's operations complete while it is stuck.
	release := make(chan struct{})
	env.source.mu.Lock()
	env.source.block = release
	env.source.mu.Unlock()

	slowDone := make(chan error, 1)
	go func() { slowDone <- env.manager.Tick(ctx, slowKey) }()

	// Wait until the slow tick is inside the source.
	deadline := time.After(2 * time.Second)
	for env.source.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("Slow tick never reached the source")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	env.source.mu.Lock()
	env.source.block = nil
	env.source.mu.Unlock()

	if err := env.manager.Suspend(ctx, fastKey, "unaffected"); err != nil {
		t.Fatalf("Operation on another sandbox blocked: %v", err)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("Slow tick failed: %v", err)
	}
}

func TestShutdown_StopsWorkersKeepsRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.create(t, "billing", domain.IsolationMedium)

	env.manager.Shutdown(ctx)

	if !env.factory.Created()[0].Stopped() {
		t.Errorf("Expected workers stopped on shutdown")
	}
	if _, err := env.store.Get(ctx, key); err != nil {
		t.Errorf("Shutdown must keep durable records, got %v", err)
	}
}
