package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sandguard/sandguard/pkg/domain"
)

// PIDResolver maps a sandbox key to the host PID of its isolated worker.
// Process-backed workers register themselves here on start.
type PIDResolver interface {
	PID(key domain.SandboxKey) (int32, bool)
}

// PIDTable is a concurrency-safe PIDResolver.
type PIDTable struct {
	mu   sync.RWMutex
	pids map[domain.SandboxKey]int32
}

func NewPIDTable() *PIDTable {
	return &PIDTable{pids: make(map[domain.SandboxKey]int32)}
}

func (t *PIDTable) Register(key domain.SandboxKey, pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pids[key] = pid
}

func (t *PIDTable) Unregister(key domain.SandboxKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pids, key)
}

func (t *PIDTable) PID(key domain.SandboxKey) (int32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pid, ok := t.pids[key]
	return pid, ok
}

// ProcessSource samples CPU and memory for a worker's host process via
// gopsutil. API, database, and storage readings come from side channels the
// platform gateway feeds in; absent counters read as zero.
type ProcessSource struct {
	Resolver PIDResolver
	Counters *UsageCounters // optional: gateway-fed api/db/storage readings
}

func NewProcessSource(resolver PIDResolver, counters *UsageCounters) *ProcessSource {
	return &ProcessSource{Resolver: resolver, Counters: counters}
}

func (s *ProcessSource) Sample(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error) {
	pid, ok := s.Resolver.PID(key)
	if !ok {
		// In-process backends never map a PID; serve the gateway counters
		// alone rather than killing every tick for the sandbox.
		sample := &domain.PerformanceSample{Key: key, CollectedAt: time.Now()}
		if s.Counters != nil {
			s.Counters.fill(key, sample)
		}
		return sample, nil
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, &domain.CollectionError{Key: key, Cause: err}
	}

	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, &domain.CollectionError{Key: key, Cause: err}
	}

	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, &domain.CollectionError{Key: key, Cause: err}
	}

	sample := &domain.PerformanceSample{
		Key:         key,
		CPUUsage:    cpu,
		MemoryMB:    float64(mem.RSS) / (1024 * 1024),
		CollectedAt: time.Now(),
	}
	if s.Counters != nil {
		s.Counters.fill(key, sample)
	}
	return sample, nil
}

// UsageCounters accumulates per-sandbox API, database, and storage readings
// pushed by the gateway and database proxy. Reads are point-in-time rates
// over the last rotation window.
type UsageCounters struct {
	mu      sync.RWMutex
	entries map[domain.SandboxKey]*counterEntry
}

type counterEntry struct {
	apiRequests  float64
	apiInFlight  int
	dbConns      int
	dbQueries    float64
	storageMB    float64
	storageFiles int
}

func NewUsageCounters() *UsageCounters {
	return &UsageCounters{entries: make(map[domain.SandboxKey]*counterEntry)}
}

func (c *UsageCounters) entry(key domain.SandboxKey) *counterEntry {
	if e, ok := c.entries[key]; ok {
		return e
	}
	e := &counterEntry{}
	c.entries[key] = e
	return e
}

// RecordAPI sets the request rate and in-flight count for a sandbox.
func (c *UsageCounters) RecordAPI(key domain.SandboxKey, requestsPerMinute float64, inFlight int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	e.apiRequests = requestsPerMinute
	e.apiInFlight = inFlight
}

// RecordDatabase sets connection and query-rate readings for a sandbox.
func (c *UsageCounters) RecordDatabase(key domain.SandboxKey, connections int, queriesPerMinute float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	e.dbConns = connections
	e.dbQueries = queriesPerMinute
}

// RecordStorage sets storage consumption readings for a sandbox.
func (c *UsageCounters) RecordStorage(key domain.SandboxKey, usedMB float64, files int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	e.storageMB = usedMB
	e.storageFiles = files
}

// Drop forgets a sandbox's counters. Called on destroy.
func (c *UsageCounters) Drop(key domain.SandboxKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *UsageCounters) fill(key domain.SandboxKey, sample *domain.PerformanceSample) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	sample.APIRequests = e.apiRequests
	sample.APIInFlight = e.apiInFlight
	sample.DBConns = e.dbConns
	sample.DBQueries = e.dbQueries
	sample.StorageMB = e.storageMB
	sample.StorageFiles = e.storageFiles
}
