package metrics

import (
	"context"
	"os"
	"testing"

	"github.com/sandguard/sandguard/pkg/domain"
)

var sourceKey = domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

func TestProcessSource_CountersOnlyWithoutPID(t *testing.T) {
	table := NewPIDTable()
	counters := NewUsageCounters()
	src := NewProcessSource(table, counters)

	counters.RecordAPI(sourceKey, 120, 3)
	counters.RecordStorage(sourceKey, 50, 7)

	sample, err := src.Sample(context.Background(), sourceKey)
	if err != nil {
		t.Fatalf("Expected a counters-only sample without a PID, got %v", err)
	}
	if sample.Key != sourceKey {
		t.Errorf("Expected sample key %v, got %v", sourceKey, sample.Key)
	}
	if sample.CollectedAt.IsZero() {
		t.Errorf("Expected a collection timestamp")
	}
	if sample.CPUUsage != 0 || sample.MemoryMB != 0 {
		t.Errorf("Expected zero process readings, got cpu=%v mem=%v", sample.CPUUsage, sample.MemoryMB)
	}
	if sample.APIRequests != 120 || sample.APIInFlight != 3 {
		t.Errorf("Expected api counters (120, 3), got (%v, %v)", sample.APIRequests, sample.APIInFlight)
	}
	if sample.StorageMB != 50 || sample.StorageFiles != 7 {
		t.Errorf("Expected storage counters (50, 7), got (%v, %v)", sample.StorageMB, sample.StorageFiles)
	}
}

func TestProcessSource_SamplesRegisteredPID(t *testing.T) {
	table := NewPIDTable()
	table.Register(sourceKey, int32(os.Getpid()))
	src := NewProcessSource(table, nil)

	sample, err := src.Sample(context.Background(), sourceKey)
	if err != nil {
		t.Fatalf("Sample failed for our own pid: %v", err)
	}
	if sample.MemoryMB <= 0 {
		t.Errorf("Expected a positive RSS reading, got %v", sample.MemoryMB)
	}

	table.Unregister(sourceKey)
	if _, ok := table.PID(sourceKey); ok {
		t.Errorf("Expected the pid gone after Unregister")
	}
}
