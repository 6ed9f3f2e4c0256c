package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandguard/sandguard/pkg/domain"
)

// The smallest valid module: magic + version, no sections.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func wasmTestFactory(t *testing.T) *WasmFactory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.wasm")
	if err := os.WriteFile(path, emptyModule, 0o644); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}
	f := NewWasmFactory(func(domain.SandboxKey) string { return path })
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func TestWasmWorkerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := wasmTestFactory(t)
	key := domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

	w, err := f.Create(ctx, key, domain.ResourceLimits{
		Memory: domain.MemoryLimits{HardMB: 64},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if w.ID() == "" {
		t.Errorf("Expected a worker id")
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Errorf("Expected second Stop to be a safe no-op, got %v", err)
	}
}

func TestWasmWorkerStopClosesRuntime(t *testing.T) {
	f := wasmTestFactory(t)
	key := domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

	w, err := f.Create(context.Background(), key, domain.ResourceLimits{
		Memory: domain.MemoryLimits{HardMB: 64},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Even with the deadline already gone, Stop must tear the runtime down
	// rather than leak it.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Stop(canceled)

	if err := w.Start(context.Background()); err == nil {
		t.Errorf("Expected Start on a closed runtime to fail")
	}
}
