package worker

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/sandguard/sandguard/pkg/domain"
)

// WasmFactory runs tenant modules as WebAssembly guests inside the governor
// process. Each worker gets its own wazero runtime so the sandbox's memory
// hard limit can be mapped onto the guest's page allowance.
type WasmFactory struct {
	cache      wazero.CompilationCache
	modulePath func(key domain.SandboxKey) string
}

// NewWasmFactory creates a factory. modulePath resolves the .wasm binary for
// a sandbox key. Compiled code is shared across workers via a compilation
// cache.
func NewWasmFactory(modulePath func(key domain.SandboxKey) string) *WasmFactory {
	return &WasmFactory{
		cache:      wazero.NewCompilationCache(),
		modulePath: modulePath,
	}
}

// Close releases the shared compilation cache. Call once on daemon shutdown.
func (f *WasmFactory) Close(ctx context.Context) error {
	return f.cache.Close(ctx)
}

func (f *WasmFactory) Create(ctx context.Context, key domain.SandboxKey, limits domain.ResourceLimits) (Worker, error) {
	path := f.modulePath(key)
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm module %s: %w", path, err)
	}

	// One wasm page is 64KiB.
	maxPages := uint32(limits.Memory.HardMB * 1024 / 64)
	if maxPages == 0 {
		maxPages = 1024 // 64MiB floor when no limit is set
	}

	// CloseOnContextDone lets Stop's cancel interrupt a busy guest.
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(f.cache).
		WithMemoryLimitPages(maxPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to compile wasm module: %w", err)
	}

	return &wasmWorker{
		id:       uuid.New().String(),
		key:      key,
		runtime:  rt,
		compiled: compiled,
	}, nil
}

type wasmWorker struct {
	id       string
	key      domain.SandboxKey
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func (w *wasmWorker) ID() string { return w.id }

func (w *wasmWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())

	cfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("%s-%s", w.key.ModuleID, w.id[:8])).
		WithStartFunctions() // _start is driven below so Start stays non-blocking

	mod, err := w.runtime.InstantiateModule(runCtx, w.compiled, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to instantiate wasm module: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer mod.Close(runCtx)
		if start := mod.ExportedFunction("_start"); start != nil {
			_, _ = start.Call(runCtx)
		}
	}()

	w.cancel = cancel
	w.done = done
	w.running = true
	return nil
}

func (w *wasmWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return w.runtime.Close(ctx)
	}
	cancel()

	select {
	case <-done:
		return w.runtime.Close(ctx)
	case <-ctx.Done():
		// Do not leak the runtime when the guest outlives the deadline;
		// closing it forces the guest out.
		closeErr := w.runtime.Close(context.WithoutCancel(ctx))
		if closeErr != nil {
			return closeErr
		}
		return ctx.Err()
	}
}

func (w *wasmWorker) Healthy(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}
