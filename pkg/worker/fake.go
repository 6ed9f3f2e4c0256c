package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sandguard/sandguard/pkg/domain"
)

// FakeFactory creates in-memory workers. Used by tests and as the default
// backend when no isolation runtime is configured.
type FakeFactory struct {
	mu      sync.Mutex
	created []*FakeWorker

	// FailCreate makes the next Create call return this error.
	FailCreate error
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{}
}

func (f *FakeFactory) Create(ctx context.Context, key domain.SandboxKey, limits domain.ResourceLimits) (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate != nil {
		err := f.FailCreate
		f.FailCreate = nil
		return nil, err
	}
	w := &FakeWorker{id: uuid.New().String(), key: key, healthy: true}
	f.created = append(f.created, w)
	return w, nil
}

// Created returns every worker this factory has handed out, in order.
func (f *FakeFactory) Created() []*FakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeWorker, len(f.created))
	copy(out, f.created)
	return out
}

// FakeWorker tracks start/stop calls and exposes knobs for tests.
type FakeWorker struct {
	id  string
	key domain.SandboxKey

	mu      sync.Mutex
	started bool
	stopped bool
	healthy bool

	// FailStart makes Start return this error once.
	FailStart error

	stopEntered chan struct{}
	stopRelease chan struct{}
}

// HoldStop arms the next Stop call to block until release is called. The
// returned channel closes once Stop has been entered, so tests can hold a
// caller inside Stop while racing other operations against it.
func (w *FakeWorker) HoldStop() (entered <-chan struct{}, release func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopEntered = make(chan struct{})
	w.stopRelease = make(chan struct{})
	rel := w.stopRelease
	var once sync.Once
	return w.stopEntered, func() { once.Do(func() { close(rel) }) }
}

func (w *FakeWorker) ID() string { return w.id }

func (w *FakeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailStart != nil {
		err := w.FailStart
		w.FailStart = nil
		return err
	}
	w.started = true
	w.stopped = false
	return nil
}

func (w *FakeWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	entered, release := w.stopEntered, w.stopRelease
	w.stopEntered, w.stopRelease = nil, nil
	w.mu.Unlock()

	if entered != nil {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.healthy = false
	return nil
}

func (w *FakeWorker) Healthy(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy && w.started && !w.stopped
}

// SetHealthy flips the health probe result.
func (w *FakeWorker) SetHealthy(h bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.healthy = h
}

// Stopped reports whether Stop has been called.
func (w *FakeWorker) Stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Started reports whether Start has been called.
func (w *FakeWorker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}
