// Package events carries lifecycle notifications (suspend, resume, throttle,
// restart, destroy) to external collaborators over an explicit typed channel
// instead of an ambient event bus.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sandguard/sandguard/pkg/domain"
)

type Type string

const (
	SandboxCreated   Type = "sandbox.created"
	SandboxSuspended Type = "sandbox.suspended"
	SandboxResumed   Type = "sandbox.resumed"
	SandboxThrottled Type = "sandbox.throttled"
	SandboxDestroyed Type = "sandbox.destroyed"
	WorkerRestarted  Type = "worker.restarted"
)

// Event is one lifecycle notification.
type Event struct {
	Type     Type                `json:"type"`
	Key      domain.SandboxKey   `json:"key"`
	Reason   string              `json:"reason,omitempty"`
	Resource domain.ResourceType `json:"resource,omitempty"`
	WorkerID string              `json:"worker_id,omitempty"`
	At       time.Time           `json:"at"`
}

// Bus publishes lifecycle events. Publish must never block the caller's tick
// for longer than the bus's own bound.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}

// NopBus discards events.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, ev Event) error { return nil }

// ChannelBus fans events out to in-process subscribers. A slow subscriber
// loses events rather than stalling the publisher.
type ChannelBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{}
}

// Subscribe returns a buffered channel receiving all future events.
func (b *ChannelBus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *ChannelBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // drop on full buffer
		}
	}
	return nil
}
