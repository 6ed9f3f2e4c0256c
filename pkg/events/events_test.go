package events_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/events"
)

var eventKey = domain.SandboxKey{ModuleID: "billing", TenantID: "acme", Version: "1.0.0"}

func TestChannelBus_FansOut(t *testing.T) {
	bus := events.NewChannelBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	ev := events.Event{Type: events.SandboxSuspended, Key: eventKey, Reason: "memory hard cap"}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for name, ch := range map[string]<-chan events.Event{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.Type != events.SandboxSuspended || got.Reason != "memory hard cap" {
				t.Errorf("Subscriber %s got unexpected event: %+v", name, got)
			}
			if got.At.IsZero() {
				t.Errorf("Subscriber %s: expected publish timestamp", name)
			}
		default:
			t.Errorf("Subscriber %s received nothing", name)
		}
	}
}

func TestChannelBus_DropsOnFullBuffer(t *testing.T) {
	bus := events.NewChannelBus()
	ch := bus.Subscribe(1)
	ctx := context.Background()

	_ = bus.Publish(ctx, events.Event{Type: events.SandboxCreated, Key: eventKey})
	// Buffer full: this one is dropped, the publisher does not block.
	_ = bus.Publish(ctx, events.Event{Type: events.SandboxDestroyed, Key: eventKey})

	got := <-ch
	if got.Type != events.SandboxCreated {
		t.Errorf("Expected the first event, got %s", got.Type)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected the second event dropped, got %s", extra.Type)
	default:
	}
}

func TestRedisBus_AppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := events.NewRedisBusWithClient(client, "")
	ctx := context.Background()

	if err := bus.Publish(ctx, events.Event{Type: events.SandboxThrottled, Key: eventKey, Resource: domain.ResourceAPI}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, events.Event{Type: events.SandboxResumed, Key: eventKey}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries, err := client.XRange(ctx, events.DefaultStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 stream entries, got %d", len(entries))
	}
	if entries[0].Values["type"] != string(events.SandboxThrottled) {
		t.Errorf("Unexpected first entry: %+v", entries[0].Values)
	}
}
