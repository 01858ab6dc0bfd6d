// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"testing"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var got []string
	_, err := bus.Subscribe(EventDiscoveryChanged, func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	bus.Publish(context.Background(), Event{Type: EventDiscoveryChanged})
	bus.Publish(context.Background(), Event{Type: "terminal.exited"})

	if len(got) != 1 || got[0] != EventDiscoveryChanged {
		t.Fatalf("expected exactly one discovery.changed, got %v", got)
	}
}

func TestMemoryBus_WildcardPatterns(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "terminal.exited", true},
		{"terminal.*", "terminal.exited", true},
		{"terminal.*", "discovery.changed", false},
		{"terminal.exited", "terminal.exited", true},
		{"terminal.exited", "terminal.started", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	calls := 0
	id, _ := bus.Subscribe("*", func(_ context.Context, e Event) error {
		calls++
		return nil
	})

	bus.Publish(context.Background(), Event{Type: "a"})
	if err := bus.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	bus.Publish(context.Background(), Event{Type: "b"})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}

	if err := bus.Unsubscribe(id); err != ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryBus()
	bus.Close()

	if err := bus.Publish(context.Background(), Event{Type: "a"}); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe("*", nil); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestMemoryBus_HandlerPanicDoesNotPropagate(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	bus.Subscribe("*", func(_ context.Context, e Event) error {
		panic("boom")
	})

	reached := false
	bus.Subscribe("*", func(_ context.Context, e Event) error {
		reached = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: "a"})
	if !reached {
		t.Error("second handler not reached after first panicked")
	}
}
