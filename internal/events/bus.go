// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process pub/sub bus used to decouple the
// discovery watchers from the session hub.
package events

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with invalid ID.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Event represents an immutable event record.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Handler processes received events.
type Handler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID uint64

// Common event types.
const (
	EventDiscoveryChanged = "discovery.changed" // payload: family
)

// Bus is the event pub/sub system.
type Bus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a handler for events matching pattern. Pattern
	// is an exact type, a "prefix.*" wildcard, or "*" for everything.
	Subscribe(pattern string, handler Handler) (SubscriptionID, error)
	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error
	// Close shuts down the bus.
	Close() error
}

// MemoryBus is an in-memory Bus implementation. Handlers run synchronously
// on the publishing goroutine, with panic protection.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	nextID        uint64
	closed        atomic.Bool
}

type subscription struct {
	pattern string
	handler Handler
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[SubscriptionID]*subscription),
	}
}

// Publish emits an event to all matching subscribers.
func (bus *MemoryBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		subs = append(subs, sub)
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if !matchPattern(sub.pattern, event.Type) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Event handler panic for %s: %v", event.Type, r)
				}
			}()
			if err := sub.handler(ctx, event); err != nil {
				log.Printf("Event handler error for %s: %v", event.Type, err)
			}
		}()
	}
	return nil
}

// Subscribe registers a handler for events matching pattern.
func (bus *MemoryBus) Subscribe(pattern string, handler Handler) (SubscriptionID, error) {
	if bus.closed.Load() {
		return 0, ErrBusClosed
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	id := SubscriptionID(bus.nextID)
	bus.subscriptions[id] = &subscription{pattern: pattern, handler: handler}
	return id, nil
}

// Unsubscribe removes a subscription.
func (bus *MemoryBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subscriptions[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(bus.subscriptions, id)
	return nil
}

// Close shuts down the bus.
func (bus *MemoryBus) Close() error {
	if bus.closed.Swap(true) {
		return nil // Already closed
	}
	bus.mu.Lock()
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()
	return nil
}

// matchPattern matches an event type against a subscription pattern.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
