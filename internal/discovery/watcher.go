// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arborhq/arbor/internal/events"
)

const defaultChangeDebounce = 500 * time.Millisecond

// Watcher observes the resource roots and publishes a debounced
// discovery-changed event per family when their contents change. The
// event is a hint only; clients decide whether to re-run discovery.
type Watcher struct {
	bus      events.Bus
	debounce *debouncer
	fsw      *fsnotify.Watcher
	families map[string]string // Root dir -> family
	done     chan struct{}
	wg       sync.WaitGroup
}

// rootScanner is a scanner with an observable root directory.
type rootScanner interface {
	Family() string
	Root() string
}

// NewWatcher creates a watcher over the roots of the given scanners.
// Roots that don't exist yet are skipped with a log line; they get
// picked up on the next daemon restart.
func NewWatcher(bus events.Bus, debounce time.Duration, scanners ...rootScanner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	w := &Watcher{
		bus:      bus,
		debounce: newDebouncer(debounce),
		fsw:      fsw,
		families: make(map[string]string),
		done:     make(chan struct{}),
	}

	for _, sc := range scanners {
		root := sc.Root()
		if err := fsw.Add(root); err != nil {
			log.Printf("Discovery watcher: not watching %s: %v", root, err)
			continue
		}
		w.families[root] = sc.Family()
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			family := w.familyFor(ev.Name)
			if family == "" {
				continue
			}
			w.debounce.schedule(family, func() {
				err := w.bus.Publish(context.Background(), events.Event{
					Type:    events.EventDiscoveryChanged,
					Payload: map[string]interface{}{"family": family},
				})
				if err != nil {
					log.Printf("Discovery watcher: publish change for %s: %v", family, err)
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("Discovery watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) familyFor(path string) string {
	for root, family := range w.families {
		if len(path) >= len(root) && path[:len(root)] == root {
			return family
		}
	}
	return ""
}

// Close stops the watcher and cancels pending debounced publishes.
func (w *Watcher) Close() error {
	close(w.done)
	w.debounce.stop()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// debouncer coalesces bursts of filesystem events into one callback per
// key after a quiet period.
type debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timers   map[string]*time.Timer
}

func newDebouncer(duration time.Duration) *debouncer {
	if duration <= 0 {
		duration = defaultChangeDebounce
	}
	return &debouncer{
		duration: duration,
		timers:   make(map[string]*time.Timer),
	}
}

// schedule arms (or re-arms) the timer for key.
func (d *debouncer) schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[key]; exists {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// stop cancels all pending timers.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
