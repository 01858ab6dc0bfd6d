// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/arborhq/arbor/pkg/protocol"
)

// ResourceView is one discovered resource as the client sees it: the
// basic record, plus detail fields once the second phase delivers them.
type ResourceView struct {
	protocol.ResourceBasic

	// HasDetails is true once the details (or a detail error) for this
	// entry have arrived.
	HasDetails bool
	SizeBytes  int64
	Size       string
	Branch     string

	// DetailError is set when detail resolution failed for this entry.
	// The basic record stays usable.
	DetailError string
}

// Eligible reports whether the resource qualifies for bulk cleanup:
// not pinned, and either orphaned or owned by a finished task.
func (r *ResourceView) Eligible() bool {
	if r.Pinned {
		return false
	}
	if r.Orphaned {
		return true
	}
	switch r.TaskStatus {
	case "done", "merged", "cancelled":
		return true
	}
	return false
}

// DiscoverySnapshot is a point-in-time copy of a discovery client's
// state. Resources are in display order: orphaned entries first, then
// most recently modified first.
type DiscoverySnapshot struct {
	Resources []ResourceView
	Summary   *protocol.ResourceSummary

	// IsLoading is true from Refresh until the basic listing arrives.
	// IsLoadingDetails is true while detail events are still expected.
	IsLoading        bool
	IsLoadingDetails bool

	// Fallback is true once the client has latched onto the
	// non-streaming listing endpoint.
	Fallback bool

	// Err is the most recent transport or protocol error, cleared on
	// the next successful load.
	Err string
}

// DiscoveryClient consumes the two-phase discovery stream for one
// resource family and maintains a reduced view of it. All exported
// methods are safe for concurrent use.
//
// The stream delivers a cheap basic listing first, then one details or
// error event per entry, then a complete event with the server-computed
// summary. If the stream cannot be established or dies before
// completing, the client latches onto the plain JSON listing endpoint
// and never attempts to stream again; the latch is the simplest way to
// stay useful behind proxies that buffer or break SSE.
type DiscoveryClient struct {
	c        *Client
	family   string
	basePath string

	// streamClient has no timeout; the stream is held open until the
	// complete event. One-shot requests go through c.httpClient.
	streamClient *http.Client

	mu          sync.Mutex
	entries     map[string]*ResourceView
	summary     *protocol.ResourceSummary
	outstanding int
	isLoading   bool
	fallback    bool
	lastErr     string
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	subs    map[int]func()
	nextSub int
}

func newDiscoveryClient(c *Client, family, basePath string) *DiscoveryClient {
	return &DiscoveryClient{
		c:            c,
		family:       family,
		basePath:     basePath,
		streamClient: &http.Client{},
		entries:      make(map[string]*ResourceView),
		subs:         make(map[int]func()),
	}
}

// Family returns the resource family this client serves.
func (d *DiscoveryClient) Family() string {
	return d.family
}

// Subscribe registers a callback invoked after every state change. The
// returned function removes the subscription.
func (d *DiscoveryClient) Subscribe(fn func()) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *DiscoveryClient) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Snapshot returns a copy of the current state in display order.
func (d *DiscoveryClient) Snapshot() DiscoverySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DiscoverySnapshot{
		Resources:        make([]ResourceView, 0, len(d.entries)),
		IsLoading:        d.isLoading,
		IsLoadingDetails: d.outstanding > 0,
		Fallback:         d.fallback,
		Err:              d.lastErr,
	}
	for _, e := range d.entries {
		snap.Resources = append(snap.Resources, *e)
	}
	sortResources(snap.Resources)
	if d.summary != nil {
		s := *d.summary
		snap.Summary = &s
	}
	return snap
}

// sortResources orders entries for display: orphaned first, then most
// recently modified first, path as the final tiebreak.
func sortResources(rs []ResourceView) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Orphaned != rs[j].Orphaned {
			return rs[i].Orphaned
		}
		if !rs[i].LastModified.Equal(rs[j].LastModified) {
			return rs[i].LastModified.After(rs[j].LastModified)
		}
		return rs[i].Path < rs[j].Path
	})
}

// Refresh discards the current view and reloads it, streaming unless
// the client has latched onto the fallback endpoint. It returns once
// the reload has been started; progress is observable via Subscribe
// and Snapshot.
func (d *DiscoveryClient) Refresh(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.entries = make(map[string]*ResourceView)
	d.summary = nil
	d.outstanding = 0
	d.isLoading = true
	d.lastErr = ""
	fallback := d.fallback

	if fallback {
		d.mu.Unlock()
		d.notify()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.loadFallback(ctx)
		}()
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	d.notify()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.consumeStream(streamCtx); err != nil {
			if streamCtx.Err() != nil {
				return // cancelled by a newer Refresh or Close
			}
			// Latch onto the fallback endpoint; streaming is not
			// retried once it has failed.
			d.mu.Lock()
			d.fallback = true
			d.lastErr = err.Error()
			d.mu.Unlock()
			d.notify()
			d.loadFallback(ctx)
		}
	}()
}

// Close stops any in-flight stream and waits for background work to
// finish. The accumulated view remains readable.
func (d *DiscoveryClient) Close() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// consumeStream opens the SSE endpoint and reduces its events into the
// entry map. Returns nil after the complete event.
func (d *DiscoveryClient) consumeStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.c.baseURL+d.basePath+"/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set(VersionHeader, d.c.version)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("unexpected stream content type %q", ct)
	}

	var event string
	var data strings.Builder
	complete := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if event != "" && data.Len() > 0 {
				done, err := d.applyStreamEvent(event, []byte(data.String()))
				if err != nil {
					return err
				}
				if done {
					complete = true
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	if !complete {
		return fmt.Errorf("stream ended before complete event")
	}
	return nil
}

// applyStreamEvent reduces one SSE event into the view. Returns true
// when the event was the stream's complete event. Events for other
// families are ignored.
func (d *DiscoveryClient) applyStreamEvent(event string, data []byte) (bool, error) {
	name, ok := strings.CutPrefix(event, d.family+":")
	if !ok {
		return false, nil
	}

	switch name {
	case "basic":
		var basics []protocol.ResourceBasic
		if err := json.Unmarshal(data, &basics); err != nil {
			return false, fmt.Errorf("decode basic event: %w", err)
		}
		d.mu.Lock()
		d.entries = make(map[string]*ResourceView, len(basics))
		for _, b := range basics {
			d.entries[b.Path] = &ResourceView{ResourceBasic: b}
		}
		d.outstanding = len(basics)
		d.isLoading = false
		d.mu.Unlock()

	case "details":
		var det protocol.ResourceDetails
		if err := json.Unmarshal(data, &det); err != nil {
			return false, fmt.Errorf("decode details event: %w", err)
		}
		d.mu.Lock()
		if e, ok := d.entries[det.Path]; ok {
			e.HasDetails = true
			e.SizeBytes = det.SizeBytes
			e.Size = det.Size
			e.Branch = det.Branch
		}
		if d.outstanding > 0 {
			d.outstanding--
		}
		d.mu.Unlock()

	case "error":
		var re protocol.ResourceError
		if err := json.Unmarshal(data, &re); err != nil {
			return false, fmt.Errorf("decode error event: %w", err)
		}
		d.mu.Lock()
		if e, ok := d.entries[re.Path]; ok {
			e.HasDetails = true
			e.DetailError = re.Error
		}
		if d.outstanding > 0 {
			d.outstanding--
		}
		d.mu.Unlock()

	case "complete":
		var sum protocol.ResourceSummary
		if err := json.Unmarshal(data, &sum); err != nil {
			return false, fmt.Errorf("decode complete event: %w", err)
		}
		d.mu.Lock()
		d.summary = &sum
		d.outstanding = 0
		d.isLoading = false
		d.mu.Unlock()
		d.notify()
		return true, nil

	default:
		return false, nil
	}

	d.notify()
	return false, nil
}

// loadFallback fetches the non-streaming listing and replaces the view
// with its pre-merged records.
func (d *DiscoveryClient) loadFallback(ctx context.Context) {
	resources, summary, err := d.List(ctx)

	d.mu.Lock()
	if err != nil {
		d.isLoading = false
		d.lastErr = err.Error()
		d.mu.Unlock()
		d.notify()
		return
	}
	d.entries = make(map[string]*ResourceView, len(resources))
	for _, r := range resources {
		d.entries[r.Path] = &ResourceView{
			ResourceBasic: r.ResourceBasic,
			HasDetails:    true,
			SizeBytes:     r.SizeBytes,
			Size:          r.Size,
			Branch:        r.Branch,
		}
	}
	d.summary = summary
	d.outstanding = 0
	d.isLoading = false
	d.lastErr = ""
	d.mu.Unlock()
	d.notify()
}

// List fetches the one-shot listing for this family: every resource
// with details pre-merged, plus the summary.
func (d *DiscoveryClient) List(ctx context.Context) ([]protocol.Resource, *protocol.ResourceSummary, error) {
	data, err := d.c.get(ctx, d.basePath)
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Worktrees []protocol.Resource       `json:"worktrees"`
		Scratches []protocol.Resource       `json:"scratches"`
		Summary   *protocol.ResourceSummary `json:"summary"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s listing: %w", d.family, err)
	}
	resources := payload.Worktrees
	if resources == nil {
		resources = payload.Scratches
	}
	return resources, payload.Summary, nil
}

// deleteRequest is the body of the family DELETE endpoint.
type deleteRequest struct {
	Path             string `json:"path"`
	DeleteLinkedTask bool   `json:"deleteLinkedTask,omitempty"`
}

// Delete removes one resource by path. A pinned resource is refused by
// the server with code PINNED. On success the entry is dropped from
// the local view without waiting for a refresh.
func (d *DiscoveryClient) Delete(ctx context.Context, path string, deleteLinkedTask bool) error {
	_, err := d.c.deleteJSON(ctx, d.basePath, deleteRequest{
		Path:             path,
		DeleteLinkedTask: deleteLinkedTask,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.entries, path)
	d.mu.Unlock()
	d.notify()
	return nil
}

// BulkDelete deletes every eligible resource in the current view, one
// at a time in display order, stopping at the first failure. It returns
// the paths deleted before the stop. Resources pinned or owned by an
// active task are skipped.
func (d *DiscoveryClient) BulkDelete(ctx context.Context) ([]string, error) {
	snap := d.Snapshot()

	var deleted []string
	for _, r := range snap.Resources {
		if !r.Eligible() {
			continue
		}
		if err := d.Delete(ctx, r.Path, false); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", r.Path, err)
		}
		deleted = append(deleted, r.Path)
	}
	return deleted, nil
}

// CleanupResult reports what a server-side cleanup removed.
type CleanupResult struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

// Cleanup asks the server to delete every eligible resource in one
// call. Prefer this over BulkDelete when the round-trip cost matters;
// BulkDelete exists for callers that need per-entry control.
func (d *DiscoveryClient) Cleanup(ctx context.Context) (*CleanupResult, error) {
	data, err := d.c.postJSON(ctx, d.basePath+"/cleanup", nil)
	if err != nil {
		return nil, err
	}
	var result CleanupResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse cleanup result: %w", err)
	}
	return &result, nil
}
