// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arborhq/arbor/pkg/protocol"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sseEvent(w http.ResponseWriter, name string, payload interface{}) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func basicEntry(path string, orphaned bool, age time.Duration) protocol.ResourceBasic {
	return protocol.ResourceBasic{
		Path:         path,
		ID:           strings.TrimPrefix(path, "/wt/"),
		Orphaned:     orphaned,
		LastModified: time.Now().Add(-age).UTC().Truncate(time.Second),
	}
}

func TestDiscoveryStreamReduce(t *testing.T) {
	entries := []protocol.ResourceBasic{
		basicEntry("/wt/recent", false, time.Hour),
		basicEntry("/wt/stale", false, 48*time.Hour),
		basicEntry("/wt/orphan", true, 24*time.Hour),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/worktrees/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "worktree:basic", entries)
		sseEvent(w, "worktree:details", protocol.ResourceDetails{
			Path: "/wt/recent", SizeBytes: 2048, Size: "2.0 KiB", Branch: "main",
		})
		sseEvent(w, "worktree:error", protocol.ResourceError{
			Path: "/wt/stale", Error: "size walk failed",
		})
		sseEvent(w, "worktree:details", protocol.ResourceDetails{
			Path: "/wt/orphan", SizeBytes: 512, Size: "512 B",
		})
		sseEvent(w, "worktree:complete", protocol.ResourceSummary{
			Total: 3, Orphaned: 1, TotalSizeBytes: 2560, TotalSize: "2.5 KiB",
		})
	}))
	defer server.Close()

	c := New(server.URL)
	defer c.Worktrees.Close()

	c.Worktrees.Refresh(context.Background())
	waitFor(t, "stream completion", func() bool {
		return c.Worktrees.Snapshot().Summary != nil
	})

	snap := c.Worktrees.Snapshot()
	if snap.IsLoading || snap.IsLoadingDetails {
		t.Errorf("loading flags still set after complete: %+v", snap)
	}
	if snap.Fallback {
		t.Error("stream success should not latch the fallback")
	}
	if snap.Summary.Total != 3 || snap.Summary.Orphaned != 1 {
		t.Errorf("summary = %+v", snap.Summary)
	}

	// Display order: orphaned first, then most recently modified.
	var paths []string
	for _, r := range snap.Resources {
		paths = append(paths, r.Path)
	}
	want := []string{"/wt/orphan", "/wt/recent", "/wt/stale"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("display order = %v, want %v", paths, want)
		}
	}

	byPath := make(map[string]ResourceView)
	for _, r := range snap.Resources {
		byPath[r.Path] = r
	}
	if r := byPath["/wt/recent"]; !r.HasDetails || r.Branch != "main" || r.SizeBytes != 2048 {
		t.Errorf("recent = %+v, want merged details", r)
	}
	if r := byPath["/wt/stale"]; !r.HasDetails || r.DetailError != "size walk failed" {
		t.Errorf("stale = %+v, want detail error recorded", r)
	}
}

func TestDiscoveryStreamProgress(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "scratch:basic", []protocol.ResourceBasic{basicEntry("/s/a", false, time.Hour)})
		<-release
		sseEvent(w, "scratch:details", protocol.ResourceDetails{Path: "/s/a", SizeBytes: 1, Size: "1 B"})
		sseEvent(w, "scratch:complete", protocol.ResourceSummary{Total: 1})
	}))
	defer server.Close()

	c := New(server.URL)
	defer c.Scratch.Close()

	c.Scratch.Refresh(context.Background())
	waitFor(t, "basic listing", func() bool {
		snap := c.Scratch.Snapshot()
		return !snap.IsLoading && len(snap.Resources) == 1
	})

	// Basic arrived, details outstanding.
	if snap := c.Scratch.Snapshot(); !snap.IsLoadingDetails {
		t.Error("IsLoadingDetails should be true between basic and complete")
	}

	close(release)
	waitFor(t, "stream completion", func() bool {
		return c.Scratch.Snapshot().Summary != nil
	})
	if snap := c.Scratch.Snapshot(); snap.IsLoadingDetails {
		t.Error("IsLoadingDetails should clear on complete")
	}
}

func TestDiscoveryFallbackLatch(t *testing.T) {
	var streamHits, listHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/scratch/stream":
			streamHits.Add(1)
			http.Error(w, "no streaming here", http.StatusBadGateway)
		case "/api/v1/scratch":
			listHits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"scratches": []protocol.Resource{{
						ResourceBasic: basicEntry("/s/a", true, time.Hour),
						SizeBytes:     64,
						Size:          "64 B",
					}},
					"summary": protocol.ResourceSummary{Total: 1, Orphaned: 1},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL)
	defer c.Scratch.Close()

	c.Scratch.Refresh(context.Background())
	waitFor(t, "fallback load", func() bool {
		snap := c.Scratch.Snapshot()
		return snap.Fallback && len(snap.Resources) == 1
	})

	snap := c.Scratch.Snapshot()
	if !snap.Resources[0].HasDetails || snap.Resources[0].SizeBytes != 64 {
		t.Errorf("fallback entry = %+v, want pre-merged details", snap.Resources[0])
	}
	if snap.Summary == nil || snap.Summary.Total != 1 {
		t.Errorf("fallback summary = %+v", snap.Summary)
	}
	if snap.Err != "" {
		t.Errorf("Err = %q, want cleared after successful fallback", snap.Err)
	}

	// Once latched, refreshes skip the stream entirely.
	c.Scratch.Refresh(context.Background())
	waitFor(t, "second fallback load", func() bool {
		return listHits.Load() >= 2
	})
	if got := streamHits.Load(); got != 1 {
		t.Errorf("stream endpoint hit %d times, want 1 (latch is one-way)", got)
	}
}

func TestDiscoveryBulkDelete(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	resources := []protocol.Resource{
		{ResourceBasic: protocol.ResourceBasic{Path: "/wt/orphan", Orphaned: true, LastModified: now}},
		{ResourceBasic: protocol.ResourceBasic{Path: "/wt/done", TaskStatus: "done", LastModified: now.Add(-time.Hour)}},
		{ResourceBasic: protocol.ResourceBasic{Path: "/wt/pinned", Orphaned: true, Pinned: true, LastModified: now.Add(-2 * time.Hour)}},
		{ResourceBasic: protocol.ResourceBasic{Path: "/wt/active", TaskStatus: "in_progress", LastModified: now.Add(-3 * time.Hour)}},
	}

	var deletes []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/worktrees":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"worktrees": resources,
					"summary":   protocol.ResourceSummary{Total: len(resources)},
				},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/worktrees":
			var req deleteRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Path == "/wt/done" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"code": "DISCOVERY_ERROR", "message": "remove failed"},
				})
				return
			}
			deletes = append(deletes, req.Path)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"path": req.Path},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL)

	// Seed the view through the fallback listing.
	c.Worktrees.fallback = true
	c.Worktrees.Refresh(context.Background())
	waitFor(t, "listing", func() bool {
		return len(c.Worktrees.Snapshot().Resources) == len(resources)
	})

	deleted, err := c.Worktrees.BulkDelete(context.Background())
	if err == nil {
		t.Fatal("BulkDelete should stop at the first failure")
	}
	if !strings.Contains(err.Error(), "/wt/done") {
		t.Errorf("err = %v, want it to name the failing path", err)
	}
	if len(deleted) != 1 || deleted[0] != "/wt/orphan" {
		t.Errorf("deleted = %v, want [/wt/orphan]", deleted)
	}
	if len(deletes) != 1 || deletes[0] != "/wt/orphan" {
		t.Errorf("server saw deletes %v, want pinned and active entries skipped", deletes)
	}

	// The successfully deleted entry left the local view without a refresh.
	for _, r := range c.Worktrees.Snapshot().Resources {
		if r.Path == "/wt/orphan" {
			t.Error("/wt/orphan should be dropped from the view after delete")
		}
	}
}

func TestDiscoveryDeletePinnedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "PINNED", "message": "resource is pinned"},
		})
	}))
	defer server.Close()

	c := New(server.URL)
	err := c.Worktrees.Delete(context.Background(), "/wt/keep", false)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "PINNED" {
		t.Errorf("Code = %q, want PINNED", apiErr.Code)
	}
}
