// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/task"
	"github.com/arborhq/arbor/pkg/protocol"
)

// fakeScanner serves a canned listing and per-path detail results.
type fakeScanner struct {
	family  string
	entries []RawEntry
	details map[string]protocol.ResourceDetails
	failing map[string]error

	mu        sync.Mutex
	removed   []string
	removeErr map[string]error
}

func (s *fakeScanner) Family() string { return s.family }

func (s *fakeScanner) Enumerate(context.Context) ([]RawEntry, error) {
	return s.entries, nil
}

func (s *fakeScanner) Resolve(_ context.Context, path string) (protocol.ResourceDetails, error) {
	if err, ok := s.failing[path]; ok {
		return protocol.ResourceDetails{}, err
	}
	return s.details[path], nil
}

func (s *fakeScanner) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.removeErr[path]; ok {
		return err
	}
	s.removed = append(s.removed, path)
	return nil
}

// fakeTasks is an in-memory TaskIndex keyed by resource path.
type fakeTasks struct {
	byWorktree map[string]task.Task
	byScratch  map[string]task.Task
	deleted    []string
}

func (f *fakeTasks) ByWorktreePath(_ context.Context, path string) (task.Task, error) {
	if t, ok := f.byWorktree[path]; ok {
		return t, nil
	}
	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasks) ByScratchPath(_ context.Context, path string) (task.Task, error) {
	if t, ok := f.byScratch[path]; ok {
		return t, nil
	}
	return task.Task{}, task.ErrNotFound
}

func (f *fakeTasks) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// recordingSink captures the stream events in arrival order.
type recordingSink struct {
	basics  []protocol.ResourceBasic
	details []protocol.ResourceDetails
	errors  []protocol.ResourceError
	summary *protocol.ResourceSummary
}

func (s *recordingSink) Basic(entries []protocol.ResourceBasic) error {
	s.basics = entries
	return nil
}

func (s *recordingSink) Details(d protocol.ResourceDetails) error {
	s.details = append(s.details, d)
	return nil
}

func (s *recordingSink) Error(e protocol.ResourceError) error {
	s.errors = append(s.errors, e)
	return nil
}

func (s *recordingSink) Complete(sum protocol.ResourceSummary) error {
	s.summary = &sum
	return nil
}

func testWorktreeScanner() *fakeScanner {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &fakeScanner{
		family: protocol.FamilyWorktree,
		entries: []RawEntry{
			{Path: "/wt/old-owned", ID: "old-owned", LastModified: base},
			{Path: "/wt/new-owned", ID: "new-owned", LastModified: base.Add(2 * time.Hour)},
			{Path: "/wt/orphan", ID: "orphan", LastModified: base.Add(time.Hour)},
		},
		details: map[string]protocol.ResourceDetails{
			"/wt/old-owned": {Path: "/wt/old-owned", SizeBytes: 100, Size: "100 B", Branch: "main"},
			"/wt/new-owned": {Path: "/wt/new-owned", SizeBytes: 200, Size: "200 B", Branch: "feat/x"},
			"/wt/orphan":    {Path: "/wt/orphan", SizeBytes: 50, Size: "50 B", Branch: "stale"},
		},
	}
}

func testTasks() *fakeTasks {
	return &fakeTasks{
		byWorktree: map[string]task.Task{
			"/wt/old-owned": {ID: "t1", Title: "old", Status: task.StatusDone},
			"/wt/new-owned": {ID: "t2", Title: "new", Status: task.StatusInProgress, Pinned: true},
		},
		byScratch: map[string]task.Task{},
	}
}

func TestService_StreamOrderAndSummary(t *testing.T) {
	scanner := testWorktreeScanner()
	svc := NewService(testTasks(), 2, scanner)
	sink := &recordingSink{}

	require.NoError(t, svc.Stream(context.Background(), protocol.FamilyWorktree, sink))

	// Orphaned first, then last-modified descending.
	require.Len(t, sink.basics, 3)
	assert.Equal(t, "/wt/orphan", sink.basics[0].Path)
	assert.True(t, sink.basics[0].Orphaned)
	assert.Equal(t, "/wt/new-owned", sink.basics[1].Path)
	assert.Equal(t, "/wt/old-owned", sink.basics[2].Path)

	// Task annotation.
	assert.True(t, sink.basics[1].Pinned)
	assert.Equal(t, "t2", sink.basics[1].TaskID)
	assert.Equal(t, string(task.StatusInProgress), sink.basics[1].TaskStatus)

	// Every entry reached a terminal event.
	assert.Len(t, sink.details, 3)
	assert.Empty(t, sink.errors)

	require.NotNil(t, sink.summary)
	assert.Equal(t, 3, sink.summary.Total)
	assert.Equal(t, 1, sink.summary.Orphaned)
	assert.Equal(t, int64(350), sink.summary.TotalSizeBytes)
	assert.NotEmpty(t, sink.summary.TotalSize)
}

func TestService_StreamEntryFailureDoesNotStall(t *testing.T) {
	scanner := testWorktreeScanner()
	scanner.failing = map[string]error{"/wt/orphan": fmt.Errorf("permission denied")}
	svc := NewService(testTasks(), 2, scanner)
	sink := &recordingSink{}

	require.NoError(t, svc.Stream(context.Background(), protocol.FamilyWorktree, sink))

	assert.Len(t, sink.details, 2)
	require.Len(t, sink.errors, 1)
	assert.Equal(t, "/wt/orphan", sink.errors[0].Path)

	// basicCount == detailsCount + errorCount, and the failed entry's size
	// is excluded from the total.
	require.NotNil(t, sink.summary)
	assert.Equal(t, len(sink.basics), len(sink.details)+len(sink.errors))
	assert.Equal(t, 3, sink.summary.Total)
	assert.Equal(t, int64(300), sink.summary.TotalSizeBytes)
}

func TestService_StreamUnknownFamily(t *testing.T) {
	svc := NewService(testTasks(), 2, testWorktreeScanner())
	err := svc.Stream(context.Background(), "volumes", &recordingSink{})
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestService_ListMergesDetails(t *testing.T) {
	scanner := testWorktreeScanner()
	scanner.failing = map[string]error{"/wt/orphan": fmt.Errorf("boom")}
	svc := NewService(testTasks(), 2, scanner)

	resources, summary, err := svc.List(context.Background(), protocol.FamilyWorktree)
	require.NoError(t, err)
	require.Len(t, resources, 3)

	// Same fixed ordering as the stream.
	assert.Equal(t, "/wt/orphan", resources[0].Path)

	// Failed entry keeps zero detail fields.
	assert.Zero(t, resources[0].SizeBytes)
	assert.Empty(t, resources[0].Branch)
	assert.Equal(t, "feat/x", resources[1].Branch)
	assert.Equal(t, int64(200), resources[1].SizeBytes)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, int64(300), summary.TotalSizeBytes)
}

func TestService_DeleteRefusesPinned(t *testing.T) {
	scanner := testWorktreeScanner()
	svc := NewService(testTasks(), 2, scanner)

	err := svc.Delete(context.Background(), protocol.FamilyWorktree, "/wt/new-owned", false)
	assert.ErrorIs(t, err, ErrPinned)
	assert.Empty(t, scanner.removed)
}

func TestService_DeleteWithLinkedTask(t *testing.T) {
	scanner := testWorktreeScanner()
	tasks := testTasks()
	svc := NewService(tasks, 2, scanner)

	require.NoError(t, svc.Delete(context.Background(), protocol.FamilyWorktree, "/wt/old-owned", true))
	assert.Equal(t, []string{"/wt/old-owned"}, scanner.removed)
	assert.Equal(t, []string{"t1"}, tasks.deleted)

	// Orphans delete fine; there is no task to cascade to.
	require.NoError(t, svc.Delete(context.Background(), protocol.FamilyWorktree, "/wt/orphan", true))
	assert.Equal(t, []string{"t1"}, tasks.deleted)
}

func TestService_CleanupEligibility(t *testing.T) {
	scanner := testWorktreeScanner()
	svc := NewService(testTasks(), 2, scanner)

	// old-owned: task done (terminal) and unpinned -> eligible.
	// new-owned: pinned -> skipped even though in progress.
	// orphan: orphaned and unpinned -> eligible.
	deleted, err := svc.Cleanup(context.Background(), protocol.FamilyWorktree)
	require.NoError(t, err)
	assert.Equal(t, []string{"/wt/orphan", "/wt/old-owned"}, deleted)
}

func TestService_CleanupStopsAtFirstFailure(t *testing.T) {
	scanner := testWorktreeScanner()
	scanner.removeErr = map[string]error{"/wt/orphan": errors.New("busy")}
	svc := NewService(testTasks(), 2, scanner)

	deleted, err := svc.Cleanup(context.Background(), protocol.FamilyWorktree)
	require.Error(t, err)
	// The orphan sorts first and fails, so nothing after it is attempted.
	assert.Empty(t, deleted)
	assert.Empty(t, scanner.removed)
}
