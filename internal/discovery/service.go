// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/task"
	"github.com/arborhq/arbor/pkg/protocol"
)

// ErrPinned is returned when a delete targets a resource whose owning
// task is pinned.
var ErrPinned = errors.New("resource is pinned")

// ErrUnknownFamily is returned for a family with no registered scanner.
var ErrUnknownFamily = errors.New("unknown resource family")

// TaskIndex is the slice of the task store the discovery engine needs.
type TaskIndex interface {
	ByWorktreePath(ctx context.Context, path string) (task.Task, error)
	ByScratchPath(ctx context.Context, path string) (task.Task, error)
	Delete(ctx context.Context, id string) error
}

// Service runs the two-phase discovery protocol for all registered
// resource families.
type Service struct {
	scanners    map[string]Scanner
	tasks       TaskIndex
	concurrency int
}

// NewService creates a discovery service. concurrency bounds the number
// of detail resolutions in flight per stream.
func NewService(tasks TaskIndex, concurrency int, scanners ...Scanner) *Service {
	if concurrency <= 0 {
		concurrency = 4
	}
	byFamily := make(map[string]Scanner, len(scanners))
	for _, sc := range scanners {
		byFamily[sc.Family()] = sc
	}
	return &Service{scanners: byFamily, tasks: tasks, concurrency: concurrency}
}

// Families returns the registered family names.
func (s *Service) Families() []string {
	out := make([]string, 0, len(s.scanners))
	for family := range s.scanners {
		out = append(out, family)
	}
	sort.Strings(out)
	return out
}

func (s *Service) scanner(family string) (Scanner, error) {
	sc, ok := s.scanners[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return sc, nil
}

// enumerate lists a family's entries, annotates them from the task store,
// and sorts them: orphaned entries first, then last-modified descending.
func (s *Service) enumerate(ctx context.Context, sc Scanner) ([]protocol.ResourceBasic, error) {
	raw, err := sc.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", sc.Family(), err)
	}

	basics := make([]protocol.ResourceBasic, 0, len(raw))
	for _, entry := range raw {
		basic := protocol.ResourceBasic{
			Path:         entry.Path,
			ID:           entry.ID,
			LastModified: entry.LastModified,
		}

		owner, err := s.taskForPath(ctx, sc.Family(), entry.Path)
		switch {
		case err == nil:
			basic.Pinned = owner.Pinned
			basic.TaskID = owner.ID
			basic.TaskTitle = owner.Title
			basic.TaskStatus = string(owner.Status)
		case errors.Is(err, task.ErrNotFound):
			basic.Orphaned = true
		default:
			return nil, fmt.Errorf("task lookup for %s: %w", entry.Path, err)
		}

		basics = append(basics, basic)
	}

	sort.Slice(basics, func(i, j int) bool {
		if basics[i].Orphaned != basics[j].Orphaned {
			return basics[i].Orphaned
		}
		return basics[i].LastModified.After(basics[j].LastModified)
	})
	return basics, nil
}

func (s *Service) taskForPath(ctx context.Context, family, path string) (task.Task, error) {
	if family == protocol.FamilyWorktree {
		return s.tasks.ByWorktreePath(ctx, path)
	}
	return s.tasks.ByScratchPath(ctx, path)
}

// Stream runs one discovery pass, delivering events to the sink: the
// basic listing, then one details or error event per entry from a
// bounded worker pool, then the summary. Every entry reaches exactly one
// terminal event even when its resolution fails.
func (s *Service) Stream(ctx context.Context, family string, sink Sink) error {
	sc, err := s.scanner(family)
	if err != nil {
		return err
	}

	basics, err := s.enumerate(ctx, sc)
	if err != nil {
		return err
	}
	if err := sink.Basic(basics); err != nil {
		return err
	}

	summary := protocol.ResourceSummary{Total: len(basics)}
	for _, b := range basics {
		if b.Orphaned {
			summary.Orphaned++
		}
	}

	var mu sync.Mutex // Serializes sink calls and summary accumulation
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, b := range basics {
		path := b.Path
		g.Go(func() error {
			details, err := sc.Resolve(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A single entry's failure must not stall the rest.
				return sink.Error(protocol.ResourceError{Path: path, Error: err.Error()})
			}
			summary.TotalSizeBytes += details.SizeBytes
			return sink.Details(details)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summary.TotalSize = humanize.IBytes(uint64(summary.TotalSizeBytes))
	return sink.Complete(summary)
}

// List is the non-streaming fallback: basic and details pre-merged, plus
// the summary, in one response. Entries whose detail resolution failed
// keep zero detail fields.
func (s *Service) List(ctx context.Context, family string) ([]protocol.Resource, protocol.ResourceSummary, error) {
	sc, err := s.scanner(family)
	if err != nil {
		return nil, protocol.ResourceSummary{}, err
	}

	basics, err := s.enumerate(ctx, sc)
	if err != nil {
		return nil, protocol.ResourceSummary{}, err
	}

	resources := make([]protocol.Resource, len(basics))
	for i, b := range basics {
		resources[i] = protocol.Resource{ResourceBasic: b}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range resources {
		i := i
		g.Go(func() error {
			details, err := sc.Resolve(gctx, resources[i].Path)
			if err != nil {
				return nil
			}
			resources[i].SizeBytes = details.SizeBytes
			resources[i].Size = details.Size
			resources[i].Branch = details.Branch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, protocol.ResourceSummary{}, err
	}

	summary := protocol.ResourceSummary{Total: len(resources)}
	for _, r := range resources {
		if r.Orphaned {
			summary.Orphaned++
		}
		summary.TotalSizeBytes += r.SizeBytes
	}
	summary.TotalSize = humanize.IBytes(uint64(summary.TotalSizeBytes))
	return resources, summary, nil
}

// Delete removes one resource from disk. Pinned resources are refused.
// When deleteLinkedTask is set, the owning task record is deleted after
// the files are gone.
func (s *Service) Delete(ctx context.Context, family, path string, deleteLinkedTask bool) error {
	sc, err := s.scanner(family)
	if err != nil {
		return err
	}

	owner, err := s.taskForPath(ctx, family, path)
	owned := err == nil
	if err != nil && !errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("task lookup for %s: %w", path, err)
	}
	if owned && owner.Pinned {
		return fmt.Errorf("%w: %s", ErrPinned, path)
	}

	if err := sc.Remove(ctx, path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	if deleteLinkedTask && owned {
		if err := s.tasks.Delete(ctx, owner.ID); err != nil && !errors.Is(err, task.ErrNotFound) {
			return fmt.Errorf("delete linked task %s: %w", owner.ID, err)
		}
	}
	return nil
}

// Cleanup bulk-deletes every eligible resource in a family: unpinned and
// either orphaned or owned by a task in a terminal status. Deletion is
// sequential and stops at the first failure; the paths already deleted
// are returned alongside the error.
func (s *Service) Cleanup(ctx context.Context, family string) ([]string, error) {
	sc, err := s.scanner(family)
	if err != nil {
		return nil, err
	}

	basics, err := s.enumerate(ctx, sc)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, b := range basics {
		if b.Pinned {
			continue
		}
		if !b.Orphaned && !task.Status(b.TaskStatus).Terminal() {
			continue
		}
		if err := sc.Remove(ctx, b.Path); err != nil {
			return deleted, fmt.Errorf("remove %s: %w", b.Path, err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}
