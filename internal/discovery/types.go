// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery enumerates on-disk resources (git worktrees, scratch
// directories) and resolves their expensive details in two phases: a
// cheap listing first, then per-entry enrichment under a bounded worker
// pool. Both resource families run through the same engine.
package discovery

import (
	"context"
	"time"

	"github.com/arborhq/arbor/pkg/protocol"
)

// RawEntry is one resource as the scanner sees it, before task-store
// annotation.
type RawEntry struct {
	Path         string
	ID           string
	LastModified time.Time
}

// Scanner enumerates and enriches one resource family.
type Scanner interface {
	// Family returns the family name used in event names and routes.
	Family() string

	// Enumerate returns the cheap listing.
	Enumerate(ctx context.Context) ([]RawEntry, error)

	// Resolve computes the expensive fields for one entry.
	Resolve(ctx context.Context, path string) (protocol.ResourceDetails, error)

	// Remove deletes the resource from disk. The path must be one that
	// Enumerate returned.
	Remove(ctx context.Context, path string) error
}

// Sink receives the stream events in order: one Basic, then any number
// of Details and Error in any order, then one Complete. Calls are
// serialized by the engine.
type Sink interface {
	Basic(entries []protocol.ResourceBasic) error
	Details(d protocol.ResourceDetails) error
	Error(e protocol.ResourceError) error
	Complete(s protocol.ResourceSummary) error
}
