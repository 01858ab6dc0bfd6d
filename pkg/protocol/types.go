// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire types shared by the Arbor server and
// its clients: the control-channel message envelope, the session entities
// it carries, and the discovery stream records.
package protocol

import "time"

// Terminal is one long-lived terminal session as the server sees it.
type Terminal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`

	// Cwd is nil until the working directory is known, or when the
	// terminal has no fixed working directory.
	Cwd *string `json:"cwd"`

	// TabID is nil for task terminals that are not shown in the tab strip.
	// PositionInTab is only meaningful while TabID is non-nil.
	TabID         *string `json:"tabId"`
	PositionInTab int     `json:"positionInTab"`

	// ExitCode is set once the underlying process has ended. The terminal
	// stays in the collection until explicitly destroyed.
	ExitCode *int `json:"exitCode"`
}

// InTab reports whether the terminal belongs to the given tab.
func (t *Terminal) InTab(tabID string) bool {
	return t.TabID != nil && *t.TabID == tabID
}

// Tab is a named container of terminals with an ordered position.
type Tab struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Position  int     `json:"position"`
	Directory *string `json:"directory"`

	// Pending marks a client-side placeholder for an optimistically
	// created tab awaiting server confirmation. Never set by the server
	// and never sent on the wire.
	Pending bool `json:"-"`
}

// Resource families served by the discovery stream.
const (
	FamilyWorktree = "worktree"
	FamilyScratch  = "scratch"
)

// ResourceBasic holds the cheap fields of one discovered resource,
// derivable from a directory listing plus a task-store lookup.
type ResourceBasic struct {
	Path         string    `json:"path"`
	ID           string    `json:"id"`
	Orphaned     bool      `json:"orphaned"`
	Pinned       bool      `json:"pinned"`
	LastModified time.Time `json:"lastModified"`
	TaskID       string    `json:"taskId,omitempty"`
	TaskTitle    string    `json:"taskTitle,omitempty"`
	TaskStatus   string    `json:"taskStatus,omitempty"`
}

// ResourceDetails holds the expensive per-resource fields, delivered
// one event per entry after the basic listing.
type ResourceDetails struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	Size      string `json:"size"`

	// Branch is set for worktrees only.
	Branch string `json:"branch,omitempty"`
}

// Resource is the pre-merged basic+details record returned by the
// fallback (non-streaming) listing endpoints. Detail fields are zero
// when their resolution failed.
type Resource struct {
	ResourceBasic
	SizeBytes int64  `json:"sizeBytes"`
	Size      string `json:"size"`
	Branch    string `json:"branch,omitempty"`
}

// ResourceSummary is the server-computed aggregate delivered once per
// stream by the complete event. It supersedes any client-side counting.
type ResourceSummary struct {
	Total          int    `json:"total"`
	Orphaned       int    `json:"orphaned"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	TotalSize      string `json:"totalSize"`
}

// ResourceError identifies an entry whose detail resolution failed.
type ResourceError struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}
