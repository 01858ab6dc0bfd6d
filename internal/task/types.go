// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package task persists task records. A task owns at most one worktree and
// one scratch directory; discovery uses these links to attribute resources
// and to decide cleanup eligibility.
package task

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusMerged     Status = "merged"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Resources owned by tasks
// in a terminal status are eligible for bulk cleanup unless pinned.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusMerged, StatusCancelled:
		return true
	}
	return false
}

// Task is one tracked unit of work.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Pinned       bool      `json:"pinned"`
	WorktreePath string    `json:"worktreePath,omitempty"`
	ScratchPath  string    `json:"scratchPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
