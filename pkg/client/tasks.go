// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Task is a task record as reported by the daemon. A task may own a
// worktree, a scratch directory, both, or neither.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	Pinned       bool      `json:"pinned"`
	WorktreePath string    `json:"worktreePath,omitempty"`
	ScratchPath  string    `json:"scratchPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TaskClient provides access to task records and the pin toggle.
type TaskClient struct {
	c *Client
}

// List returns all task records.
func (tc *TaskClient) List(ctx context.Context) ([]Task, error) {
	data, err := tc.c.get(ctx, "/api/v1/tasks")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}
	return payload.Tasks, nil
}

// Get returns one task by id.
func (tc *TaskClient) Get(ctx context.Context, id string) (*Task, error) {
	data, err := tc.c.get(ctx, "/api/v1/tasks/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	return &t, nil
}

// Pin sets or clears the pin on a task. Resources owned by a pinned
// task are protected from deletion and cleanup.
func (tc *TaskClient) Pin(ctx context.Context, id string, pinned bool) error {
	_, err := tc.c.patchJSON(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/pin", map[string]bool{
		"pinned": pinned,
	})
	return err
}
