// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/task"
)

// TaskHandler handles task-related API requests.
type TaskHandler struct {
	store *task.Store
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(store *task.Store) *TaskHandler {
	return &TaskHandler{store: store}
}

// List returns all tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrTaskError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
	})
}

// Get returns one task.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "task not found: "+id)
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrTaskError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// Pin sets or clears the pinned flag on a task. Pinned tasks shield
// their worktree and scratch directory from deletion and cleanup.
func (h *TaskHandler) Pin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.store.SetPinned(r.Context(), id, req.Pinned); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "task not found: "+id)
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrTaskError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"pinned": req.Pinned,
	})
}
