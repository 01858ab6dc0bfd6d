// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/arborhq/arbor/internal/session"
)

// StatusHandler reports daemon identity and session counts.
type StatusHandler struct {
	project  string
	version  string
	started  time.Time
	state    *session.State
	families []string
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(project, version string, state *session.State, families []string) *StatusHandler {
	return &StatusHandler{
		project:  project,
		version:  version,
		started:  time.Now(),
		state:    state,
		families: families,
	}
}

// Status returns the daemon status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	terminals, tabs := h.state.Snapshot()

	var exited int
	for _, t := range terminals {
		if t.ExitCode != nil {
			exited++
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project":   h.project,
		"version":   h.version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"terminals": len(terminals),
		"exited":    exited,
		"tabs":      len(tabs),
		"families":  h.families,
	})
}
