// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/arborhq/arbor/internal/discovery"
	"github.com/arborhq/arbor/pkg/protocol"
)

// DiscoveryHandler serves the two-phase resource discovery protocol:
// the SSE stream, the pre-merged fallback listing, and the delete and
// cleanup operations. One handler serves both resource families; the
// family is bound per route.
type DiscoveryHandler struct {
	svc *discovery.Service
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(svc *discovery.Service) *DiscoveryHandler {
	return &DiscoveryHandler{svc: svc}
}

// sseSink adapts an SSE response to the discovery event sink. Event
// names are <family>:basic, <family>:details, <family>:error and
// <family>:complete.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	family  string
}

func (s *sseSink) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s:%s\ndata: %s\n\n", s.family, name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Basic(entries []protocol.ResourceBasic) error {
	return s.event("basic", entries)
}

func (s *sseSink) Details(d protocol.ResourceDetails) error {
	return s.event("details", d)
}

func (s *sseSink) Error(e protocol.ResourceError) error {
	return s.event("error", e)
}

func (s *sseSink) Complete(sum protocol.ResourceSummary) error {
	return s.event("complete", sum)
}

// Stream runs one discovery pass over SSE and closes the response when
// the complete event has been sent.
func (h *DiscoveryHandler) Stream(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, ErrInternalError, "streaming not supported")
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
		flusher.Flush()

		sink := &sseSink{w: w, flusher: flusher, family: family}
		if err := h.svc.Stream(r.Context(), family, sink); err != nil {
			// Headers are gone; all we can do is log and drop the stream.
			log.Printf("Discovery stream (%s): %v", family, err)
		}
	}
}

// List is the non-streaming fallback, returning the merged listing and
// summary in one response.
func (h *DiscoveryHandler) List(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resources, summary, err := h.svc.List(r.Context(), family)
		if err != nil {
			status, code := discoveryErrStatus(err)
			WriteError(w, status, code, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			pluralize(family): resources,
			"summary":         summary,
		})
	}
}

type deleteRequest struct {
	Path             string `json:"path"`
	DeleteLinkedTask bool   `json:"deleteLinkedTask"`
}

// Delete removes one resource from disk, optionally cascading to the
// owning task record.
func (h *DiscoveryHandler) Delete(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "path is required")
			return
		}

		if err := h.svc.Delete(r.Context(), family, req.Path, req.DeleteLinkedTask); err != nil {
			status, code := discoveryErrStatus(err)
			WriteError(w, status, code, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": req.Path})
	}
}

// Cleanup bulk-deletes all eligible resources in a family. On a partial
// failure the response lists what was deleted before the stop.
func (h *DiscoveryHandler) Cleanup(family string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := h.svc.Cleanup(r.Context(), family)
		if deleted == nil {
			deleted = []string{}
		}
		if err != nil {
			status, code := discoveryErrStatus(err)
			WriteErrorWithDetails(w, status, code, err.Error(), map[string]interface{}{
				"deleted": deleted,
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"deleted": deleted,
			"count":   len(deleted),
		})
	}
}

func discoveryErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, discovery.ErrPinned):
		return http.StatusConflict, ErrPinned
	case errors.Is(err, discovery.ErrUnknownFamily):
		return http.StatusNotFound, ErrNotFound
	default:
		return http.StatusInternalServerError, ErrDiscoveryError
	}
}

func pluralize(family string) string {
	if strings.HasSuffix(family, "ch") || strings.HasSuffix(family, "s") {
		return family + "es"
	}
	return family + "s"
}
