// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the Arbor daemon over HTTP: the session WebSocket,
// the discovery SSE streams with their JSON fallbacks, and the task and
// status endpoints.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/api/handlers"
	"github.com/arborhq/arbor/internal/api/middleware"
	"github.com/arborhq/arbor/internal/api/version"
	"github.com/arborhq/arbor/internal/discovery"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/task"
	"github.com/arborhq/arbor/pkg/protocol"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Hub          *session.Hub
	SessionState *session.State
	Discovery    *discovery.Service
	Tasks        *task.Store
	ProjectName  string
	Version      string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Session control channel
	api.HandleFunc("/session/ws", deps.Hub.ServeWS).Methods("GET")

	// Discovery: one route set per resource family
	discoveryHandler := handlers.NewDiscoveryHandler(deps.Discovery)
	registerFamilyRoutes(api, discoveryHandler, protocol.FamilyWorktree, "/worktrees")
	registerFamilyRoutes(api, discoveryHandler, protocol.FamilyScratch, "/scratch")

	// Task handlers
	taskHandler := handlers.NewTaskHandler(deps.Tasks)
	api.HandleFunc("/tasks", taskHandler.List).Methods("GET")
	api.HandleFunc("/tasks/{id}", taskHandler.Get).Methods("GET")
	api.HandleFunc("/tasks/{id}/pin", taskHandler.Pin).Methods("PATCH")

	// Status handler
	statusHandler := handlers.NewStatusHandler(deps.ProjectName, deps.Version, deps.SessionState, deps.Discovery.Families())
	api.HandleFunc("/status", statusHandler.Status).Methods("GET")

	return r
}

// registerFamilyRoutes wires the discovery surface for one resource
// family under the given path prefix.
func registerFamilyRoutes(api *mux.Router, h *handlers.DiscoveryHandler, family, prefix string) {
	api.HandleFunc(prefix, h.List(family)).Methods("GET")
	api.HandleFunc(prefix, h.Delete(family)).Methods("DELETE")
	api.HandleFunc(prefix+"/stream", h.Stream(family)).Methods("GET")
	api.HandleFunc(prefix+"/cleanup", h.Cleanup(family)).Methods("POST")
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
	hub    *session.Hub
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
		hub:    deps.Hub,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Close WebSocket connections first so Shutdown isn't held open by
	// long-lived control channels.
	if s.hub != nil {
		s.hub.Shutdown()
	}

	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
