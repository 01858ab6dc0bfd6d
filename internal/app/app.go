// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the Arbor daemon together: configuration, the task
// store, session state and hub, discovery, and the API server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/arborhq/arbor/internal/api"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/discovery"
	"github.com/arborhq/arbor/internal/events"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/task"
	"github.com/arborhq/arbor/pkg/protocol"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus     events.Bus
	taskStore    *task.Store
	sessionState *session.State
	hub          *session.Hub
	discoverySvc *discovery.Service
	watcher      *discovery.Watcher
	apiServer    *api.Server

	busSub events.SubscriptionID

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.config = cfg

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	app.eventBus = events.NewMemoryBus()

	return app, nil
}

// Initialize creates all components. Must be called before Start.
func (app *App) Initialize(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	cfg := app.config

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// Reap shells left over from a crashed daemon before starting new ones.
	pids := session.NewPidStore(filepath.Join(cfg.StateDir, "procs.json"))
	if err := pids.ReapStale(); err != nil {
		log.Printf("App: reap stale processes: %v", err)
	}

	store, err := task.Open(ctx, cfg.Tasks.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	app.taskStore = store

	backend := session.NewPTYBackend(cfg.Terminal.Shell)
	app.sessionState = session.NewState(session.Config{
		Shell:           cfg.Terminal.Shell,
		DefaultCols:     cfg.Terminal.DefaultCols,
		DefaultRows:     cfg.Terminal.DefaultRows,
		ScrollbackBytes: cfg.Terminal.ScrollbackBytes,
	}, backend, pids)
	app.hub = session.NewHub(app.sessionState)

	worktrees := discovery.NewWorktreeScanner(cfg.Worktrees.Root)
	scratch := discovery.NewScratchScanner(cfg.Scratch.Root)
	app.discoverySvc = discovery.NewService(store, cfg.Discovery.Concurrency, worktrees, scratch)

	if cfg.Discovery.Watch {
		debounce := config.ParseDuration(cfg.Discovery.Debounce, 500*time.Millisecond)
		w, err := discovery.NewWatcher(app.eventBus, debounce, worktrees, scratch)
		if err != nil {
			return fmt.Errorf("start discovery watcher: %w", err)
		}
		app.watcher = w
	}

	// Forward discovery change hints onto the control channel so connected
	// clients know a refresh would return different results.
	sub, err := app.eventBus.Subscribe(events.EventDiscoveryChanged, func(_ context.Context, ev events.Event) error {
		family, _ := ev.Payload["family"].(string)
		if family == "" {
			return nil
		}
		app.hub.Emit(protocol.MustMessage(protocol.TypeDiscoveryChanged, protocol.DiscoveryChangedEvent{
			Family: family,
		}))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to discovery events: %w", err)
	}
	app.busSub = sub

	app.apiServer = api.NewServer(api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, api.Dependencies{
		Hub:          app.hub,
		SessionState: app.sessionState,
		Discovery:    app.discoverySvc,
		Tasks:        app.taskStore,
		ProjectName:  cfg.Project.Name,
		Version:      app.version,
	})

	return nil
}

// Start launches the API server.
func (app *App) Start(ctx context.Context) error {
	app.mu.RLock()
	server := app.apiServer
	app.mu.RUnlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			app.Stop()
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal arrives.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			log.Printf("Error closing discovery watcher: %v", err)
		}
	}

	// Terminate terminal processes after the hub has dropped the clients.
	if app.sessionState != nil {
		app.sessionState.Close()
	}

	if app.taskStore != nil {
		if err := app.taskStore.Close(); err != nil {
			log.Printf("Error closing task store: %v", err)
		}
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
