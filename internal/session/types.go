// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns the authoritative terminal and tab state. All
// mutations flow through State in per-connection delivery order; the hub
// broadcasts the resulting events so clients converge on this model.
package session

import "context"

// Config holds session defaults.
type Config struct {
	Shell           string // Shell started in each terminal
	DefaultCols     int
	DefaultRows     int
	ScrollbackBytes int // Per-terminal output retained for replay
}

// StartOptions describes the process to start for a new terminal.
type StartOptions struct {
	TerminalID string
	Cwd        string // Empty means the daemon's working directory
	Cols       int
	Rows       int

	// OnOutput is invoked from the backend's read goroutine with raw
	// output bytes. The callback must not block.
	OnOutput func(data []byte)

	// OnExit is invoked exactly once when the process ends.
	OnExit func(exitCode int)
}

// Proc is a handle to one running terminal process.
type Proc interface {
	// Write sends input bytes to the process.
	Write(data []byte) error
	// Resize changes the PTY dimensions.
	Resize(cols, rows int) error
	// Pid returns the process id.
	Pid() int
	// Close terminates the process and releases the PTY. Idempotent.
	Close() error
}

// Backend starts terminal processes.
type Backend interface {
	Start(ctx context.Context, opts StartOptions) (Proc, error)
}
