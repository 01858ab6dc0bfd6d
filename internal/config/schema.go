// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the Arbor daemon.
package config

import "time"

// Config is the root configuration structure for Arbor.
type Config struct {
	Version   string          `json:"version"`
	Project   ProjectConfig   `json:"project"`
	Server    ServerConfig    `json:"server"`
	Terminal  TerminalConfig  `json:"terminal"`
	Worktrees WorktreesConfig `json:"worktrees"`
	Scratch   ScratchConfig   `json:"scratch"`
	Tasks     TasksConfig     `json:"tasks"`
	Discovery DiscoveryConfig `json:"discovery"`
	StateDir  string          `json:"state_dir"` // Directory for daemon state (pid store, task db default)
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TerminalConfig configures terminal sessions.
type TerminalConfig struct {
	Shell           string `json:"shell"`            // Shell started in each terminal
	DefaultCols     int    `json:"default_cols"`     // Used when a create intent omits dimensions
	DefaultRows     int    `json:"default_rows"`
	ScrollbackBytes int    `json:"scrollback_bytes"` // Per-terminal output buffer retained for replay
}

// WorktreesConfig configures worktree discovery.
type WorktreesConfig struct {
	Root string `json:"root"` // Directory containing task worktrees
}

// ScratchConfig configures scratch directory discovery.
type ScratchConfig struct {
	Root string `json:"root"` // Directory containing per-task scratch dirs
}

// TasksConfig configures the task store.
type TasksConfig struct {
	DBPath string `json:"db_path"` // Sqlite path (defaults to <state_dir>/tasks.db)
}

// DiscoveryConfig configures the discovery scanners.
type DiscoveryConfig struct {
	Concurrency int    `json:"concurrency"` // Parallel detail resolutions per stream
	Watch       bool   `json:"watch"`       // Emit change hints via fsnotify
	Debounce    string `json:"debounce"`    // Filesystem event debounce (e.g. "500ms")
}

// ParseDuration parses a duration string, returning def when the string
// is empty or invalid.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
