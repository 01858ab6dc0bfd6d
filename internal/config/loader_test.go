// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	content := `{
  // project metadata
  project: {
    name: demo
  }
  server: {
    port: 5100
  }
  worktrees: {
    root: /srv/worktrees
  }
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults() error: %v", err)
	}

	if cfg.Project.Name != "demo" {
		t.Errorf("project name: got %q, want %q", cfg.Project.Name, "demo")
	}
	if cfg.Server.Port != 5100 {
		t.Errorf("port: got %d, want 5100", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host: got %q", cfg.Server.Host)
	}
	if cfg.Worktrees.Root != "/srv/worktrees" {
		t.Errorf("worktrees root: got %q", cfg.Worktrees.Root)
	}
	if cfg.Terminal.DefaultCols != 80 || cfg.Terminal.DefaultRows != 24 {
		t.Errorf("default dimensions: got %dx%d", cfg.Terminal.DefaultCols, cfg.Terminal.DefaultRows)
	}
	if cfg.StateDir != filepath.Join(dir, ".arbor") {
		t.Errorf("state dir: got %q", cfg.StateDir)
	}
	if cfg.Tasks.DBPath != filepath.Join(dir, ".arbor", "tasks.db") {
		t.Errorf("db path: got %q", cfg.Tasks.DBPath)
	}
	if cfg.Discovery.Concurrency != 4 {
		t.Errorf("discovery concurrency: got %d", cfg.Discovery.Concurrency)
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load(filepath.Join(t.TempDir(), "nope.hjson")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_LoadInvalidHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	os.WriteFile(path, []byte("{ server: { port: }"), 0644)

	loader := NewLoader()
	if _, err := loader.Load(path); err == nil {
		t.Fatal("expected error for invalid hjson")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"500ms", time.Second, 500 * time.Millisecond},
		{"", time.Second, time.Second},
		{"garbage", 2 * time.Second, 2 * time.Second},
		{"1m30s", 0, 90 * time.Second},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("ParseDuration(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}
