// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(path string) (*Config, error) {
	cfg, err := l.Load(path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg, filepath.Dir(path))
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for arbor.hjson first, then arbor.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"arbor.hjson",
		"arbor.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for arbor.hjson, arbor.json)")
}

// applyDefaults sets default values for missing config fields. configDir
// is the directory containing the config file; relative state defaults
// are anchored there.
func applyDefaults(cfg *Config, configDir string) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4500
	}

	// Terminal defaults
	if cfg.Terminal.Shell == "" {
		cfg.Terminal.Shell = defaultShell()
	}
	if cfg.Terminal.DefaultCols == 0 {
		cfg.Terminal.DefaultCols = 80
	}
	if cfg.Terminal.DefaultRows == 0 {
		cfg.Terminal.DefaultRows = 24
	}
	if cfg.Terminal.ScrollbackBytes == 0 {
		cfg.Terminal.ScrollbackBytes = 256 * 1024
	}

	// State defaults
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(configDir, ".arbor")
	}
	if cfg.Tasks.DBPath == "" {
		cfg.Tasks.DBPath = filepath.Join(cfg.StateDir, "tasks.db")
	}

	// Discovery defaults
	if cfg.Discovery.Concurrency == 0 {
		cfg.Discovery.Concurrency = 4
	}
	if cfg.Discovery.Debounce == "" {
		cfg.Discovery.Debounce = "500ms"
	}
}

// defaultShell returns the user's shell, falling back to /bin/sh.
func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}
