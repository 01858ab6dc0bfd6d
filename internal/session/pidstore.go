// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"

	ps "github.com/mitchellh/go-ps"
)

// SavedProc records a terminal's shell process so leftovers from a
// crashed daemon can be reaped on the next start.
type SavedProc struct {
	PID        int    `json:"pid"`
	Executable string `json:"executable"` // Base name, matched before killing
}

// ProcsData maps terminal ids to their saved processes.
type ProcsData map[string]SavedProc

// PidStore persists terminal process ids to disk. Terminals do not
// survive a daemon restart, but their shells would without this.
type PidStore struct {
	filePath string
}

// NewPidStore creates a new pid store at the given file path.
func NewPidStore(filePath string) *PidStore {
	return &PidStore{filePath: filePath}
}

// Load reads the saved processes from disk. Returns an empty map if the
// file does not exist.
func (s *PidStore) Load() (ProcsData, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(ProcsData), nil
		}
		return nil, fmt.Errorf("read pid file: %w", err)
	}
	if len(data) == 0 {
		return make(ProcsData), nil
	}
	var procs ProcsData
	if err := json.Unmarshal(data, &procs); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return procs, nil
}

// Save writes the process data to disk atomically (write tmp + rename).
func (s *PidStore) Save(procs ProcsData) error {
	data, err := json.MarshalIndent(procs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pids: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp pid file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename pid file: %w", err)
	}
	return nil
}

// ReapStale kills processes recorded by a previous run that are still
// alive, then truncates the store. A pid is only killed when the process
// list shows the same executable name, so recycled pids are left alone.
func (s *PidStore) ReapStale() error {
	procs, err := s.Load()
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		return nil
	}

	var reaped int
	for id, saved := range procs {
		proc, err := ps.FindProcess(saved.PID)
		if err != nil || proc == nil {
			continue
		}
		if proc.Executable() != saved.Executable {
			continue
		}
		if err := syscall.Kill(saved.PID, syscall.SIGKILL); err == nil {
			log.Printf("Session: reaped stale terminal process %d (terminal %s)", saved.PID, id)
			reaped++
		}
	}

	if reaped > 0 {
		log.Printf("Session: reaped %d stale terminal processes", reaped)
	}
	return s.Save(make(ProcsData))
}
