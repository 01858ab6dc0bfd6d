// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/arborhq/arbor/pkg/protocol"
)

// ScratchScanner discovers scratch directories under a root. Scratch
// dirs are plain directories, so details carry only the size.
type ScratchScanner struct {
	root string
}

// NewScratchScanner creates a scanner over the given root.
func NewScratchScanner(root string) *ScratchScanner {
	return &ScratchScanner{root: root}
}

func (s *ScratchScanner) Family() string { return protocol.FamilyScratch }

// Root returns the directory the scanner enumerates, for the watcher.
func (s *ScratchScanner) Root() string { return s.root }

func (s *ScratchScanner) Enumerate(ctx context.Context) ([]RawEntry, error) {
	return enumerateDir(s.root)
}

func (s *ScratchScanner) Resolve(ctx context.Context, path string) (protocol.ResourceDetails, error) {
	if err := s.contains(path); err != nil {
		return protocol.ResourceDetails{}, err
	}
	size, err := dirSize(path)
	if err != nil {
		return protocol.ResourceDetails{}, fmt.Errorf("size of %s: %w", path, err)
	}
	return protocol.ResourceDetails{
		Path:      path,
		SizeBytes: size,
		Size:      humanize.IBytes(uint64(size)),
	}, nil
}

func (s *ScratchScanner) Remove(ctx context.Context, path string) error {
	if err := s.contains(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (s *ScratchScanner) contains(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %s is outside %s", path, s.root)
	}
	return nil
}

// enumerateDir lists the immediate subdirectories of root as raw
// entries. A missing root yields an empty listing, not an error, so a
// fresh project renders an empty set instead of failing.
func enumerateDir(root string) ([]RawEntry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]RawEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // Removed between ReadDir and Info
		}
		entries = append(entries, RawEntry{
			Path:         filepath.Join(root, de.Name()),
			ID:           de.Name(),
			LastModified: info.ModTime(),
		})
	}
	return entries, nil
}

// dirSize walks a directory tree and sums file sizes.
func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // Removed mid-walk
		}
		total += info.Size()
		return nil
	})
	return total, err
}
