// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/arborhq/arbor/pkg/protocol"
)

// WorktreeScanner discovers git worktrees under a root directory. Each
// immediate subdirectory of the root is one worktree.
type WorktreeScanner struct {
	root string
}

// NewWorktreeScanner creates a scanner over the given root.
func NewWorktreeScanner(root string) *WorktreeScanner {
	return &WorktreeScanner{root: root}
}

func (s *WorktreeScanner) Family() string { return protocol.FamilyWorktree }

// Root returns the directory the scanner enumerates, for the watcher.
func (s *WorktreeScanner) Root() string { return s.root }

func (s *WorktreeScanner) Enumerate(ctx context.Context) ([]RawEntry, error) {
	return enumerateDir(s.root)
}

// Resolve computes the on-disk size and the current git branch.
func (s *WorktreeScanner) Resolve(ctx context.Context, path string) (protocol.ResourceDetails, error) {
	if err := s.contains(path); err != nil {
		return protocol.ResourceDetails{}, err
	}

	size, err := dirSize(path)
	if err != nil {
		return protocol.ResourceDetails{}, fmt.Errorf("size of %s: %w", path, err)
	}

	branch, err := currentBranch(ctx, path)
	if err != nil {
		return protocol.ResourceDetails{}, err
	}

	return protocol.ResourceDetails{
		Path:      path,
		SizeBytes: size,
		Size:      humanize.IBytes(uint64(size)),
		Branch:    branch,
	}, nil
}

// Remove detaches the worktree via git, falling back to a plain
// directory removal plus prune when git refuses (e.g. the worktree's
// metadata is already gone).
func (s *WorktreeScanner) Remove(ctx context.Context, path string) error {
	if err := s.contains(path); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", "-C", path, "worktree", "remove", "--force", path)
	if err := cmd.Run(); err == nil {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return err
	}
	// Leftover administrative entries don't block anything, so a prune
	// failure is not fatal.
	exec.CommandContext(ctx, "git", "-C", s.root, "worktree", "prune").Run()
	return nil
}

// contains rejects paths outside the scanner's root, so a malformed
// delete request can't reach arbitrary directories.
func (s *WorktreeScanner) contains(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %s is outside %s", path, s.root)
	}
	return nil
}

// currentBranch returns the checked-out branch, or the short commit hash
// for a detached HEAD.
func currentBranch(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", path, "branch", "--show-current")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git branch for %s: %w", path, err)
	}
	branch := strings.TrimSpace(string(output))
	if branch != "" {
		return branch, nil
	}

	// Detached HEAD: --show-current prints nothing.
	cmd = exec.CommandContext(ctx, "git", "-C", path, "rev-parse", "--short", "HEAD")
	output, err = cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse for %s: %w", path, err)
	}
	return strings.TrimSpace(string(output)), nil
}
