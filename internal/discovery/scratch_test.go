// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchScanner_Enumerate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "experiment-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "experiment-2"), 0755))
	// Plain files are not scratch dirs.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	scanner := NewScratchScanner(root)
	entries, err := scanner.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ids := []string{entries[0].ID, entries[1].ID}
	assert.ElementsMatch(t, []string{"experiment-1", "experiment-2"}, ids)
	assert.False(t, entries[0].LastModified.IsZero())
}

func TestScratchScanner_EnumerateMissingRoot(t *testing.T) {
	scanner := NewScratchScanner(filepath.Join(t.TempDir(), "does-not-exist"))
	entries, err := scanner.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScratchScanner_Resolve(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "exp")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 1024), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.bin"), make([]byte, 512), 0644))

	scanner := NewScratchScanner(root)
	details, err := scanner.Resolve(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, int64(1536), details.SizeBytes)
	assert.NotEmpty(t, details.Size)
	assert.Empty(t, details.Branch)
}

func TestScratchScanner_RemoveRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	scanner := NewScratchScanner(root)

	assert.Error(t, scanner.Remove(context.Background(), "/etc"))
	assert.Error(t, scanner.Remove(context.Background(), root))
	assert.Error(t, scanner.Remove(context.Background(), filepath.Join(root, "..", "sibling")))

	dir := filepath.Join(root, "exp")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, scanner.Remove(context.Background(), dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDebouncer_Coalesces(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stop()

	var fired int32
	for i := 0; i < 5; i++ {
		d.schedule("worktree", func() { atomic.AddInt32(&fired, 1) })
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)

	// Distinct keys fire independently.
	d.schedule("scratch", func() { atomic.AddInt32(&fired, 1) })
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)

	var fired int32
	d.schedule("worktree", func() { atomic.AddInt32(&fired, 1) })
	d.stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}
