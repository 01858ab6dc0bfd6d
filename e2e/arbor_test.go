// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/api"
	"github.com/arborhq/arbor/internal/discovery"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/task"
	"github.com/arborhq/arbor/pkg/protocol"
)

// createTestDependencies builds a full daemon wiring over temp
// directories: real scratch scanner, real sqlite task store, and real
// PTY-backed terminals.
func createTestDependencies(t *testing.T) api.Dependencies {
	t.Helper()
	tmp := t.TempDir()

	scratchRoot := filepath.Join(tmp, "scratch")
	require.NoError(t, os.MkdirAll(filepath.Join(scratchRoot, "task-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(scratchRoot, "orphan"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scratchRoot, "task-1", "notes.txt"), []byte("e2e"), 0644))

	worktreeRoot := filepath.Join(tmp, "worktrees")
	require.NoError(t, os.MkdirAll(worktreeRoot, 0755))

	ctx := context.Background()
	store, err := task.Open(ctx, filepath.Join(tmp, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Create(ctx, task.Task{
		ID:          "task-1",
		Title:       "e2e task",
		Status:      task.StatusInProgress,
		ScratchPath: filepath.Join(scratchRoot, "task-1"),
	})
	require.NoError(t, err)

	pids := session.NewPidStore(filepath.Join(tmp, "procs.json"))
	state := session.NewState(session.Config{
		Shell:           "/bin/sh",
		DefaultCols:     80,
		DefaultRows:     24,
		ScrollbackBytes: 4096,
	}, session.NewPTYBackend("/bin/sh"), pids)
	t.Cleanup(state.Close)
	hub := session.NewHub(state)

	svc := discovery.NewService(store, 2,
		discovery.NewWorktreeScanner(worktreeRoot),
		discovery.NewScratchScanner(scratchRoot))

	return api.Dependencies{
		Hub:          hub,
		SessionState: state,
		Discovery:    svc,
		Tasks:        store,
		ProjectName:  "e2e",
		Version:      "test",
	}
}

// TestServerStartup verifies that the API server starts correctly.
func TestServerStartup(t *testing.T) {
	deps := createTestDependencies(t)
	server := api.NewServer(api.ServerConfig{Host: "127.0.0.1", Port: 0}, deps)
	require.NotNil(t, server)
	require.NotNil(t, server.Router())
}

// TestStatusEndpoint checks the envelope and version header.
func TestStatusEndpoint(t *testing.T) {
	deps := createTestDependencies(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Arbor-Version"))

	var statusResp struct {
		Data struct {
			Project  string   `json:"project"`
			Families []string `json:"families"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statusResp))
	assert.Equal(t, "e2e", statusResp.Data.Project)
	assert.Contains(t, statusResp.Data.Families, "scratch")
	assert.Contains(t, statusResp.Data.Families, "worktree")
}

// TestScratchDiscovery exercises the fallback listing and the SSE stream.
func TestScratchDiscovery(t *testing.T) {
	deps := createTestDependencies(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	// Fallback listing
	resp, err := http.Get(server.URL + "/api/v1/scratch")
	require.NoError(t, err)
	var listResp struct {
		Data struct {
			Scratches []protocol.Resource       `json:"scratches"`
			Summary   *protocol.ResourceSummary `json:"summary"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	resp.Body.Close()

	require.Len(t, listResp.Data.Scratches, 2)
	require.NotNil(t, listResp.Data.Summary)
	assert.Equal(t, 2, listResp.Data.Summary.Total)
	assert.Equal(t, 1, listResp.Data.Summary.Orphaned)

	// Orphaned entry sorts first.
	assert.True(t, listResp.Data.Scratches[0].Orphaned)
	assert.True(t, strings.HasSuffix(listResp.Data.Scratches[0].Path, "/orphan"))

	// SSE stream
	resp, err = http.Get(server.URL + "/api/v1/scratch/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", strings.Split(resp.Header.Get("Content-Type"), ";")[0])

	body := make([]byte, 0, 8192)
	buf := make([]byte, 1024)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}
	events := string(body)
	assert.Contains(t, events, "event: scratch:basic")
	assert.Contains(t, events, "event: scratch:complete")
	// One details (or error) event per entry.
	assert.Equal(t, 2,
		strings.Count(events, "event: scratch:details")+strings.Count(events, "event: scratch:error"))
}

// TestScratchDeleteAndCleanup covers the pin refusal and bulk cleanup.
func TestScratchDeleteAndCleanup(t *testing.T) {
	deps := createTestDependencies(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	ctx := context.Background()
	require.NoError(t, deps.Tasks.SetPinned(ctx, "task-1", true))

	owned, err := deps.Tasks.Get(ctx, "task-1")
	require.NoError(t, err)

	// Deleting the pinned task's scratch dir is refused.
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/scratch",
		strings.NewReader(`{"path":"`+owned.ScratchPath+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.DirExists(t, owned.ScratchPath)

	// Cleanup removes only the orphan.
	resp, err = http.Post(server.URL+"/api/v1/scratch/cleanup", "application/json", nil)
	require.NoError(t, err)
	var cleanupResp struct {
		Data struct {
			Deleted []string `json:"deleted"`
			Count   int      `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleanupResp))
	resp.Body.Close()
	assert.Equal(t, 1, cleanupResp.Data.Count)
	assert.DirExists(t, owned.ScratchPath)
}

// TestSessionWebSocket drives the control channel end to end: full
// sync on connect, tab and terminal creation, cascade deletion.
func TestSessionWebSocket(t *testing.T) {
	deps := createTestDependencies(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/api/v1/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() protocol.Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	// Output frames interleave with lifecycle events once a terminal is
	// running; skip them when waiting for a specific type.
	readUntil := func(msgType string) protocol.Message {
		t.Helper()
		for {
			msg := readMessage()
			if msg.Type == msgType {
				return msg
			}
			if msg.Type == protocol.TypeTerminalOutput || msg.Type == protocol.TypeTerminalExit {
				continue
			}
			t.Fatalf("unexpected message %s while waiting for %s", msg.Type, msgType)
		}
	}

	// Full sync arrives first: terminals, then tabs.
	assert.Equal(t, protocol.TypeTerminalsList, readMessage().Type)
	assert.Equal(t, protocol.TypeTabsList, readMessage().Type)

	// Create a tab.
	require.NoError(t, conn.WriteJSON(protocol.MustMessage(protocol.TypeTabCreate, protocol.TabCreateRequest{
		Name: "work",
	})))
	var tabCreated protocol.TabCreatedEvent
	require.NoError(t, readUntil(protocol.TypeTabCreated).Decode(&tabCreated))
	assert.Equal(t, "work", tabCreated.Tab.Name)
	assert.NotEmpty(t, tabCreated.Tab.ID)

	// Create a terminal in it; this connection sees isNew.
	require.NoError(t, conn.WriteJSON(protocol.MustMessage(protocol.TypeTerminalCreate, protocol.TerminalCreateRequest{
		Name:  "shell",
		TabID: &tabCreated.Tab.ID,
	})))
	var created protocol.TerminalCreatedEvent
	require.NoError(t, readUntil(protocol.TypeTerminalCreated).Decode(&created))
	assert.True(t, created.IsNew)
	require.NotNil(t, created.Terminal.TabID)
	assert.Equal(t, tabCreated.Tab.ID, *created.Terminal.TabID)

	// Deleting the tab destroys its terminal first, then the tab.
	require.NoError(t, conn.WriteJSON(protocol.MustMessage(protocol.TypeTabDelete, protocol.TabDeleteRequest{
		TabID: tabCreated.Tab.ID,
	})))
	var destroyed protocol.TerminalDestroyedEvent
	require.NoError(t, readUntil(protocol.TypeTerminalDestroyed).Decode(&destroyed))
	assert.Equal(t, created.Terminal.ID, destroyed.TerminalID)
	var tabDeleted protocol.TabDeletedEvent
	require.NoError(t, readUntil(protocol.TypeTabDeleted).Decode(&tabDeleted))
	assert.Equal(t, tabCreated.Tab.ID, tabDeleted.TabID)
}

// TestTaskPinEndpoint toggles a pin over HTTP.
func TestTaskPinEndpoint(t *testing.T) {
	deps := createTestDependencies(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPatch, server.URL+"/api/v1/tasks/task-1/pin",
		strings.NewReader(`{"pinned":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := deps.Tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.True(t, stored.Pinned)
}
