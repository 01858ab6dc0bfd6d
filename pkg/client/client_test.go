// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// apiHandler creates a handler that returns a standard API response.
func apiHandler(data interface{}, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"data": data,
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// apiErrorHandler creates a handler that returns an API error.
func apiErrorHandler(code, message string, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"error": map[string]string{
				"code":    code,
				"message": message,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestNew(t *testing.T) {
	c := New("http://localhost:4500")

	if c.BaseURL() != "http://localhost:4500" {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), "http://localhost:4500")
	}
	if c.Version() != LatestVersion {
		t.Errorf("Version() = %q, want %q", c.Version(), LatestVersion)
	}
	if c.Worktrees == nil || c.Scratch == nil || c.Tasks == nil {
		t.Error("family and task clients should be wired by New")
	}
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:4500/")
	if c.BaseURL() != "http://localhost:4500" {
		t.Errorf("BaseURL() = %q, want trailing slash removed", c.BaseURL())
	}
}

func TestWithVersion(t *testing.T) {
	c := New("http://localhost:4500", WithVersion("2026-08-01"))
	if c.Version() != "2026-08-01" {
		t.Errorf("Version() = %q, want %q", c.Version(), "2026-08-01")
	}
}

func TestWithTimeout(t *testing.T) {
	c := New("http://localhost:4500", WithTimeout(5*time.Second))
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
	}
}

func TestVersionHeaderSent(t *testing.T) {
	var gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get(VersionHeader)
		apiHandler(map[string]string{}, http.StatusOK)(w, r)
	}))
	defer server.Close()

	c := New(server.URL, WithVersion("2026-08-01"))
	if _, err := c.get(context.Background(), "/api/v1/status"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotVersion != "2026-08-01" {
		t.Errorf("%s header = %q, want %q", VersionHeader, gotVersion, "2026-08-01")
	}
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(apiHandler(StatusInfo{
		Project:   "demo",
		Version:   "1.2.3",
		Uptime:    "5m0s",
		Terminals: 3,
		Tabs:      2,
		Families:  []string{"scratch", "worktree"},
	}, http.StatusOK))
	defer server.Close()

	c := New(server.URL)
	info, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if info.Project != "demo" || info.Terminals != 3 || len(info.Families) != 2 {
		t.Errorf("Status() = %+v", info)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(apiErrorHandler("NOT_FOUND", "task not found", http.StatusNotFound))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Tasks.Get(context.Background(), "missing")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want NOT_FOUND", apiErr.Code)
	}
	if apiErr.Error() != "NOT_FOUND: task not found" {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestTaskPin(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		apiHandler(map[string]interface{}{"id": "task-1", "pinned": true}, http.StatusOK)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	if err := c.Tasks.Pin(context.Background(), "task-1", true); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/api/v1/tasks/task-1/pin" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if !gotBody["pinned"] {
		t.Error("body should carry pinned=true")
	}
}
