// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the Arbor API.
//
// Arbor is a terminal session and task-workspace daemon. This library
// covers both halves of its API: the synchronized session model
// (terminals and tabs over a WebSocket control channel) and the
// two-phase resource discovery protocol (worktrees and scratch
// directories over SSE, with a JSON fallback).
//
// # Getting Started
//
// Create a client pointing at the daemon:
//
//	c := client.New("http://localhost:4500")
//
//	// One-shot listing of worktrees (fallback path)
//	worktrees, summary, err := c.Worktrees.List(ctx)
//
//	// Synchronized session model
//	store := c.NewSyncStore()
//	err = store.Connect(ctx)
//
// # API Versioning
//
// Arbor uses date-based API versioning. By default the client uses the
// latest version; pin with:
//
//	c := client.New("http://localhost:4500", client.WithVersion("2026-08-01"))
//
// The version is sent via the Arbor-Version HTTP header on each request.
//
// # Error Handling
//
// API errors are returned as *APIError values, which include a
// machine-readable code and a message:
//
//	if apiErr, ok := err.(*client.APIError); ok {
//	    fmt.Printf("API error: %s - %s\n", apiErr.Code, apiErr.Message)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arborhq/arbor/pkg/protocol"
)

// Client is an Arbor API client.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client

	// Worktrees drives discovery for the worktree resource family.
	Worktrees *WorktreeClient

	// Scratch drives discovery for the scratch-directory family.
	Scratch *ScratchClient

	// Tasks provides access to task records and the pin toggle.
	Tasks *TaskClient
}

// Option configures a [Client].
type Option func(*Client)

// New creates a new Arbor API client with the given base URL and options.
//
// The baseURL should be the root URL of the daemon (e.g.
// "http://localhost:4500"). Any trailing slash is removed.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: LatestVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Worktrees = &WorktreeClient{newDiscoveryClient(c, protocol.FamilyWorktree, "/api/v1/worktrees")}
	c.Scratch = &ScratchClient{newDiscoveryClient(c, protocol.FamilyScratch, "/api/v1/scratch")}
	c.Tasks = &TaskClient{c: c}

	return c
}

// WithVersion pins the API version sent on every request.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
// The default timeout is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Version returns the API version being used.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusInfo is the daemon status report.
type StatusInfo struct {
	Project   string   `json:"project"`
	Version   string   `json:"version"`
	Uptime    string   `json:"uptime"`
	Terminals int      `json:"terminals"`
	Exited    int      `json:"exited"`
	Tabs      int      `json:"tabs"`
	Families  []string `json:"families"`
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	data, err := c.get(ctx, "/api/v1/status")
	if err != nil {
		return nil, err
	}
	var info StatusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &info, nil
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError represents an error response from the Arbor API.
type APIError struct {
	// Code is a machine-readable error code (e.g. "NOT_FOUND", "PINNED").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details contains additional error information, if available.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// get performs a GET request to the given path.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// postJSON performs a POST request with an optional JSON body.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body)
}

// patchJSON performs a PATCH request with a JSON body.
func (c *Client) patchJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, body)
}

// deleteJSON performs a DELETE request with a JSON body.
func (c *Client) deleteJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.sendJSON(ctx, http.MethodDelete, path, body)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, reader)
}

// do performs an HTTP request and parses the response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(VersionHeader, c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse reads and parses an API response.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		// Raw body for non-envelope responses
		return respBody, nil
	}

	if apiResp.Error != nil {
		return nil, apiResp.Error
	}

	return apiResp.Data, nil
}
