// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version implements date-based API versioning for the Arbor
// API, in the style of Stripe's versioning scheme.
//
// Versions are dates (e.g. "2026-08-01") sent via the Arbor-Version
// header. When no header is provided, the latest version is used.
//
// When making breaking changes:
//  1. Create a new version constant with today's date
//  2. Update LatestVersion to the new version
//  3. Transform old-version responses where handlers need it
package version

import "context"

// Version constants. Add new versions here when making breaking changes.
const (
	// Version20260801 is the initial API version.
	Version20260801 = "2026-08-01"
)

// LatestVersion is the current default API version.
var LatestVersion = Version20260801

// Header is the HTTP header used to specify the API version.
const Header = "Arbor-Version"

type contextKey string

const versionKey contextKey = "api-version"

// FromContext returns the API version from the context.
// Returns LatestVersion if not set.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext returns a new context with the API version set.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}
