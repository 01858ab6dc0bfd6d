// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

// API version constants for use with [WithVersion].
const (
	// Version20260801 is the initial API version.
	Version20260801 = "2026-08-01"
)

// LatestVersion is the most recent API version supported by this client.
var LatestVersion = Version20260801

// VersionHeader is the HTTP header used to specify the API version.
const VersionHeader = "Arbor-Version"
