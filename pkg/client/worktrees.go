// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

// WorktreeClient drives discovery for git worktrees under the
// configured worktree root. Worktree detail records carry the checked
// out branch in addition to the on-disk size.
type WorktreeClient struct {
	*DiscoveryClient
}

// ScratchClient drives discovery for scratch directories. Scratch
// detail records carry size only.
type ScratchClient struct {
	*DiscoveryClient
}
