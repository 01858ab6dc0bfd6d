// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sort"

	"github.com/arborhq/arbor/pkg/protocol"
)

// Terminals is a keyed collection of terminals. It is a pure container:
// the SyncStore owns all mutation and locking. Derived views (per-tab
// ordering, unassigned terminals) are recomputed on every call, never
// cached.
type Terminals struct {
	byID map[string]*protocol.Terminal

	// OnRemove runs before a terminal leaves the collection, so owned
	// transport resources (an attached output subscription, a renderer)
	// can be released. Also invoked for every entry on ReplaceAll/Clear.
	OnRemove func(t *protocol.Terminal)
}

// NewTerminals creates an empty terminals collection.
func NewTerminals() *Terminals {
	return &Terminals{byID: make(map[string]*protocol.Terminal)}
}

// Get returns the terminal with the given id, or nil.
func (c *Terminals) Get(id string) *protocol.Terminal {
	return c.byID[id]
}

// Has reports whether a terminal with the given id exists.
func (c *Terminals) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len returns the number of terminals.
func (c *Terminals) Len() int {
	return len(c.byID)
}

// Add inserts a terminal. Adding an id that is already present is a
// silent no-op: the existing entry is untouched. This protects against
// duplicate delivery and races between optimistic inserts and lagging
// confirmations.
func (c *Terminals) Add(t protocol.Terminal) {
	if _, ok := c.byID[t.ID]; ok {
		return
	}
	copied := t
	c.byID[t.ID] = &copied
}

// Remove deletes a terminal, running OnRemove first. Removing a missing
// id is a no-op.
func (c *Terminals) Remove(id string) {
	t, ok := c.byID[id]
	if !ok {
		return
	}
	if c.OnRemove != nil {
		c.OnRemove(t)
	}
	delete(c.byID, id)
}

// ReplaceAll discards the entire collection (cleaning up each entry) and
// inserts the given terminals. This is the full-sync path and must
// tolerate arbitrary prior optimistic state.
func (c *Terminals) ReplaceAll(terminals []protocol.Terminal) {
	c.Clear()
	for _, t := range terminals {
		c.Add(t)
	}
}

// Clear removes every terminal, running OnRemove for each.
func (c *Terminals) Clear() {
	for id := range c.byID {
		c.Remove(id)
	}
}

// All returns the terminals in id order.
func (c *Terminals) All() []*protocol.Terminal {
	out := make([]*protocol.Terminal, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InTab returns the terminals belonging to a tab, ordered by
// positionInTab (id tiebreak).
func (c *Terminals) InTab(tabID string) []*protocol.Terminal {
	var out []*protocol.Terminal
	for _, t := range c.byID {
		if t.InTab(tabID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PositionInTab != out[j].PositionInTab {
			return out[i].PositionInTab < out[j].PositionInTab
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Unassigned returns the terminals that belong to no tab, in id order.
func (c *Terminals) Unassigned() []*protocol.Terminal {
	var out []*protocol.Terminal
	for _, t := range c.byID {
		if t.TabID == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tabs is a keyed collection of tabs with a stable position-sorted view.
type Tabs struct {
	byID map[string]*protocol.Tab
}

// NewTabs creates an empty tabs collection.
func NewTabs() *Tabs {
	return &Tabs{byID: make(map[string]*protocol.Tab)}
}

// Get returns the tab with the given id, or nil.
func (c *Tabs) Get(id string) *protocol.Tab {
	return c.byID[id]
}

// Has reports whether a tab with the given id exists.
func (c *Tabs) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len returns the number of tabs.
func (c *Tabs) Len() int {
	return len(c.byID)
}

// Add inserts a tab. Adding an existing id is a silent no-op.
func (c *Tabs) Add(t protocol.Tab) {
	if _, ok := c.byID[t.ID]; ok {
		return
	}
	copied := t
	c.byID[t.ID] = &copied
}

// Remove deletes a tab. Removing a missing id is a no-op.
func (c *Tabs) Remove(id string) {
	delete(c.byID, id)
}

// ReplaceAll discards the collection and inserts the given tabs.
func (c *Tabs) ReplaceAll(tabs []protocol.Tab) {
	c.byID = make(map[string]*protocol.Tab, len(tabs))
	for _, t := range tabs {
		c.Add(t)
	}
}

// Clear removes every tab.
func (c *Tabs) Clear() {
	c.byID = make(map[string]*protocol.Tab)
}

// Sorted returns the tabs ordered by position (id tiebreak).
func (c *Tabs) Sorted() []*protocol.Tab {
	out := make([]*protocol.Tab, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// First returns the first tab in sorted order, used for default
// selection when no tab is explicitly active. Nil when empty.
func (c *Tabs) First() *protocol.Tab {
	sorted := c.Sorted()
	if len(sorted) == 0 {
		return nil
	}
	return sorted[0]
}
