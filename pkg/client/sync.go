// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/pkg/protocol"
)

// SyncState tracks the lifecycle of a SyncStore's connection.
type SyncState int

const (
	// SyncDisconnected means no control channel is open.
	SyncDisconnected SyncState = iota

	// SyncConnected means the channel is open but the initial full sync
	// has not finished.
	SyncConnected

	// SyncInitialized means the full sync has arrived and the local
	// model mirrors the server.
	SyncInitialized
)

func (s SyncState) String() string {
	switch s {
	case SyncDisconnected:
		return "disconnected"
	case SyncConnected:
		return "connected"
	case SyncInitialized:
		return "initialized"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// ErrNotConnected is returned by intents issued without an open
// control channel.
var ErrNotConnected = errors.New("not connected")

// SyncStore maintains a client-side mirror of the server's session
// model: terminals and tabs, updated by events from the control
// channel and optimistically by local intents. Mutations applied
// optimistically are re-applied when the confirming event arrives;
// the collections absorb the duplicate.
//
// The store never rolls an optimistic mutation back. A rejected intent
// surfaces through OnError, and the next authoritative event or full
// sync converges the model.
type SyncStore struct {
	c *Client

	mu        sync.Mutex
	state     SyncState
	terminals *Terminals
	tabs      *Tabs

	// focus holds the focused terminal per tab. Cleared when the tab is
	// deleted, locally or remotely.
	focus map[string]string

	// newTerminalID is the id of the most recent terminal this
	// connection created, set from the isNew flag so the UI can move
	// focus to it. Cleared by TakeNewTerminal.
	newTerminalID string

	// pendingTabID is the placeholder inserted by CreateTab, swapped
	// for the confirmed tab when tab:created arrives. At most one is
	// outstanding; a second CreateTab replaces the first placeholder.
	// newTabID marks the confirmed tab for navigation routing.
	pendingTabID string
	newTabID     string

	conn    *websocket.Conn
	writeMu sync.Mutex

	subs    map[int]func()
	nextSub int

	// OnOutput and OnScrollback deliver terminal bytes for attached
	// terminals. OnError reports rejected intents and backend failures.
	// OnDiscoveryChanged relays server hints that a resource family
	// changed on disk. All are invoked from the read loop; set them
	// before Connect.
	OnOutput           func(terminalID, data string)
	OnScrollback       func(terminalID, data string)
	OnError            func(terminalID *string, message string)
	OnDiscoveryChanged func(family string)
}

// NewSyncStore creates a disconnected store bound to this client.
func (c *Client) NewSyncStore() *SyncStore {
	return &SyncStore{
		c:         c,
		terminals: NewTerminals(),
		tabs:      NewTabs(),
		focus:     make(map[string]string),
		subs:      make(map[int]func()),
	}
}

// Connect dials the control channel and starts the read loop. The
// server replies with a full sync; the store reaches SyncInitialized
// once the tab listing arrives.
func (s *SyncStore) Connect(ctx context.Context) error {
	wsURL := strings.Replace(s.c.baseURL, "http", "ws", 1) + "/api/v1/session/ws"
	header := http.Header{}
	header.Set(VersionHeader, s.c.version)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial control channel: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial control channel: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = SyncConnected
	s.mu.Unlock()
	s.notify()

	go s.readLoop(conn)
	return nil
}

// Close shuts the control channel. The mirrored model remains readable.
func (s *SyncStore) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = SyncDisconnected
	s.mu.Unlock()
	s.notify()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (s *SyncStore) readLoop(conn *websocket.Conn) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.state = SyncDisconnected
			}
			closed := s.conn == nil
			s.mu.Unlock()
			if closed {
				s.notify()
			}
			return
		}
		s.Apply(msg)
	}
}

// State returns the connection lifecycle state.
func (s *SyncStore) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a callback invoked after every state change. The
// returned function removes the subscription.
func (s *SyncStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *SyncStore) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Terminal returns a copy of one terminal.
func (s *SyncStore) Terminal(id string) (protocol.Terminal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terminals.Get(id)
	if t == nil {
		return protocol.Terminal{}, false
	}
	return *t, true
}

// Tab returns a copy of one tab.
func (s *SyncStore) Tab(id string) (protocol.Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tabs.Get(id)
	if t == nil {
		return protocol.Tab{}, false
	}
	return *t, true
}

// TabsSorted returns copies of all tabs in position order.
func (s *SyncStore) TabsSorted() []protocol.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.tabs.Sorted()
	out := make([]protocol.Tab, len(sorted))
	for i, t := range sorted {
		out[i] = *t
	}
	return out
}

// TerminalsInTab returns copies of a tab's terminals in position order.
func (s *SyncStore) TerminalsInTab(tabID string) []protocol.Terminal {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.terminals.InTab(tabID)
	out := make([]protocol.Terminal, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}

// UnassignedTerminals returns copies of the terminals in no tab.
func (s *SyncStore) UnassignedTerminals() []protocol.Terminal {
	s.mu.Lock()
	defer s.mu.Unlock()
	un := s.terminals.Unassigned()
	out := make([]protocol.Terminal, len(un))
	for i, t := range un {
		out[i] = *t
	}
	return out
}

// Counts returns the number of terminals and tabs.
func (s *SyncStore) Counts() (terminals, tabs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminals.Len(), s.tabs.Len()
}

// Focus returns the focused terminal for a tab, or "".
func (s *SyncStore) Focus(tabID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus[tabID]
}

// SetFocus records the focused terminal for a tab. Focus is a local
// presentation concern and is never sent to the server.
func (s *SyncStore) SetFocus(tabID, terminalID string) {
	s.mu.Lock()
	s.focus[tabID] = terminalID
	s.mu.Unlock()
	s.notify()
}

// TakeNewTerminal returns the id of the terminal most recently created
// by this connection and clears the marker. Returns "" when there is
// none pending.
func (s *SyncStore) TakeNewTerminal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newTerminalID
	s.newTerminalID = ""
	return id
}

// TakeNewTab returns the id of the tab most recently confirmed for a
// local CreateTab and clears the marker.
func (s *SyncStore) TakeNewTab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newTabID
	s.newTabID = ""
	return id
}

func (s *SyncStore) send(msgType string, payload interface{}) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// CreateTerminal asks the server for a new terminal. No optimistic
// entry is added; the id is server-assigned and arrives with the
// created event, flagged isNew for this connection.
func (s *SyncStore) CreateTerminal(req protocol.TerminalCreateRequest) error {
	return s.send(protocol.TypeTerminalCreate, req)
}

// DestroyTerminal removes a terminal locally and asks the server to
// destroy it.
func (s *SyncStore) DestroyTerminal(id string) error {
	s.mu.Lock()
	s.terminals.Remove(id)
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTerminalDestroy, protocol.TerminalDestroyRequest{TerminalID: id})
}

// Input sends keystrokes to a terminal.
func (s *SyncStore) Input(id, data string) error {
	return s.send(protocol.TypeTerminalInput, protocol.TerminalInputRequest{TerminalID: id, Data: data})
}

// Resize changes a terminal's dimensions. Applied locally at once;
// the server sends no confirmation.
func (s *SyncStore) Resize(id string, cols, rows int) error {
	s.mu.Lock()
	if t := s.terminals.Get(id); t != nil {
		t.Cols = cols
		t.Rows = rows
	}
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTerminalResize, protocol.TerminalResizeRequest{TerminalID: id, Cols: cols, Rows: rows})
}

// Rename renames a terminal, applied locally at once.
func (s *SyncStore) Rename(id, name string) error {
	s.mu.Lock()
	if t := s.terminals.Get(id); t != nil {
		t.Name = name
	}
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTerminalRename, protocol.TerminalRenameRequest{TerminalID: id, Name: name})
}

// Attach subscribes this connection to a terminal's output. The server
// replies with a scrollback replay followed by live output.
func (s *SyncStore) Attach(id string) error {
	return s.send(protocol.TypeTerminalAttach, protocol.TerminalAttachRequest{TerminalID: id})
}

// ClearBuffer discards a terminal's scrollback on the server.
func (s *SyncStore) ClearBuffer(id string) error {
	return s.send(protocol.TypeTerminalClearBuffer, protocol.TerminalClearBufferRequest{TerminalID: id})
}

// AssignTab moves a terminal into a tab, or out of all tabs when tabID
// is nil. Applied locally at once; the confirming events re-pack
// positions for every shifted terminal.
func (s *SyncStore) AssignTab(id string, tabID *string, position *int) error {
	s.mu.Lock()
	if t := s.terminals.Get(id); t != nil {
		t.TabID = tabID
		if position != nil {
			t.PositionInTab = *position
		} else {
			t.PositionInTab = 0
		}
	}
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTerminalAssignTab, protocol.TerminalAssignTabRequest{
		TerminalID:    id,
		TabID:         tabID,
		PositionInTab: position,
	})
}

// CreateTab asks the server for a new tab. A pending placeholder is
// inserted so the tab strip can show it immediately; the placeholder
// is swapped for the confirmed tab when tab:created arrives.
func (s *SyncStore) CreateTab(req protocol.TabCreateRequest) error {
	placeholder := protocol.Tab{
		ID:        "pending-" + uuid.NewString(),
		Name:      req.Name,
		Directory: req.Directory,
		Pending:   true,
	}
	s.mu.Lock()
	if req.Position != nil {
		placeholder.Position = *req.Position
	} else if sorted := s.tabs.Sorted(); len(sorted) > 0 {
		placeholder.Position = sorted[len(sorted)-1].Position + 1
	}
	if s.pendingTabID != "" {
		s.tabs.Remove(s.pendingTabID)
	}
	s.pendingTabID = placeholder.ID
	s.tabs.Add(placeholder)
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTabCreate, req)
}

// UpdateTab renames a tab and/or changes its directory, applied
// locally at once. Nil fields are left untouched.
func (s *SyncStore) UpdateTab(id string, name, directory *string) error {
	s.mu.Lock()
	if t := s.tabs.Get(id); t != nil {
		if name != nil {
			t.Name = *name
		}
		if directory != nil {
			t.Directory = directory
		}
	}
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTabUpdate, protocol.TabUpdateRequest{TabID: id, Name: name, Directory: directory})
}

// DeleteTab removes a tab locally, clears its focus marker, and asks
// the server to delete it. The server destroys the tab's terminals
// first; each arrives as its own destroyed event.
func (s *SyncStore) DeleteTab(id string) error {
	s.mu.Lock()
	s.tabs.Remove(id)
	delete(s.focus, id)
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTabDelete, protocol.TabDeleteRequest{TabID: id})
}

// ReorderTab moves a tab to a new position, applied locally at once.
// The confirming events carry the server's dense re-pack.
func (s *SyncStore) ReorderTab(id string, position int) error {
	s.mu.Lock()
	if t := s.tabs.Get(id); t != nil {
		t.Position = position
	}
	s.mu.Unlock()
	s.notify()
	return s.send(protocol.TypeTabReorder, protocol.TabReorderRequest{TabID: id, Position: position})
}

// Apply reduces one server event into the model. Unknown message types
// are ignored so older clients survive newer servers.
func (s *SyncStore) Apply(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeTerminalsList:
		var ev protocol.TerminalsListEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			s.terminals.ReplaceAll(ev.Terminals)
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTabsList:
		var ev protocol.TabsListEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			s.tabs.ReplaceAll(ev.Tabs)
			s.pendingTabID = ""
			if s.state == SyncConnected {
				s.state = SyncInitialized
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalCreated:
		var ev protocol.TerminalCreatedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			s.terminals.Add(ev.Terminal)
			if ev.IsNew {
				s.newTerminalID = ev.Terminal.ID
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalDestroyed:
		var ev protocol.TerminalDestroyedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			s.terminals.Remove(ev.TerminalID)
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalExit:
		var ev protocol.TerminalExitEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			if t := s.terminals.Get(ev.TerminalID); t != nil {
				code := ev.ExitCode
				t.ExitCode = &code
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalRenamed:
		var ev protocol.TerminalRenamedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			if t := s.terminals.Get(ev.TerminalID); t != nil {
				t.Name = ev.Name
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalTabAssigned:
		var ev protocol.TerminalTabAssignedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			if t := s.terminals.Get(ev.TerminalID); t != nil {
				t.TabID = ev.TabID
				t.PositionInTab = ev.PositionInTab
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTabCreated:
		var ev protocol.TabCreatedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			// With a placeholder outstanding, the confirmation is
			// taken to be ours: swap it and mark the new tab for
			// navigation.
			if s.pendingTabID != "" {
				s.tabs.Remove(s.pendingTabID)
				s.pendingTabID = ""
				s.newTabID = ev.Tab.ID
			}
			s.tabs.Add(ev.Tab)
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTabUpdated:
		var ev protocol.TabUpdatedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			if t := s.tabs.Get(ev.TabID); t != nil {
				if ev.Name != nil {
					t.Name = *ev.Name
				}
				if ev.Directory != nil {
					t.Directory = ev.Directory
				}
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTabDeleted:
		var ev protocol.TabDeletedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			// Terminals the server destroyed before this event may
			// still be present if their destroyed events were missed.
			for _, t := range s.terminals.InTab(ev.TabID) {
				s.terminals.Remove(t.ID)
			}
			s.tabs.Remove(ev.TabID)
			delete(s.focus, ev.TabID)
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTabReordered:
		var ev protocol.TabReorderedEvent
		if s.decode(msg, &ev) {
			s.mu.Lock()
			if t := s.tabs.Get(ev.TabID); t != nil {
				t.Position = ev.Position
			}
			s.mu.Unlock()
			s.notify()
		}

	case protocol.TypeTerminalOutput:
		var ev protocol.TerminalOutputEvent
		if s.decode(msg, &ev) && s.OnOutput != nil {
			s.OnOutput(ev.TerminalID, ev.Data)
		}

	case protocol.TypeTerminalScrollback:
		var ev protocol.TerminalScrollbackEvent
		if s.decode(msg, &ev) && s.OnScrollback != nil {
			s.OnScrollback(ev.TerminalID, ev.Data)
		}

	case protocol.TypeTerminalError:
		var ev protocol.TerminalErrorEvent
		if s.decode(msg, &ev) && s.OnError != nil {
			s.OnError(ev.TerminalID, ev.Error)
		}

	case protocol.TypeDiscoveryChanged:
		var ev protocol.DiscoveryChangedEvent
		if s.decode(msg, &ev) && s.OnDiscoveryChanged != nil {
			s.OnDiscoveryChanged(ev.Family)
		}
	}
}

func (s *SyncStore) decode(msg protocol.Message, v interface{}) bool {
	if err := msg.Decode(v); err != nil {
		log.Printf("SyncStore: %v", err)
		return false
	}
	return true
}
