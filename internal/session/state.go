// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/pkg/protocol"
)

// Emitter delivers authoritative events to connected clients. Output
// events are routed only to connections attached to the terminal; all
// other events are broadcast.
type Emitter interface {
	Emit(msg protocol.Message)
	EmitOutput(terminalID string, msg protocol.Message)
}

// State is the single writer of authoritative session state. The hub
// serializes intent processing per connection; State's mutex serializes
// across connections and backend callbacks.
type State struct {
	mu      sync.Mutex
	cfg     Config
	backend Backend
	pids    *PidStore

	terminals map[string]*protocol.Terminal
	tabs      map[string]*protocol.Tab
	procs     map[string]Proc
	buffers   map[string]*outputBuffer

	emitter Emitter
}

// NewState creates session state. pids may be nil to disable pid
// persistence (tests).
func NewState(cfg Config, backend Backend, pids *PidStore) *State {
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = 80
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = 24
	}
	if cfg.ScrollbackBytes <= 0 {
		cfg.ScrollbackBytes = 256 * 1024
	}
	return &State{
		cfg:       cfg,
		backend:   backend,
		pids:      pids,
		terminals: make(map[string]*protocol.Terminal),
		tabs:      make(map[string]*protocol.Tab),
		procs:     make(map[string]Proc),
		buffers:   make(map[string]*outputBuffer),
	}
}

// SetEmitter attaches the event sink. Must be called before intents are
// processed.
func (s *State) SetEmitter(e Emitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

func (s *State) emit(msg protocol.Message) {
	if s.emitter != nil {
		s.emitter.Emit(msg)
	}
}

// Snapshot returns copies of all terminals and tabs for the full-sync
// events sent on connect. Tabs are sorted by position (id tiebreak) and
// terminals by id so snapshots are deterministic.
func (s *State) Snapshot() ([]protocol.Terminal, []protocol.Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminals := make([]protocol.Terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		terminals = append(terminals, *t)
	}
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].ID < terminals[j].ID })

	tabs := make([]protocol.Tab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		tabs = append(tabs, *tab)
	}
	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].Position != tabs[j].Position {
			return tabs[i].Position < tabs[j].Position
		}
		return tabs[i].ID < tabs[j].ID
	})

	return terminals, tabs
}

// CreateTerminal starts a terminal process and registers the terminal.
// The caller (hub) delivers the created event, since the isNew flag
// differs between the creating connection and everyone else.
func (s *State) CreateTerminal(ctx context.Context, req protocol.TerminalCreateRequest) (protocol.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = s.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = s.cfg.DefaultRows
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("terminal-%d", len(s.terminals)+1)
	}

	term := &protocol.Terminal{
		ID:   uuid.NewString(),
		Name: name,
		Cols: cols,
		Rows: rows,
		Cwd:  req.Cwd,
	}

	// A terminal created into a tab inherits the tab's directory when the
	// intent carries no cwd of its own.
	var shifted []protocol.Message
	if req.TabID != nil {
		tab, ok := s.tabs[*req.TabID]
		if !ok {
			return protocol.Terminal{}, fmt.Errorf("tab %s not found", *req.TabID)
		}
		if term.Cwd == nil && tab.Directory != nil {
			term.Cwd = tab.Directory
		}
		shifted = s.insertIntoTab(term, tab.ID, req.PositionInTab)
	}

	cwd := ""
	if term.Cwd != nil {
		cwd = *term.Cwd
	}

	id := term.ID
	proc, err := s.backend.Start(ctx, StartOptions{
		TerminalID: id,
		Cwd:        cwd,
		Cols:       cols,
		Rows:       rows,
		OnOutput:   func(data []byte) { s.handleOutput(id, data) },
		OnExit:     func(exitCode int) { s.handleExit(id, exitCode) },
	})
	if err != nil {
		return protocol.Terminal{}, fmt.Errorf("start terminal: %w", err)
	}

	s.terminals[id] = term
	s.procs[id] = proc
	s.buffers[id] = newOutputBuffer(s.cfg.ScrollbackBytes)
	s.savePidsLocked()

	// Shifted terminals already exist on every client, the new one does
	// not yet, so the shift events go out before the created event.
	for _, msg := range shifted {
		s.emit(msg)
	}

	return *term, nil
}

// DestroyTerminal stops the process and removes the terminal. Destroying
// an unknown terminal is a silent no-op (idempotent with client-side
// optimistic removal).
func (s *State) DestroyTerminal(req protocol.TerminalDestroyRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terminals[req.TerminalID]; !ok {
		return
	}
	if req.Reason != "" {
		log.Printf("Session: destroying terminal %s: %s", req.TerminalID, req.Reason)
	}
	s.removeTerminalLocked(req.TerminalID)
}

// removeTerminalLocked releases a terminal's resources and emits the
// destroyed event. Caller holds the lock.
func (s *State) removeTerminalLocked(id string) {
	if proc, ok := s.procs[id]; ok {
		if err := proc.Close(); err != nil {
			log.Printf("Session: close terminal %s: %v", id, err)
		}
		delete(s.procs, id)
	}
	delete(s.terminals, id)
	delete(s.buffers, id)
	s.savePidsLocked()
	s.emit(protocol.MustMessage(protocol.TypeTerminalDestroyed, protocol.TerminalDestroyedEvent{TerminalID: id}))
}

// Input writes keystrokes to a terminal's process.
func (s *State) Input(req protocol.TerminalInputRequest) error {
	s.mu.Lock()
	proc, ok := s.procs[req.TerminalID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("terminal %s not found", req.TerminalID)
	}
	return proc.Write([]byte(req.Data))
}

// Resize changes a terminal's dimensions. Fire-and-forget per protocol:
// no confirming event is emitted; failures are logged.
func (s *State) Resize(req protocol.TerminalResizeRequest) {
	if req.Cols <= 0 || req.Rows <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	term, ok := s.terminals[req.TerminalID]
	if !ok {
		return
	}
	term.Cols = req.Cols
	term.Rows = req.Rows
	if proc, ok := s.procs[req.TerminalID]; ok {
		if err := proc.Resize(req.Cols, req.Rows); err != nil {
			log.Printf("Session: resize terminal %s: %v", req.TerminalID, err)
		}
	}
}

// Rename renames a terminal and emits the confirmation.
func (s *State) Rename(req protocol.TerminalRenameRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	term, ok := s.terminals[req.TerminalID]
	if !ok {
		return fmt.Errorf("terminal %s not found", req.TerminalID)
	}
	term.Name = req.Name
	s.emit(protocol.MustMessage(protocol.TypeTerminalRenamed, protocol.TerminalRenamedEvent{
		TerminalID: req.TerminalID,
		Name:       req.Name,
	}))
	return nil
}

// AssignTab moves a terminal into a tab, or out of all tabs when TabID
// is nil. The assigned terminal and any terminal whose position shifted
// each get a tabAssigned event.
func (s *State) AssignTab(req protocol.TerminalAssignTabRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	term, ok := s.terminals[req.TerminalID]
	if !ok {
		return fmt.Errorf("terminal %s not found", req.TerminalID)
	}

	if req.TabID == nil {
		term.TabID = nil
		term.PositionInTab = 0
		s.emit(tabAssignedMsg(term))
		return nil
	}

	if _, ok := s.tabs[*req.TabID]; !ok {
		return fmt.Errorf("tab %s not found", *req.TabID)
	}

	shifted := s.insertIntoTab(term, *req.TabID, req.PositionInTab)
	for _, msg := range shifted {
		s.emit(msg)
	}
	s.emit(tabAssignedMsg(term))
	return nil
}

// insertIntoTab places term into tabID at the requested position (or at
// the end when pos is nil), shifting later terminals down. Returns the
// tabAssigned events for shifted terminals. Caller holds the lock and is
// responsible for announcing term itself.
func (s *State) insertIntoTab(term *protocol.Terminal, tabID string, pos *int) []protocol.Message {
	members := s.terminalsInTabLocked(tabID, term.ID)

	insertAt := len(members)
	if pos != nil {
		insertAt = *pos
		if insertAt < 0 {
			insertAt = 0
		}
		if insertAt > len(members) {
			insertAt = len(members)
		}
	}

	term.TabID = &tabID
	term.PositionInTab = insertAt

	// Re-pack positions of existing members around the insertion point so
	// no two terminals in the tab share a position.
	var shifted []protocol.Message
	next := 0
	for _, m := range members {
		if next == insertAt {
			next++
		}
		if m.PositionInTab != next {
			m.PositionInTab = next
			shifted = append(shifted, tabAssignedMsg(m))
		}
		next++
	}
	return shifted
}

// terminalsInTabLocked returns the terminals in a tab ordered by position
// (id tiebreak), excluding excludeID.
func (s *State) terminalsInTabLocked(tabID, excludeID string) []*protocol.Terminal {
	var members []*protocol.Terminal
	for _, t := range s.terminals {
		if t.ID != excludeID && t.InTab(tabID) {
			members = append(members, t)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].PositionInTab != members[j].PositionInTab {
			return members[i].PositionInTab < members[j].PositionInTab
		}
		return members[i].ID < members[j].ID
	})
	return members
}

func tabAssignedMsg(term *protocol.Terminal) protocol.Message {
	return protocol.MustMessage(protocol.TypeTerminalTabAssigned, protocol.TerminalTabAssignedEvent{
		TerminalID:    term.ID,
		TabID:         term.TabID,
		PositionInTab: term.PositionInTab,
	})
}

// ClearBuffer discards a terminal's scrollback.
func (s *State) ClearBuffer(req protocol.TerminalClearBufferRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.buffers[req.TerminalID]; ok {
		buf.Reset()
	}
}

// Scrollback returns a terminal's buffered output for replay on attach.
func (s *State) Scrollback(terminalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[terminalID]
	if !ok {
		return "", fmt.Errorf("terminal %s not found", terminalID)
	}
	return strings.ToValidUTF8(string(buf.Bytes()), ""), nil
}

// CreateTab registers a tab and emits the created event. When the intent
// names a position, tabs at or after it shift right; omitted position
// appends.
func (s *State) CreateTab(req protocol.TabCreateRequest) protocol.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := &protocol.Tab{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Directory: req.Directory,
	}

	ordered := s.tabsSortedLocked(tab.ID)
	insertAt := len(ordered)
	if req.Position != nil {
		insertAt = *req.Position
		if insertAt < 0 {
			insertAt = 0
		}
		if insertAt > len(ordered) {
			insertAt = len(ordered)
		}
	}
	tab.Position = insertAt
	s.tabs[tab.ID] = tab
	s.repackTabsLocked(ordered, tab, insertAt)

	s.emit(protocol.MustMessage(protocol.TypeTabCreated, protocol.TabCreatedEvent{Tab: *tab}))
	return *tab
}

// UpdateTab applies a rename and/or directory change.
func (s *State) UpdateTab(req protocol.TabUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[req.TabID]
	if !ok {
		return fmt.Errorf("tab %s not found", req.TabID)
	}
	if req.Name != nil {
		tab.Name = *req.Name
	}
	if req.Directory != nil {
		tab.Directory = req.Directory
	}
	s.emit(protocol.MustMessage(protocol.TypeTabUpdated, protocol.TabUpdatedEvent{
		TabID:     req.TabID,
		Name:      req.Name,
		Directory: req.Directory,
	}))
	return nil
}

// DeleteTab destroys every terminal in the tab, then removes the tab.
// Each destroyed terminal gets its own event before tab:deleted, so
// clients that only apply authoritative events converge without guessing
// at cascade semantics.
func (s *State) DeleteTab(req protocol.TabDeleteRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[req.TabID]; !ok {
		return
	}
	for _, term := range s.terminalsInTabLocked(req.TabID, "") {
		s.removeTerminalLocked(term.ID)
	}
	delete(s.tabs, req.TabID)
	s.emit(protocol.MustMessage(protocol.TypeTabDeleted, protocol.TabDeletedEvent{TabID: req.TabID}))
}

// ReorderTab moves a tab to a new position, re-packing all tabs densely.
// Every tab whose position changed gets a reordered event.
func (s *State) ReorderTab(req protocol.TabReorderRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[req.TabID]
	if !ok {
		return fmt.Errorf("tab %s not found", req.TabID)
	}

	ordered := s.tabsSortedLocked(tab.ID)
	insertAt := req.Position
	if insertAt < 0 {
		insertAt = 0
	}
	if insertAt > len(ordered) {
		insertAt = len(ordered)
	}
	tab.Position = insertAt
	s.repackTabsLocked(ordered, tab, insertAt)

	s.emit(protocol.MustMessage(protocol.TypeTabReordered, protocol.TabReorderedEvent{
		TabID:    tab.ID,
		Position: tab.Position,
	}))
	return nil
}

// tabsSortedLocked returns all tabs except excludeID ordered by position
// (id tiebreak).
func (s *State) tabsSortedLocked(excludeID string) []*protocol.Tab {
	var ordered []*protocol.Tab
	for _, t := range s.tabs {
		if t.ID != excludeID {
			ordered = append(ordered, t)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// repackTabsLocked re-assigns dense positions to ordered (which excludes
// moved), leaving the slot at insertAt for moved. Emits reordered events
// for every tab whose position changed.
func (s *State) repackTabsLocked(ordered []*protocol.Tab, moved *protocol.Tab, insertAt int) {
	next := 0
	for _, t := range ordered {
		if next == insertAt {
			next++
		}
		if t.Position != next {
			t.Position = next
			s.emit(protocol.MustMessage(protocol.TypeTabReordered, protocol.TabReorderedEvent{
				TabID:    t.ID,
				Position: t.Position,
			}))
		}
		next++
	}
}

// handleOutput runs on a backend read goroutine.
func (s *State) handleOutput(terminalID string, data []byte) {
	s.mu.Lock()
	if buf, ok := s.buffers[terminalID]; ok {
		buf.Write(data)
	}
	emitter := s.emitter
	s.mu.Unlock()

	if emitter != nil {
		emitter.EmitOutput(terminalID, protocol.MustMessage(protocol.TypeTerminalOutput, protocol.TerminalOutputEvent{
			TerminalID: terminalID,
			Data:       strings.ToValidUTF8(string(data), ""),
		}))
	}
}

// handleExit records the exit code but keeps the terminal visible; a
// later destroy intent removes it.
func (s *State) handleExit(terminalID string, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term, ok := s.terminals[terminalID]
	if !ok {
		return // Destroyed before the exit was observed
	}
	code := exitCode
	term.ExitCode = &code
	s.savePidsLocked()
	s.emit(protocol.MustMessage(protocol.TypeTerminalExit, protocol.TerminalExitEvent{
		TerminalID: terminalID,
		ExitCode:   exitCode,
	}))
}

// savePidsLocked persists the live process set. Caller holds the lock.
func (s *State) savePidsLocked() {
	if s.pids == nil {
		return
	}
	procs := make(ProcsData, len(s.procs))
	for id, proc := range s.procs {
		if term, ok := s.terminals[id]; ok && term.ExitCode != nil {
			continue
		}
		procs[id] = SavedProc{
			PID:        proc.Pid(),
			Executable: shellBase(s.cfg.Shell),
		}
	}
	if err := s.pids.Save(procs); err != nil {
		log.Printf("Session: save pid store: %v", err)
	}
}

// Close terminates all terminal processes. Called on daemon shutdown.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, proc := range s.procs {
		if err := proc.Close(); err != nil {
			log.Printf("Session: close terminal %s: %v", id, err)
		}
	}
	s.procs = make(map[string]Proc)
	if s.pids != nil {
		s.pids.Save(make(ProcsData))
	}
}

func shellBase(shell string) string {
	if i := strings.LastIndexByte(shell, '/'); i >= 0 {
		return shell[i+1:]
	}
	return shell
}
