// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the control-channel envelope. Every frame in either
// direction is a Message; the payload schema is determined by Type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client → server message types.
const (
	TypeTerminalCreate      = "terminal:create"
	TypeTerminalDestroy     = "terminal:destroy"
	TypeTerminalInput       = "terminal:input"
	TypeTerminalResize      = "terminal:resize"
	TypeTerminalRename      = "terminal:rename"
	TypeTerminalAttach      = "terminal:attach"
	TypeTerminalClearBuffer = "terminal:clearBuffer"
	TypeTerminalAssignTab   = "terminal:assignTab"
	TypeTabCreate           = "tab:create"
	TypeTabUpdate           = "tab:update"
	TypeTabDelete           = "tab:delete"
	TypeTabReorder          = "tab:reorder"
)

// Server → client message types.
const (
	TypeTerminalsList       = "terminals:list"
	TypeTerminalCreated     = "terminal:created"
	TypeTerminalDestroyed   = "terminal:destroyed"
	TypeTerminalExit        = "terminal:exit"
	TypeTerminalRenamed     = "terminal:renamed"
	TypeTerminalTabAssigned = "terminal:tabAssigned"
	TypeTerminalError       = "terminal:error"
	TypeTerminalOutput      = "terminal:output"
	TypeTerminalScrollback  = "terminal:scrollback"
	TypeTabsList            = "tabs:list"
	TypeTabCreated          = "tab:created"
	TypeTabUpdated          = "tab:updated"
	TypeTabDeleted          = "tab:deleted"
	TypeTabReordered        = "tab:reordered"
	TypeDiscoveryChanged    = "discovery:changed"
)

// TerminalCreateRequest asks the server to create a terminal. The server
// assigns the id; the client must not fabricate one.
type TerminalCreateRequest struct {
	Name          string  `json:"name"`
	Cols          int     `json:"cols"`
	Rows          int     `json:"rows"`
	Cwd           *string `json:"cwd,omitempty"`
	TabID         *string `json:"tabId,omitempty"`
	PositionInTab *int    `json:"positionInTab,omitempty"`
}

// TerminalDestroyRequest asks the server to destroy a terminal.
type TerminalDestroyRequest struct {
	TerminalID string `json:"terminalId"`
	Force      bool   `json:"force,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// TerminalInputRequest carries keystrokes for a terminal.
type TerminalInputRequest struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

// TerminalResizeRequest changes a terminal's dimensions. Fire-and-forget:
// the server emits no confirmation.
type TerminalResizeRequest struct {
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

// TerminalRenameRequest renames a terminal.
type TerminalRenameRequest struct {
	TerminalID string `json:"terminalId"`
	Name       string `json:"name"`
}

// TerminalAttachRequest subscribes the connection to a terminal's output
// and requests a scrollback replay.
type TerminalAttachRequest struct {
	TerminalID string `json:"terminalId"`
}

// TerminalClearBufferRequest discards a terminal's scrollback buffer.
type TerminalClearBufferRequest struct {
	TerminalID string `json:"terminalId"`
}

// TerminalAssignTabRequest moves a terminal into a tab (or out of all
// tabs when TabID is nil). When PositionInTab is nil the terminal is
// appended at the end of the tab.
type TerminalAssignTabRequest struct {
	TerminalID    string  `json:"terminalId"`
	TabID         *string `json:"tabId"`
	PositionInTab *int    `json:"positionInTab,omitempty"`
}

// TabCreateRequest asks the server to create a tab.
type TabCreateRequest struct {
	Name      string  `json:"name"`
	Position  *int    `json:"position,omitempty"`
	Directory *string `json:"directory,omitempty"`
}

// TabUpdateRequest renames a tab and/or changes its directory. Nil fields
// are left untouched.
type TabUpdateRequest struct {
	TabID     string  `json:"tabId"`
	Name      *string `json:"name,omitempty"`
	Directory *string `json:"directory,omitempty"`
}

// TabDeleteRequest deletes a tab and cascades to its terminals.
type TabDeleteRequest struct {
	TabID string `json:"tabId"`
}

// TabReorderRequest moves a tab to a new position.
type TabReorderRequest struct {
	TabID    string `json:"tabId"`
	Position int    `json:"position"`
}

// TerminalsListEvent replaces the client's entire terminal collection.
type TerminalsListEvent struct {
	Terminals []Terminal `json:"terminals"`
}

// TerminalCreatedEvent confirms a terminal creation. IsNew is true only
// on the connection that issued the create intent, so that client can
// route focus to the new terminal.
type TerminalCreatedEvent struct {
	Terminal Terminal `json:"terminal"`
	IsNew    bool     `json:"isNew"`
}

// TerminalDestroyedEvent confirms a terminal destruction.
type TerminalDestroyedEvent struct {
	TerminalID string `json:"terminalId"`
}

// TerminalExitEvent records that a terminal's process ended. The terminal
// is not removed; a later destroy does that.
type TerminalExitEvent struct {
	TerminalID string `json:"terminalId"`
	ExitCode   int    `json:"exitCode"`
}

// TerminalRenamedEvent confirms a rename.
type TerminalRenamedEvent struct {
	TerminalID string `json:"terminalId"`
	Name       string `json:"name"`
}

// TerminalTabAssignedEvent confirms a tab assignment.
type TerminalTabAssignedEvent struct {
	TerminalID    string  `json:"terminalId"`
	TabID         *string `json:"tabId"`
	PositionInTab int     `json:"positionInTab"`
}

// TerminalErrorEvent reports a rejected intent or backend failure.
type TerminalErrorEvent struct {
	TerminalID *string `json:"terminalId,omitempty"`
	Error      string  `json:"error"`
}

// TerminalOutputEvent carries terminal output bytes (UTF-8 sanitized).
type TerminalOutputEvent struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

// TerminalScrollbackEvent replays the buffered output after an attach.
type TerminalScrollbackEvent struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

// TabsListEvent replaces the client's entire tab collection. It is the
// last full-sync event sent on connect, so clients treat it as the
// "session is ready" signal.
type TabsListEvent struct {
	Tabs []Tab `json:"tabs"`
}

// TabCreatedEvent confirms a tab creation.
type TabCreatedEvent struct {
	Tab Tab `json:"tab"`
}

// TabUpdatedEvent confirms a tab update.
type TabUpdatedEvent struct {
	TabID     string  `json:"tabId"`
	Name      *string `json:"name,omitempty"`
	Directory *string `json:"directory,omitempty"`
}

// TabDeletedEvent confirms a tab deletion. Owned terminals are destroyed
// first, each with its own TerminalDestroyedEvent.
type TabDeletedEvent struct {
	TabID string `json:"tabId"`
}

// TabReorderedEvent confirms a tab reorder.
type TabReorderedEvent struct {
	TabID    string `json:"tabId"`
	Position int    `json:"position"`
}

// DiscoveryChangedEvent hints that a resource family changed on disk and
// a discovery refresh would return different results.
type DiscoveryChangedEvent struct {
	Family string `json:"family"`
}

// NewMessage builds an envelope with the payload marshaled to JSON.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType string, payload interface{}) Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// String returns a pointer to s. Convenience for optional wire fields.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
