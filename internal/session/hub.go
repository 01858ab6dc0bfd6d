// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// conn is one client connection. gorilla/websocket requires a single
// writer, so every write goes through writeMu.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	attached map[string]struct{} // Terminal ids whose output this conn receives
}

func (c *conn) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) attach(terminalID string) {
	c.mu.Lock()
	c.attached[terminalID] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) detach(terminalID string) {
	c.mu.Lock()
	delete(c.attached, terminalID)
	c.mu.Unlock()
}

func (c *conn) isAttached(terminalID string) bool {
	c.mu.Lock()
	_, ok := c.attached[terminalID]
	c.mu.Unlock()
	return ok
}

// Hub accepts session WebSocket connections, replays the full state to
// each new connection, dispatches client intents to State, and fans the
// resulting authoritative events back out.
type Hub struct {
	state *State

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHub creates a hub over the given state and registers itself as the
// state's event sink.
func NewHub(state *State) *Hub {
	h := &Hub{
		state: state,
		conns: make(map[*conn]struct{}),
	}
	state.SetEmitter(h)
	return h
}

func (h *Hub) trackConn(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrackConn(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*conn {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	return conns
}

// Emit broadcasts an authoritative event to every connection.
func (h *Hub) Emit(msg protocol.Message) {
	conns := h.snapshot()

	// A destroyed terminal no longer produces output; drop attachments so
	// the per-conn sets don't accumulate dead ids.
	if msg.Type == protocol.TypeTerminalDestroyed {
		var ev protocol.TerminalDestroyedEvent
		if err := msg.Decode(&ev); err == nil {
			for _, c := range conns {
				c.detach(ev.TerminalID)
			}
		}
	}

	for _, c := range conns {
		if err := c.send(msg); err != nil {
			log.Printf("Session hub: broadcast %s failed: %v", msg.Type, err)
		}
	}
}

// EmitOutput delivers a terminal output event only to connections
// attached to that terminal.
func (h *Hub) EmitOutput(terminalID string, msg protocol.Message) {
	for _, c := range h.snapshot() {
		if !c.isAttached(terminalID) {
			continue
		}
		if err := c.send(msg); err != nil {
			log.Printf("Session hub: output for %s failed: %v", terminalID, err)
		}
	}
}

// Shutdown closes all active WebSocket connections to allow graceful
// server shutdown.
func (h *Hub) Shutdown() {
	conns := h.snapshot()
	if len(conns) > 0 {
		log.Printf("Session hub: closing %d active WebSocket connections", len(conns))
	}
	for _, c := range conns {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.ws.Close()
	}
}

// ServeWS handles the session WebSocket endpoint.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Session hub: upgrade failed: %v", err)
		return
	}

	c := &conn{ws: ws, attached: make(map[string]struct{})}
	h.trackConn(c)
	defer func() {
		h.untrackConn(c)
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		for {
			select {
			case <-pingTicker.C:
				c.writeMu.Lock()
				err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	// Full sync: terminals first, then tabs. Clients treat the tabs:list
	// as the initialization signal, so it must come last.
	terminals, tabs := h.state.Snapshot()
	if err := c.send(protocol.MustMessage(protocol.TypeTerminalsList, protocol.TerminalsListEvent{Terminals: terminals})); err != nil {
		log.Printf("Session hub: initial sync failed: %v", err)
		return
	}
	if err := c.send(protocol.MustMessage(protocol.TypeTabsList, protocol.TabsListEvent{Tabs: tabs})); err != nil {
		log.Printf("Session hub: initial sync failed: %v", err)
		return
	}

	for {
		var msg protocol.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Session hub: read error: %v", err)
			}
			return
		}
		h.dispatch(c, msg, r)
	}
}

// dispatch routes one client intent. Rejections are reported only to the
// issuing connection; the other clients never optimistically applied the
// intent, so they need no correction.
func (h *Hub) dispatch(c *conn, msg protocol.Message, r *http.Request) {
	switch msg.Type {
	case protocol.TypeTerminalCreate:
		var req protocol.TerminalCreateRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		term, err := h.state.CreateTerminal(r.Context(), req)
		if err != nil {
			h.sendError(c, nil, err)
			return
		}
		// Only the creator sees isNew, so only it moves focus.
		for _, other := range h.snapshot() {
			ev := protocol.TerminalCreatedEvent{Terminal: term, IsNew: other == c}
			if err := other.send(protocol.MustMessage(protocol.TypeTerminalCreated, ev)); err != nil {
				log.Printf("Session hub: created event failed: %v", err)
			}
		}

	case protocol.TypeTerminalDestroy:
		var req protocol.TerminalDestroyRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		h.state.DestroyTerminal(req)

	case protocol.TypeTerminalInput:
		var req protocol.TerminalInputRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		if err := h.state.Input(req); err != nil {
			h.sendError(c, &req.TerminalID, err)
		}

	case protocol.TypeTerminalResize:
		var req protocol.TerminalResizeRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		h.state.Resize(req)

	case protocol.TypeTerminalRename:
		var req protocol.TerminalRenameRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		if err := h.state.Rename(req); err != nil {
			h.sendError(c, &req.TerminalID, err)
		}

	case protocol.TypeTerminalAttach:
		var req protocol.TerminalAttachRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		data, err := h.state.Scrollback(req.TerminalID)
		if err != nil {
			h.sendError(c, &req.TerminalID, err)
			return
		}
		c.attach(req.TerminalID)
		ev := protocol.TerminalScrollbackEvent{TerminalID: req.TerminalID, Data: data}
		if err := c.send(protocol.MustMessage(protocol.TypeTerminalScrollback, ev)); err != nil {
			log.Printf("Session hub: scrollback replay failed: %v", err)
		}

	case protocol.TypeTerminalClearBuffer:
		var req protocol.TerminalClearBufferRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		h.state.ClearBuffer(req)

	case protocol.TypeTerminalAssignTab:
		var req protocol.TerminalAssignTabRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		if err := h.state.AssignTab(req); err != nil {
			h.sendError(c, &req.TerminalID, err)
		}

	case protocol.TypeTabCreate:
		var req protocol.TabCreateRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		h.state.CreateTab(req)

	case protocol.TypeTabUpdate:
		var req protocol.TabUpdateRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		if err := h.state.UpdateTab(req); err != nil {
			h.sendError(c, nil, err)
		}

	case protocol.TypeTabDelete:
		var req protocol.TabDeleteRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		h.state.DeleteTab(req)

	case protocol.TypeTabReorder:
		var req protocol.TabReorderRequest
		if err := msg.Decode(&req); err != nil {
			h.sendError(c, nil, err)
			return
		}
		if err := h.state.ReorderTab(req); err != nil {
			h.sendError(c, nil, err)
		}

	default:
		// Unknown intents are ignored so old servers tolerate new clients.
		log.Printf("Session hub: ignoring unknown message type %q", msg.Type)
	}
}

func (h *Hub) sendError(c *conn, terminalID *string, err error) {
	ev := protocol.TerminalErrorEvent{TerminalID: terminalID, Error: err.Error()}
	if sendErr := c.send(protocol.MustMessage(protocol.TypeTerminalError, ev)); sendErr != nil {
		log.Printf("Session hub: error event failed: %v", sendErr)
	}
}
