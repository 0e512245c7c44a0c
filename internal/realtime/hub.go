package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrUnknownConnection is returned when a delivery targets a connection id
// the hub no longer tracks (raced with a disconnect).
var ErrUnknownConnection = errors.New("unknown connection")

// envelope is the wire frame pushed to clients: an event name plus its payload.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub owns the live websocket connections and satisfies the dispatcher's
// transport contract: deliver a typed event to a connection id, or to many.
// Delivery per connection preserves enqueue order (each Conn drains its own
// buffered channel in FIFO order); the hub never reorders a fan-out.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Attach registers a started connection. Unlike a one-socket-per-user design,
// every device keeps its own entry; the Presence registry tracks ownership.
func (h *Hub) Attach(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// Detach removes a connection from the hub. It does not close the Conn; the
// connection lifecycle belongs to the websocket handler.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
}

// Send delivers one event to one connection. Unknown connection ids are not
// an error from the caller's perspective of best-effort delivery, but the
// error return lets the dispatcher count drops.
func (h *Hub) Send(_ context.Context, connectionID, event string, payload any) error {
	raw, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	c := h.conns[connectionID]
	h.mu.RUnlock()
	if c == nil {
		return ErrUnknownConnection
	}
	return c.Send(raw)
}

// Broadcast delivers one event to many connections. The payload is marshaled
// once; individual connection failures do not stop the loop. The first error
// is returned so the dispatcher can log it.
func (h *Hub) Broadcast(_ context.Context, connectionIDs []string, event string, payload any) error {
	if len(connectionIDs) == 0 {
		return nil
	}
	raw, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if c := h.conns[id]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var firstErr error
	for _, c := range targets {
		if err := c.Send(raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close terminates all tracked connections and clears the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(1001, "hub shutdown")
	}
}
