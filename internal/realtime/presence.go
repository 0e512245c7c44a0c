// Package realtime tracks the live state of the system: which users are
// connected on which transport connections, who is currently typing, and the
// websocket plumbing that carries events to clients.
//
// The trackers in this package are service objects around concurrency-safe
// maps; callers never see the raw map. Single-instance deployments use them
// directly, and every operation is safe for concurrent use from request
// handlers and connection lifecycle callbacks.
package realtime

import (
	"sync"
)

// Presence maps users to their active transport connections in both
// directions. A user may hold several connections at once (one per device);
// presence means "at least one connection".
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // userID -> set of connectionIDs
	byConn map[string]string              // connectionID -> userID
}

// NewPresence constructs an empty registry.
func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// AddConnection records a connection for the user. Re-adding the same pair is
// an idempotent no-op. Returns true when this was the user's first connection,
// i.e. the user just came online.
func (p *Presence) AddConnection(userID, connectionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.byUser[userID]
	if conns == nil {
		conns = make(map[string]struct{})
		p.byUser[userID] = conns
	}
	wasOffline := len(conns) == 0
	conns[connectionID] = struct{}{}
	p.byConn[connectionID] = userID
	return wasOffline
}

// RemoveConnection drops the mapping and reports whether the user still has
// at least one other connection. The removal and the remaining-connections
// check happen under one lock: this return value is the sole offline-
// transition signal, so the check-then-act race must stay closed.
func (p *Presence) RemoveConnection(userID, connectionID string) (stillOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.byConn, connectionID)
	conns := p.byUser[userID]
	if conns == nil {
		return false
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(p.byUser, userID)
		return false
	}
	return true
}

// Connections returns a copy of the user's connection ids.
func (p *Presence) Connections(userID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := p.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// ConnectionsForUsers resolves connections for a set of users in one pass,
// skipping excludeUserID when non-empty. Used by fan-out.
func (p *Presence) ConnectionsForUsers(userIDs []string, excludeUserID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for _, uid := range userIDs {
		if excludeUserID != "" && uid == excludeUserID {
			continue
		}
		for id := range p.byUser[uid] {
			out = append(out, id)
		}
	}
	return out
}

// AllConnections returns every tracked connection id (global fan-out scope).
func (p *Presence) AllConnections() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.byConn))
	for id := range p.byConn {
		out = append(out, id)
	}
	return out
}

// UserForConnection resolves the user owning a connection.
func (p *Presence) UserForConnection(connectionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	uid, ok := p.byConn[connectionID]
	return uid, ok
}

// IsOnline reports whether the user has at least one active connection.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.byUser[userID]) > 0
}

// OnlineCount returns the number of distinct online users.
func (p *Presence) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.byUser)
}
