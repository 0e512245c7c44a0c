package realtime

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing state stays valid without a refresh.
// Clients send an explicit stop after 3 seconds of inactivity; the server-side
// TTL covers abrupt disconnects so no ghost typer sticks around.
const DefaultTypingTTL = 3 * time.Second

// TypingTracker holds per-conversation, per-user typing state with automatic
// expiry. Stale entries are pruned lazily on every read and on the transition
// checks, never by a background sweeper.
type TypingTracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	nowFn func() time.Time
	state map[string]map[string]time.Time // conversationID -> userID -> startedAt
}

// NewTypingTracker constructs a tracker. A non-positive ttl falls back to
// DefaultTypingTTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:   ttl,
		nowFn: time.Now,
		state: make(map[string]map[string]time.Time),
	}
}

// StartTyping marks the user as typing and returns true only on the
// transition into the typing state. Repeated calls refresh the timestamp but
// return false, so callers fan out "started typing" without event storms.
// An expired previous state counts as a fresh transition.
func (t *TypingTracker) StartTyping(conversationID, userID string) bool {
	now := t.nowFn()

	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.state[conversationID]
	if users == nil {
		users = make(map[string]time.Time)
		t.state[conversationID] = users
	}
	startedAt, present := users[userID]
	users[userID] = now
	return !present || now.Sub(startedAt) >= t.ttl
}

// StopTyping clears the user's typing state. Returns true when an unexpired
// state was actually cleared, so callers skip the fan-out for stops that the
// TTL already took care of.
func (t *TypingTracker) StopTyping(conversationID, userID string) bool {
	now := t.nowFn()

	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.state[conversationID]
	startedAt, present := users[userID]
	if !present {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.state, conversationID)
	}
	return now.Sub(startedAt) < t.ttl
}

// TypingUsers returns the users currently typing in the conversation, minus
// expired entries (pruned in place) and minus excludeUserID when non-empty.
func (t *TypingTracker) TypingUsers(conversationID, excludeUserID string) []string {
	now := t.nowFn()

	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.state[conversationID]
	if len(users) == 0 {
		return nil
	}

	var out []string
	for uid, startedAt := range users {
		if now.Sub(startedAt) >= t.ttl {
			delete(users, uid)
			continue
		}
		if excludeUserID != "" && uid == excludeUserID {
			continue
		}
		out = append(out, uid)
	}
	if len(users) == 0 {
		delete(t.state, conversationID)
	}
	return out
}

// ClearUser drops the user's typing state from every conversation, used when
// the user's last connection goes away.
func (t *TypingTracker) ClearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for convID, users := range t.state {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.state, convID)
		}
	}
}
