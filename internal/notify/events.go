// Package notify formats domain events and fans them out to the transport
// connections resolved through the presence registry. It carries no business
// logic: state mutation has already happened by the time an event is
// dispatched, and delivery is strictly best-effort.
package notify

import (
	"context"
	"time"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

// Event names pushed to clients.
const (
	EventMessageReceived     = "message-received"
	EventMessageEdited       = "message-edited"
	EventMessageDeleted      = "message-deleted"
	EventMessageRegenerating = "message-regenerating"
	EventTypingStarted       = "typing-started"
	EventTypingStopped       = "typing-stopped"
	EventReadReceipts        = "read-receipts-updated"
	EventParticipantsChanged = "participants-changed"
	EventAlert               = "alert"
)

// Transport delivers a named event with a JSON-serializable payload to
// transport connections. The websocket hub implements it; tests substitute a
// recorder.
type Transport interface {
	Send(ctx context.Context, connectionID, event string, payload any) error
	Broadcast(ctx context.Context, connectionIDs []string, event string, payload any) error
}

// MessageEvent is the payload for message lifecycle events.
type MessageEvent struct {
	ConversationID string          `json:"conversation_id"`
	Message        *domain.Message `json:"message"`
}

// TypingEvent is the payload for typing-started / typing-stopped.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ReadReceiptEvent is the payload for read-receipts-updated.
type ReadReceiptEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastReadAt     time.Time `json:"last_read_at"`
}

// ParticipantsEvent is the payload for participants-changed.
type ParticipantsEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Change         string `json:"change"` // "added" | "removed" | "role-updated"
}

// Alert is a transient notice outside message history. Alerts are not
// persisted; a client that misses one reconciles via the pull path.
type Alert struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Kind           string     `json:"kind"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}
