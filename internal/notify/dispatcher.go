package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/exdrums/hbg-sub001/internal/realtime"
)

var (
	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dispatched_total",
			Help: "Domain events fanned out to transport connections.",
		},
		[]string{"event"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Domain events that failed transport delivery.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(eventsDispatched, eventsDropped)
}

// Dispatcher resolves target connections via the presence registry and pushes
// events through the transport. Failures are logged and counted, never
// returned: by the time an event exists, persistence already succeeded and is
// the authoritative state.
type Dispatcher struct {
	presence  *realtime.Presence
	transport Transport
}

// NewDispatcher wires a dispatcher to its presence registry and transport.
func NewDispatcher(p *realtime.Presence, t Transport) *Dispatcher {
	return &Dispatcher{presence: p, transport: t}
}

// ToUser delivers an event to every connection of one user.
func (d *Dispatcher) ToUser(ctx context.Context, userID, event string, payload any) {
	conns := d.presence.Connections(userID)
	d.push(ctx, conns, event, payload)
}

// ToParticipants delivers an event to every connection of the given users,
// minus excludeUserID (typically the actor, whose own request already carries
// the result).
func (d *Dispatcher) ToParticipants(ctx context.Context, userIDs []string, excludeUserID, event string, payload any) {
	conns := d.presence.ConnectionsForUsers(userIDs, excludeUserID)
	d.push(ctx, conns, event, payload)
}

// ToAll delivers an event to every tracked connection (global alerts).
func (d *Dispatcher) ToAll(ctx context.Context, event string, payload any) {
	d.push(ctx, d.presence.AllConnections(), event, payload)
}

// SendAlert builds and delivers a transient alert. Scope rules: a user id
// targets that user, otherwise a conversation id targets its participants,
// otherwise the alert is global.
func (d *Dispatcher) SendAlert(ctx context.Context, userID, conversationID string, participantIDs []string, kind, text string, ttl time.Duration) Alert {
	a := Alert{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Kind:           kind,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if ttl > 0 {
		exp := a.CreatedAt.Add(ttl)
		a.ExpiresAt = &exp
	}

	switch {
	case userID != "":
		d.ToUser(ctx, userID, EventAlert, a)
	case conversationID != "":
		d.ToParticipants(ctx, participantIDs, "", EventAlert, a)
	default:
		d.ToAll(ctx, EventAlert, a)
	}
	return a
}

// push performs the actual transport call with drop-on-failure semantics.
func (d *Dispatcher) push(ctx context.Context, connectionIDs []string, event string, payload any) {
	if len(connectionIDs) == 0 {
		return
	}
	eventsDispatched.WithLabelValues(event).Add(float64(len(connectionIDs)))
	if err := d.transport.Broadcast(ctx, connectionIDs, event, payload); err != nil {
		eventsDropped.WithLabelValues(event).Inc()
		log.Warn().
			Err(err).
			Str("event", event).
			Int("targets", len(connectionIDs)).
			Msg("event delivery dropped")
	}
}
