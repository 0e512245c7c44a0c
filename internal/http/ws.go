// Websocket endpoint.
//
// GET /ws upgrades the connection, registers it with the presence registry
// and the hub, and then serves small inbound control frames:
//
//	{"type":"typing-start","conversation_id":"..."}
//	{"type":"typing-stop","conversation_id":"..."}
//	{"type":"mark-read","conversation_id":"..."}
//
// Everything the server pushes (messages, typing, read receipts, alerts)
// flows the other way through the hub; clients never receive replies to
// control frames directly.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/notify"
	"github.com/exdrums/hbg-sub001/internal/realtime"
	"github.com/exdrums/hbg-sub001/internal/repo"
	"github.com/exdrums/hbg-sub001/internal/services"
	"github.com/exdrums/hbg-sub001/internal/sysutil"
)

// wsUpgrader performs the HTTP → websocket upgrade. Origin checking is
// delegated to the CORS layer; the upgrader accepts any origin.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 4 << 10,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is the envelope for inbound client control frames.
type wsFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// wsGateway holds the collaborators the websocket endpoint needs: presence
// and typing registries, the hub that owns live connections, the dispatcher
// for fan-out, and DB access for membership checks.
type wsGateway struct {
	db       *gorm.DB
	presence *realtime.Presence
	typing   *realtime.TypingTracker
	hub      *realtime.Hub
	notifier *notify.Dispatcher
	msgSvc   *services.MessageService
}

// wsUserID resolves the caller's identity for the upgrade request. Browsers
// cannot set custom headers on websocket dials, so a query parameter is
// accepted as fallback.
func wsUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	// Browsers cannot set headers on the upgrade request, hence the query
	// fallback.
	if id := sysutil.FirstNonEmpty(c.GetHeader("X-User-ID"), c.Query("user")); id != "" {
		return strings.TrimSpace(id)
	}
	return "demo-user"
}

// serve upgrades the request and runs the connection until the client goes
// away. It blocks for the lifetime of the connection.
func (g *wsGateway) serve(c *gin.Context) {
	uid := wsUserID(c)

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn().Err(err).Str("user_id", uid).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConn(uid, ws)
	conn.Start()
	g.presence.AddConnection(uid, conn.ID)
	g.hub.Attach(conn)

	log.Debug().Str("user_id", uid).Str("connection_id", conn.ID).Msg("websocket connected")

	// The read loop returns when the peer closes or the read deadline
	// expires. Cleanup must not assume the user went offline: other devices
	// may still hold connections.
	conn.ReadLoop(func(payload []byte) {
		g.handleFrame(c.Request.Context(), uid, payload)
	})

	g.hub.Detach(conn.ID)
	stillOnline := g.presence.RemoveConnection(uid, conn.ID)
	if !stillOnline {
		g.typing.ClearUser(uid)
	}
	log.Debug().Str("user_id", uid).Str("connection_id", conn.ID).Bool("still_online", stillOnline).Msg("websocket disconnected")
}

// handleFrame dispatches one inbound control frame. Errors degrade to
// dropping the frame: control frames are advisory and the client state
// reconciles through the pull path.
func (g *wsGateway) handleFrame(ctx context.Context, uid string, payload []byte) {
	var f wsFrame
	if err := json.Unmarshal(payload, &f); err != nil || f.ConversationID == "" {
		return
	}

	switch f.Type {
	case "typing-start":
		if !g.isParticipant(ctx, f.ConversationID, uid) {
			return
		}
		// Fan out only on the transition into typing; repeated frames from
		// a client keystroke loop refresh the timestamp silently.
		if g.typing.StartTyping(f.ConversationID, uid) {
			g.fanOutTyping(ctx, f.ConversationID, uid, notify.EventTypingStarted)
		}
	case "typing-stop":
		if g.typing.StopTyping(f.ConversationID, uid) {
			g.fanOutTyping(ctx, f.ConversationID, uid, notify.EventTypingStopped)
		}
	case "mark-read":
		if _, err := g.msgSvc.MarkConversationRead(ctx, f.ConversationID, uid, time.Now().UTC()); err != nil {
			log.Debug().Err(err).Str("user_id", uid).Str("conversation_id", f.ConversationID).Msg("mark-read frame rejected")
		}
	}
}

// isParticipant reports membership, degrading to false on store errors.
func (g *wsGateway) isParticipant(ctx context.Context, conversationID, uid string) bool {
	is, err := repo.IsParticipant(ctx, g.db, conversationID, uid)
	return err == nil && is
}

// fanOutTyping notifies the other participants of a typing transition.
func (g *wsGateway) fanOutTyping(ctx context.Context, conversationID, uid, event string) {
	parts, err := repo.ListParticipants(ctx, g.db, conversationID)
	if err != nil {
		return
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	g.notifier.ToParticipants(ctx, ids, uid, event, notify.TypingEvent{
		ConversationID: conversationID,
		UserID:         uid,
	})
}
