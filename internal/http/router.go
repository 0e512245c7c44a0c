// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/ai"
	"github.com/exdrums/hbg-sub001/internal/config"
	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/http/handlers"
	"github.com/exdrums/hbg-sub001/internal/http/middleware"
	"github.com/exdrums/hbg-sub001/internal/notify"
	"github.com/exdrums/hbg-sub001/internal/realtime"
	"github.com/exdrums/hbg-sub001/internal/repo"
	"github.com/exdrums/hbg-sub001/internal/services"
)

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface expected by the services. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type conversationRepoShim struct{}

func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, typ domain.ConversationType, title string, pairKey *string, participants []repo.NewParticipant) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, typ, title, pairKey, participants)
}

func (conversationRepoShim) GetConversationWithParticipants(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return repo.GetConversationWithParticipants(ctx, db, id)
}

func (conversationRepoShim) FindDirectConversation(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Conversation, error) {
	return repo.FindDirectConversation(ctx, db, userA, userB)
}

func (conversationRepoShim) ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string, includeArchived bool) ([]domain.Conversation, error) {
	return repo.ListConversationsForUser(ctx, db, userID, includeArchived)
}

func (conversationRepoShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, title)
}

func (conversationRepoShim) SetConversationArchived(ctx context.Context, db *gorm.DB, id string, archived bool) error {
	return repo.SetConversationArchived(ctx, db, id, archived)
}

func (conversationRepoShim) AdvanceLastMessageAt(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	return repo.AdvanceLastMessageAt(ctx, db, id, at)
}

// participantRepoShim adapts membership repository functions to
// services.ParticipantRepo.
type participantRepoShim struct{}

func (participantRepoShim) GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.ConversationParticipant, error) {
	return repo.GetParticipant(ctx, db, conversationID, userID)
}

func (participantRepoShim) ListParticipants(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.ConversationParticipant, error) {
	return repo.ListParticipants(ctx, db, conversationID)
}

func (participantRepoShim) AddParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) (*domain.ConversationParticipant, error) {
	return repo.AddParticipant(ctx, db, conversationID, userID, role)
}

func (participantRepoShim) RemoveParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	return repo.RemoveParticipant(ctx, db, conversationID, userID)
}

func (participantRepoShim) UpdateParticipantRole(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) error {
	return repo.UpdateParticipantRole(ctx, db, conversationID, userID, role)
}

func (participantRepoShim) CountHumanParticipants(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	return repo.CountHumanParticipants(ctx, db, conversationID)
}

func (participantRepoShim) AdvanceLastReadAt(ctx context.Context, db *gorm.DB, conversationID, userID string, at time.Time) (bool, error) {
	return repo.AdvanceLastReadAt(ctx, db, conversationID, userID, at)
}

// messageRepoShim adapts message repository functions to services.MessageRepo.
type messageRepoShim struct{}

func (messageRepoShim) CreateMessage(db *gorm.DB, conversationID, authorID, content string, parentID *string, systemAlert bool) (*domain.Message, error) {
	return repo.CreateMessage(db, conversationID, authorID, content, parentID, systemAlert)
}

func (messageRepoShim) GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	return repo.GetMessage(db, id)
}

func (messageRepoShim) ListMessages(db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(db, conversationID, limit)
}

func (messageRepoShim) ListMessagesBefore(db *gorm.DB, conversationID string, before time.Time) ([]domain.Message, error) {
	return repo.ListMessagesBefore(db, conversationID, before)
}

func (messageRepoShim) ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(db, conversationID, offset, limit)
}

func (messageRepoShim) CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	return repo.CountMessages(db, conversationID)
}

func (messageRepoShim) CountUnread(db *gorm.DB, conversationID, userID string, lastReadAt time.Time) (int64, error) {
	return repo.CountUnread(db, conversationID, userID, lastReadAt)
}

func (messageRepoShim) UpdateMessageContent(db *gorm.DB, id, content string) error {
	return repo.UpdateMessageContent(db, id, content)
}

func (messageRepoShim) MarkMessageDeleted(db *gorm.DB, id string) error {
	return repo.MarkMessageDeleted(db, id)
}

func (messageRepoShim) MarkRegenerating(db *gorm.DB, id string, at time.Time) error {
	return repo.MarkRegenerating(db, id, at)
}

func (messageRepoShim) CompleteRegeneration(db *gorm.DB, id, content string) error {
	return repo.CompleteRegeneration(db, id, content)
}

func (messageRepoShim) AbortRegeneration(db *gorm.DB, id string) error {
	return repo.AbortRegeneration(db, id)
}

func (messageRepoShim) RecoverStaleRegenerations(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return repo.RecoverStaleRegenerations(ctx, db, cutoff)
}

// userRepoShim adapts user repository functions to services.UserRepo.
type userRepoShim struct{}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, subject, displayName string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, subject, displayName)
}

func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (userRepoShim) GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error) {
	return repo.GetUserBySubject(ctx, db, subject)
}

func (userRepoShim) GetAssistantUser(ctx context.Context, db *gorm.DB) (*domain.User, error) {
	return repo.GetAssistantUser(ctx, db)
}

func (userRepoShim) CreateAssistantUser(ctx context.Context, db *gorm.DB, displayName string) (*domain.User, error) {
	return repo.CreateAssistantUser(ctx, db, displayName)
}

func (userRepoShim) UpdateUserPrefs(ctx context.Context, db *gorm.DB, id string, prefs int64) error {
	return repo.UpdateUserPrefs(ctx, db, id, prefs)
}

func (userRepoShim) UpdateUserProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarURL string) error {
	return repo.UpdateUserProfile(ctx, db, id, displayName, avatarURL)
}

func (userRepoShim) TouchLastActive(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchLastActive(ctx, db, id, at)
}

// Deps carries the non-DB collaborators the router wires into services:
// the AI responder and limiter plus the realtime registries. Any nil field
// falls back to a fresh in-process default (or stays off, for the AI pair).
type Deps struct {
	Responder ai.Responder
	Limiter   *ai.Limiter
	Presence  *realtime.Presence
	Typing    *realtime.TypingTracker
	Hub       *realtime.Hub
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Response compression. The websocket endpoint must stay uncompressed or
	// the Upgrade handshake breaks; /metrics stays raw for scrapers.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Realtime registries default to in-process implementations.
	presence := deps.Presence
	if presence == nil {
		presence = realtime.NewPresence()
	}
	typing := deps.Typing
	if typing == nil {
		typing = realtime.NewTypingTracker(cfg.Realtime.TypingTTL)
	}
	hub := deps.Hub
	if hub == nil {
		hub = realtime.NewHub()
	}
	dispatcher := notify.NewDispatcher(presence, hub)

	// Dependency injection: services ← repo/db/collaborators
	userSvc := &services.UserService{
		DB:            db,
		Repo:          userRepoShim{},
		AssistantName: cfg.AssistantName,
	}
	msgSvc := &services.MessageService{
		DB:              db,
		Messages:        messageRepoShim{},
		Conversations:   conversationRepoShim{},
		Participants:    participantRepoShim{},
		Notifier:        dispatcher,
		Responder:       deps.Responder,
		Limiter:         deps.Limiter,
		MaxContentRunes: cfg.MaxContentRunes,
		TitleMaxLen:     cfg.TitleMaxLen,
		RegenTTL:        cfg.Realtime.RegenTTL,
		HistoryLimit:    cfg.AI.HistoryLimit,
	}
	convSvc := &services.ConversationService{
		DB:            db,
		Conversations: conversationRepoShim{},
		Participants:  participantRepoShim{},
		Assistant:     userSvc,
		Notifier:      dispatcher,
		System:        msgSvc,
		Unread:        messageRepoShim{},
		TitleMaxLen:   cfg.TitleMaxLen,
	}
	h := handlers.New(convSvc, msgSvc, userSvc)

	// Websocket transport
	gw := &wsGateway{
		db:       db,
		presence: presence,
		typing:   typing,
		hub:      hub,
		notifier: dispatcher,
		msgSvc:   msgSvc,
	}
	r.GET("/ws", gw.serve)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Account
		api.GET("/me", h.GetMe)
		api.PUT("/me/preferences", h.UpdatePreferences)
		api.PUT("/me/profile", h.UpdateProfile)

		// Conversations
		api.POST("/conversations/direct", h.CreateDirect)
		api.POST("/conversations/group", h.CreateGroup)
		api.POST("/conversations/assistant", h.CreateAssistant)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.PUT("/conversations/:id/title", h.UpdateTitle)
		api.POST("/conversations/:id/archive", h.ArchiveConversation)
		api.DELETE("/conversations/:id/archive", h.UnarchiveConversation)

		// Participants
		api.POST("/conversations/:id/participants", h.AddParticipant)
		api.DELETE("/conversations/:id/participants/:userId", h.RemoveParticipant)
		api.PUT("/conversations/:id/participants/:userId/role", h.UpdateParticipantRole)

		// Messages
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.POST("/conversations/:id/messages/:messageId/regenerate", h.RegenerateMessage)
		api.POST("/conversations/:id/read", h.MarkRead)
		api.PUT("/messages/:messageId", h.EditMessage)
		api.DELETE("/messages/:messageId", h.DeleteMessage)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	p := strings.TrimSpace(prefix)
	if p == "" || p == "/" {
		return r.Group("")
	}
	return r.Group(p)
}
