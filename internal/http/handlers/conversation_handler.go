// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations/direct              (find-or-create one-on-one)
//   - POST   /conversations/group               (create group)
//   - POST   /conversations/assistant           (find-or-create AI assistant)
//   - GET    /conversations                     (list with unread counts)
//   - GET    /conversations/{id}                (fetch one)
//   - PUT    /conversations/{id}/title          (rename)
//   - POST   /conversations/{id}/archive        (archive)
//   - DELETE /conversations/{id}/archive        (unarchive)
//   - POST   /conversations/{id}/participants                  (add)
//   - DELETE /conversations/{id}/participants/{userId}         (remove)
//   - PUT    /conversations/{id}/participants/{userId}/role    (change role)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/services"
	"github.com/exdrums/hbg-sub001/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle and membership operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// CreateDirect finds or creates the one-on-one conversation for a user pair.
	CreateDirect(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	// CreateGroup creates a titled group with the creator as admin.
	CreateGroup(ctx context.Context, creatorID, title string, participantIDs []string) (*domain.Conversation, error)
	// CreateAiAssistant finds or creates the user's conversation with the assistant.
	CreateAiAssistant(ctx context.Context, userID, title string) (*domain.Conversation, error)
	// Get returns a conversation the user participates in.
	Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	// ListForUser returns the user's conversations with unread counts.
	ListForUser(ctx context.Context, userID string, includeArchived bool) ([]services.ConversationSummary, error)
	// AddParticipant adds a user to a group conversation.
	AddParticipant(ctx context.Context, conversationID, actingUserID, targetUserID string, role domain.ParticipantRole) error
	// RemoveParticipant removes a user (self-leave or admin kick).
	RemoveParticipant(ctx context.Context, conversationID, actingUserID, targetUserID string) error
	// UpdateRole changes a participant's role (admin only).
	UpdateRole(ctx context.Context, conversationID, actingUserID, targetUserID string, role domain.ParticipantRole) error
	// Archive hides the conversation from the user's default listing.
	Archive(ctx context.Context, conversationID, userID string) error
	// Unarchive restores an archived conversation.
	Unarchive(ctx context.Context, conversationID, userID string) error
	// UpdateTitle renames a conversation.
	UpdateTitle(ctx context.Context, conversationID, userID, title string) error
}

// MessageService defines message operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send appends a message to a conversation and fans it out.
	Send(ctx context.Context, conversationID, userID, content string, parentMessageID *string) (*domain.Message, error)
	// Edit replaces the content of the caller's own message.
	Edit(ctx context.Context, messageID, userID, newContent string) (*domain.Message, error)
	// Delete tombstones the caller's own message.
	Delete(ctx context.Context, messageID, userID string) error
	// SendToAi appends a user message and generates an assistant reply.
	SendToAi(ctx context.Context, conversationID, userID, content string) (*domain.Message, *domain.Message, error)
	// RegenerateAi replaces an assistant message with a fresh completion.
	RegenerateAi(ctx context.Context, conversationID, messageID, userID string) (*domain.Message, error)
	// MarkConversationRead advances the caller's read cursor.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)
	// ListPage returns one page of messages and the total count.
	ListPage(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error)
}

// UserService defines account operations consumed by HTTP handlers.
type UserService interface {
	// EnsureUser resolves or creates the account for an external subject.
	EnsureUser(ctx context.Context, subject, displayName string) (*domain.User, error)
	// GetUser returns a user by id.
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// UpdatePreferences replaces the user's preference bitset.
	UpdatePreferences(ctx context.Context, userID string, prefs int64) error
	// UpdateProfile updates display name and avatar.
	UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, and users.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	convSvc ConversationService
	msgSvc  MessageService
	userSvc UserService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversationService, msgSvc MessageService, userSvc UserService) *Handlers {
	return &Handlers{convSvc: convSvc, msgSvc: msgSvc, userSvc: userSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateDirectRequest is the JSON payload for opening a one-on-one conversation.
type CreateDirectRequest struct {
	// UserID is the other participant.
	UserID string `json:"user_id" binding:"required,min=1"`
}

// CreateGroupRequest is the JSON payload for creating a group conversation.
type CreateGroupRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
	// ParticipantIDs are the initial members besides the creator.
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
}

// CreateAssistantRequest is the JSON payload for opening an AI assistant
// conversation. Title is optional; a default is used when empty.
type CreateAssistantRequest struct {
	Title string `json:"title"`
}

// UpdateConversationTitleRequest is the JSON payload for renaming a conversation.
type UpdateConversationTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
}

// AddParticipantRequest is the JSON payload for adding a group member.
type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required,min=1"`
	// Role defaults to "member" when empty.
	Role string `json:"role"`
}

// UpdateRoleRequest is the JSON payload for changing a participant's role.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=member admin"`
}

// ConversationResponse is the JSON envelope for a single conversation.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
}

// ConversationListItem pairs a conversation with the caller's unread count.
type ConversationListItem struct {
	Conversation domain.Conversation `json:"conversation"`
	UnreadCount  int64               `json:"unread_count"`
}

// ListConversationsResponse contains the caller's conversations.
type ListConversationsResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

//
// Helpers
//

// parseConversationID validates the :id path parameter. The service layer
// would reject an unknown id anyway; failing here gives the client a 400
// instead of a 404 for malformed ids.
func parseConversationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateDirect godoc
// @ID          createDirectConversation
// @Summary     Open a one-on-one conversation
// @Description Finds or creates the single one-on-one conversation between the caller and another user.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       body body handlers.CreateDirectRequest true "Other participant"
// @Success     200 {object} handlers.ConversationResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     404 {object} handlers.ErrorResponse "User not found"
// @Router      /conversations/direct [post]
func (h *Handlers) CreateDirect(c *gin.Context) {
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	conv, err := h.convSvc.CreateDirect(c.Request.Context(), userID(c), strings.TrimSpace(req.UserID))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// CreateGroup godoc
// @ID          createGroupConversation
// @Summary     Create a group conversation
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       body body handlers.CreateGroupRequest true "Title and initial members"
// @Success     201 {object} handlers.ConversationResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Router      /conversations/group [post]
func (h *Handlers) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and participant_ids required")
		return
	}
	conv, err := h.convSvc.CreateGroup(c.Request.Context(), userID(c), req.Title, req.ParticipantIDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ConversationResponse{Conversation: conv})
}

// CreateAssistant godoc
// @ID          createAssistantConversation
// @Summary     Open an AI assistant conversation
// @Description Finds or creates the caller's conversation with the AI assistant.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       body body handlers.CreateAssistantRequest false "Optional title"
// @Success     200 {object} handlers.ConversationResponse
// @Router      /conversations/assistant [post]
func (h *Handlers) CreateAssistant(c *gin.Context) {
	var req CreateAssistantRequest
	// Body is optional for this endpoint.
	_ = c.ShouldBindJSON(&req)
	conv, err := h.convSvc.CreateAiAssistant(c.Request.Context(), userID(c), req.Title)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List the caller's conversations
// @Description Returns conversations ordered by recency with per-conversation unread counts.
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID        header string true  "Authenticated user ID"
// @Param       include_archived query  bool   false "Include archived conversations"
// @Success     200 {object} handlers.ListConversationsResponse
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"
	items, err := h.convSvc.ListForUser(c.Request.Context(), userID(c), includeArchived)
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]ConversationListItem, 0, len(items))
	for _, it := range items {
		out = append(out, ConversationListItem{Conversation: it.Conversation, UnreadCount: it.UnreadCount})
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: out})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch one conversation
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Success     200 {object} handlers.ConversationResponse
// @Failure     404 {object} handlers.ErrorResponse "Not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	conv, err := h.convSvc.Get(c.Request.Context(), id, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// UpdateTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Param       body      body   handlers.UpdateConversationTitleRequest true "New title"
// @Success     204 "Updated"
// @Failure     403 {object} handlers.ErrorResponse "Not allowed"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateTitle(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	var req UpdateConversationTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		return
	}
	if err := h.convSvc.UpdateTitle(c.Request.Context(), id, userID(c), req.Title); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ArchiveConversation godoc
// @ID          archiveConversation
// @Summary     Archive a conversation
// @Tags        Conversations
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Success     204 "Archived"
// @Router      /conversations/{id}/archive [post]
func (h *Handlers) ArchiveConversation(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	if err := h.convSvc.Archive(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UnarchiveConversation godoc
// @ID          unarchiveConversation
// @Summary     Restore an archived conversation
// @Tags        Conversations
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Success     204 "Restored"
// @Router      /conversations/{id}/archive [delete]
func (h *Handlers) UnarchiveConversation(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	if err := h.convSvc.Unarchive(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AddParticipant godoc
// @ID          addParticipant
// @Summary     Add a member to a group conversation
// @Tags        Participants
// @Accept      json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Param       body      body   handlers.AddParticipantRequest true "Member and optional role"
// @Success     204 "Added"
// @Failure     403 {object} handlers.ErrorResponse "Not allowed"
// @Failure     409 {object} handlers.ErrorResponse "Already a participant"
// @Router      /conversations/{id}/participants [post]
func (h *Handlers) AddParticipant(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	role := domain.ParticipantRole(req.Role)
	if req.Role == "" {
		role = domain.RoleMember
	}
	if err := h.convSvc.AddParticipant(c.Request.Context(), id, userID(c), strings.TrimSpace(req.UserID), role); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RemoveParticipant godoc
// @ID          removeParticipant
// @Summary     Remove a member (self-leave or admin kick)
// @Tags        Participants
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Param       userId    path   string true "Participant user ID"
// @Success     204 "Removed"
// @Failure     403 {object} handlers.ErrorResponse "Not allowed"
// @Router      /conversations/{id}/participants/{userId} [delete]
func (h *Handlers) RemoveParticipant(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	target := c.Param("userId")
	if target == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participant user id required")
		return
	}
	if err := h.convSvc.RemoveParticipant(c.Request.Context(), id, userID(c), target); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UpdateParticipantRole godoc
// @ID          updateParticipantRole
// @Summary     Change a participant's role
// @Tags        Participants
// @Accept      json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Param       userId    path   string true "Participant user ID"
// @Param       body      body   handlers.UpdateRoleRequest true "New role"
// @Success     204 "Updated"
// @Failure     403 {object} handlers.ErrorResponse "Not allowed"
// @Router      /conversations/{id}/participants/{userId}/role [put]
func (h *Handlers) UpdateParticipantRole(c *gin.Context) {
	id, okID := parseConversationID(c)
	if !okID {
		return
	}
	target := c.Param("userId")
	if target == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participant user id required")
		return
	}
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role must be member or admin")
		return
	}
	if err := h.convSvc.UpdateRole(c.Request.Context(), id, userID(c), target, domain.ParticipantRole(req.Role)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
