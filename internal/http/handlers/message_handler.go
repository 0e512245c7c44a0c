// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST   /conversations/{id}/messages                        (send)
//   - GET    /conversations/{id}/messages                        (list, paginated)
//   - POST   /conversations/{id}/messages/{messageId}/regenerate (assistant redo)
//   - POST   /conversations/{id}/read                            (advance read cursor)
//   - PUT    /messages/{messageId}                               (edit own message)
//   - DELETE /messages/{messageId}                               (delete own message)
//
// Sending into an AI assistant conversation produces two messages in one
// round-trip: the caller's message and the generated assistant reply.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send exists for (user, conversation, key), the handler returns the recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/repo"
	"github.com/exdrums/hbg-sub001/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// Content is the message body. It must be non-empty.
	Content string `json:"content" binding:"required,min=1"`
	// ParentMessageID optionally threads this message under another message
	// of the same conversation.
	ParentMessageID *string `json:"parent_message_id"`
}

// PostMessageResponse is the JSON envelope for a newly created message.
// AssistantMessage is present only when sending into an AI assistant
// conversation.
type PostMessageResponse struct {
	Message          *domain.Message `json:"message"`
	AssistantMessage *domain.Message `json:"assistant_message,omitempty"`
}

// EditMessageRequest is the JSON payload for editing a message.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required,min=1"`
}

// MessageResponse is the JSON envelope for a single message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MarkReadRequest is the JSON payload for advancing the read cursor. At
// defaults to the current server time when omitted.
type MarkReadRequest struct {
	At *time.Time `json:"at"`
}

// MarkReadResponse reports how many messages the call newly marked as read.
type MarkReadResponse struct {
	NewlyRead int64 `json:"newly_read"`
}

//
// Helpers
//

// parseMessageID validates the :messageId path parameter.
func parseMessageID(c *gin.Context) (string, bool) {
	id := c.Param("messageId")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return "", false
	}
	return id, true
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxContentRunes inspects the concrete MessageService for a
// configured content-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxContentRunes(msgSvc MessageService) int {
	const fallback = 8000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxContentRunes > 0 {
			return ms.MaxContentRunes
		}
	}
	return fallback
}

// idempotencyKey extracts an idempotency key if an upstream middleware has
// already validated it. The fallback reads the "Idempotency-Key" header
// directly when no dedicated middleware exists.
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends a message to the conversation and fans it out to online participants.
// @Description In an AI assistant conversation the response also carries the generated reply.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID       header string true  "Authenticated user ID"
// @Param       Idempotency-Key header string false "Idempotency key for safe retries (UUID recommended)"
// @Param       id              path   string true  "Conversation ID (UUID)" format(uuid)
// @Param       body            body   handlers.PostMessageRequest true "Message payload"
// @Success     201 {object} handlers.PostMessageResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     404 {object} handlers.ErrorResponse "Conversation not found"
// @Failure     429 {object} handlers.ErrorResponse "AI rate limit exceeded"
// @Failure     502 {object} handlers.ErrorResponse "Assistant unavailable"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID, okID := parseConversationID(c)
	if !okID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxContentRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := idempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, PostMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	// The conversation type decides the path: assistant conversations go
	// through the AI pipeline, everything else is a plain append.
	conv, err := h.convSvc.Get(ctx, conversationID, currentUser)
	if err != nil {
		failErr(c, err)
		return
	}

	var resp PostMessageResponse
	if conv.Type == domain.ConversationAssistant {
		userMsg, assistantMsg, err := h.msgSvc.SendToAi(ctx, conversationID, currentUser, content)
		if err != nil {
			failErr(c, err)
			return
		}
		resp = PostMessageResponse{Message: userMsg, AssistantMessage: assistantMsg}
	} else {
		m, err := h.msgSvc.Send(ctx, conversationID, currentUser, content, req.ParentMessageID)
		if err != nil {
			failErr(c, err)
			return
		}
		resp = PostMessageResponse{Message: m}
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && resp.Message != nil {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, resp.Message.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, resp)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns a paginated list ordered oldest-first. Deleted messages appear as tombstones.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID header string true  "Authenticated user ID"
// @Param       id        path   string true  "Conversation ID (UUID)" format(uuid)
// @Param       page      query  int    false "Page number"    minimum(1) default(1)
// @Param       page_size query  int    false "Items per page" minimum(1) maximum(200) default(50)
// @Success     200 {object} handlers.ListMessagesResponse
// @Failure     404 {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	conversationID, okID := parseConversationID(c)
	if !okID {
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(c.Request.Context(), conversationID, userID(c), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := int64(0)
	if pageSize > 0 {
		totalPages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// EditMessage godoc
// @ID          editMessage
// @Summary     Edit an own message
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       messageId path   string true "Message ID (UUID)" format(uuid)
// @Param       body      body   handlers.EditMessageRequest true "New content"
// @Success     200 {object} handlers.MessageResponse
// @Failure     403 {object} handlers.ErrorResponse "Not the author"
// @Failure     422 {object} handlers.ErrorResponse "Message not editable"
// @Router      /messages/{messageId} [put]
func (h *Handlers) EditMessage(c *gin.Context) {
	id, okID := parseMessageID(c)
	if !okID {
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	m, err := h.msgSvc.Edit(c.Request.Context(), id, userID(c), sanitizeContent(req.Content))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete an own message
// @Description Tombstones the message: content is cleared and the deletion is terminal.
// @Tags        Messages
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       messageId path   string true "Message ID (UUID)" format(uuid)
// @Success     204 "Deleted"
// @Failure     403 {object} handlers.ErrorResponse "Not the author"
// @Router      /messages/{messageId} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	id, okID := parseMessageID(c)
	if !okID {
		return
	}
	if err := h.msgSvc.Delete(c.Request.Context(), id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RegenerateMessage godoc
// @ID          regenerateMessage
// @Summary     Regenerate an assistant reply
// @Description Replaces a completed assistant message with a fresh completion built from the history before it.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID header string true "Authenticated user ID"
// @Param       id        path   string true "Conversation ID (UUID)" format(uuid)
// @Param       messageId path   string true "Assistant message ID (UUID)" format(uuid)
// @Success     200 {object} handlers.MessageResponse
// @Failure     409 {object} handlers.ErrorResponse "Regeneration already in progress"
// @Failure     429 {object} handlers.ErrorResponse "AI rate limit exceeded"
// @Failure     502 {object} handlers.ErrorResponse "Assistant unavailable"
// @Router      /conversations/{id}/messages/{messageId}/regenerate [post]
func (h *Handlers) RegenerateMessage(c *gin.Context) {
	conversationID, okID := parseConversationID(c)
	if !okID {
		return
	}
	messageID, okID := parseMessageID(c)
	if !okID {
		return
	}
	m, err := h.msgSvc.RegenerateAi(c.Request.Context(), conversationID, messageID, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// MarkRead godoc
// @ID          markConversationRead
// @Summary     Advance the caller's read cursor
// @Description Marks messages up to the given timestamp (default: now) as read and notifies participants.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string true  "Authenticated user ID"
// @Param       id        path   string true  "Conversation ID (UUID)" format(uuid)
// @Param       body      body   handlers.MarkReadRequest false "Optional timestamp"
// @Success     200 {object} handlers.MarkReadResponse
// @Failure     403 {object} handlers.ErrorResponse "Not a participant"
// @Router      /conversations/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	conversationID, okID := parseConversationID(c)
	if !okID {
		return
	}
	var req MarkReadRequest
	// Body is optional for this endpoint.
	_ = c.ShouldBindJSON(&req)
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}
	n, err := h.msgSvc.MarkConversationRead(c.Request.Context(), conversationID, userID(c), at)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{NewlyRead: n})
}
