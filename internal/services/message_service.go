// Package services – MessageService
//
// This file implements MessageService, the pipeline that owns message
// lifecycle: send, edit, soft-delete, assistant replies and regeneration,
// read cursors, and paging. Writes to one conversation are serialized by an
// in-process per-conversation lock; the monotonic recency and read cursors
// are additionally guarded by conditional updates in the repository so
// concurrent instances cannot move them backward.
//
// Assistant calls never run under a conversation lock: the regenerating
// state transition is committed before the outbound call and the completion
// transition after it, so a crash mid-call leaves one message recoverable by
// the stale-regeneration sweep instead of corrupting other state.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// conversation/user identifiers and pagination parameters.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/exdrums/hbg-sub001/internal/ai"
	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/notify"
	"github.com/exdrums/hbg-sub001/internal/repo"
)

// MessageRepo defines the message persistence contract required by
// MessageService. Methods take the DB handle per call so transactional
// variants can be passed through.
type MessageRepo interface {
	// CreateMessage inserts a message with a server-assigned timestamp.
	CreateMessage(db *gorm.DB, conversationID, authorID, content string, parentID *string, systemAlert bool) (*domain.Message, error)

	// GetMessage fetches a message by id.
	GetMessage(db *gorm.DB, id string) (*domain.Message, error)

	// ListMessages returns a conversation's messages in total order.
	ListMessages(db *gorm.DB, conversationID string, limit int) ([]domain.Message, error)

	// ListMessagesBefore returns messages strictly older than the timestamp.
	ListMessagesBefore(db *gorm.DB, conversationID string, before time.Time) ([]domain.Message, error)

	// ListMessagesPage returns one page of a conversation's messages.
	ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error)

	// CountMessages returns the total number of messages in a conversation.
	CountMessages(db *gorm.DB, conversationID string) (int64, error)

	// CountUnread counts messages behind the given read cursor not authored
	// by the user.
	CountUnread(db *gorm.DB, conversationID, userID string, lastReadAt time.Time) (int64, error)

	// UpdateMessageContent replaces content and marks the message edited.
	UpdateMessageContent(db *gorm.DB, id, content string) error

	// MarkMessageDeleted tombstones a message and clears its content.
	MarkMessageDeleted(db *gorm.DB, id string) error

	// MarkRegenerating transitions a message into the regenerating state.
	MarkRegenerating(db *gorm.DB, id string, at time.Time) error

	// CompleteRegeneration installs regenerated content and clears the state.
	CompleteRegeneration(db *gorm.DB, id, content string) error

	// AbortRegeneration clears the regenerating state without changes.
	AbortRegeneration(db *gorm.DB, id string) error

	// RecoverStaleRegenerations aborts regenerations older than the cutoff.
	RecoverStaleRegenerations(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// DefaultRegenTTL bounds how long a message may stay in the regenerating
// state before the recovery sweep releases it.
const DefaultRegenTTL = 2 * time.Minute

// MessageService coordinates message persistence, assistant replies, and
// event fan-out.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Messages is the message repository.
	Messages MessageRepo
	// Conversations is the conversation repository.
	Conversations ConversationRepo
	// Participants is the membership repository.
	Participants ParticipantRepo

	// Notifier fans out message events. Optional.
	Notifier Notifier
	// Responder generates assistant replies. Required for assistant
	// conversations only.
	Responder ai.Responder
	// Limiter gates assistant calls per user and operation. Optional.
	Limiter *ai.Limiter

	// MaxContentRunes caps message content by rune length. Zero means no cap.
	MaxContentRunes int
	// TitleMaxLen caps auto-generated titles by rune length. Zero means 60.
	TitleMaxLen int
	// TitleLocale selects the casing rules for auto-generated titles.
	// language.Und falls back to English.
	TitleLocale language.Tag
	// RegenTTL overrides DefaultRegenTTL for the stale-regeneration sweep.
	RegenTTL time.Duration
	// HistoryLimit caps how many messages are handed to the responder.
	HistoryLimit int

	locks convLock
}

// Send validates and persists a message, advances the conversation's recency
// cursor, and fans out a message-received event to the other participants.
func (s *MessageService) Send(ctx context.Context, conversationID, userID, content string, parentMessageID *string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if findParticipant(c.Participants, userID) == nil {
		return nil, ErrNotParticipant
	}
	if parentMessageID != nil {
		parent, perr := s.Messages.GetMessage(s.DB, *parentMessageID)
		if perr != nil || parent.ConversationID != conversationID {
			return nil, ErrParentNotFound
		}
	}

	msg, err := s.persistMessage(ctx, conversationID, userID, content, parentMessageID, false)
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, c, userID, notify.EventMessageReceived, msg)
	return msg, nil
}

// Edit replaces a message's content. Author-only; system alerts, tombstones,
// and messages mid-regeneration are rejected.
func (s *MessageService) Edit(ctx context.Context, messageID, userID, newContent string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Edit",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	newContent, err := s.validateContent(newContent)
	if err != nil {
		return nil, err
	}

	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != userID {
		return nil, ErrNotAuthor
	}
	if serr := stateError(msg); serr != nil {
		return nil, serr
	}

	if err := s.Messages.UpdateMessageContent(s.DB, messageID, newContent); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	msg, err = s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if c, cerr := s.loadConversation(ctx, msg.ConversationID); cerr == nil {
		s.fanOut(ctx, c, userID, notify.EventMessageEdited, msg)
	}
	return msg, nil
}

// Delete tombstones a message: content is cleared, the row stays so ordering
// and reply threads remain intact. Author-only, terminal.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	msg, err := s.loadMessage(messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != userID {
		return ErrNotAuthor
	}
	if serr := stateError(msg); serr != nil {
		return serr
	}

	if err := s.Messages.MarkMessageDeleted(s.DB, messageID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageDeleted
		}
		return err
	}

	if c, cerr := s.loadConversation(ctx, msg.ConversationID); cerr == nil {
		tombstone := *msg
		tombstone.Content = ""
		tombstone.IsDeleted = true
		s.fanOut(ctx, c, userID, notify.EventMessageDeleted, &tombstone)
	}
	return nil
}

// SendToAi persists the user's message in an assistant conversation, invokes
// the responder with the full ordered history, and persists the assistant
// reply. Returns both persisted messages. On a rate-limit rejection nothing
// is persisted.
func (s *MessageService) SendToAi(ctx context.Context, conversationID, userID, content string) (userMsg, assistantMsg *domain.Message, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendToAi",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content, err = s.validateContent(content)
	if err != nil {
		return nil, nil, err
	}

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if c.Type != domain.ConversationAssistant {
		return nil, nil, ErrNotAssistantConversation
	}
	if findParticipant(c.Participants, userID) == nil {
		return nil, nil, ErrNotParticipant
	}
	assistant := assistantOf(c)
	if assistant == nil {
		return nil, nil, ErrNotAssistantConversation
	}
	// No backend configured; reject before persisting anything.
	if s.Responder == nil {
		return nil, nil, ErrAssistantUnavailable
	}
	if !s.Limiter.Allow(ctx, userID, ai.OpChat) {
		return nil, nil, ErrRateLimited
	}

	userMsg, err = s.persistMessage(ctx, conversationID, userID, content, nil, false)
	if err != nil {
		return nil, nil, err
	}
	s.fanOut(ctx, c, userID, notify.EventMessageReceived, userMsg)

	// Untitled assistant conversations take their title from the first prompt.
	if strings.TrimSpace(c.Title) == "" {
		if gen := s.titleFromPrompt(content); gen != "" {
			if uerr := s.Conversations.UpdateConversationTitle(ctx, s.DB, conversationID, gen); uerr == nil {
				c.Title = gen
			}
		}
	}

	history, err := s.orderedHistory(conversationID, assistant.UserID, nil)
	if err != nil {
		return userMsg, nil, err
	}

	// No conversation lock is held across the outbound call.
	reply, err := s.Responder.Respond(ctx, history)
	if err != nil {
		return userMsg, nil, errors.Join(ErrAssistantUnavailable, err)
	}

	assistantMsg, err = s.persistMessage(ctx, conversationID, assistant.UserID, reply, nil, false)
	if err != nil {
		return userMsg, nil, err
	}
	s.fanOut(ctx, c, "", notify.EventMessageReceived, assistantMsg)
	return userMsg, assistantMsg, nil
}

// RegenerateAi re-generates an assistant message in place using the history
// strictly before the message's original timestamp. The message keeps its
// position: the creation timestamp is immutable, only content changes.
func (s *MessageService) RegenerateAi(ctx context.Context, conversationID, messageID, userID string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "RegenerateAi",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if findParticipant(c.Participants, userID) == nil {
		return nil, ErrNotParticipant
	}
	assistant := assistantOf(c)
	if assistant == nil {
		return nil, ErrNotAssistantConversation
	}

	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, ErrMessageNotFound
	}
	if msg.IsSystemAlert {
		return nil, ErrSystemAlertImmutable
	}
	if msg.AuthorID != assistant.UserID {
		return nil, ErrNotAssistantMessage
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if s.Responder == nil {
		return nil, ErrAssistantUnavailable
	}
	if !s.Limiter.Allow(ctx, userID, ai.OpRegenerate) {
		return nil, ErrRateLimited
	}

	// Commit the regenerating state before the outbound call; a concurrent
	// regeneration of the same message loses this conditional update.
	if err := s.Messages.MarkRegenerating(s.DB, messageID, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageBusy
		}
		return nil, err
	}
	busy, _ := s.loadMessage(messageID)
	if busy != nil {
		s.fanOut(ctx, c, "", notify.EventMessageRegenerating, busy)
	}

	history, err := s.orderedHistory(conversationID, assistant.UserID, &msg.CreatedAt)
	if err != nil {
		_ = s.Messages.AbortRegeneration(s.DB, messageID)
		return nil, err
	}

	reply, err := s.Responder.Respond(ctx, history)
	if err != nil {
		_ = s.Messages.AbortRegeneration(s.DB, messageID)
		return nil, errors.Join(ErrAssistantUnavailable, err)
	}

	if err := s.Messages.CompleteRegeneration(s.DB, messageID, reply); err != nil {
		return nil, err
	}

	msg, err = s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	s.fanOut(ctx, c, "", notify.EventMessageEdited, msg)
	return msg, nil
}

// MarkConversationRead advances the participant's read cursor and returns how
// many messages became read under the new cursor. A stale timestamp is a
// no-op returning zero.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkConversationRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if findParticipant(c.Participants, userID) == nil {
		return 0, ErrNotParticipant
	}

	p, err := s.Participants.GetParticipant(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, ErrNotParticipant
		}
		return 0, err
	}

	unreadBefore, err := s.Messages.CountUnread(s.DB, conversationID, userID, p.LastReadAt)
	if err != nil {
		return 0, err
	}

	moved, err := s.Participants.AdvanceLastReadAt(ctx, s.DB, conversationID, userID, at)
	if err != nil {
		return 0, err
	}
	if !moved {
		return 0, nil
	}

	unreadAfter, err := s.Messages.CountUnread(s.DB, conversationID, userID, at)
	if err != nil {
		return 0, err
	}
	newlyRead := unreadBefore - unreadAfter
	if newlyRead < 0 {
		newlyRead = 0
	}

	s.fanOut(ctx, c, userID, notify.EventReadReceipts,
		notify.ReadReceiptEvent{ConversationID: conversationID, UserID: userID, LastReadAt: at})
	return newlyRead, nil
}

// ListPage returns one page of a conversation's messages in total order,
// gated on membership.
func (s *MessageService) ListPage(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	p, err := s.Participants.GetParticipant(ctx, s.DB, conversationID, userID)
	if err != nil || p == nil {
		return nil, 0, ErrNotParticipant
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	total, err := s.Messages.CountMessages(s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := s.Messages.ListMessagesPage(s.DB, conversationID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// PostSystemAlert records an immutable system message in a conversation's
// history and fans it out to all participants.
func (s *MessageService) PostSystemAlert(ctx context.Context, conversationID, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := s.persistMessage(ctx, conversationID, domain.SystemAuthorID, text, nil, true)
	if err != nil {
		return nil, err
	}
	s.fanOut(ctx, c, "", notify.EventMessageReceived, msg)
	return msg, nil
}

// RecoverStaleRegenerations releases messages stuck in the regenerating state
// longer than the configured TTL, returning how many were released. Run it at
// boot and periodically.
func (s *MessageService) RecoverStaleRegenerations(ctx context.Context) (int64, error) {
	ttl := s.RegenTTL
	if ttl <= 0 {
		ttl = DefaultRegenTTL
	}
	return s.Messages.RecoverStaleRegenerations(ctx, s.DB, time.Now().UTC().Add(-ttl))
}

// persistMessage creates the message and advances the conversation's recency
// cursor in one transaction, serialized per conversation within this
// instance.
func (s *MessageService) persistMessage(ctx context.Context, conversationID, authorID, content string, parentID *string, systemAlert bool) (*domain.Message, error) {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	var msg *domain.Message
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		m, err := s.Messages.CreateMessage(tx, conversationID, authorID, content, parentID, systemAlert)
		if err != nil {
			return err
		}
		msg = m
		_, err = s.Conversations.AdvanceLastMessageAt(ctx, tx, conversationID, m.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// inTx runs fn inside a transaction when a DB handle is configured. Without
// one (fake-backed tests) fn runs directly against the repositories.
func (s *MessageService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.DB == nil {
		return fn(nil)
	}
	return s.DB.WithContext(ctx).Transaction(fn)
}

// orderedHistory loads conversation history for the responder, optionally
// truncated strictly before a timestamp, and converts it to prompt turns.
func (s *MessageService) orderedHistory(conversationID, assistantUserID string, before *time.Time) ([]ai.PromptMessage, error) {
	var (
		msgs []domain.Message
		err  error
	)
	if before != nil {
		msgs, err = s.Messages.ListMessagesBefore(s.DB, conversationID, *before)
	} else {
		limit := s.HistoryLimit
		if limit <= 0 {
			limit = 200
		}
		msgs, err = s.Messages.ListMessages(s.DB, conversationID, limit)
	}
	if err != nil {
		return nil, err
	}
	return ai.BuildHistory(msgs, assistantUserID), nil
}

func (s *MessageService) fanOut(ctx context.Context, c *domain.Conversation, excludeUserID, event string, msg any) {
	if s.Notifier == nil {
		return
	}
	payload := msg
	if m, ok := msg.(*domain.Message); ok {
		payload = notify.MessageEvent{ConversationID: c.ID, Message: m}
	}
	s.Notifier.ToParticipants(ctx, participantIDs(c.Participants), excludeUserID, event, payload)
}

func (s *MessageService) loadConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := s.Conversations.GetConversationWithParticipants(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *MessageService) loadMessage(id string) (*domain.Message, error) {
	msg, err := s.Messages.GetMessage(s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrMessageTooLong
	}
	return content, nil
}

// stateError maps a message's current state to the mutation error it implies,
// or nil when the message is mutable.
func stateError(msg *domain.Message) error {
	switch {
	case msg.IsSystemAlert:
		return ErrSystemAlertImmutable
	case msg.IsBeingRegenerated:
		return ErrMessageBusy
	case msg.IsDeleted:
		return ErrMessageDeleted
	}
	return nil
}

// assistantOf returns the assistant membership row of a conversation, or nil.
func assistantOf(c *domain.Conversation) *domain.ConversationParticipant {
	for i := range c.Participants {
		if c.Participants[i].Role == domain.RoleAssistant {
			return &c.Participants[i]
		}
	}
	return nil
}

// titleFromPrompt derives a concise conversation title from a prompt:
// lowercase word tokens, stop-words removed, title-cased, capped at eight
// words and clipped to TitleMaxLen runes. Returns "" when nothing usable
// remains.
func (s *MessageService) titleFromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}

	title := strings.Join(out, " ")
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		title = string([]rune(title)[:max])
	}
	return strings.TrimSpace(title)
}

func (s *MessageService) titleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Unicode letters with optional trailing digits (e.g., "sprint3").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}
