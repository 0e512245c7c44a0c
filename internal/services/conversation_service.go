// Package services – ConversationService
//
// This file implements ConversationService, which owns conversation and
// participant lifecycle: the three creation paths (direct, group, assistant),
// membership and role management, archiving, titles, and the recency cursor.
// Membership rules are enforced here with exhaustive role switches; the
// repository layer only guards structural constraints (unique pair key,
// duplicate membership rows).
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/notify"
	"github.com/exdrums/hbg-sub001/internal/repo"
)

// ConversationRepo defines the conversation persistence contract required by
// ConversationService.
type ConversationRepo interface {
	// CreateConversation inserts a conversation with its initial members.
	CreateConversation(ctx context.Context, db *gorm.DB, typ domain.ConversationType, title string, pairKey *string, participants []repo.NewParticipant) (*domain.Conversation, error)

	// GetConversationWithParticipants fetches a conversation and its members.
	GetConversationWithParticipants(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)

	// FindDirectConversation resolves the one-on-one conversation for a pair.
	FindDirectConversation(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Conversation, error)

	// ListConversationsForUser lists a user's conversations, newest first.
	ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string, includeArchived bool) ([]domain.Conversation, error)

	// UpdateConversationTitle replaces the title.
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, title string) error

	// SetConversationArchived toggles the archived flag.
	SetConversationArchived(ctx context.Context, db *gorm.DB, id string, archived bool) error

	// AdvanceLastMessageAt moves the recency cursor forward, never backward.
	AdvanceLastMessageAt(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error)
}

// ParticipantRepo defines the membership persistence contract shared by the
// conversation and message services.
type ParticipantRepo interface {
	// GetParticipant fetches one membership row.
	GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.ConversationParticipant, error)

	// ListParticipants returns all membership rows of a conversation.
	ListParticipants(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.ConversationParticipant, error)

	// AddParticipant inserts a membership row; duplicates are ErrDuplicate.
	AddParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) (*domain.ConversationParticipant, error)

	// RemoveParticipant deletes a membership row.
	RemoveParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) error

	// UpdateParticipantRole replaces the role on a membership row.
	UpdateParticipantRole(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) error

	// CountHumanParticipants counts non-assistant members.
	CountHumanParticipants(ctx context.Context, db *gorm.DB, conversationID string) (int64, error)

	// AdvanceLastReadAt moves a read cursor forward, never backward.
	AdvanceLastReadAt(ctx context.Context, db *gorm.DB, conversationID, userID string, at time.Time) (bool, error)
}

// AssistantDirectory resolves the AI assistant account.
type AssistantDirectory interface {
	// EnsureAssistant returns the assistant singleton, bootstrapping it on
	// first use.
	EnsureAssistant(ctx context.Context) (*domain.User, error)
}

// SystemPoster records a system alert message into a conversation's history.
// MessageService implements it; the indirection keeps the participant
// lifecycle free of message pipeline internals.
type SystemPoster interface {
	PostSystemAlert(ctx context.Context, conversationID, text string) (*domain.Message, error)
}

// UnreadCounter computes unread message counts for conversation listings.
type UnreadCounter interface {
	CountUnread(db *gorm.DB, conversationID, userID string, lastReadAt time.Time) (int64, error)
}

// ConversationSummary is one row of a user's conversation listing.
type ConversationSummary struct {
	Conversation domain.Conversation `json:"conversation"`
	UnreadCount  int64               `json:"unread_count"`
}

// ConversationService provides conversation lifecycle operations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Conversations is the conversation repository.
	Conversations ConversationRepo
	// Participants is the membership repository.
	Participants ParticipantRepo
	// Assistant resolves the AI assistant account for assistant conversations.
	Assistant AssistantDirectory

	// Notifier fans out membership events. Optional.
	Notifier Notifier
	// System posts membership-change alerts into history. Optional.
	System SystemPoster
	// Unread supplies per-conversation unread counts in listings. Optional.
	Unread UnreadCounter

	// TitleMaxLen caps stored titles by rune length. Zero means no cap.
	TitleMaxLen int
}

// CreateDirect returns the one-on-one conversation for the pair, creating it
// when absent. The lookup is symmetric: both argument orders resolve to the
// same conversation.
func (s *ConversationService) CreateDirect(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "CreateDirect",
		trace.WithAttributes(
			attribute.String("user.a", userA),
			attribute.String("user.b", userB),
		),
	)
	defer span.End()

	if userA == "" || userB == "" {
		return nil, ErrUserNotFound
	}
	if userA == userB {
		return nil, ErrSelfConversation
	}

	if c, err := s.Conversations.FindDirectConversation(ctx, s.DB, userA, userB); err == nil {
		return c, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	pairKey := domain.PairKeyFor(userA, userB)
	c, err := s.Conversations.CreateConversation(ctx, s.DB, domain.ConversationOneOnOne, "", &pairKey,
		[]repo.NewParticipant{
			{UserID: userA, Role: domain.RoleMember},
			{UserID: userB, Role: domain.RoleMember},
		})
	if err == nil {
		return c, nil
	}
	// Lost the creation race for this pair; the winner's row is authoritative.
	if errors.Is(err, repo.ErrDuplicate) {
		return s.Conversations.FindDirectConversation(ctx, s.DB, userA, userB)
	}
	return nil, err
}

// CreateGroup creates a group conversation with the creator as admin and the
// de-duplicated participant list as members.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID, title string, participantIDs []string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "CreateGroup",
		trace.WithAttributes(attribute.String("user.id", creatorID)),
	)
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	title = s.clipTitle(title)

	members := []repo.NewParticipant{{UserID: creatorID, Role: domain.RoleAdmin}}
	seen := map[string]bool{creatorID: true}
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, repo.NewParticipant{UserID: id, Role: domain.RoleMember})
	}
	if len(members) < 2 {
		return nil, ErrNoParticipants
	}

	return s.Conversations.CreateConversation(ctx, s.DB, domain.ConversationGroup, title, nil, members)
}

// CreateAiAssistant creates an assistant conversation between one human
// member and the assistant singleton.
func (s *ConversationService) CreateAiAssistant(ctx context.Context, userID, title string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "CreateAiAssistant",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	assistant, err := s.Assistant.EnsureAssistant(ctx)
	if err != nil {
		return nil, err
	}

	title = s.clipTitle(strings.TrimSpace(title))
	return s.Conversations.CreateConversation(ctx, s.DB, domain.ConversationAssistant, title, nil,
		[]repo.NewParticipant{
			{UserID: userID, Role: domain.RoleMember},
			{UserID: assistant.ID, Role: domain.RoleAssistant},
		})
}

// Get returns a conversation with its participants, gated on membership of
// the requesting user.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if findParticipant(c.Participants, userID) == nil {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// ListForUser lists the user's conversations newest-activity first, with
// unread counts when an UnreadCounter is wired.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]ConversationSummary, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListForUser",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Bool("include_archived", includeArchived),
		),
	)
	defer span.End()

	convs, err := s.Conversations.ListConversationsForUser(ctx, s.DB, userID, includeArchived)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		row := ConversationSummary{Conversation: c}
		if s.Unread != nil {
			if p, perr := s.Participants.GetParticipant(ctx, s.DB, c.ID, userID); perr == nil {
				if n, cerr := s.Unread.CountUnread(s.DB, c.ID, userID, p.LastReadAt); cerr == nil {
					row.UnreadCount = n
				}
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// AddParticipant adds a user to a group conversation. Only admins may add,
// duplicates are a conflict rather than a no-op, and one-on-one or assistant
// conversations never accept new members.
func (s *ConversationService) AddParticipant(ctx context.Context, conversationID, actingUserID, targetUserID string, role domain.ParticipantRole) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "AddParticipant",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", actingUserID),
			attribute.String("target.id", targetUserID),
		),
	)
	defer span.End()

	if !role.Valid() || role == domain.RoleAssistant {
		return ErrInvalidRole
	}

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.Type != domain.ConversationGroup {
		return ErrConversationTypeFixed
	}
	actor := findParticipant(c.Participants, actingUserID)
	if actor == nil {
		return ErrNotParticipant
	}
	if actor.Role != domain.RoleAdmin {
		return ErrNotAdmin
	}

	if _, err := s.Participants.AddParticipant(ctx, s.DB, conversationID, targetUserID, role); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrParticipantExists
		}
		return err
	}

	s.announceMembership(ctx, c, actingUserID, targetUserID, "added")
	return nil
}

// RemoveParticipant removes a member. Members may remove themselves (leave);
// removing someone else requires the admin role. A removal that would leave
// the conversation without a human participant is rejected.
func (s *ConversationService) RemoveParticipant(ctx context.Context, conversationID, actingUserID, targetUserID string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "RemoveParticipant",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", actingUserID),
			attribute.String("target.id", targetUserID),
		),
	)
	defer span.End()

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	actor := findParticipant(c.Participants, actingUserID)
	if actor == nil {
		return ErrNotParticipant
	}
	target := findParticipant(c.Participants, targetUserID)
	if target == nil {
		return ErrParticipantNotFound
	}
	if actingUserID != targetUserID && actor.Role != domain.RoleAdmin {
		return ErrNotAdmin
	}
	if target.Role == domain.RoleAssistant {
		return ErrInvalidRole
	}

	switch c.Type {
	case domain.ConversationOneOnOne, domain.ConversationAssistant:
		humans, herr := s.Participants.CountHumanParticipants(ctx, s.DB, conversationID)
		if herr != nil {
			return herr
		}
		if humans <= 1 {
			return ErrLastHumanParticipant
		}
	}

	if err := s.Participants.RemoveParticipant(ctx, s.DB, conversationID, targetUserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrParticipantNotFound
		}
		return err
	}

	s.announceMembership(ctx, c, actingUserID, targetUserID, "removed")
	return nil
}

// UpdateRole changes a member's role. Admin-only; the assistant role can
// neither be granted nor revoked.
func (s *ConversationService) UpdateRole(ctx context.Context, conversationID, actingUserID, targetUserID string, role domain.ParticipantRole) error {
	if !role.Valid() || role == domain.RoleAssistant {
		return ErrInvalidRole
	}

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	actor := findParticipant(c.Participants, actingUserID)
	if actor == nil {
		return ErrNotParticipant
	}
	if actor.Role != domain.RoleAdmin {
		return ErrNotAdmin
	}
	target := findParticipant(c.Participants, targetUserID)
	if target == nil {
		return ErrParticipantNotFound
	}
	if target.Role == domain.RoleAssistant {
		return ErrInvalidRole
	}

	if err := s.Participants.UpdateParticipantRole(ctx, s.DB, conversationID, targetUserID, role); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrParticipantNotFound
		}
		return err
	}

	if s.Notifier != nil {
		s.Notifier.ToParticipants(ctx, participantIDs(c.Participants), "",
			notify.EventParticipantsChanged,
			notify.ParticipantsEvent{ConversationID: c.ID, UserID: targetUserID, Change: "role-updated"})
	}
	return nil
}

// Archive hides the conversation from default listings. Reversible, does not
// cascade to messages.
func (s *ConversationService) Archive(ctx context.Context, conversationID, userID string) error {
	return s.setArchived(ctx, conversationID, userID, true)
}

// Unarchive restores the conversation to default listings.
func (s *ConversationService) Unarchive(ctx context.Context, conversationID, userID string) error {
	return s.setArchived(ctx, conversationID, userID, false)
}

// UpdateTitle replaces the conversation title. Group titles may only be
// changed by admins and must stay non-empty.
func (s *ConversationService) UpdateTitle(ctx context.Context, conversationID, userID, title string) error {
	title = strings.TrimSpace(title)

	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	actor := findParticipant(c.Participants, userID)
	if actor == nil {
		return ErrNotParticipant
	}
	if c.Type == domain.ConversationGroup {
		if actor.Role != domain.RoleAdmin {
			return ErrNotAdmin
		}
		if title == "" {
			return ErrEmptyTitle
		}
	}

	if err := s.Conversations.UpdateConversationTitle(ctx, s.DB, conversationID, s.clipTitle(title)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// UpdateLastMessageTime advances the conversation's recency cursor. A stale
// timestamp is ignored without error; the cursor never moves backward.
func (s *ConversationService) UpdateLastMessageTime(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	moved, err := s.Conversations.AdvanceLastMessageAt(ctx, s.DB, conversationID, at)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrConversationNotFound
		}
		return false, err
	}
	return moved, nil
}

func (s *ConversationService) setArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if findParticipant(c.Participants, userID) == nil {
		return ErrNotParticipant
	}
	if err := s.Conversations.SetConversationArchived(ctx, s.DB, conversationID, archived); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

func (s *ConversationService) loadConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := s.Conversations.GetConversationWithParticipants(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

// announceMembership fans out the membership event and records a system
// alert in history. Both are best-effort.
func (s *ConversationService) announceMembership(ctx context.Context, c *domain.Conversation, actingUserID, targetUserID, change string) {
	if s.Notifier != nil {
		s.Notifier.ToParticipants(ctx, participantIDs(c.Participants), "",
			notify.EventParticipantsChanged,
			notify.ParticipantsEvent{ConversationID: c.ID, UserID: targetUserID, Change: change})
	}
	if s.System != nil {
		verb := "joined"
		if change == "removed" {
			verb = "left"
		}
		_, _ = s.System.PostSystemAlert(ctx, c.ID, targetUserID+" "+verb+" the conversation")
	}
}

func (s *ConversationService) clipTitle(title string) string {
	if s.TitleMaxLen <= 0 {
		return title
	}
	runes := []rune(title)
	if len(runes) <= s.TitleMaxLen {
		return title
	}
	return string(runes[:s.TitleMaxLen])
}

// findParticipant returns the membership row for userID, or nil.
func findParticipant(rows []domain.ConversationParticipant, userID string) *domain.ConversationParticipant {
	for i := range rows {
		if rows[i].UserID == userID {
			return &rows[i]
		}
	}
	return nil
}
