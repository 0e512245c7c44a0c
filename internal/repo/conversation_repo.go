// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Conversation
// model and its participant rows.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique-constraint violations (duplicate pair key, duplicate participant)
//     surface as ErrDuplicate so services can map them to conflict errors.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

// NewParticipant describes one membership row to create together with a
// conversation.
type NewParticipant struct {
	UserID string
	Role   domain.ParticipantRole
}

// CreateConversation inserts a conversation and its initial participant rows
// in one transaction. pairKey must be non-nil only for one-on-one
// conversations; the unique index on it rejects a racing duplicate creation
// for the same user pair, surfaced as ErrDuplicate.
func CreateConversation(ctx context.Context, db *gorm.DB, typ domain.ConversationType, title string, pairKey *string, participants []NewParticipant) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:            uuid.NewString(),
		Title:         title,
		Type:          typ,
		PairKey:       pairKey,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		for _, p := range participants {
			row := &domain.ConversationParticipant{
				ConversationID: c.ID,
				UserID:         p.UserID,
				Role:           p.Role,
				JoinedAt:       now,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			c.Participants = append(c.Participants, *row)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by ID, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationWithParticipants fetches a conversation and preloads its
// participant rows.
func GetConversationWithParticipants(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindDirectConversation performs the symmetric lookup for an existing
// one-on-one conversation between two users, or ErrNotFound.
func FindDirectConversation(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Conversation, error) {
	key := domain.PairKeyFor(userA, userB)
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("pair_key = ?", key).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversationsForUser returns every conversation the user participates
// in, most recent first. Archived conversations are excluded unless
// includeArchived is set.
func ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string, includeArchived bool) ([]domain.Conversation, error) {
	q := db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.last_message_at DESC").
		Preload("Participants")
	if !includeArchived {
		q = q.Where("conversations.is_archived = ?", false)
	}
	var out []domain.Conversation
	err := q.Find(&out).Error
	return out, err
}

// UpdateConversationTitle updates the title of a conversation.
// Returns ErrNotFound if no row matched.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConversationArchived flips the archive flag. Archiving is reversible and
// touches no message rows.
func SetConversationArchived(ctx context.Context, db *gorm.DB, id string, archived bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("is_archived", archived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceLastMessageAt moves the conversation's recency cursor forward. The
// conditional WHERE makes the advance a single compare-and-set: a stale
// timestamp matches no row and is silently ignored, and two concurrent sends
// cannot regress the value. Returns true when the cursor actually moved, and
// ErrNotFound when the conversation does not exist at all.
func AdvanceLastMessageAt(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Update("last_message_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Zero rows is ambiguous: stale timestamp or missing conversation.
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
