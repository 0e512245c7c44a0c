// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversationParticipant model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

// GetParticipant fetches the membership row for (conversationID, userID),
// or ErrNotFound when the user is not a participant.
func GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.ConversationParticipant, error) {
	var p domain.ConversationParticipant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IsParticipant reports whether userID belongs to the conversation. This is
// the narrow authorization contract consumed by the service layer.
func IsParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListParticipants returns all membership rows of a conversation.
func ListParticipants(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.ConversationParticipant, error) {
	var out []domain.ConversationParticipant
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Find(&out).Error
	return out, err
}

// AddParticipant inserts a membership row. A duplicate (conversation, user)
// pair violates the composite primary key and surfaces as ErrDuplicate —
// duplicate adds are a conflict, never a silent no-op.
func AddParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) (*domain.ConversationParticipant, error) {
	p := &domain.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// RemoveParticipant deletes the membership row. Message history keeps the
// author id as a historical reference. Returns ErrNotFound when nothing was
// removed.
func RemoveParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	res := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&domain.ConversationParticipant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateParticipantRole changes the role of an existing participant.
func UpdateParticipantRole(ctx context.Context, db *gorm.DB, conversationID, userID string, role domain.ParticipantRole) error {
	res := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountHumanParticipants counts members that are not the AI assistant role.
// Used to guard removals that would leave a conversation without a human.
func CountHumanParticipants(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND role <> ?", conversationID, domain.RoleAssistant).
		Count(&n).Error
	return n, err
}

// AdvanceLastReadAt moves the participant's read cursor forward. Stale
// timestamps match no row (monotonic non-decrease); the return value reports
// whether the cursor moved.
func AdvanceLastReadAt(ctx context.Context, db *gorm.DB, conversationID, userID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND last_read_at < ?", conversationID, userID, at).
		Update("last_read_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
