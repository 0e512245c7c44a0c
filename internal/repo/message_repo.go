// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the state transitions of the message lifecycle.
package repo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

// messageSeq is a process-wide monotonic counter assigned at insert time.
// Within one conversation messages are totally ordered by (created_at, seq);
// the counter breaks same-millisecond ties in rapid-fire sends.
var messageSeq atomic.Int64

// SeedMessageSeq initializes the sequence counter from the highest persisted
// value so restarts keep the ordering strictly increasing. Call once at boot.
func SeedMessageSeq(ctx context.Context, db *gorm.DB) error {
	var max int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&max).Error
	if err != nil {
		return err
	}
	messageSeq.Store(max)
	return nil
}

// CreateMessage inserts a new message row with a server-assigned UTC timestamp
// and the next ordering sequence.
func CreateMessage(db *gorm.DB, conversationID, authorID, content string, parentID *string, systemAlert bool) (*domain.Message, error) {
	m := &domain.Message{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		AuthorID:        authorID,
		Content:         content,
		Seq:             messageSeq.Add(1),
		ParentMessageID: parentID,
		IsSystemAlert:   systemAlert,
		CreatedAt:       time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, Seq ASC).
func ListMessages(db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("conversation_id = ?", conversationID).Order("created_at ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListMessagesBefore returns the ordered, non-deleted history strictly older
// than the given timestamp. This is the truncated history handed to the AI
// bridge when regenerating an assistant message.
func ListMessagesBefore(db *gorm.DB, conversationID string, before time.Time) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ? AND created_at < ? AND is_deleted = ?", conversationID, before, false).
		Order("created_at ASC, seq ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error (as tests expect).
func CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// CountUnread counts messages newer than the read cursor that were authored
// by someone else. This is the unread badge count for one participant.
func CountUnread(db *gorm.DB, conversationID, userID string, lastReadAt time.Time) (int64, error) {
	var total int64
	err := db.
		Model(&domain.Message{}).
		Where("conversation_id = ? AND created_at > ? AND author_id <> ?", conversationID, lastReadAt, userID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, Seq ASC).
func ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateMessageContent applies an edit: new text, IsEdited set.
func UpdateMessageContent(db *gorm.DB, id, content string) error {
	res := db.
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"content": content, "is_edited": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessageDeleted moves a message to its terminal soft-deleted state. The
// row keeps its position and reply-thread identity; content is cleared and
// clients render a tombstone.
func MarkMessageDeleted(db *gorm.DB, id string) error {
	res := db.
		Model(&domain.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": "", "is_deleted": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRegenerating flips a message into the regenerating state. The WHERE
// clause doubles as a compare-and-set: a message already regenerating (or
// deleted) matches no row, so concurrent regenerations cannot overlap.
func MarkRegenerating(db *gorm.DB, id string, at time.Time) error {
	res := db.
		Model(&domain.Message{}).
		Where("id = ? AND is_being_regenerated = ? AND is_deleted = ?", id, false, false).
		Updates(map[string]any{"is_being_regenerated": true, "regen_started_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteRegeneration finishes a regeneration: new text, regenerating flag
// cleared, IsEdited set. The original creation timestamp is untouched so the
// message keeps its place in the conversation order.
func CompleteRegeneration(db *gorm.DB, id, content string) error {
	res := db.
		Model(&domain.Message{}).
		Where("id = ? AND is_being_regenerated = ?", id, true).
		Updates(map[string]any{
			"content":              content,
			"is_being_regenerated": false,
			"is_edited":            true,
			"regen_started_at":     nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AbortRegeneration clears the regenerating flag without touching the text,
// used when the AI call fails after the state was committed.
func AbortRegeneration(db *gorm.DB, id string) error {
	return db.
		Model(&domain.Message{}).
		Where("id = ? AND is_being_regenerated = ?", id, true).
		Updates(map[string]any{"is_being_regenerated": false, "regen_started_at": nil}).Error
}

// RecoverStaleRegenerations clears the regenerating flag on messages whose
// regeneration started before the cutoff. A crash between committing the
// state and completing the AI call leaves such rows behind; the sweep unsticks
// them so clients can edit again. Returns the number of recovered rows.
func RecoverStaleRegenerations(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("is_being_regenerated = ? AND regen_started_at < ?", true, cutoff).
		Updates(map[string]any{"is_being_regenerated": false, "regen_started_at": nil})
	return res.RowsAffected, res.Error
}
