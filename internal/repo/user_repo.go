// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/domain"
)

// AssistantSubject is the reserved external subject of the AI assistant user.
const AssistantSubject = "ai-assistant"

// CreateUser inserts a new user row with default preferences.
func CreateUser(ctx context.Context, db *gorm.DB, subject, displayName string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Subject:      subject,
		DisplayName:  displayName,
		Prefs:        domain.DefaultPrefs,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID, or ErrNotFound if the row is missing.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserBySubject fetches a user by the external identity subject.
func GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("subject = ?", subject).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetAssistantUser returns the AI assistant singleton, or ErrNotFound when it
// has not been bootstrapped yet.
func GetAssistantUser(ctx context.Context, db *gorm.DB) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("is_assistant = ?", true).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateAssistantUser inserts the AI assistant singleton row.
func CreateAssistantUser(ctx context.Context, db *gorm.DB, displayName string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Subject:      AssistantSubject,
		DisplayName:  displayName,
		IsAssistant:  true,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// UpdateUserPrefs replaces the preference bitset of a user.
func UpdateUserPrefs(ctx context.Context, db *gorm.DB, id string, prefs int64) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("prefs", prefs)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserProfile updates display name and avatar reference.
func UpdateUserProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarURL string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"display_name": displayName, "avatar_url": avatarURL})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastActive advances the user's last-active timestamp.
func TouchLastActive(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND last_active_at < ?", id, at).
		Update("last_active_at", at).Error
}
