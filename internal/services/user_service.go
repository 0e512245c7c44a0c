// Package services – UserService
//
// This file implements UserService, which owns user account lifecycle:
// creation on first external login, the assistant singleton bootstrap, and
// profile/preference updates. Users are never hard-deleted.
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
	"github.com/exdrums/hbg-sub001/internal/repo"
)

// knownPrefs is the mask of all defined preference bits.
const knownPrefs = domain.PrefNotifications | domain.PrefSound | domain.PrefShowTyping

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	// CreateUser inserts a new user for the external identity subject.
	CreateUser(ctx context.Context, db *gorm.DB, subject, displayName string) (*domain.User, error)

	// GetUser fetches a user by id.
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// GetUserBySubject fetches a user by external identity subject.
	GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error)

	// GetAssistantUser fetches the assistant singleton.
	GetAssistantUser(ctx context.Context, db *gorm.DB) (*domain.User, error)

	// CreateAssistantUser bootstraps the assistant singleton.
	CreateAssistantUser(ctx context.Context, db *gorm.DB, displayName string) (*domain.User, error)

	// UpdateUserPrefs replaces the preference bitset.
	UpdateUserPrefs(ctx context.Context, db *gorm.DB, id string, prefs int64) error

	// UpdateUserProfile updates display name and avatar.
	UpdateUserProfile(ctx context.Context, db *gorm.DB, id, displayName, avatarURL string) error

	// TouchLastActive advances the last-active timestamp.
	TouchLastActive(ctx context.Context, db *gorm.DB, id string, at time.Time) error
}

// UserService provides account-level operations.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo

	// AssistantName is the display name given to the assistant singleton.
	AssistantName string
}

// EnsureUser resolves the account for an external identity subject, creating
// it on first login, and touches its last-active timestamp.
func (s *UserService) EnsureUser(ctx context.Context, subject, displayName string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "EnsureUser",
		trace.WithAttributes(attribute.String("user.subject", subject)),
	)
	defer span.End()

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrEmptySubject
	}

	u, err := s.Repo.GetUserBySubject(ctx, s.DB, subject)
	switch {
	case err == nil:
		// Best effort; an out-of-date last-active timestamp is harmless.
		_ = s.Repo.TouchLastActive(ctx, s.DB, u.ID, time.Now().UTC())
		return u, nil
	case errors.Is(err, repo.ErrNotFound):
		if strings.TrimSpace(displayName) == "" {
			displayName = subject
		}
		return s.Repo.CreateUser(ctx, s.DB, subject, displayName)
	default:
		return nil, err
	}
}

// GetUser fetches a user by id.
func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// EnsureAssistant resolves the AI assistant singleton, bootstrapping it on
// first use.
func (s *UserService) EnsureAssistant(ctx context.Context) (*domain.User, error) {
	u, err := s.Repo.GetAssistantUser(ctx, s.DB)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, repo.ErrNotFound):
		name := s.AssistantName
		if name == "" {
			name = "Assistant"
		}
		created, cerr := s.Repo.CreateAssistantUser(ctx, s.DB, name)
		if cerr == nil {
			return created, nil
		}
		// Lost the bootstrap race to another instance; the singleton exists now.
		if errors.Is(cerr, repo.ErrDuplicate) {
			return s.Repo.GetAssistantUser(ctx, s.DB)
		}
		return nil, cerr
	default:
		return nil, err
	}
}

// UpdatePreferences replaces the user's preference bitset.
func (s *UserService) UpdatePreferences(ctx context.Context, userID string, prefs int64) error {
	if prefs&^knownPrefs != 0 {
		return ErrInvalidPreferences
	}
	err := s.Repo.UpdateUserPrefs(ctx, s.DB, userID, prefs)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// UpdateProfile updates the user's display name and avatar reference.
func (s *UserService) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return ErrEmptyDisplayName
	}
	err := s.Repo.UpdateUserProfile(ctx, s.DB, userID, displayName, avatarURL)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
