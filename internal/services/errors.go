// Package services implements the application layer of the conversation core:
// conversation and participant lifecycle, the message pipeline, read cursors,
// and the assistant bridge. This file centralizes service-level error values
// so methods return them consistently and callers can classify them with
// errors.Is.
//
// Translation into HTTP status codes or websocket error frames is performed
// at the handler layer, never here.
package services

import "errors"

// Not-found errors.
var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist or does not
	// belong to the given conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrParticipantNotFound indicates the target user is not a member of
	// the conversation.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrParentNotFound indicates a reply references a message that does not
	// resolve within the same conversation.
	ErrParentNotFound = errors.New("parent message not found")
)

// Permission errors.
var (
	// ErrNotParticipant is returned when the acting user is not a member of
	// the conversation.
	ErrNotParticipant = errors.New("not a conversation participant")

	// ErrNotAuthor is returned when a user tries to mutate a message they
	// did not write.
	ErrNotAuthor = errors.New("not the message author")

	// ErrNotAdmin is returned when a member attempts an admin-only action.
	ErrNotAdmin = errors.New("admin role required")
)

// Invalid-argument errors.
var (
	// ErrSelfConversation rejects a direct conversation of a user with
	// themselves.
	ErrSelfConversation = errors.New("cannot create a conversation with yourself")

	// ErrEmptyTitle is returned when a group is created or retitled with an
	// empty title.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrNoParticipants is returned when a group is created without any
	// participant besides the creator.
	ErrNoParticipants = errors.New("group requires at least one other participant")

	// ErrEmptyMessage rejects empty or whitespace-only message content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when content exceeds the configured
	// rune limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrInvalidRole rejects roles outside the closed set, and the assistant
	// role on human participants.
	ErrInvalidRole = errors.New("invalid participant role")

	// ErrInvalidPreferences rejects preference bits outside the known set.
	ErrInvalidPreferences = errors.New("invalid preference flags")

	// ErrEmptyDisplayName rejects a profile update with an empty name.
	ErrEmptyDisplayName = errors.New("display name is empty")

	// ErrEmptySubject rejects account resolution without an identity subject.
	ErrEmptySubject = errors.New("identity subject is empty")
)

// Invalid-state errors.
var (
	// ErrSystemAlertImmutable is returned when editing or regenerating a
	// system alert message.
	ErrSystemAlertImmutable = errors.New("system alert messages are immutable")

	// ErrMessageBusy is returned when a message is mid-regeneration and
	// cannot accept another mutation.
	ErrMessageBusy = errors.New("message is being regenerated")

	// ErrMessageDeleted is returned when mutating a tombstoned message.
	ErrMessageDeleted = errors.New("message is deleted")

	// ErrNotAssistantMessage is returned when regeneration targets a message
	// not authored by the assistant.
	ErrNotAssistantMessage = errors.New("not an assistant message")

	// ErrNotAssistantConversation is returned when an assistant operation
	// targets a conversation of another type.
	ErrNotAssistantConversation = errors.New("not an assistant conversation")

	// ErrConversationTypeFixed rejects membership changes that would change
	// a conversation's type, such as promoting a one-on-one to a group.
	ErrConversationTypeFixed = errors.New("conversation type does not allow membership changes")

	// ErrLastHumanParticipant is returned when a removal would leave a
	// conversation without any human participant.
	ErrLastHumanParticipant = errors.New("cannot remove the last human participant")
)

// Conflict errors.
var (
	// ErrParticipantExists is returned on duplicate participant add. The
	// duplicate is reported, never silently absorbed, so callers can detect
	// double-add bugs.
	ErrParticipantExists = errors.New("participant already present")
)

// Throttling and downstream errors.
var (
	// ErrRateLimited is returned when the assistant budget for the user is
	// exhausted for the current window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAssistantUnavailable wraps failures of the assistant responder.
	ErrAssistantUnavailable = errors.New("assistant unavailable")
)
