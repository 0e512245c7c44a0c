// Package domain defines the persistence models for users, conversations,
// participants, and messages. These types are mapped with GORM and form the
// core data layer of the messaging application.
package domain

import (
	"time"
)

// ConversationType classifies a conversation. The set is closed; any other
// value is rejected at the service layer.
type ConversationType string

const (
	// ConversationOneOnOne is a direct conversation between exactly two users,
	// unique per unordered user pair.
	ConversationOneOnOne ConversationType = "one_on_one"
	// ConversationGroup is a titled conversation with one or more admins and
	// any number of members.
	ConversationGroup ConversationType = "group"
	// ConversationAssistant pairs exactly one human with the AI assistant.
	ConversationAssistant ConversationType = "ai_assistant"
)

// Valid reports whether t is one of the known conversation types.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationOneOnOne, ConversationGroup, ConversationAssistant:
		return true
	}
	return false
}

// ParticipantRole is the role a user holds inside one conversation.
type ParticipantRole string

const (
	// RoleMember is the default role for regular participants.
	RoleMember ParticipantRole = "member"
	// RoleAdmin may manage participants, titles, and archive state.
	RoleAdmin ParticipantRole = "admin"
	// RoleAssistant marks the AI participant of an assistant conversation.
	RoleAssistant ParticipantRole = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleAssistant:
		return true
	}
	return false
}

// Preference flags stored as a bitset on User.Prefs.
const (
	PrefNotifications int64 = 1 << iota // push notifications enabled
	PrefSound                           // notification sound enabled
	PrefShowTyping                      // user's typing state is visible to others
)

// DefaultPrefs is assigned to newly created users.
const DefaultPrefs = PrefNotifications | PrefSound | PrefShowTyping

// SystemAuthorID is the reserved author id for system alert messages. It maps
// to the "system" role when history is handed to the AI responder.
const SystemAuthorID = "system"

// User represents an account created on first external login or, for the
// assistant singleton, bootstrapped by the application itself. Users are never
// hard-deleted; message history keeps author ids as historical references.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Subject: external identity subject (OIDC "sub"); unique, indexed.
//   - DisplayName: human-readable name shown in conversations.
//   - AvatarURL: optional avatar reference.
//   - IsAssistant: true only for the AI assistant singleton.
//   - Prefs: preference bitset (notifications, sound, typing visibility).
//   - CreatedAt / LastActiveAt: lifecycle timestamps.
type User struct {
	ID           string    `json:"id"             gorm:"type:char(36);primaryKey"`
	Subject      string    `json:"subject"        gorm:"type:varchar(128);not null;uniqueIndex:ux_user_subject"`
	DisplayName  string    `json:"display_name"   gorm:"type:varchar(255);not null"`
	AvatarURL    string    `json:"avatar_url"     gorm:"type:varchar(512)"`
	IsAssistant  bool      `json:"is_assistant"   gorm:"not null;default:false"`
	Prefs        int64     `json:"prefs"          gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// HasPref reports whether the given preference flag is set.
func (u *User) HasPref(flag int64) bool { return u.Prefs&flag != 0 }

// Conversation represents a messaging thread of one of the three types.
// Conversations are never physically deleted; archiving hides a conversation
// from default listings but preserves the full history.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Title: optional for one-on-one, required for groups.
//   - Type: one of the ConversationType constants (enforced by DB constraint).
//   - PairKey: "<minUserID>:<maxUserID>" for one-on-one conversations; the
//     unique index closes the duplicate-creation race for a user pair.
//   - LastMessageAt: monotonically non-decreasing recency cursor; advanced
//     only through a conditional update (see repo.AdvanceLastMessageAt).
//   - IsArchived: reversible visibility flag, does not cascade to messages.
type Conversation struct {
	ID            string           `json:"id"              gorm:"type:char(36);primaryKey"`
	Title         string           `json:"title"           gorm:"type:varchar(255)"`
	Type          ConversationType `json:"type"            gorm:"type:varchar(16);not null;check:type IN ('one_on_one','group','ai_assistant');index"`
	PairKey       *string          `json:"-"               gorm:"type:varchar(80);uniqueIndex:ux_conversation_pair"`
	LastMessageAt time.Time        `json:"last_message_at" gorm:"index"`
	IsArchived    bool             `json:"is_archived"     gorm:"not null;default:false"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`

	Participants []ConversationParticipant `json:"participants,omitempty" gorm:"foreignKey:ConversationID;references:ID"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// ConversationParticipant is the membership record of one user in one
// conversation, identified by the composite (conversation_id, user_id) key.
// Removing a participant deletes the row but leaves message history intact.
//
// LastReadAt is the participant's read cursor: every message with a timestamp
// at or below it counts as read. It only ever moves forward.
type ConversationParticipant struct {
	ConversationID string          `json:"conversation_id" gorm:"type:char(36);primaryKey"`
	UserID         string          `json:"user_id"         gorm:"type:char(36);primaryKey"`
	Role           ParticipantRole `json:"role"            gorm:"type:varchar(16);not null;default:'member';check:role IN ('member','admin','assistant')"`
	JoinedAt       time.Time       `json:"joined_at"`
	LastReadAt     time.Time       `json:"last_read_at"`
}

// TableName returns the database table name for ConversationParticipant.
func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message is a single utterance inside a conversation. The creation timestamp
// is server-assigned and immutable; Seq breaks same-timestamp ties so ordering
// within a conversation is total.
//
// State machine:
//   - active -> edited (IsEdited=true, still active)
//   - active -> regenerating (IsBeingRegenerated=true) -> active (edited)
//   - active -> deleted (IsDeleted=true, terminal tombstone)
//
// System alert messages (IsSystemAlert) are immutable from creation.
type Message struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	ConversationID  string    `json:"conversation_id"   gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	AuthorID        string    `json:"author_id"         gorm:"type:char(36);not null;index"`
	Content         string    `json:"content"           gorm:"type:text;not null"`
	Seq             int64     `json:"seq"               gorm:"not null;default:0;index:idx_conv_msgs,priority:3"`
	ParentMessageID *string   `json:"parent_message_id,omitempty" gorm:"type:char(36);index"`
	IsEdited        bool      `json:"is_edited"         gorm:"not null;default:false"`
	IsSystemAlert   bool      `json:"is_system_alert"   gorm:"not null;default:false"`
	IsDeleted       bool      `json:"is_deleted"        gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"created_at"        gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Regeneration state. RegenStartedAt lets a recovery sweep time out
	// messages stuck in the regenerating state after a crash mid-call.
	IsBeingRegenerated bool       `json:"is_being_regenerated" gorm:"not null;default:false"`
	RegenStartedAt     *time.Time `json:"-"`

	// Conversation is the parent thread; messages are never cascade-deleted
	// because conversations are soft-state only.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Mutable reports whether the message accepts an edit in its current state.
func (m *Message) Mutable() bool {
	return !m.IsSystemAlert && !m.IsBeingRegenerated && !m.IsDeleted
}

// PairKeyFor builds the symmetric lookup key for a one-on-one conversation.
// The key is identical regardless of argument order.
func PairKeyFor(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
