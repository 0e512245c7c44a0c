package ai

import (
	"github.com/exdrums/hbg-sub001/internal/domain"
)

// BuildHistory converts stored messages into prompt turns, oldest first.
// Messages authored by the assistant map to the assistant role, system alerts
// to the system role, and everything else to the user role. Deleted messages
// and messages mid-regeneration contribute nothing.
func BuildHistory(messages []domain.Message, assistantUserID string) []PromptMessage {
	history := make([]PromptMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsDeleted || m.IsBeingRegenerated || m.Content == "" {
			continue
		}
		role := RoleUser
		switch {
		case m.AuthorID == domain.SystemAuthorID || m.IsSystemAlert:
			role = RoleSystem
		case m.AuthorID == assistantUserID:
			role = RoleAssistant
		}
		history = append(history, PromptMessage{Role: role, Content: m.Content})
	}
	return history
}
