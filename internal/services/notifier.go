package services

import (
	"context"
	"time"

	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/notify"
)

// Notifier is the fan-out seam used by services after a state mutation has
// been committed. notify.Dispatcher implements it; tests substitute a
// recorder. Delivery is best-effort and never influences the outcome of the
// mutation that triggered it.
type Notifier interface {
	ToUser(ctx context.Context, userID, event string, payload any)
	ToParticipants(ctx context.Context, userIDs []string, excludeUserID, event string, payload any)
	SendAlert(ctx context.Context, userID, conversationID string, participantIDs []string, kind, text string, ttl time.Duration) notify.Alert
}

var _ Notifier = (*notify.Dispatcher)(nil)

// participantIDs extracts the user ids from membership rows.
func participantIDs(rows []domain.ConversationParticipant) []string {
	ids := make([]string, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.UserID)
	}
	return ids
}
