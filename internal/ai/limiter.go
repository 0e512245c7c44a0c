package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/exdrums/hbg-sub001/internal/cache"
)

// Operation types counted separately by the limiter.
const (
	OpChat       = "chat"
	OpRegenerate = "regenerate"
)

// Limiter caps assistant requests per (user, operation) over a fixed window.
// The counter store decides whether the budget is process-local or shared
// across instances.
type Limiter struct {
	counter cache.Counter
	max     int64
	window  time.Duration
}

// NewLimiter builds a Limiter allowing max requests per window per user.
func NewLimiter(counter cache.Counter, max int64, window time.Duration) *Limiter {
	return &Limiter{counter: counter, max: max, window: window}
}

// Allow reports whether userID may issue another request of the given
// operation right now. Store errors fail open: a broken counter backend
// degrades the budget, not the chat.
func (l *Limiter) Allow(ctx context.Context, userID, op string) bool {
	if l == nil || l.counter == nil || l.max <= 0 {
		return true
	}
	n, err := l.counter.Incr(ctx, limiterKey(userID, op), l.window)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("op", op).Msg("ai limiter store unavailable, allowing request")
		return true
	}
	return n <= l.max
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

func limiterKey(userID, op string) string {
	return fmt.Sprintf("ai:rate:%s:%s", op, userID)
}
