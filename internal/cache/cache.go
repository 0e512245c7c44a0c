// Package cache provides the swappable counter store behind the AI bridge's
// fixed-window rate limiting. Single-instance deployments use the in-process
// store; multi-instance deployments share counters through Redis. Both honor
// the same lazy-reset window semantics, so the bridge never needs a
// background sweeper.
package cache

import (
	"context"
	"time"
)

// Counter increments a windowed counter and returns its new value. The first
// increment of a window anchors it; once the window elapses the next
// increment starts a fresh one (lazy reset, checked on access).
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}
