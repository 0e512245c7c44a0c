package cache

import (
	"context"
	"sync"
	"time"
)

// evictEvery is how many lookups pass between eviction sweeps.
const evictEvery = 5000

// window is one fixed counting window anchored at its first increment.
type window struct {
	start time.Time
	count int64
}

// MemoryCounter is the in-process Counter for single-instance deployments.
// Expired windows are reset lazily on access and evicted opportunistically so
// memory stays bounded without a scheduler.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	nowFn   func() time.Time

	lookups uint64
}

// NewMemoryCounter constructs an empty in-process counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		nowFn:   time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (m *MemoryCounter) SetNow(fn func() time.Time) {
	m.mu.Lock()
	m.nowFn = fn
	m.mu.Unlock()
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, key string, span time.Duration) (int64, error) {
	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Opportunistic eviction of long-expired windows after a threshold of
	// lookups, before touching the requested key.
	m.lookups++
	if m.lookups >= evictEvery {
		for k, w := range m.windows {
			if now.Sub(w.start) >= 2*span {
				delete(m.windows, k)
			}
		}
		m.lookups = 0
	}

	w := m.windows[key]
	if w == nil || now.Sub(w.start) >= span {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++
	return w.count, nil
}
