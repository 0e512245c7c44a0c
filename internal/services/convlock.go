package services

import "sync"

// convLock serializes message writes per conversation within one instance.
// Entries are reference-counted and dropped when the last holder releases,
// so the map only holds conversations with writes in flight.
type convLock struct {
	mu    sync.Mutex
	locks map[string]*convLockEntry
}

type convLockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for the given conversation id. The zero value is
// ready to use.
func (l *convLock) Lock(id string) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*convLockEntry)
	}
	e := l.locks[id]
	if e == nil {
		e = &convLockEntry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for the given conversation id.
func (l *convLock) Unlock(id string) {
	l.mu.Lock()
	e := l.locks[id]
	if e == nil {
		l.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
