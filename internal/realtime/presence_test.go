package realtime

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestPresence_AddIsIdempotent(t *testing.T) {
	p := NewPresence()

	if !p.AddConnection("u1", "c1") {
		t.Fatalf("first connection should report online transition")
	}
	if p.AddConnection("u1", "c1") {
		t.Fatalf("re-adding same pair must not report a transition")
	}
	if got := p.Connections("u1"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("expected single connection, got %v", got)
	}
}

func TestPresence_RemoveLastConnectionSignalsOffline(t *testing.T) {
	p := NewPresence()
	p.AddConnection("u1", "c1")
	p.AddConnection("u1", "c2")
	p.AddConnection("u1", "c3")

	// Removing all but the last returns true.
	if !p.RemoveConnection("u1", "c1") {
		t.Fatalf("expected still online after removing 1 of 3")
	}
	if !p.RemoveConnection("u1", "c2") {
		t.Fatalf("expected still online after removing 2 of 3")
	}
	// Exactly the last removal returns false.
	if p.RemoveConnection("u1", "c3") {
		t.Fatalf("expected offline transition on last removal")
	}
	if p.IsOnline("u1") {
		t.Fatalf("user should be offline")
	}
	// Removing again stays false without panicking.
	if p.RemoveConnection("u1", "c3") {
		t.Fatalf("removal of unknown connection must report offline")
	}
}

func TestPresence_BidirectionalLookup(t *testing.T) {
	p := NewPresence()
	p.AddConnection("u1", "c1")
	p.AddConnection("u2", "c2")

	uid, ok := p.UserForConnection("c2")
	if !ok || uid != "u2" {
		t.Fatalf("UserForConnection(c2) = %q, %v", uid, ok)
	}
	if _, ok := p.UserForConnection("cx"); ok {
		t.Fatalf("unknown connection resolved")
	}

	p.RemoveConnection("u2", "c2")
	if _, ok := p.UserForConnection("c2"); ok {
		t.Fatalf("removed connection still resolvable")
	}
}

func TestPresence_ConnectionsForUsersExcludes(t *testing.T) {
	p := NewPresence()
	p.AddConnection("u1", "c1a")
	p.AddConnection("u1", "c1b")
	p.AddConnection("u2", "c2")
	p.AddConnection("u3", "c3")

	got := p.ConnectionsForUsers([]string{"u1", "u2", "u3"}, "u2")
	sort.Strings(got)
	want := []string{"c1a", "c1b", "c3"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestPresence_ConcurrentChurn(t *testing.T) {
	p := NewPresence()

	const users = 8
	const connsPerUser = 25

	var wg sync.WaitGroup
	offline := make([]int, users)
	var mu sync.Mutex

	for u := 0; u < users; u++ {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			uid := fmt.Sprintf("u%d", u)
			for c := 0; c < connsPerUser; c++ {
				p.AddConnection(uid, fmt.Sprintf("%s-c%d", uid, c))
			}
			for c := 0; c < connsPerUser; c++ {
				if !p.RemoveConnection(uid, fmt.Sprintf("%s-c%d", uid, c)) {
					mu.Lock()
					offline[u]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// The offline transition fires exactly once per user.
	for u, n := range offline {
		if n != 1 {
			t.Fatalf("user %d saw %d offline transitions; want exactly 1", u, n)
		}
	}
	if p.OnlineCount() != 0 {
		t.Fatalf("registry should be empty, %d users online", p.OnlineCount())
	}
}
