// Package authcode stores short-lived OAuth state entries between the login
// redirect and the callback. Entries are in-memory: losing them on restart
// only forces users back through the login redirect, and the set is bounded
// by the 10-minute TTL.
package authcode

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TTL is how long a pending login state stays valid.
const TTL = 10 * time.Minute

// Entry is the per-login state saved while the user is at the identity
// provider.
type Entry struct {
	// RedirectURI is where the client asked to land after login, echoed back
	// on the callback.
	RedirectURI string
	// Username is an optional login hint forwarded to the provider.
	Username  string
	CreatedAt time.Time
}

// Store is a concurrency-safe single-use store keyed by the OAuth state
// parameter.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// NewState generates an unguessable state value and records the entry under
// it. 32 random bytes, base64url without padding.
func (s *Store) NewState(e Entry) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	e.CreatedAt = s.now()
	s.entries[state] = e
	return state, nil
}

// Put records an entry under a caller-chosen state value. Clients that
// generate their own CSRF state use this path; server-generated states go
// through NewState.
func (s *Store) Put(state string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	e.CreatedAt = s.now()
	s.entries[state] = e
}

// Take retrieves and deletes the entry for state. Single use: a second Take
// with the same state fails even inside the TTL, which makes a replayed
// callback fail closed.
func (s *Store) Take(state string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, state)

	if s.now().Sub(e.CreatedAt) > TTL {
		return Entry{}, false
	}
	return e, true
}

// Len reports the number of stored entries, expired ones included until the
// next prune.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pruneLocked drops expired entries. Called on every NewState so the map
// cannot grow past the number of login attempts per TTL window.
func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-TTL)
	for state, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, state)
		}
	}
}
