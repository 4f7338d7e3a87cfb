package authapi

import (
	"sync"
	"time"
)

// defaultReplayCapacity bounds the used-jti set. At one refresh per user per
// access TTL this covers well over the expected concurrent session count;
// past the cap the soonest-expiring entries are evicted first, which weakens
// replay detection only for tokens about to expire anyway.
const defaultReplayCapacity = 100000

// replayGuard remembers the jti of every refresh token that has already been
// rotated, so presenting the old token again inside its lifetime fails.
// Entries vanish once the token they track would have expired on its own.
type replayGuard struct {
	mu   sync.Mutex
	used map[string]time.Time
	cap  int
	now  func() time.Time
}

func newReplayGuard(capacity int) *replayGuard {
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	return &replayGuard{
		used: make(map[string]time.Time),
		cap:  capacity,
		now:  time.Now,
	}
}

// Use marks jti as consumed until exp. It returns false when the jti was
// already consumed, which the caller treats as a replayed refresh token.
func (g *replayGuard) Use(jti string, exp time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked()
	if _, seen := g.used[jti]; seen {
		return false
	}
	if len(g.used) >= g.cap {
		g.evictLocked()
	}
	g.used[jti] = exp
	return true
}

// pruneLocked drops entries for tokens that have expired; replaying those is
// already rejected by signature verification.
func (g *replayGuard) pruneLocked() {
	now := g.now()
	for jti, exp := range g.used {
		if exp.Before(now) {
			delete(g.used, jti)
		}
	}
}

// evictLocked removes the soonest-expiring entry to make room.
func (g *replayGuard) evictLocked() {
	var victim string
	var victimExp time.Time
	for jti, exp := range g.used {
		if victim == "" || exp.Before(victimExp) {
			victim = jti
			victimExp = exp
		}
	}
	if victim != "" {
		delete(g.used, victim)
	}
}
