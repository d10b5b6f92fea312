package auth

import (
	"sync"
	"time"
)

// RateLimiter is an in-memory sliding-window limiter keyed by username. It
// sits in front of the store so bursts of attempts are rejected before any
// KDF or storage work. State is per-process and intentionally not persisted;
// the durable lockout counter lives in the store.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimiter allows maxAttempts per window for each username.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow reports whether another attempt may proceed for username, and if
// not, how long until the oldest recorded attempt leaves the window.
func (l *RateLimiter) Allow(username string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(username)
	if len(recent) >= l.maxAttempts {
		wait := recent[0].Add(l.window).Sub(l.now())
		return false, wait
	}
	return true, 0
}

// Record notes an authentication attempt for username.
func (l *RateLimiter) Record(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts[username] = append(l.prune(username), l.now())
}

// Clear forgets all attempts for username. Called on successful
// authentication and on administrative unlock.
func (l *RateLimiter) Clear(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, username)
}

// prune drops attempts older than the window. Caller holds the lock.
func (l *RateLimiter) prune(username string) []time.Time {
	cutoff := l.now().Add(-l.window)
	recent := l.attempts[username][:0:0]
	for _, t := range l.attempts[username] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(l.attempts, username)
	} else {
		l.attempts[username] = recent
	}
	return recent
}
