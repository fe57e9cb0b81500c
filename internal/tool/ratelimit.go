package tool

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window call counter keyed by tool id. Expired
// timestamps are pruned on each check.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter allows max calls per tool within any trailing window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Max is the per-window ceiling.
func (l *RateLimiter) Max() int { return l.max }

// Window is the trailing window length.
func (l *RateLimiter) Window() time.Duration { return l.window }

// prune must be called with mu held.
func (l *RateLimiter) prune(id string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	ts := l.calls[id]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	ts = ts[i:]
	if len(ts) == 0 {
		delete(l.calls, id)
		return nil
	}
	l.calls[id] = ts
	return ts
}

// Allow records a call and reports whether it fits in the window.
// Rejected calls are not recorded.
func (l *RateLimiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	ts := l.prune(id, now)
	if len(ts) >= l.max {
		return false
	}
	l.calls[id] = append(ts, now)
	return true
}

// Remaining is how many more calls fit in the current window.
func (l *RateLimiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.max - len(l.prune(id, l.now()))
	if n < 0 {
		return 0
	}
	return n
}

// ResetIn is the time until the oldest call in the window expires.
// Zero when no calls are recorded.
func (l *RateLimiter) ResetIn(id string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	ts := l.prune(id, now)
	if len(ts) == 0 {
		return 0
	}
	return ts[0].Add(l.window).Sub(now)
}

// Reset forgets all calls for id.
func (l *RateLimiter) Reset(id string) {
	l.mu.Lock()
	delete(l.calls, id)
	l.mu.Unlock()
}

// ResetAll forgets every call.
func (l *RateLimiter) ResetAll() {
	l.mu.Lock()
	clear(l.calls)
	l.mu.Unlock()
}
