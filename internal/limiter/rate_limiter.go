// Package limiter implements the two admission limits applied before a tile
// fetch may start: a sliding-window request rate and a bound on concurrent
// transfers.
package limiter

import (
	"time"
)

// RateLimiter admits at most limit events in any trailing window.
//
// Unlike a token bucket no credit accrues while idle: the only state is the
// timestamps admitted within the last window. It is not safe for concurrent
// use; the downloader tick is its only caller.
type RateLimiter struct {
	limit  int
	window time.Duration
	stamps []time.Time
}

// NewRateLimiter returns a limiter admitting limit events per window.
// A limit <= 0 admits everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	capacity := limit
	if capacity < 0 {
		capacity = 0
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, capacity),
	}
}

// TryAdmit evicts timestamps older than now-window and records now if fewer
// than limit remain. A denied call records nothing.
func (l *RateLimiter) TryAdmit(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.evict(now)
	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Len returns the number of admissions currently inside the window as of the
// last call to TryAdmit.
func (l *RateLimiter) Len() int {
	return len(l.stamps)
}

func (l *RateLimiter) Limit() int {
	return l.limit
}

func (l *RateLimiter) Window() time.Duration {
	return l.window
}

func (l *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && l.stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(l.stamps, l.stamps[i:])
	l.stamps = l.stamps[:n]
}
