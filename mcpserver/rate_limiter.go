package mcpserver

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window limiter keyed by client
type RateLimiter struct {
	// Map to track request counts by client key
	counters     map[string]*rateLimitEntry
	mu           sync.Mutex
	maxRequests  int           // Maximum requests per window
	windowPeriod time.Duration // Time window for rate limiting
	now          func() time.Time
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
// A non-positive maxRequests disables limiting.
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		counters:     make(map[string]*rateLimitEntry),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		now:          time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// limit, along with the time the current window resets
func (r *RateLimiter) Allow(key string) (bool, time.Time) {
	if r == nil || r.maxRequests <= 0 {
		return true, time.Time{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.counters[key]

	// Start a new window when none exists or the last one expired
	if !ok || now.Sub(entry.windowStart) >= r.windowPeriod {
		r.counters[key] = &rateLimitEntry{count: 1, windowStart: now}
		r.prune(now)
		return true, now.Add(r.windowPeriod)
	}

	entry.count++
	return entry.count <= r.maxRequests, entry.windowStart.Add(r.windowPeriod)
}

// prune drops expired windows of other clients
func (r *RateLimiter) prune(now time.Time) {
	for k, e := range r.counters {
		if now.Sub(e.windowStart) >= r.windowPeriod {
			delete(r.counters, k)
		}
	}
}
