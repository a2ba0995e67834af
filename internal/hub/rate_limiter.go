package hub

import (
	"sync"
	"time"
)

const defaultMinInterval = 500 * time.Millisecond

// RateLimiter admits at most one chat message per key within interval.
type RateLimiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for key and reports whether it is admitted.
// Rejected attempts do not push the window forward.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.last[key]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.last[key] = now
	r.sweep(now)
	return true
}

// sweep drops stale entries once the map grows.
func (r *RateLimiter) sweep(now time.Time) {
	if len(r.last) < 1024 {
		return
	}
	for key, ts := range r.last {
		if now.Sub(ts) >= r.interval {
			delete(r.last, key)
		}
	}
}
