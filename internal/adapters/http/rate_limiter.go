package http

import (
	"sync"
	"time"
)

// AppendRateLimiter caps how many records one sender may append to one scope
// within a sliding window. A zero limit disables it.
type AppendRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewAppendRateLimiter(limit int, interval time.Duration) *AppendRateLimiter {
	return &AppendRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *AppendRateLimiter) Allow(key, sender string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	id := key + "\x00" + sender

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of every sender on key.
func (rl *AppendRateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	prefix := key + "\x00"
	for id := range rl.history {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			delete(rl.history, id)
		}
	}
}
