package websocket

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket guarding one connection's request rate.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// newRateLimiter returns nil, meaning unlimited, when maxTokens is not
// positive.
func newRateLimiter(maxTokens, refillRate int) *rateLimiter {
	if maxTokens <= 0 {
		return nil
	}
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	// Credit whole seconds only and keep the remainder for the next call.
	whole := now.Sub(r.lastRefill) / time.Second
	if whole > 0 {
		r.tokens += int(whole) * r.refillRate
		r.lastRefill = r.lastRefill.Add(whole * time.Second)
		if r.tokens >= r.maxTokens {
			r.tokens = r.maxTokens
			r.lastRefill = now
		}
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}
