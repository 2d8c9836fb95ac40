package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket refills at rate tokens per second up to capacity, so bursts up
// to capacity pass immediately.
type TokenBucket struct {
	rate     float64
	capacity float64
	now      func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewTokenBucket starts with a full bucket.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	tb := &TokenBucket{rate: rate, capacity: float64(capacity), tokens: float64(capacity), now: time.Now}
	tb.last = tb.now()
	return tb
}

// Allow implements RateLimiter.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.last); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
