package ratelimiter

import (
	"fmt"
	"time"

	"LegisGraph/backend/go/internal/config"
)

// RateLimiter decides whether one more request may pass.
type RateLimiter interface {
	Allow() bool
}

// FromConfig builds the limiter named by cfg.Algorithm. A disabled limiter is
// returned as nil.
func FromConfig(cfg config.RateLimiterConfig) (RateLimiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Algorithm {
	case "slidingCounter", "":
		window, err := time.ParseDuration(cfg.SlidingCounter.Window)
		if err != nil {
			return nil, fmt.Errorf("invalid sliding window duration: %w", err)
		}
		if cfg.SlidingCounter.Limit <= 0 {
			return nil, fmt.Errorf("sliding window limit must be positive")
		}
		return NewSlidingWindowCounter(cfg.SlidingCounter.Limit, window, cfg.SlidingCounter.NumBuckets), nil
	case "tokenBucket":
		if cfg.TokenBucket.Rate <= 0 || cfg.TokenBucket.Capacity <= 0 {
			return nil, fmt.Errorf("token bucket rate and capacity must be positive")
		}
		return NewTokenBucket(cfg.TokenBucket.Rate, cfg.TokenBucket.Capacity), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting algorithm %q", cfg.Algorithm)
	}
}
