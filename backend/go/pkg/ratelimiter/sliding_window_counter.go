package ratelimiter

import (
	"sync"
	"time"
)

// SlidingWindowCounter splits the window into buckets and admits a request
// while the sum over all buckets is below limit.
type SlidingWindowCounter struct {
	limit      int
	bucketSize time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buckets []int
	current int
	// start is the beginning of the current bucket.
	start time.Time
}

// NewSlidingWindowCounter divides window into numBuckets buckets (10 when
// numBuckets is not positive).
func NewSlidingWindowCounter(limit int, window time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	size := window / time.Duration(numBuckets)
	if size <= 0 {
		size = time.Nanosecond
	}
	c := &SlidingWindowCounter{limit: limit, bucketSize: size, buckets: make([]int, numBuckets), now: time.Now}
	c.start = c.now()
	return c
}

func (c *SlidingWindowCounter) slide() {
	steps := int(c.now().Sub(c.start) / c.bucketSize)
	if steps <= 0 {
		return
	}
	if steps >= len(c.buckets) {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
	} else {
		for i := 1; i <= steps; i++ {
			c.buckets[(c.current+i)%len(c.buckets)] = 0
		}
	}
	c.current = (c.current + steps) % len(c.buckets)
	c.start = c.start.Add(time.Duration(steps) * c.bucketSize)
}

// Allow implements RateLimiter.
func (c *SlidingWindowCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slide()
	total := 0
	for _, n := range c.buckets {
		total += n
	}
	if total >= c.limit {
		return false
	}
	c.buckets[c.current]++
	return true
}
