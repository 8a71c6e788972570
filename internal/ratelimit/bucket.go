package ratelimit

import (
	"math"
	"time"
)

// bucket is a single token bucket. Tokens refill continuously as a function
// of elapsed wall-clock time since lastRefill; they never go negative and
// never exceed capacity. Callers must hold the owning entry's lock.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) *bucket {
	c := float64(capacity)
	return &bucket{
		tokens:     c,
		capacity:   c,
		refillRate: c / window.Seconds(),
		lastRefill: now,
	}
}

// refill credits tokens for the time elapsed since the last refill, capped
// at capacity. A non-monotonic clock step backwards credits nothing.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// take refills the bucket and consumes one token if at least one is
// available. The refill persists even when the take is denied.
func (b *bucket) take(now time.Time) bool {
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// refund returns one previously consumed token. Used when a later window in
// the same admission check denies the request.
func (b *bucket) refund() {
	b.tokens = math.Min(b.capacity, b.tokens+1)
}

// remaining reports the whole tokens currently available.
func (b *bucket) remaining() int {
	return int(math.Floor(b.tokens))
}

// setLimit rescales the bucket for a new capacity over the same window
// length, clamping the current balance to the new capacity.
func (b *bucket) setLimit(capacity int, window time.Duration) {
	c := float64(capacity)
	b.capacity = c
	b.refillRate = c / window.Seconds()
	if b.tokens > c {
		b.tokens = c
	}
}
