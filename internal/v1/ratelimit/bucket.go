// Package ratelimit implements token-bucket rate limiting for the chat core.
// One algorithmic core serves two enforcement points: an in-process limiter
// owned by the hub for socket events, and a shared-store limiter over redis
// for HTTP requests.
package ratelimit

import (
	"math"
	"time"
)

// bucket is an in-process token bucket. Buckets start full via newBucket;
// capacity and refill rate live with the axis, not the bucket, so one map of
// buckets can serve several axes.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, lastRefill: now}
}

// refill credits tokens accrued since the last refill, capped at capacity.
func (b *bucket) refill(now time.Time, capacity, rate float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
	b.lastRefill = now
}

// take refills and then consumes a single token. On refusal it reports the
// number of whole seconds until the deficit is covered.
func (b *bucket) take(now time.Time, capacity, rate float64) (allowed bool, retryAfter int64) {
	b.refill(now, capacity, rate)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, retryAfterSeconds(1-b.tokens, rate)
}

// retryAfterSeconds reports how many whole seconds must pass for deficit
// tokens to accrue at rate tokens per second.
func retryAfterSeconds(deficit, rate float64) int64 {
	if deficit <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Ceil(deficit / rate))
}
