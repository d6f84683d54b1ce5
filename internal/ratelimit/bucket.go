// Package ratelimit bounds the outbound request rate of every geocoding provider
// with a token bucket.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

const (
	minBucketSize = 5
	// minWait keeps Acquire from spinning when the next token is due in under a millisecond.
	minWait = time.Millisecond
)

// WaitObserver receives the time a caller spent inside Acquire.
type WaitObserver interface {
	ObserveRateLimitWait(name string, wait time.Duration)
}

// Bucket is a token bucket refilled continuously at a fixed rate and capped at its size.
// It is safe for concurrent use.
type Bucket struct {
	name     string
	limiter  *rate.Limiter
	perSec   float64
	size     int
	observer WaitObserver
}

// DefaultBucketSize returns max(2 x tokensPerSecond, 5).
func DefaultBucketSize(tokensPerSecond float64) int {
	return max(int(math.Ceil(2*tokensPerSecond)), minBucketSize)
}

// New creates a full bucket. A non-positive bucketSize selects DefaultBucketSize,
// a non-positive rate disables limiting.
func New(tokensPerSecond float64, bucketSize int) *Bucket {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize(tokensPerSecond)
	}

	limit := rate.Limit(tokensPerSecond)
	if tokensPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Bucket{
		limiter: rate.NewLimiter(limit, bucketSize),
		perSec:  tokensPerSecond,
		size:    bucketSize,
	}
}

// Acquire blocks until a token is available and consumes it. The only error it
// returns is the context's.
func (b *Bucket) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if b.observer != nil {
			b.observer.ObserveRateLimitWait(b.name, time.Since(start))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.limiter.Allow() {
			return nil
		}

		// Another waiter may take the token first, so re-check after every wake-up.
		timer := time.NewTimer(max(b.TimeUntilNextToken(), minWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire consumes a token only if one is available right now.
func (b *Bucket) TryAcquire() bool {
	return b.limiter.Allow()
}

// AvailableTokens returns the number of whole tokens currently in the bucket.
func (b *Bucket) AvailableTokens() int {
	tokens := math.Floor(b.limiter.Tokens())

	return int(min(max(tokens, 0), float64(b.size)))
}

// TimeUntilNextToken returns how long until at least one whole token is available.
func (b *Bucket) TimeUntilNextToken() time.Duration {
	if b.perSec <= 0 {
		return 0
	}

	tokens := b.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}

	return time.Duration((1 - tokens) / b.perSec * float64(time.Second))
}

// Rate returns the refill rate in tokens per second.
func (b *Bucket) Rate() float64 {
	return b.perSec
}

// Size returns the bucket capacity.
func (b *Bucket) Size() int {
	return b.size
}
