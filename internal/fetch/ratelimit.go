package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/polylab/collector/internal/domain"
)

// TokenBucket is the in-process implementation of domain.RateLimiter, used
// when Redis is disabled. One bucket paces one platform; the key argument is
// ignored beyond interface conformance.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens added per second
	last     time.Time
}

// NewTokenBucket creates a bucket refilling at rps tokens per second with a
// burst capacity of one second's worth of requests (minimum 1).
func NewTokenBucket(rps float64) *TokenBucket {
	capacity := rps
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     rps,
		last:     time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Wait(ctx context.Context, _ string) error {
	for {
		d := b.take()
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take consumes a token if one is available, otherwise returns how long to
// wait before trying again.
func (b *TokenBucket) take() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// Compile-time interface check.
var _ domain.RateLimiter = (*TokenBucket)(nil)
