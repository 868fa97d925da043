// ratelimit.go implements token-bucket rate limiting for the OKX REST API.
//
// OKX enforces per-endpoint rate limits measured in requests per 2-second
// windows. This provides a smooth token-bucket implementation that refills
// continuously (rather than in 2s bursts) to avoid hitting hard limits.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by OKX endpoint category. Each trading
// operation calls the appropriate bucket's Wait() before making the request.
type RateLimiter struct {
	Order  *TokenBucket // POST /trade/order — 60 req / 2s
	Cancel *TokenBucket // POST /trade/cancel-order — 60 req / 2s
}

// NewRateLimiter creates rate limiters tuned to OKX's published per-endpoint
// limits, capacity set to the 2-second burst allowance.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(60, 30),
		Cancel: NewTokenBucket(60, 30),
	}
}
