// rate_limiter.go - Rate limiting to keep AI fallback calls under provider quotas

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how often a waiting caller re-checks the bucket.
const pollInterval = 100 * time.Millisecond

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens         int
	maxTokens      int
	refillRate     time.Duration
	lastRefillTime time.Time
	mu             sync.Mutex
}

// NewRateLimiter creates a new rate limiter
// maxTokens: burst size
// refillRate: time between token refills
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillRate:     refillRate,
		lastRefillTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.TryAcquire() {
			return nil
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token if one is available without waiting.
func (rl *RateLimiter) TryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// Available returns the tokens currently in the bucket.
func (rl *RateLimiter) Available() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	return rl.tokens
}

func (rl *RateLimiter) refill(now time.Time) {
	tokensToAdd := int(now.Sub(rl.lastRefillTime) / rl.refillRate)
	if tokensToAdd <= 0 {
		return
	}
	rl.tokens += tokensToAdd
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefillTime = rl.lastRefillTime.Add(time.Duration(tokensToAdd) * rl.refillRate)
}

// Global rate limiter for the AI fallback providers
// gemini-2.0-flash free tier: 15 RPM = 1 request per 4 seconds
// 12 tokens refilled every 5s leaves ~20% headroom for bursts
var (
	globalMu          sync.RWMutex
	globalRateLimiter = NewRateLimiter(12, 5*time.Second)
)

// Configure replaces the global limiter.
func Configure(maxTokens int, refillRate time.Duration) {
	globalMu.Lock()
	globalRateLimiter = NewRateLimiter(maxTokens, refillRate)
	globalMu.Unlock()
}

// Global returns the process-wide limiter.
func Global() *RateLimiter {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRateLimiter
}

// WaitForRateLimit waits on the global limiter.
func WaitForRateLimit(ctx context.Context) error {
	return Global().Wait(ctx)
}
