package scheduler

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled proportionally to elapsed time.
// Acquire blocks cooperatively until enough tokens accumulate, so callers
// are throttled without busy-waiting.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per interval
	interval   time.Duration
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a limiter producing rate tokens per interval,
// starting full
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &RateLimiter{
		rate:       float64(rate),
		interval:   interval,
		tokens:     float64(rate),
		lastUpdate: time.Now(),
	}
}

// Acquire takes n tokens, waiting for refill as needed. Returns early with
// the context's error on cancellation.
func (rl *RateLimiter) Acquire(ctx context.Context, n int) error {
	need := float64(n)

	for {
		rl.mu.Lock()
		rl.refillLocked()

		if rl.tokens >= need {
			rl.tokens -= need
			rl.mu.Unlock()
			return nil
		}

		deficit := need - rl.tokens
		rl.mu.Unlock()

		wait := time.Duration(deficit / rl.rate * float64(rl.interval))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes n tokens without blocking
func (rl *RateLimiter) TryAcquire(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	need := float64(n)
	if rl.tokens < need {
		return false
	}
	rl.tokens -= need
	return true
}

// Tokens returns the current token count, after refill
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate)
	rl.tokens += elapsed.Seconds() * rl.rate / rl.interval.Seconds()
	if rl.tokens > rl.rate {
		rl.tokens = rl.rate
	}
	rl.lastUpdate = now
}
