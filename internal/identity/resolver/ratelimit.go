// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package resolver

import (
	"sync"
	"time"
)

// Rate limiting defaults. Remote identity providers throttle aggressively, so
// requests beyond the cap are refused locally without a network call.
const (
	DefaultRateLimitWindow = 60 * time.Second
	DefaultRateLimitCap    = 600
)

// RateLimiter bounds the number of requests admitted to one provider within a
// fixed window. It is safe for concurrent use.
type RateLimiter struct {
	mu sync.Mutex

	window time.Duration
	cap    int

	count       int
	windowStart time.Time

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter admitting at most capacity requests per
// window. Zero or negative arguments fall back to the defaults.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = DefaultRateLimitCap
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		window: window,
		cap:    capacity,
		now:    time.Now,
	}
}

// Allow reports whether another request may be admitted, consuming one slot
// when it is. After the window elapses the counter resets and admission
// resumes.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.count = 0
	}

	if rl.count >= rl.cap {
		return false
	}
	rl.count++
	return true
}

// Remaining returns the number of slots left in the current window. Useful
// for monitoring.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.windowStart.IsZero() && rl.now().Sub(rl.windowStart) >= rl.window {
		return rl.cap
	}
	return rl.cap - rl.count
}
