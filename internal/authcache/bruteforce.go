// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package authcache

import (
	"sync"
	"time"
)

// Brute-force guard defaults: 5 failures within 10 minutes from one origin
// blocks further attempts until the window expires.
const (
	DefaultBlockThreshold = 5
	DefaultAttemptWindow  = 10 * time.Minute
)

// GuardConfig configures a BruteForceGuard.
type GuardConfig struct {
	// BlockThreshold is the failure count that triggers a block.
	// Defaults to DefaultBlockThreshold.
	BlockThreshold int

	// AttemptWindow is how long failures are counted before the window
	// resets. Defaults to DefaultAttemptWindow.
	AttemptWindow time.Duration
}

// attemptWindow tracks failures from one origin within the current window.
type attemptWindow struct {
	count     int
	startedAt time.Time
}

// BruteForceGuard counts failed logins per origin and blocks origins that
// cross the threshold. Safe for concurrent use.
type BruteForceGuard struct {
	mu       sync.Mutex
	attempts map[string]*attemptWindow

	threshold int
	window    time.Duration

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewBruteForceGuard creates a guard with the given configuration.
func NewBruteForceGuard(cfg GuardConfig) *BruteForceGuard {
	threshold := cfg.BlockThreshold
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	window := cfg.AttemptWindow
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	return &BruteForceGuard{
		attempts:  make(map[string]*attemptWindow),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// RegisterFailedLogin records one failure from an origin. Returns true iff
// this call crossed the block threshold.
func (g *BruteForceGuard) RegisterFailedLogin(origin string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w := g.attempts[origin]
	if w == nil || now.Sub(w.startedAt) >= g.window {
		w = &attemptWindow{startedAt: now}
		g.attempts[origin] = w
	}

	w.count++
	return w.count == g.threshold
}

// IsBlocked reports whether an origin is currently over the threshold within
// its window.
func (g *BruteForceGuard) IsBlocked(origin string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.attempts[origin]
	if w == nil {
		return false
	}
	if g.now().Sub(w.startedAt) >= g.window {
		delete(g.attempts, origin)
		return false
	}
	return w.count >= g.threshold
}

// ResetLoginAttempts clears the counter for an origin, lifting any block.
func (g *BruteForceGuard) ResetLoginAttempts(origin string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, origin)
}

// Attempts returns the current failure count for an origin. Useful for
// monitoring and tests.
func (g *BruteForceGuard) Attempts(origin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.attempts[origin]
	if w == nil || g.now().Sub(w.startedAt) >= g.window {
		return 0
	}
	return w.count
}
