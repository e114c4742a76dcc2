// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package authcache tracks currently-authorized connections, live sessions,
// per-origin brute-force counters, and the premium-status sub-cache consulted
// at connection-admission time.
package authcache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Session is a live authorized session. Sessions deliberately survive
// ordinary disconnects so offline-authenticated accounts can reconnect
// without re-entering credentials; they end only on explicit logout, ban or
// timeout.
type Session struct {
	ID               ulid.ULID
	IdentityID       uuid.UUID
	Nickname         string
	Origin           string
	StartedAt        time.Time
	PremiumAtStart   bool
	RemoteIdentityID uuid.UUID // uuid.Nil when not remote-confirmed
}

// authEntry records that an identity passed admission from a given origin.
type authEntry struct {
	origin    string
	grantedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithGuard replaces the default brute-force guard.
func WithGuard(g *BruteForceGuard) Option {
	return func(c *Cache) {
		c.guard = g
	}
}

// WithPremiumCache replaces the default premium-status sub-cache.
func WithPremiumCache(p *PremiumCache) Option {
	return func(c *Cache) {
		c.premium = p
	}
}

// WithRegistry registers authorization metrics with the given Prometheus
// registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Cache) {
		c.sessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stonegate_auth_sessions",
			Help: "Current number of live authorized sessions",
		})
		c.blockedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stonegate_auth_origin_blocks_total",
			Help: "Total times an origin crossed the brute-force block threshold",
		})
		reg.MustRegister(c.sessionGauge, c.blockedCounter)
	}
}

// Cache is the authorization cache. All maps support safe concurrent
// read/write without external locking.
type Cache struct {
	authorized sync.Map // uuid.UUID -> authEntry
	sessions   sync.Map // uuid.UUID -> *Session

	guard   *BruteForceGuard
	premium *PremiumCache

	logger *slog.Logger

	sessionGauge   prometheus.Gauge
	blockedCounter prometheus.Counter

	now func() time.Time
}

// New creates an authorization cache.
func New(logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.guard == nil {
		c.guard = NewBruteForceGuard(GuardConfig{})
	}
	if c.premium == nil {
		c.premium = NewPremiumCache(PremiumConfig{})
	}
	return c
}

// Authorize records that an identity passed admission from the given origin.
func (c *Cache) Authorize(id uuid.UUID, origin string) {
	c.authorized.Store(id, authEntry{origin: origin, grantedAt: c.now()})
}

// Deauthorize removes an identity's authorization entry.
func (c *Cache) Deauthorize(id uuid.UUID) {
	c.authorized.Delete(id)
}

// IsPlayerAuthorized reports whether an authorization entry exists for the
// identity and the recorded origin is compatible. Missing origin data on
// either side is treated permissively.
func (c *Cache) IsPlayerAuthorized(id uuid.UUID, origin string) bool {
	raw, ok := c.authorized.Load(id)
	if !ok {
		return false
	}
	entry := raw.(authEntry)
	return originsCompatible(entry.origin, origin)
}

// StartSession begins a session for an identity, or returns the existing one.
// The operation is idempotent.
func (c *Cache) StartSession(id uuid.UUID, nickname, origin string, premium bool, remoteID uuid.UUID) *Session {
	session := &Session{
		ID:               ulid.Make(),
		IdentityID:       id,
		Nickname:         nickname,
		Origin:           origin,
		StartedAt:        c.now(),
		PremiumAtStart:   premium,
		RemoteIdentityID: remoteID,
	}
	if existing, loaded := c.sessions.LoadOrStore(id, session); loaded {
		return existing.(*Session)
	}
	c.updateSessionGauge()
	return session
}

// EndSession ends an identity's session. Idempotent: ending a non-existent
// session is a no-op.
func (c *Cache) EndSession(id uuid.UUID) {
	if _, loaded := c.sessions.LoadAndDelete(id); loaded {
		c.updateSessionGauge()
	}
}

// HasActiveSession reports whether a live session exists for the identity
// under the given nickname, from a compatible origin. Stricter than
// IsPlayerAuthorized: an authorization entry alone does not qualify.
func (c *Cache) HasActiveSession(id uuid.UUID, nickname, origin string) bool {
	raw, ok := c.sessions.Load(id)
	if !ok {
		return false
	}
	session := raw.(*Session)
	if !strings.EqualFold(session.Nickname, nickname) {
		return false
	}
	return originsCompatible(session.Origin, origin)
}

// Session returns the live session for an identity, if any.
func (c *Cache) Session(id uuid.UUID) (*Session, bool) {
	raw, ok := c.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return raw.(*Session), true
}

// SessionCount returns the number of live sessions.
func (c *Cache) SessionCount() int {
	n := 0
	c.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsBlocked reports whether an origin is currently blocked by the brute-force
// guard.
func (c *Cache) IsBlocked(origin string) bool {
	return c.guard.IsBlocked(origin)
}

// RegisterFailedLogin records a failed login from an origin and reports
// whether this call crossed the block threshold.
func (c *Cache) RegisterFailedLogin(origin string) bool {
	crossed := c.guard.RegisterFailedLogin(origin)
	if crossed {
		if c.blockedCounter != nil {
			c.blockedCounter.Inc()
		}
		c.logger.Warn("origin crossed brute-force threshold",
			slog.String("origin", origin),
			slog.Bool("security_event", true))
	}
	return crossed
}

// ResetLoginAttempts clears the failure counter for an origin. Called on any
// successful authentication.
func (c *Cache) ResetLoginAttempts(origin string) {
	c.guard.ResetLoginAttempts(origin)
}

// PremiumStatus returns the premium-status sub-cache.
func (c *Cache) PremiumStatus() *PremiumCache {
	return c.premium
}

// Guard returns the brute-force guard.
func (c *Cache) Guard() *BruteForceGuard {
	return c.guard
}

// Invalidate drops cached authorization state for a nickname after its
// backing record changed. Satisfies the record coordinator's invalidation
// observer contract.
func (c *Cache) Invalidate(lowercaseKey string) {
	c.premium.Delete(lowercaseKey)

	var stale []uuid.UUID
	c.sessions.Range(func(k, v any) bool {
		if strings.EqualFold(v.(*Session).Nickname, lowercaseKey) {
			stale = append(stale, k.(uuid.UUID))
		}
		return true
	})
	for _, id := range stale {
		c.authorized.Delete(id)
	}
	c.logger.Debug("authorization state invalidated",
		slog.String("name", lowercaseKey))
}

func (c *Cache) updateSessionGauge() {
	if c.sessionGauge == nil {
		return
	}
	c.sessionGauge.Set(float64(c.SessionCount()))
}

// originsCompatible treats missing origin data on either side permissively.
func originsCompatible(recorded, presented string) bool {
	if recorded == "" || presented == "" {
		return true
	}
	return recorded == presented
}
