// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package authcache

import (
	"sync"
	"time"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

// Premium sub-cache defaults. These TTLs are deliberately separate from the
// general resolution cache: authorization decisions age on their own schedule
// and are invalidated by record changes.
const (
	DefaultPremiumEntryTTL     = 10 * time.Minute
	DefaultPremiumSoftFraction = 0.5
)

// PremiumConfig configures a PremiumCache.
type PremiumConfig struct {
	// TTL is the hard lifetime of an entry. Defaults to DefaultPremiumEntryTTL.
	TTL time.Duration

	// SoftFraction is the fraction of TTL past which an entry reports stale.
	// Defaults to DefaultPremiumSoftFraction.
	SoftFraction float64
}

// PremiumEntry is a cached premium-status decision for a nickname.
type PremiumEntry struct {
	Result     identity.Result
	InsertedAt time.Time

	staleAt   time.Time
	expiresAt time.Time
}

// IsStale reports whether the entry is past its soft-freshness threshold and
// should be revalidated in the background.
func (e *PremiumEntry) IsStale() bool {
	return e.IsStaleAt(time.Now())
}

// IsStaleAt is the deterministic-time variant of IsStale.
func (e *PremiumEntry) IsStaleAt(t time.Time) bool {
	return t.After(e.staleAt)
}

// IsExpired reports whether the entry is past its hard TTL and unusable.
func (e *PremiumEntry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt is the deterministic-time variant of IsExpired.
func (e *PremiumEntry) IsExpiredAt(t time.Time) bool {
	return t.After(e.expiresAt)
}

// PremiumCache is the premium-status sub-cache keyed by lowercase nickname.
// Safe for concurrent use.
type PremiumCache struct {
	entries sync.Map // lowercase name -> *PremiumEntry

	ttl          time.Duration
	softFraction float64

	now func() time.Time
}

// NewPremiumCache creates a premium-status sub-cache.
func NewPremiumCache(cfg PremiumConfig) *PremiumCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultPremiumEntryTTL
	}
	soft := cfg.SoftFraction
	if soft <= 0 || soft >= 1 {
		soft = DefaultPremiumSoftFraction
	}
	return &PremiumCache{
		ttl:          ttl,
		softFraction: soft,
		now:          time.Now,
	}
}

// Set stores a premium-status decision for a nickname. Unknown results are
// not cached.
func (p *PremiumCache) Set(name string, result identity.Result) {
	if !result.Status.Cacheable() {
		return
	}
	now := p.now()
	p.entries.Store(identity.Key(name), &PremiumEntry{
		Result:     result,
		InsertedAt: now,
		staleAt:    now.Add(time.Duration(float64(p.ttl) * p.softFraction)),
		expiresAt:  now.Add(p.ttl),
	})
}

// Get returns the cached premium-status entry for a nickname. Hard-expired
// entries are evicted and reported as a miss; stale-but-usable entries are
// returned with IsStale()=true so the caller can revalidate in the
// background.
func (p *PremiumCache) Get(name string) (*PremiumEntry, bool) {
	key := identity.Key(name)
	raw, ok := p.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := raw.(*PremiumEntry)
	if entry.IsExpiredAt(p.now()) {
		p.entries.Delete(key)
		return nil, false
	}
	return entry, true
}

// Delete evicts the entry for a nickname.
func (p *PremiumCache) Delete(name string) {
	p.entries.Delete(identity.Key(name))
}
