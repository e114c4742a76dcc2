// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package cache implements the two-tier resolution cache: a bounded in-process
// tier with stale-while-revalidate refresh, backed by a persistent keyed store
// that survives process restarts.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stonegate-mc/stonegate/internal/identity"
	"github.com/stonegate-mc/stonegate/internal/worker"
)

// Default cache configuration. Premium confirmations are trusted longer than
// offline "miss" entries.
const (
	DefaultCapacity     = 10000
	DefaultPremiumTTL   = time.Hour
	DefaultOfflineTTL   = 5 * time.Minute
	DefaultSoftFraction = 0.5

	// evictFraction is the share of oldest entries removed when the bounded
	// tier reaches capacity.
	evictFraction = 0.1
)

// Entry is a cached resolution outcome.
type Entry struct {
	Result     identity.Result
	InsertedAt time.Time
}

// Age returns the entry age relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.InsertedAt)
}

// Resolver produces fresh resolution results on a cache miss.
type Resolver interface {
	Resolve(ctx context.Context, name string) identity.Result
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	capacity     int
	premiumTTL   time.Duration
	offlineTTL   time.Duration
	softFraction float64
	metrics      *metrics
}

type metrics struct {
	hits      *prometheus.CounterVec
	misses    prometheus.Counter
	refreshes prometheus.Counter
	entries   prometheus.Gauge
}

// WithCapacity bounds the in-process tier.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTLs sets the per-status entry lifetimes.
func WithTTLs(premium, offline time.Duration) Option {
	return func(c *config) {
		if premium > 0 {
			c.premiumTTL = premium
		}
		if offline > 0 {
			c.offlineTTL = offline
		}
	}
}

// WithSoftFraction sets the freshness fraction of the TTL past which an entry
// is served stale while a background refresh is scheduled.
func WithSoftFraction(f float64) Option {
	return func(c *config) {
		if f > 0 && f < 1 {
			c.softFraction = f
		}
	}
}

// WithRegistry registers cache metrics with the given Prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *config) {
		m := &metrics{
			hits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stonegate_resolution_cache_hits_total",
				Help: "Total resolution cache hits by tier",
			}, []string{"tier"}),
			misses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stonegate_resolution_cache_misses_total",
				Help: "Total resolution cache misses",
			}),
			refreshes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stonegate_resolution_cache_refreshes_total",
				Help: "Total background refreshes scheduled",
			}),
			entries: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stonegate_resolution_cache_entries",
				Help: "Current number of bounded-tier entries",
			}),
		}
		reg.MustRegister(m.hits, m.misses, m.refreshes, m.entries)
		c.metrics = m
	}
}

// Cache is the two-tier resolution cache. It is safe for concurrent use;
// concurrent misses for the same name may race to the resolver, which is
// acceptable because writes are idempotent and last-write-wins.
type Cache struct {
	entries sync.Map // key -> Entry
	count   atomic.Int64

	// refreshing holds one marker per name with a pending background refresh.
	refreshing sync.Map // key -> struct{}

	store    Store
	resolver Resolver
	tasks    *worker.Pool
	logger   *slog.Logger
	cfg      config

	// evictMu serializes capacity-driven eviction. It is never held across an
	// I/O suspension point.
	evictMu sync.Mutex

	now func() time.Time
}

// New creates a resolution cache. The store may be nil, leaving only the
// bounded tier active.
func New(resolver Resolver, store Store, tasks *worker.Pool, logger *slog.Logger, opts ...Option) *Cache {
	cfg := config{
		capacity:     DefaultCapacity,
		premiumTTL:   DefaultPremiumTTL,
		offlineTTL:   DefaultOfflineTTL,
		softFraction: DefaultSoftFraction,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:    store,
		resolver: resolver,
		tasks:    tasks,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Resolve returns the resolution result for a name, consulting the bounded
// tier, then the persistent tier, then the resolver pool. Stale bounded-tier
// values are served immediately with at most one background refresh pending
// per name.
func (c *Cache) Resolve(ctx context.Context, name string) identity.Result {
	key := identity.Key(name)
	now := c.now()

	if raw, ok := c.entries.Load(key); ok {
		entry := raw.(Entry)
		ttl := c.ttlFor(entry.Result.Status)
		age := entry.Age(now)

		if age < ttl {
			if age >= time.Duration(float64(ttl) * c.cfg.softFraction) {
				c.scheduleRefresh(name, key)
			}
			if c.cfg.metrics != nil {
				c.cfg.metrics.hits.WithLabelValues("memory").Inc()
			}
			return entry.Result
		}

		// Hard-expired entries are re-resolved, not served. LoadAndDelete so
		// two callers racing on the same expired entry decrement exactly once.
		if _, loaded := c.entries.LoadAndDelete(key); loaded {
			c.count.Add(-1)
		}
	}

	if c.store != nil {
		entry, err := c.store.GetByName(ctx, key)
		switch {
		case err == nil:
			c.insert(key, *entry)
			if c.cfg.metrics != nil {
				c.cfg.metrics.hits.WithLabelValues("store").Inc()
			}
			return entry.Result
		case !errors.Is(err, ErrNotFound):
			// A failing persistent tier degrades to resolution, not to a
			// denial; the fail-secure gate lives at admission.
			c.logger.Warn("persistent tier lookup failed",
				slog.String("name", key),
				slog.String("error", err.Error()))
		}
	}

	if c.cfg.metrics != nil {
		c.cfg.metrics.misses.Inc()
	}

	result := c.resolver.Resolve(ctx, name)
	c.writeThrough(ctx, key, result)
	return result
}

// Peek returns the bounded-tier entry for a name without touching the
// persistent tier or scheduling refreshes.
func (c *Cache) Peek(name string) (Entry, bool) {
	raw, ok := c.entries.Load(identity.Key(name))
	if !ok {
		return Entry{}, false
	}
	return raw.(Entry), true
}

// Len returns the bounded-tier entry count.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

func (c *Cache) ttlFor(status identity.Status) time.Duration {
	if status == identity.StatusPremium {
		return c.cfg.premiumTTL
	}
	return c.cfg.offlineTTL
}

// writeThrough stores a resolver outcome in both tiers. Unknown results are
// never persisted beyond the in-flight call.
func (c *Cache) writeThrough(ctx context.Context, key string, result identity.Result) {
	if !result.Status.Cacheable() {
		return
	}

	entry := Entry{Result: result, InsertedAt: c.now()}
	c.insert(key, entry)

	if c.store != nil {
		if err := c.store.Put(ctx, key, entry, c.ttlFor(result.Status)); err != nil {
			c.logger.Warn("persistent tier write failed",
				slog.String("name", key),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Cache) insert(key string, entry Entry) {
	if _, loaded := c.entries.Swap(key, entry); !loaded {
		c.count.Add(1)
	}
	if c.cfg.metrics != nil {
		c.cfg.metrics.entries.Set(float64(c.count.Load()))
	}
	c.evictIfFull()
}

// evictIfFull removes the oldest ~10% of entries by insertion time once the
// bounded tier reaches capacity. The scan runs under a short critical section
// and tolerates concurrent writes; exact recency is not required, only
// eventual re-resolution.
func (c *Cache) evictIfFull() {
	if int(c.count.Load()) <= c.cfg.capacity {
		return
	}

	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if int(c.count.Load()) <= c.cfg.capacity {
		return
	}

	type aged struct {
		key        string
		insertedAt time.Time
	}
	var all []aged
	c.entries.Range(func(k, v any) bool {
		all = append(all, aged{k.(string), v.(Entry).InsertedAt})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return all[i].insertedAt.Before(all[j].insertedAt)
	})

	n := int(float64(len(all)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, a := range all[:n] {
		if _, loaded := c.entries.LoadAndDelete(a.key); loaded {
			c.count.Add(-1)
		}
	}
	if c.cfg.metrics != nil {
		c.cfg.metrics.entries.Set(float64(c.count.Load()))
	}
}

// scheduleRefresh enqueues a fire-and-forget re-resolution for a stale entry.
// At most one refresh is pending per name; failures are logged, never
// surfaced to the caller that observed the stale value.
func (c *Cache) scheduleRefresh(name, key string) {
	if _, pending := c.refreshing.LoadOrStore(key, struct{}{}); pending {
		return
	}

	err := c.tasks.Submit(func(ctx context.Context) {
		defer c.refreshing.Delete(key)

		result := c.resolver.Resolve(ctx, name)
		if !result.Status.Cacheable() {
			c.logger.Debug("background refresh yielded no cacheable result",
				slog.String("name", key),
				slog.String("message", result.Message))
			return
		}
		c.writeThrough(ctx, key, result)
	})
	if err != nil {
		c.refreshing.Delete(key)
		c.logger.Debug("background refresh not scheduled",
			slog.String("name", key),
			slog.String("error", err.Error()))
		return
	}

	if c.cfg.metrics != nil {
		c.cfg.metrics.refreshes.Inc()
	}
}
