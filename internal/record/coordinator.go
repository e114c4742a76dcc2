// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package record

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/stonegate-mc/stonegate/internal/worker"
)

// Invalidator receives a notification whenever a record changes, so decisions
// derived from the old state can be dropped.
type Invalidator interface {
	Invalidate(lowercaseKey string)
}

// Coordinator fronts the record repository with a read-through cache and an
// asynchronous invalidation channel toward the authorization cache. The
// invalidator is a non-owning, optional handle: the coordinator degrades to a
// no-op notifier when none is attached.
type Coordinator struct {
	repo   Repository
	tasks  *worker.Pool
	logger *slog.Logger

	cache sync.Map // lowercaseKey -> *PlayerRecord

	mu          sync.RWMutex
	invalidator Invalidator
}

// NewCoordinator creates a record coordinator.
func NewCoordinator(repo Repository, tasks *worker.Pool, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:   repo,
		tasks:  tasks,
		logger: logger,
	}
}

// SetInvalidator attaches the invalidation observer. Pass nil to detach.
func (c *Coordinator) SetInvalidator(inv Invalidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidator = inv
}

// FindByKey returns the record for a lowercase key, consulting the local
// cache first. A cached record whose key no longer matches the requested key
// is evicted and re-fetched rather than trusted. Store errors propagate
// explicitly; an unreachable store never reads as "not found".
func (c *Coordinator) FindByKey(ctx context.Context, key string) (*PlayerRecord, error) {
	if raw, ok := c.cache.Load(key); ok {
		cached := raw.(*PlayerRecord)
		if cached.LowercaseKey == key {
			return cached.Clone(), nil
		}
		// Key drift means the cache is corrupt for this entry; self-heal by
		// eviction and re-fetch.
		c.cache.Delete(key)
		c.logger.Warn("evicted record cache entry with mismatched key",
			slog.String("requested", key),
			slog.String("cached", cached.LowercaseKey))
	}

	rec, err := c.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err //nolint:wrapcheck // repository errors carry their own context
	}
	c.cache.Store(key, rec.Clone())
	return rec, nil
}

// Save persists a record, updates the local cache synchronously, and then
// asynchronously notifies the invalidation observer. Saving content identical
// to the cached state skips the notification, so repeated identical saves
// produce at most one.
func (c *Coordinator) Save(ctx context.Context, rec *PlayerRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var previous *PlayerRecord
	if raw, ok := c.cache.Load(rec.LowercaseKey); ok {
		previous = raw.(*PlayerRecord)
	}

	if err := c.repo.Upsert(ctx, rec); err != nil {
		return oops.Code("RECORD_SAVE_FAILED").
			With("key", rec.LowercaseKey).
			Wrap(err)
	}

	c.cache.Store(rec.LowercaseKey, rec.Clone())

	if previous == nil || !previous.Equal(rec) {
		c.notify(rec.LowercaseKey)
	}
	return nil
}

// Delete removes a record, evicts it from the cache, and notifies the
// invalidation observer.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	if err := c.repo.Delete(ctx, key); err != nil {
		return err //nolint:wrapcheck // repository errors carry their own context
	}
	c.cache.Delete(key)
	c.notify(key)
	return nil
}

// MatchesIdentity reports whether a record belongs to the presented identity:
// either its primary id or its remote-confirmed id matches. Records in
// conflict mode bypass the match entirely so the offline-recovery path can
// proceed.
func (c *Coordinator) MatchesIdentity(rec *PlayerRecord, presented uuid.UUID) bool {
	if rec == nil || rec.ConflictMode {
		return false
	}
	if rec.PrimaryID() == presented {
		return true
	}
	if remote, ok := rec.RemoteID(); ok && remote == presented {
		return true
	}
	return false
}

// Count returns the number of stored records.
func (c *Coordinator) Count(ctx context.Context) (int64, error) {
	return c.repo.Count(ctx) //nolint:wrapcheck // repository errors carry their own context
}

// List returns stored records ordered by registration time.
func (c *Coordinator) List(ctx context.Context, limit, offset int) ([]*PlayerRecord, error) {
	return c.repo.List(ctx, limit, offset) //nolint:wrapcheck // repository errors carry their own context
}

// Evict drops a cached record without touching the store.
func (c *Coordinator) Evict(key string) {
	c.cache.Delete(key)
}

// notify delivers an invalidation asynchronously. Failures are logged only;
// record mutation must never block on, or fail because of, a slow or absent
// observer.
func (c *Coordinator) notify(key string) {
	c.mu.RLock()
	inv := c.invalidator
	c.mu.RUnlock()
	if inv == nil {
		return
	}

	err := c.tasks.Submit(func(_ context.Context) {
		inv.Invalidate(key)
	})
	if err != nil {
		c.logger.Debug("invalidation notification dropped",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
