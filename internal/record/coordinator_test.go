// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package record

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stonegate-mc/stonegate/internal/worker"
)

// fakeRepo is an in-memory Repository for coordinator tests.
type fakeRepo struct {
	mu          sync.Mutex
	records     map[string]*PlayerRecord
	unavailable bool
	finds       atomic.Int32
	upserts     atomic.Int32
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*PlayerRecord)}
}

func (r *fakeRepo) FindByKey(_ context.Context, key string) (*PlayerRecord, error) {
	r.finds.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return nil, ErrStoreUnavailable
	}
	rec, ok := r.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *fakeRepo) Upsert(_ context.Context, rec *PlayerRecord) error {
	r.upserts.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return ErrStoreUnavailable
	}
	r.records[rec.LowercaseKey] = rec.Clone()
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return ErrStoreUnavailable
	}
	if _, ok := r.records[key]; !ok {
		return ErrNotFound
	}
	delete(r.records, key)
	return nil
}

func (r *fakeRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return 0, ErrStoreUnavailable
	}
	return int64(len(r.records)), nil
}

func (r *fakeRepo) List(_ context.Context, _, _ int) ([]*PlayerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return nil, ErrStoreUnavailable
	}
	out := make([]*PlayerRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// recordingInvalidator counts invalidation notifications per key.
type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (i *recordingInvalidator) Invalidate(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = append(i.keys, key)
}

func (i *recordingInvalidator) count(key string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, k := range i.keys {
		if k == key {
			n++
		}
	}
	return n
}

func startTasks(t *testing.T) *worker.Pool {
	t.Helper()
	tasks := worker.New(worker.Config{Workers: 2, QueueSize: 32}, nil)
	require.NoError(t, tasks.Start())
	t.Cleanup(tasks.Stop)
	return tasks
}

func mustLocalRecord(t *testing.T, nickname string) *PlayerRecord {
	t.Helper()
	rec, err := NewLocalRecord(nickname, "hash", "192.0.2.1")
	require.NoError(t, err)
	return rec
}

func TestCoordinator_ReadThrough(t *testing.T) {
	repo := newFakeRepo()
	c := NewCoordinator(repo, startTasks(t), nil)

	rec := mustLocalRecord(t, "Steve")
	require.NoError(t, c.Save(context.Background(), rec))

	got, err := c.FindByKey(context.Background(), "steve")
	require.NoError(t, err)
	assert.Equal(t, "Steve", got.Nickname)
	assert.Equal(t, int32(0), repo.finds.Load(), "save should have primed the cache")

	c.Evict("steve")
	_, err = c.FindByKey(context.Background(), "steve")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.finds.Load())
}

func TestCoordinator_StoreUnavailableIsExplicit(t *testing.T) {
	repo := newFakeRepo()
	repo.unavailable = true
	c := NewCoordinator(repo, startTasks(t), nil)

	_, err := c.FindByKey(context.Background(), "steve")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrNotFound, "unreachable store must never read as not-found")
}

func TestCoordinator_KeyDriftSelfHeals(t *testing.T) {
	repo := newFakeRepo()
	c := NewCoordinator(repo, startTasks(t), nil)

	rec := mustLocalRecord(t, "Steve")
	require.NoError(t, repo.Upsert(context.Background(), rec))

	// Poison the cache with an entry whose key does not match its slot.
	drifted := mustLocalRecord(t, "Alex")
	c.cache.Store("steve", drifted)

	got, err := c.FindByKey(context.Background(), "steve")
	require.NoError(t, err)
	assert.Equal(t, "steve", got.LowercaseKey, "drifted entry must be evicted and re-fetched")
	assert.Equal(t, int32(1), repo.finds.Load())
}

func TestCoordinator_SaveIdempotence(t *testing.T) {
	repo := newFakeRepo()
	inv := &recordingInvalidator{}
	c := NewCoordinator(repo, startTasks(t), nil)
	c.SetInvalidator(inv)

	rec := mustLocalRecord(t, "Steve")
	require.NoError(t, c.Save(context.Background(), rec))
	require.NoError(t, c.Save(context.Background(), rec.Clone()))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "identical saves yield one stored row")

	assert.Eventually(t, func() bool {
		return inv.count("steve") == 1
	}, time.Second, 5*time.Millisecond, "identical saves yield at most one invalidation")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, inv.count("steve"))
}

func TestCoordinator_SaveChangedContentNotifies(t *testing.T) {
	repo := newFakeRepo()
	inv := &recordingInvalidator{}
	c := NewCoordinator(repo, startTasks(t), nil)
	c.SetInvalidator(inv)

	rec := mustLocalRecord(t, "Steve")
	require.NoError(t, c.Save(context.Background(), rec))

	changed := rec.Clone()
	changed.RecordLogin("198.51.100.9", time.Now())
	require.NoError(t, c.Save(context.Background(), changed))

	assert.Eventually(t, func() bool {
		return inv.count("steve") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_NoInvalidatorIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	c := NewCoordinator(repo, startTasks(t), nil)

	// No observer attached: save must still succeed.
	require.NoError(t, c.Save(context.Background(), mustLocalRecord(t, "Steve")))

	// Attaching and detaching works too.
	inv := &recordingInvalidator{}
	c.SetInvalidator(inv)
	c.SetInvalidator(nil)
	require.NoError(t, c.Delete(context.Background(), "steve"))
}

func TestCoordinator_SaveRejectsInvalidRecord(t *testing.T) {
	c := NewCoordinator(newFakeRepo(), startTasks(t), nil)
	err := c.Save(context.Background(), &PlayerRecord{Nickname: "Steve", LowercaseKey: "steve"})
	require.Error(t, err)
}

func TestCoordinator_MatchesIdentity(t *testing.T) {
	c := NewCoordinator(newFakeRepo(), startTasks(t), nil)

	t.Run("primary id matches", func(t *testing.T) {
		rec := mustLocalRecord(t, "Steve")
		assert.True(t, c.MatchesIdentity(rec, rec.PrimaryID()))
	})

	t.Run("remote id matches", func(t *testing.T) {
		remote := uuid.New()
		rec, err := NewPremiumRecord("Steve", remote, "")
		require.NoError(t, err)
		assert.True(t, c.MatchesIdentity(rec, remote))
	})

	t.Run("foreign id does not match", func(t *testing.T) {
		rec := mustLocalRecord(t, "Steve")
		assert.False(t, c.MatchesIdentity(rec, uuid.New()))
	})

	t.Run("conflict mode bypasses the match", func(t *testing.T) {
		rec := mustLocalRecord(t, "Steve")
		rec.MarkConflicted(time.Now())
		assert.False(t, c.MatchesIdentity(rec, rec.PrimaryID()))
	})

	t.Run("nil record does not match", func(t *testing.T) {
		assert.False(t, c.MatchesIdentity(nil, uuid.New()))
	})
}

func TestCoordinator_DeleteEvictsAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	inv := &recordingInvalidator{}
	c := NewCoordinator(repo, startTasks(t), nil)
	c.SetInvalidator(inv)

	require.NoError(t, c.Save(context.Background(), mustLocalRecord(t, "Steve")))
	require.NoError(t, c.Delete(context.Background(), "steve"))

	_, err := c.FindByKey(context.Background(), "steve")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Eventually(t, func() bool {
		return inv.count("steve") == 2 // one for save, one for delete
	}, time.Second, 5*time.Millisecond)
}
