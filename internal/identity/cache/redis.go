// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

// Redis key prefixes for the persistent tier.
const (
	nameKeyPrefix = "resolve:name:"
	idKeyPrefix   = "resolve:id:"
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed persistent tier and verifies the
// connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("CACHE_REDIS_URL_INVALID").Wrap(err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, oops.Code("CACHE_REDIS_UNREACHABLE").Wrap(err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing client. Used by
// tests with miniredis.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close() //nolint:wrapcheck // plain resource close
}

// storedEntry is the wire form of a persisted cache entry.
type storedEntry struct {
	Status        string    `json:"status"`
	ID            string    `json:"id,omitempty"`
	CanonicalName string    `json:"canonical_name,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	InsertedAt    time.Time `json:"inserted_at"`
}

// GetByName retrieves an entry by lowercase name key.
func (s *RedisStore) GetByName(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, nameKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("CACHE_STORE_GET_FAILED").With("name", key).Wrap(err)
	}
	return decodeEntry(data, key)
}

// GetByID retrieves an entry through the id index.
func (s *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	key, err := s.client.Get(ctx, idKeyPrefix+id.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("CACHE_STORE_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return s.GetByName(ctx, key)
}

// Put stores an entry under its name key plus, for confirmed identities, an
// id index pointing back at the name.
func (s *RedisStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	stored := storedEntry{
		Status:        entry.Result.Status.String(),
		CanonicalName: entry.Result.CanonicalName,
		Provider:      entry.Result.Provider,
		InsertedAt:    entry.InsertedAt,
	}
	if entry.Result.ID != uuid.Nil {
		stored.ID = entry.Result.ID.String()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return oops.Code("CACHE_STORE_PUT_FAILED").With("name", key).Wrap(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, nameKeyPrefix+key, data, ttl)
	if stored.ID != "" {
		pipe.Set(ctx, idKeyPrefix+stored.ID, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("CACHE_STORE_PUT_FAILED").With("name", key).Wrap(err)
	}
	return nil
}

func decodeEntry(data []byte, key string) (*Entry, error) {
	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, oops.Code("CACHE_STORE_CORRUPT").With("name", key).Wrap(err)
	}

	result := identity.Result{
		CanonicalName: stored.CanonicalName,
		Provider:      stored.Provider,
	}
	switch stored.Status {
	case identity.StatusPremium.String():
		result.Status = identity.StatusPremium
	case identity.StatusOffline.String():
		result.Status = identity.StatusOffline
	default:
		return nil, oops.Code("CACHE_STORE_CORRUPT").
			With("name", key).
			With("status", stored.Status).
			Errorf("unexpected persisted status")
	}

	if stored.ID != "" {
		id, err := identity.ParseID(stored.ID)
		if err != nil {
			return nil, oops.Code("CACHE_STORE_CORRUPT").With("name", key).Wrap(err)
		}
		result.ID = id
	}

	return &Entry{Result: result, InsertedAt: stored.InsertedAt}, nil
}
