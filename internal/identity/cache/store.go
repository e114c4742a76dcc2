// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the persistent tier holds no entry for a key.
var ErrNotFound = errors.New("not found")

// Store is the persistent resolution-cache tier. Entries are keyed by
// identity id and reachable by name, so confirmed premium id/name pairs
// survive process restarts.
type Store interface {
	// GetByName retrieves an entry by lowercase name key.
	// Returns ErrNotFound when absent.
	GetByName(ctx context.Context, key string) (*Entry, error)

	// GetByID retrieves an entry by identity id.
	// Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// Put stores an entry under its name key, and under its identity id when
	// the entry carries one. The ttl bounds how long the entry is kept.
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}
