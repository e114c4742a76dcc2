// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package authcache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Authorization(t *testing.T) {
	id := uuid.New()

	t.Run("authorized identity with matching origin", func(t *testing.T) {
		c := New(nil)
		c.Authorize(id, "192.0.2.1")
		assert.True(t, c.IsPlayerAuthorized(id, "192.0.2.1"))
	})

	t.Run("origin mismatch denies", func(t *testing.T) {
		c := New(nil)
		c.Authorize(id, "192.0.2.1")
		assert.False(t, c.IsPlayerAuthorized(id, "198.51.100.9"))
	})

	t.Run("missing origin data is permissive", func(t *testing.T) {
		c := New(nil)
		c.Authorize(id, "")
		assert.True(t, c.IsPlayerAuthorized(id, "192.0.2.1"))

		c.Authorize(id, "192.0.2.1")
		assert.True(t, c.IsPlayerAuthorized(id, ""))
	})

	t.Run("unknown identity denies", func(t *testing.T) {
		c := New(nil)
		assert.False(t, c.IsPlayerAuthorized(uuid.New(), "192.0.2.1"))
	})

	t.Run("deauthorize removes the entry", func(t *testing.T) {
		c := New(nil)
		c.Authorize(id, "")
		c.Deauthorize(id)
		assert.False(t, c.IsPlayerAuthorized(id, ""))
	})
}

func TestCache_Sessions(t *testing.T) {
	id := uuid.New()
	remote := uuid.New()

	t.Run("start and query a session", func(t *testing.T) {
		c := New(nil)
		s := c.StartSession(id, "Steve", "192.0.2.1", true, remote)

		require.NotNil(t, s)
		assert.True(t, s.PremiumAtStart)
		assert.Equal(t, remote, s.RemoteIdentityID)
		assert.True(t, c.HasActiveSession(id, "Steve", "192.0.2.1"))
		assert.True(t, c.HasActiveSession(id, "steve", "192.0.2.1"), "nickname match is case-insensitive")
	})

	t.Run("session requires matching nickname", func(t *testing.T) {
		c := New(nil)
		c.StartSession(id, "Steve", "", false, uuid.Nil)
		assert.False(t, c.HasActiveSession(id, "Alex", ""))
	})

	t.Run("authorization alone is not a session", func(t *testing.T) {
		c := New(nil)
		c.Authorize(id, "")
		assert.False(t, c.HasActiveSession(id, "Steve", ""))
	})

	t.Run("start is idempotent", func(t *testing.T) {
		c := New(nil)
		first := c.StartSession(id, "Steve", "", false, uuid.Nil)
		second := c.StartSession(id, "Steve", "", false, uuid.Nil)
		assert.Same(t, first, second)
		assert.Equal(t, 1, c.SessionCount())
	})

	t.Run("end is idempotent", func(t *testing.T) {
		c := New(nil)
		c.StartSession(id, "Steve", "", false, uuid.Nil)
		c.EndSession(id)
		c.EndSession(id)
		assert.Equal(t, 0, c.SessionCount())
		assert.False(t, c.HasActiveSession(id, "Steve", ""))
	})
}

func TestCache_Invalidate(t *testing.T) {
	c := New(nil)
	id := uuid.New()

	c.StartSession(id, "Steve", "", false, uuid.Nil)
	c.Authorize(id, "")
	c.PremiumStatus().Set("Steve", premiumResult("Steve"))

	c.Invalidate("steve")

	assert.False(t, c.IsPlayerAuthorized(id, ""), "record change must drop derived authorization")
	_, ok := c.PremiumStatus().Get("Steve")
	assert.False(t, ok)

	// The session itself survives; only derived decisions are dropped.
	assert.True(t, c.HasActiveSession(id, "Steve", ""))
}
