// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package record

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

func TestNewLocalRecord(t *testing.T) {
	rec, err := NewLocalRecord("Steve", "$argon2id$hash", "192.0.2.1")
	require.NoError(t, err)

	assert.Equal(t, "Steve", rec.Nickname)
	assert.Equal(t, "steve", rec.LowercaseKey)
	require.NotNil(t, rec.CredentialHash)
	assert.Nil(t, rec.RemoteIdentityID)
	assert.False(t, rec.ConflictMode)
	require.NoError(t, rec.Validate())
}

func TestNewLocalRecord_RequiresHash(t *testing.T) {
	_, err := NewLocalRecord("Steve", "", "")
	require.Error(t, err)
}

func TestNewPremiumRecord(t *testing.T) {
	remote := uuid.New()
	rec, err := NewPremiumRecord("Steve", remote, "192.0.2.1")
	require.NoError(t, err)

	assert.Nil(t, rec.CredentialHash, "premium-only records carry no credential hash")
	got, ok := rec.RemoteID()
	require.True(t, ok)
	assert.Equal(t, remote, got)
	require.NoError(t, rec.Validate())
}

func TestNewPremiumRecord_RequiresID(t *testing.T) {
	_, err := NewPremiumRecord("Steve", uuid.Nil, "")
	require.Error(t, err)
}

func TestPlayerRecord_Validate(t *testing.T) {
	rec := &PlayerRecord{Nickname: "Steve", LowercaseKey: "steve"}
	require.Error(t, rec.Validate(), "record with neither hash nor remote id is invalid")
}

func TestPlayerRecord_RemoteID(t *testing.T) {
	t.Run("unparsable stored id is treated as no stored id", func(t *testing.T) {
		bad := "not-a-uuid"
		rec := &PlayerRecord{Nickname: "Steve", LowercaseKey: "steve", RemoteIdentityID: &bad}

		_, ok := rec.RemoteID()
		assert.False(t, ok)
		assert.False(t, rec.IsRemoteConfirmed())
	})

	t.Run("nil stored id", func(t *testing.T) {
		rec := &PlayerRecord{Nickname: "Steve", LowercaseKey: "steve"}
		_, ok := rec.RemoteID()
		assert.False(t, ok)
	})
}

func TestPlayerRecord_MarkConflicted(t *testing.T) {
	rec, err := NewLocalRecord("Steve", "hash", "")
	require.NoError(t, err)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec.MarkConflicted(at)

	assert.True(t, rec.ConflictMode)
	require.NotNil(t, rec.ConflictAt)
	assert.True(t, rec.ConflictAt.Equal(at))
	require.NotNil(t, rec.OriginalNickname)
	assert.Equal(t, "Steve", *rec.OriginalNickname)

	// A second transition does not overwrite the original timestamp.
	rec.MarkConflicted(at.Add(time.Hour))
	assert.True(t, rec.ConflictAt.Equal(at))
}

func TestPlayerRecord_PrimaryID(t *testing.T) {
	rec, err := NewLocalRecord("Steve", "hash", "")
	require.NoError(t, err)
	assert.Equal(t, identity.OfflineID("Steve"), rec.PrimaryID())
}

func TestPlayerRecord_CloneIsolation(t *testing.T) {
	rec, err := NewLocalRecord("Steve", "hash", "192.0.2.1")
	require.NoError(t, err)
	clone := rec.Clone()

	*clone.CredentialHash = "mutated"
	clone.Nickname = "Alex"

	assert.Equal(t, "hash", *rec.CredentialHash)
	assert.Equal(t, "Steve", rec.Nickname)
	assert.True(t, rec.Equal(rec.Clone()))
	assert.False(t, rec.Equal(clone))
}

func TestPlayerRecord_RecordLogin(t *testing.T) {
	rec, err := NewLocalRecord("Steve", "hash", "")
	require.NoError(t, err)

	at := time.Now()
	rec.RecordLogin("198.51.100.9", at)

	assert.Equal(t, "198.51.100.9", rec.LoginIP)
	require.NotNil(t, rec.LastLoginAt)
	assert.True(t, rec.LastLoginAt.Equal(at))
}
