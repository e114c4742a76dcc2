// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	t.Run("accepts valid names", func(t *testing.T) {
		for _, name := range []string{"Steve", "alex_123", "x_x", "A1234567890bcdef"} {
			assert.NoError(t, ValidateName(name), name)
		}
	})

	t.Run("rejects short names", func(t *testing.T) {
		require.Error(t, ValidateName("ab"))
		require.Error(t, ValidateName(""))
	})

	t.Run("rejects long names", func(t *testing.T) {
		require.Error(t, ValidateName("abcdefghijklmnopq"))
	})

	t.Run("rejects invalid characters", func(t *testing.T) {
		for _, name := range []string{"has space", "dash-ed", "ünïcode", "semi;colon"} {
			assert.Error(t, ValidateName(name), name)
		}
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "steve", Key("Steve"))
	assert.Equal(t, "steve", Key("STEVE"))
}

func TestParseID(t *testing.T) {
	t.Run("parses dashed canonical form", func(t *testing.T) {
		id, err := ParseID("069a79f4-44e9-4726-a5be-fca90e38aaf5")
		require.NoError(t, err)
		assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", id.String())
	})

	t.Run("rejects flat form", func(t *testing.T) {
		_, err := ParseID("069a79f444e94726a5befca90e38aaf5")
		require.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseID("not-an-id-at-all-really-not-one-xx36")
		require.Error(t, err)
	})
}

func TestParseFlatID(t *testing.T) {
	t.Run("reformats 32 hex digits into canonical form", func(t *testing.T) {
		id, err := ParseFlatID("069a79f444e94726a5befca90e38aaf5")
		require.NoError(t, err)
		assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", id.String())
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseFlatID("069a79f4")
		require.Error(t, err)
	})

	t.Run("rejects non-hex input", func(t *testing.T) {
		_, err := ParseFlatID("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
		require.Error(t, err)
	})
}

func TestOfflineID(t *testing.T) {
	t.Run("is deterministic per name", func(t *testing.T) {
		assert.Equal(t, OfflineID("Steve"), OfflineID("Steve"))
		assert.NotEqual(t, OfflineID("Steve"), OfflineID("Alex"))
	})

	t.Run("is case sensitive", func(t *testing.T) {
		assert.NotEqual(t, OfflineID("Steve"), OfflineID("steve"))
	})

	t.Run("has version 3 and IETF variant bits", func(t *testing.T) {
		id := OfflineID("Steve")
		assert.Equal(t, uuid.Version(3), id.Version())
		assert.Equal(t, uuid.RFC4122, id.Variant())
	})
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusPremium.Cacheable())
	assert.True(t, StatusOffline.Cacheable())
	assert.False(t, StatusUnknown.Cacheable())

	assert.Equal(t, "premium", StatusPremium.String())
	assert.Equal(t, "offline", StatusOffline.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}
