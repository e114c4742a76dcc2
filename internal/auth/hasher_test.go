// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestArgon2idHasher_HashAndVerify(t *testing.T) {
	h := NewArgon2idHasher()

	hash, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := h.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2idHasher_EmptyPassword(t *testing.T) {
	_, err := NewArgon2idHasher().Hash("")
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestArgon2idHasher_UniqueSalts(t *testing.T) {
	h := NewArgon2idHasher()
	a, err := h.Hash("password")
	require.NoError(t, err)
	b, err := h.Hash("password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestArgon2idHasher_InvalidHashFormats(t *testing.T) {
	h := NewArgon2idHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong algorithm", "$scrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"truncated", "$argon2id$v=19$m=65536,t=1,p=4"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Verify("password", tt.hash)
			require.Error(t, err)
		})
	}
}

func TestArgon2idHasher_LegacyBcrypt(t *testing.T) {
	h := NewArgon2idHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify("hunter2", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, h.NeedsUpgrade(string(legacy)))
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	h := NewArgon2idHasher()

	hash, err := h.Hash("password")
	require.NoError(t, err)
	assert.False(t, h.NeedsUpgrade(hash))
	assert.True(t, h.NeedsUpgrade("$2b$10$abcdefghijklmnopqrstuv"))
}
