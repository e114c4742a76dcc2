// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package identity defines the core types for account identity resolution:
// the premium/offline status model, resolution results, nickname validation,
// and identity-id parsing for the formats remote providers use.
package identity

import (
	"crypto/md5" //nolint:gosec // MD5 is the protocol-mandated derivation for offline ids, not a security primitive here.
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Status classifies the outcome of an identity resolution.
type Status int

const (
	// StatusUnknown means resolution could not be completed. Unknown results
	// are never cached durably and must collapse to denial when no cached
	// decision exists.
	StatusUnknown Status = iota

	// StatusOffline means the name is not centrally verifiable and must use
	// the local-credential path.
	StatusOffline

	// StatusPremium means a remote provider confirmed ownership of the name.
	StatusPremium
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusPremium:
		return "premium"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Cacheable reports whether a result with this status may be written to a
// cache tier. Unknown results live only for the in-flight call.
func (s Status) Cacheable() bool {
	return s == StatusPremium || s == StatusOffline
}

// Result is the immutable outcome of resolving a name against the provider
// pool or a cache tier.
type Result struct {
	// Status is the resolved classification.
	Status Status

	// ID is the stable remote identity id. Zero (uuid.Nil) when the provider
	// did not confirm an identity.
	ID uuid.UUID

	// CanonicalName is the name the provider reports as authoritative for ID.
	// Empty when unconfirmed.
	CanonicalName string

	// Provider names the provider that produced this result, or "cache" for
	// values served from a cache tier.
	Provider string

	// Message carries a short human-readable reason (e.g. "rate limited").
	Message string
}

// Nickname validation constraints. Names outside these rules resolve to
// offline immediately, without any network cost.
const (
	MinNameLength = 3
	MaxNameLength = 16
)

// nameRegex matches nicknames containing only letters, digits and underscores.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateName validates a connecting nickname against the fixed
// charset/length rule.
func ValidateName(name string) error {
	if len(name) < MinNameLength {
		return oops.Code("IDENTITY_INVALID_NAME").
			With("min", MinNameLength).
			Errorf("name must be at least %d characters", MinNameLength)
	}
	if len(name) > MaxNameLength {
		return oops.Code("IDENTITY_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return oops.Code("IDENTITY_INVALID_NAME").
			Errorf("name contains invalid characters")
	}
	return nil
}

// Key returns the canonical cache key for a nickname.
func Key(name string) string {
	return strings.ToLower(name)
}

// ParseID parses a remote identity id in dashed canonical form.
func ParseID(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, oops.Code("IDENTITY_INVALID_ID").
			With("length", len(s)).
			Errorf("identity id must be 36 characters in dashed form")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, oops.Code("IDENTITY_INVALID_ID").Wrap(err)
	}
	return id, nil
}

// ParseFlatID parses a flat 32-hex-digit identity id, reformatting it into
// canonical dashed syntax. Some providers deliver ids without dashes.
func ParseFlatID(s string) (uuid.UUID, error) {
	if len(s) != 32 {
		return uuid.Nil, oops.Code("IDENTITY_INVALID_ID").
			With("length", len(s)).
			Errorf("flat identity id must be 32 hex digits")
	}
	dashed := s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	id, err := uuid.Parse(dashed)
	if err != nil {
		return uuid.Nil, oops.Code("IDENTITY_INVALID_ID").Wrap(err)
	}
	return id, nil
}

// OfflineID derives the deterministic local identity id for a nickname, using
// the version-3 MD5 construction over "OfflinePlayer:<name>" that offline-mode
// servers expect.
func OfflineID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name)) //nolint:gosec // protocol-mandated derivation
	sum[6] = (sum[6] & 0x0f) | 0x30                 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80                 // IETF variant
	id, _ := uuid.FromBytes(sum[:])
	return id
}
