// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package record holds persisted player account records and the coordinator
// that keeps them consistent with the authorization cache.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// ErrStoreUnavailable is returned when the backing store is unreachable. It
// is deliberately distinct from ErrNotFound: an unreachable store must fail
// the operation explicitly, never degrade to "not found".
var ErrStoreUnavailable = errors.New("record store unavailable")

// PlayerRecord is a persisted account record. LowercaseKey is the unique,
// case-insensitive primary key.
type PlayerRecord struct {
	Nickname     string
	LowercaseKey string

	// CredentialHash is nil only for remote-confirmed-only accounts, which
	// authenticate through their remote identity instead of a password.
	CredentialHash *string

	// RemoteIdentityID is the remote-confirmed id as stored. It is parsed on
	// use; an unparsable value is treated as "no stored id".
	RemoteIdentityID *string

	ConflictMode     bool
	ConflictAt       *time.Time
	OriginalNickname *string

	LoginIP      string
	LastLoginAt  *time.Time
	RegisteredAt time.Time
}

// NewLocalRecord creates a record for a locally-registered account.
func NewLocalRecord(nickname, credentialHash, loginIP string) (*PlayerRecord, error) {
	if err := identity.ValidateName(nickname); err != nil {
		return nil, err
	}
	if credentialHash == "" {
		return nil, oops.Code("RECORD_MISSING_CREDENTIAL").
			Errorf("local record requires a credential hash")
	}
	now := time.Now()
	return &PlayerRecord{
		Nickname:       nickname,
		LowercaseKey:   identity.Key(nickname),
		CredentialHash: &credentialHash,
		LoginIP:        loginIP,
		RegisteredAt:   now,
	}, nil
}

// NewPremiumRecord creates a record for a remote-confirmed-only account. Such
// records carry no credential hash; the remote identity is the credential.
func NewPremiumRecord(nickname string, remoteID uuid.UUID, loginIP string) (*PlayerRecord, error) {
	if err := identity.ValidateName(nickname); err != nil {
		return nil, err
	}
	if remoteID == uuid.Nil {
		return nil, oops.Code("RECORD_MISSING_REMOTE_ID").
			Errorf("premium record requires a remote identity id")
	}
	idStr := remoteID.String()
	now := time.Now()
	return &PlayerRecord{
		Nickname:         nickname,
		LowercaseKey:     identity.Key(nickname),
		RemoteIdentityID: &idStr,
		LoginIP:          loginIP,
		RegisteredAt:     now,
	}, nil
}

// Validate rejects records that normal flows must never produce. A record
// with neither a credential hash nor a remote id cannot authenticate at all.
func (r *PlayerRecord) Validate() error {
	if r.LowercaseKey == "" {
		return oops.Code("RECORD_MISSING_KEY").Errorf("record has no lowercase key")
	}
	if r.CredentialHash == nil && r.RemoteIdentityID == nil {
		return oops.Code("RECORD_INVALID").
			With("nickname", r.Nickname).
			Errorf("record has neither credential hash nor remote identity")
	}
	return nil
}

// PrimaryID returns the deterministic local identity id for this record's
// nickname.
func (r *PlayerRecord) PrimaryID() uuid.UUID {
	return identity.OfflineID(r.Nickname)
}

// RemoteID parses the stored remote identity id. A nil or unparsable stored
// id reports false and falls through to other checks.
func (r *PlayerRecord) RemoteID() (uuid.UUID, bool) {
	if r.RemoteIdentityID == nil {
		return uuid.Nil, false
	}
	id, err := identity.ParseID(*r.RemoteIdentityID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// IsRemoteConfirmed reports whether the record carries a parsable remote id.
func (r *PlayerRecord) IsRemoteConfirmed() bool {
	_, ok := r.RemoteID()
	return ok
}

// MarkConflicted transitions the record into conflict mode: the remote-path
// fast-track is suspended until external resolution, regardless of any fresh
// premium confirmation.
func (r *PlayerRecord) MarkConflicted(at time.Time) {
	if r.ConflictMode {
		return
	}
	r.ConflictMode = true
	r.ConflictAt = &at
	original := r.Nickname
	r.OriginalNickname = &original
}

// RecordLogin updates the login bookkeeping fields.
func (r *PlayerRecord) RecordLogin(ip string, at time.Time) {
	r.LoginIP = ip
	r.LastLoginAt = &at
}

// Clone returns a deep copy, keeping cached records isolated from caller
// mutation.
func (r *PlayerRecord) Clone() *PlayerRecord {
	c := *r
	c.CredentialHash = clonePtr(r.CredentialHash)
	c.RemoteIdentityID = clonePtr(r.RemoteIdentityID)
	c.ConflictAt = clonePtr(r.ConflictAt)
	c.OriginalNickname = clonePtr(r.OriginalNickname)
	c.LastLoginAt = clonePtr(r.LastLoginAt)
	return &c
}

// Equal reports whether two records have identical content.
func (r *PlayerRecord) Equal(other *PlayerRecord) bool {
	if other == nil {
		return false
	}
	return r.Nickname == other.Nickname &&
		r.LowercaseKey == other.LowercaseKey &&
		ptrEqual(r.CredentialHash, other.CredentialHash) &&
		ptrEqual(r.RemoteIdentityID, other.RemoteIdentityID) &&
		r.ConflictMode == other.ConflictMode &&
		timePtrEqual(r.ConflictAt, other.ConflictAt) &&
		ptrEqual(r.OriginalNickname, other.OriginalNickname) &&
		r.LoginIP == other.LoginIP &&
		timePtrEqual(r.LastLoginAt, other.LastLoginAt) &&
		r.RegisteredAt.Equal(other.RegisteredAt)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Repository manages player record persistence. Every operation first checks
// a live-connection precondition and returns ErrStoreUnavailable when the
// backing store is unreachable.
type Repository interface {
	// FindByKey retrieves a record by lowercase key.
	// Returns ErrNotFound when absent.
	FindByKey(ctx context.Context, key string) (*PlayerRecord, error)

	// Upsert inserts or replaces a record keyed by LowercaseKey.
	Upsert(ctx context.Context, rec *PlayerRecord) error

	// Delete removes a record. Deleting an absent record returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// List returns records ordered by registration time.
	List(ctx context.Context, limit, offset int) ([]*PlayerRecord, error)
}
