// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/stonegate-mc/stonegate/internal/authcache"
	"github.com/stonegate-mc/stonegate/internal/identity"
	"github.com/stonegate-mc/stonegate/internal/record"
)

// Sentinel errors of the local-credential path.
var (
	ErrInvalidCredentials = oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid name or password")
	ErrAlreadyRegistered  = oops.Code("AUTH_ALREADY_REGISTERED").Errorf("name is already registered")
	ErrNotRegistered      = oops.Code("AUTH_NOT_REGISTERED").Errorf("name is not registered")
	ErrOriginBlocked      = oops.Code("AUTH_ORIGIN_BLOCKED").Errorf("origin is temporarily blocked")
	ErrRemoteOnlyAccount  = oops.Code("AUTH_REMOTE_ONLY").Errorf("account has no local credentials")
)

// dummyPasswordHash is used when a record doesn't exist to prevent timing
// attacks. Verification still runs to keep response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service implements registration and login for locally-authenticated
// accounts over the player-record coordinator.
type Service struct {
	records *record.Coordinator
	auth    *authcache.Cache
	hasher  PasswordHasher
	logger  *slog.Logger

	now func() time.Time
}

// NewService creates a local-credential auth service.
func NewService(records *record.Coordinator, auth *authcache.Cache, hasher PasswordHasher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records: records,
		auth:    auth,
		hasher:  hasher,
		logger:  logger,
		now:     time.Now,
	}
}

// Register creates a local record for an unclaimed name and starts a session.
func (s *Service) Register(ctx context.Context, name, password, origin string) (*authcache.Session, error) {
	if s.auth.IsBlocked(origin) {
		return nil, ErrOriginBlocked
	}
	if err := identity.ValidateName(name); err != nil {
		return nil, oops.Code("AUTH_INVALID_NAME").Wrap(err)
	}

	key := identity.Key(name)
	_, err := s.records.FindByKey(ctx, key)
	switch {
	case err == nil:
		return nil, ErrAlreadyRegistered
	case !errors.Is(err, record.ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check existing record").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	rec, err := record.NewLocalRecord(name, hash, origin)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "build record").
			Wrap(err)
	}
	rec.RecordLogin(origin, s.now())

	if err := s.records.Save(ctx, rec); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "persist record").
			Wrap(err)
	}

	s.logger.Info("registered local account", slog.String("name", key))

	id := rec.PrimaryID()
	s.auth.Authorize(id, origin)
	return s.auth.StartSession(id, rec.Nickname, origin, false, remoteIDOf(rec)), nil
}

// Login authenticates a local account and starts a session. Uses constant-time
// verification so response time does not reveal whether the name exists.
func (s *Service) Login(ctx context.Context, name, password, origin string) (*authcache.Session, error) {
	if s.auth.IsBlocked(origin) {
		return nil, ErrOriginBlocked
	}

	key := identity.Key(name)
	rec, lookupErr := s.records.FindByKey(ctx, key)

	targetHash := dummyPasswordHash
	recordExists := false

	switch {
	case lookupErr == nil:
		if rec.CredentialHash == nil {
			// Remote-only records have no local credentials; logging in
			// against them must not consume a brute-force attempt slot as a
			// mismatch would, but it also never succeeds.
			return nil, ErrRemoteOnlyAccount
		}
		targetHash = *rec.CredentialHash
		recordExists = true
	case errors.Is(lookupErr, record.ErrNotFound):
		// Fall through with the dummy hash.
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find record").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !recordExists {
			return nil, s.failed(origin, ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !recordExists || !valid {
		return nil, s.failed(origin, ErrInvalidCredentials)
	}

	s.auth.ResetLoginAttempts(origin)

	updated := rec.Clone()
	if s.hasher.NeedsUpgrade(targetHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			updated.CredentialHash = &newHash
		}
	}
	updated.RecordLogin(origin, s.now())

	// Login succeeds even when the bookkeeping write fails.
	if err := s.records.Save(ctx, updated); err != nil {
		s.logger.Warn("login bookkeeping write failed",
			slog.String("name", key),
			slog.String("error", err.Error()))
	}

	id := updated.PrimaryID()
	s.auth.Authorize(id, origin)
	return s.auth.StartSession(id, updated.Nickname, origin, false, remoteIDOf(updated)), nil
}

// Logout ends the identity's session and drops its authorization.
func (s *Service) Logout(id uuid.UUID) {
	s.auth.EndSession(id)
	s.auth.Deauthorize(id)
}

// failed records a failed attempt against the origin and returns err.
func (s *Service) failed(origin string, err error) error {
	s.auth.RegisterFailedLogin(origin)
	return err
}

func remoteIDOf(rec *record.PlayerRecord) uuid.UUID {
	if remote, ok := rec.RemoteID(); ok {
		return remote
	}
	return uuid.Nil
}
