// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package conflict implements the nickname-conflict state machine that
// decides, for a remote-confirmed identity, between the premium fast path, a
// downgrade to local-credential authentication, and an outright security
// denial.
package conflict

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stonegate-mc/stonegate/internal/record"
	"github.com/stonegate-mc/stonegate/internal/worker"
)

// Action is the decision for a remote-confirmed connection attempt.
type Action int

const (
	// ActionFastTrack admits the identity on the premium path.
	ActionFastTrack Action = iota

	// ActionLocalAuth forces the identity onto the local-credential path.
	ActionLocalAuth

	// ActionDeny rejects the attempt outright as a security event.
	ActionDeny
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionFastTrack:
		return "fast_track"
	case ActionLocalAuth:
		return "local_auth"
	default:
		return "deny"
	}
}

// Decision pairs an action with its reason.
type Decision struct {
	Action Action
	Reason string
}

// Machine evaluates nickname collisions between remote-confirmed and local
// identities. Conflict transitions are persisted asynchronously; evaluation
// never blocks on the store.
type Machine struct {
	records *record.Coordinator
	tasks   *worker.Pool
	logger  *slog.Logger

	now func() time.Time
}

// NewMachine creates a conflict state machine.
func NewMachine(records *record.Coordinator, tasks *worker.Pool, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		records: records,
		tasks:   tasks,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate decides how a remote-confirmed identity presenting the given id
// may use the nickname bound to rec. A nil rec means the nickname is unbound
// and the fast path is open.
//
// The transition CLEAN to CONFLICTED fires when the nickname is bound to a
// local record that is not remote-confirmed; the record is marked and
// persisted in the background while the identity is downgraded to the
// local-credential path. A record already confirmed under a different remote
// id is a name-sniping attempt and is denied outright.
func (m *Machine) Evaluate(ctx context.Context, rec *record.PlayerRecord, presented uuid.UUID) Decision {
	if rec == nil {
		return Decision{Action: ActionFastTrack, Reason: "nickname unbound"}
	}

	// Conflict mode is sticky: a fresh premium confirmation does not restore
	// the fast path.
	if rec.ConflictMode {
		return Decision{Action: ActionLocalAuth, Reason: "conflict mode active"}
	}

	if stored, ok := rec.RemoteID(); ok {
		if stored == presented {
			return Decision{Action: ActionFastTrack, Reason: "remote id matches record"}
		}

		m.logger.Warn("denied name-sniping attempt",
			slog.String("nickname", rec.Nickname),
			slog.String("stored_id", stored.String()),
			slog.String("presented_id", presented.String()),
			slog.Bool("security_event", true))
		return Decision{Action: ActionDeny, Reason: "remote id mismatch"}
	}

	// No usable stored id: a local-credential record now collides with a
	// remote-confirmed identity.
	if rec.CredentialHash == nil {
		// A record with neither credential nor remote id must never exist;
		// refuse to guess if one slips through.
		m.logger.Error("record has neither credential hash nor remote id",
			slog.String("nickname", rec.Nickname))
		return Decision{Action: ActionDeny, Reason: "invalid record"}
	}

	m.markConflicted(ctx, rec)
	return Decision{Action: ActionLocalAuth, Reason: "nickname collision"}
}

// markConflicted transitions the record to CONFLICTED and persists it in the
// background. Persistence failures are logged and retried implicitly on the
// next evaluation, since the in-store record remains CLEAN.
func (m *Machine) markConflicted(_ context.Context, rec *record.PlayerRecord) {
	marked := rec.Clone()
	marked.MarkConflicted(m.now())

	m.logger.Warn("nickname collision, record entering conflict mode",
		slog.String("nickname", rec.Nickname),
		slog.Bool("security_event", true))

	err := m.tasks.Submit(func(taskCtx context.Context) {
		if saveErr := m.records.Save(taskCtx, marked); saveErr != nil {
			m.logger.Error("failed to persist conflict transition",
				slog.String("nickname", marked.Nickname),
				slog.String("error", saveErr.Error()))
		}
	})
	if err != nil {
		m.logger.Error("conflict persistence not scheduled",
			slog.String("nickname", rec.Nickname),
			slog.String("error", err.Error()))
	}
}
