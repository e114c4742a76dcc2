// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package admission is the orchestrating layer that turns a connection
// attempt into a typed decision. It is the only place where the fail-secure
// default lives: an unknown resolution with no usable cached decision
// collapses to denial, never to silent acceptance.
package admission

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stonegate-mc/stonegate/internal/authcache"
	"github.com/stonegate-mc/stonegate/internal/conflict"
	"github.com/stonegate-mc/stonegate/internal/identity"
	"github.com/stonegate-mc/stonegate/internal/record"
)

// Outcome classifies an admission decision.
type Outcome int

const (
	// OutcomePremium admits the connection on the verified-remote fast path.
	OutcomePremium Outcome = iota

	// OutcomeLocalAuth routes the connection to the local-credential path.
	OutcomeLocalAuth

	// OutcomeDeny rejects the connection.
	OutcomeDeny
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomePremium:
		return "premium"
	case OutcomeLocalAuth:
		return "local_auth"
	default:
		return "deny"
	}
}

// Decision is the typed result of an admission check.
type Decision struct {
	Outcome Outcome
	Reason  string

	// Identity is the resolution backing the decision. For the local-credential
	// path its ID is the name-derived offline id.
	Identity identity.Result

	// Session is set when the fast path started one.
	Session *authcache.Session
}

// Resolver produces a resolution result for a name. Satisfied by the two-tier
// resolution cache.
type Resolver interface {
	Resolve(ctx context.Context, name string) identity.Result
}

// Records is the slice of the record coordinator admission needs.
type Records interface {
	FindByKey(ctx context.Context, key string) (*record.PlayerRecord, error)
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry registers admission metrics with the given Prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stonegate_admission_decisions_total",
			Help: "Total admission decisions by outcome",
		}, []string{"outcome"})
		reg.MustRegister(s.decisions)
	}
}

// Service decides admission for connection attempts.
type Service struct {
	resolutions Resolver
	records     Records
	conflicts   *conflict.Machine
	auth        *authcache.Cache
	logger      *slog.Logger

	decisions *prometheus.CounterVec
}

// New creates an admission service.
func New(resolutions Resolver, records Records, conflicts *conflict.Machine, auth *authcache.Cache, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		resolutions: resolutions,
		records:     records,
		conflicts:   conflicts,
		auth:        auth,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit decides whether the named account connecting from origin may proceed,
// and on which path.
func (s *Service) Admit(ctx context.Context, name, origin string) Decision {
	if s.auth.IsBlocked(origin) {
		return s.decide(Decision{
			Outcome: OutcomeDeny,
			Reason:  "origin blocked",
		}, name)
	}

	result := s.resolutions.Resolve(ctx, name)

	switch result.Status {
	case identity.StatusPremium:
		return s.decide(s.admitPremium(ctx, name, origin, result), name)

	case identity.StatusOffline:
		return s.decide(Decision{
			Outcome:  OutcomeLocalAuth,
			Reason:   "offline identity",
			Identity: result,
		}, name)

	default:
		return s.decide(s.admitUnknown(ctx, name, origin, result), name)
	}
}

// admitPremium runs a verified-remote identity through the conflict state
// machine and, on the fast path, grants authorization and starts the session.
func (s *Service) admitPremium(ctx context.Context, name, origin string, result identity.Result) Decision {
	key := identity.Key(name)

	rec, err := s.records.FindByKey(ctx, key)
	switch {
	case errors.Is(err, record.ErrNotFound):
		rec = nil
	case err != nil:
		// An unreachable store must read as denial, never as "no record".
		s.logger.Error("record lookup failed during admission",
			slog.String("name", key),
			slog.String("error", err.Error()))
		return Decision{
			Outcome:  OutcomeDeny,
			Reason:   "record store unavailable",
			Identity: result,
		}
	}

	d := s.conflicts.Evaluate(ctx, rec, result.ID)
	switch d.Action {
	case conflict.ActionFastTrack:
		s.auth.PremiumStatus().Set(key, result)
		s.auth.Authorize(result.ID, origin)
		session := s.auth.StartSession(result.ID, result.CanonicalName, origin, true, result.ID)
		return Decision{
			Outcome:  OutcomePremium,
			Reason:   d.Reason,
			Identity: result,
			Session:  session,
		}

	case conflict.ActionLocalAuth:
		return Decision{
			Outcome:  OutcomeLocalAuth,
			Reason:   d.Reason,
			Identity: result,
		}

	default:
		return Decision{
			Outcome:  OutcomeDeny,
			Reason:   d.Reason,
			Identity: result,
		}
	}
}

// admitUnknown applies the fail-secure default. The premium-status sub-cache
// is the only acceptable substitute for a live resolution; without it the
// attempt is denied rather than silently downgraded.
func (s *Service) admitUnknown(ctx context.Context, name, origin string, result identity.Result) Decision {
	key := identity.Key(name)

	if entry, ok := s.auth.PremiumStatus().Get(key); ok {
		s.logger.Info("resolution unavailable, using cached premium decision",
			slog.String("name", key),
			slog.Bool("stale", entry.IsStale()))
		return s.admitPremium(ctx, name, origin, entry.Result)
	}

	s.logger.Warn("verification unavailable and no cached decision, denying",
		slog.String("name", key),
		slog.String("message", result.Message),
		slog.Bool("security_event", true))
	return Decision{
		Outcome:  OutcomeDeny,
		Reason:   "verification unavailable",
		Identity: result,
	}
}

func (s *Service) decide(d Decision, name string) Decision {
	if s.decisions != nil {
		s.decisions.WithLabelValues(d.Outcome.String()).Inc()
	}
	s.logger.Debug("admission decision",
		slog.String("name", identity.Key(name)),
		slog.String("outcome", d.Outcome.String()),
		slog.String("reason", d.Reason))
	return d
}
