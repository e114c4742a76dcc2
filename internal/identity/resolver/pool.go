// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

// DefaultAggregateTimeout bounds the total wait across all providers. It is
// deliberately larger than any single per-call timeout.
const DefaultAggregateTimeout = 7 * time.Second

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	aggregateTimeout time.Duration
	metrics          *poolMetrics
}

type poolMetrics struct {
	lookups  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
}

// WithAggregateTimeout sets the total wait bound for a multi-provider race.
func WithAggregateTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.aggregateTimeout = d
	}
}

// WithRegistry registers pool metrics with the given Prometheus registry.
func WithRegistry(reg prometheus.Registerer) PoolOption {
	return func(c *poolConfig) {
		m := &poolMetrics{
			lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stonegate_resolver_provider_lookups_total",
				Help: "Total provider lookups by provider and status",
			}, []string{"provider", "status"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stonegate_resolver_outcomes_total",
				Help: "Total aggregate resolution outcomes by status",
			}, []string{"status"}),
		}
		reg.MustRegister(m.lookups, m.outcomes)
		c.metrics = m
	}
}

// Pool races the enabled providers for each lookup and aggregates the
// outcome: the first premium confirmation wins and short-circuits the rest;
// failing that, the first definitive offline answer; failing that, unknown.
type Pool struct {
	providers []Provider
	logger    *slog.Logger
	cfg       poolConfig
}

// NewPool creates a resolver pool. Each lookup runs the providers on
// short-lived goroutines of its own; the shared worker pool is reserved for
// fire-and-forget tasks, so a burst of blocking fan-outs can never occupy the
// workers that background refreshes queue behind.
func NewPool(providers []Provider, logger *slog.Logger, opts ...PoolOption) *Pool {
	cfg := poolConfig{aggregateTimeout: DefaultAggregateTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		providers: providers,
		logger:    logger,
		cfg:       cfg,
	}
}

// Resolve resolves a nickname to a premium/offline/unknown classification.
// Invalid names short-circuit to offline without any network cost. Resolve
// never returns an error: every internal failure maps to a typed result.
func (p *Pool) Resolve(ctx context.Context, name string) identity.Result {
	if err := identity.ValidateName(name); err != nil {
		return identity.Result{
			Status:  identity.StatusOffline,
			Message: "invalid characters",
		}
	}

	if len(p.providers) == 0 {
		return identity.Result{Status: identity.StatusUnknown, Message: "no providers enabled"}
	}

	raceCtx, cancel := context.WithTimeout(ctx, p.cfg.aggregateTimeout)
	defer cancel()

	// Buffered so abandoned providers can still deliver without leaking a
	// goroutine; their late results are simply discarded.
	results := make(chan identity.Result, len(p.providers))

	// Lookups get a context detached from the race: once a winner is picked,
	// still-pending providers are abandoned to their own per-call timeouts
	// rather than cancelled at the socket.
	lookupCtx := context.WithoutCancel(ctx)
	for _, prov := range p.providers {
		prov := prov
		go func() {
			results <- prov.Lookup(lookupCtx, name)
		}()
	}

	outcome := p.collect(raceCtx, results, len(p.providers))
	if p.cfg.metrics != nil {
		p.cfg.metrics.outcomes.WithLabelValues(outcome.Status.String()).Inc()
	}
	return outcome
}

// collect waits for provider results: first premium wins immediately; the
// first offline is remembered and returned once no premium can still arrive.
// When the aggregate timeout expires, pending providers are abandoned.
func (p *Pool) collect(ctx context.Context, results <-chan identity.Result, pending int) identity.Result {
	var best identity.Result
	best.Status = identity.StatusUnknown
	best.Message = "no provider answered"
	haveOffline := false

	for pending > 0 {
		select {
		case res := <-results:
			pending--
			if p.cfg.metrics != nil {
				p.cfg.metrics.lookups.WithLabelValues(res.Provider, res.Status.String()).Inc()
			}
			switch res.Status {
			case identity.StatusPremium:
				return res
			case identity.StatusOffline:
				if !haveOffline {
					best = res
					haveOffline = true
				}
			case identity.StatusUnknown:
				if !haveOffline {
					best = res
				}
			}
		case <-ctx.Done():
			// Abandon whatever is still pending; late results land in the
			// buffered channel and are discarded.
			p.logger.Debug("race finished with providers still pending",
				slog.Int("pending", pending))
			if !haveOffline && best.Message == "no provider answered" {
				best.Message = "aggregate timeout"
			}
			return best
		}
	}
	return best
}
