// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package resolver implements the multi-provider identity resolver pool. Each
// remote provider has its own endpoint, field conventions and rate limiter;
// the pool races them and aggregates the outcome.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

// Provider resolves a single name against one remote identity service.
// Implementations never return errors across this boundary: every failure
// mode maps to a StatusUnknown result.
type Provider interface {
	// Name identifies the provider in logs and results.
	Name() string

	// Lookup resolves the given nickname. Implementations bound each call
	// with their own per-call timeout; a lookup abandoned by the race runs to
	// that timeout and its late result is discarded.
	Lookup(ctx context.Context, name string) identity.Result
}

// IDFormat describes how a provider encodes identity ids in its responses.
type IDFormat int

const (
	// IDFormatDashed is the canonical dashed UUID syntax.
	IDFormatDashed IDFormat = iota

	// IDFormatFlat is a flat 32-hex-digit string requiring reformatting.
	IDFormatFlat
)

// Profile describes one remote identity provider's conventions.
type Profile struct {
	// Name identifies the provider.
	Name string

	// Endpoint is the lookup URL template; %s is replaced by the nickname.
	Endpoint string

	// IDField is the JSON field holding the identity id.
	IDField string

	// NameField is the JSON field holding the canonical name.
	NameField string

	// NotFoundStatus is the HTTP status this provider uses for "no such
	// account". It maps to a definitive offline result.
	NotFoundStatus int

	// IDFormat selects dashed or flat id parsing.
	IDFormat IDFormat

	// Timeout bounds the connect+read time of a single call.
	Timeout time.Duration

	// RateLimit caps requests per RateLimitWindow. Zero uses the default.
	RateLimit int

	// RateLimitWindow is the rate-limit window length. Zero uses the default.
	RateLimitWindow time.Duration
}

// DefaultTimeout is the per-call connect+read timeout when a profile does not
// set one.
const DefaultTimeout = 5 * time.Second

// DefaultProfiles returns the three provider profiles shipped as defaults.
// They intentionally differ in endpoint, field names, not-found status and id
// format; all four conventions are overridable through configuration.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:           "mojang",
			Endpoint:       "https://api.mojang.com/users/profiles/minecraft/%s",
			IDField:        "id",
			NameField:      "name",
			NotFoundStatus: http.StatusNoContent,
			IDFormat:       IDFormatFlat,
		},
		{
			Name:           "ashcon",
			Endpoint:       "https://api.ashcon.app/mojang/v2/user/%s",
			IDField:        "uuid",
			NameField:      "username",
			NotFoundStatus: http.StatusNotFound,
			IDFormat:       IDFormatDashed,
		},
		{
			Name:           "minetools",
			Endpoint:       "https://api.minetools.eu/uuid/%s",
			IDField:        "id",
			NameField:      "name",
			NotFoundStatus: http.StatusBadRequest,
			IDFormat:       IDFormatFlat,
		},
	}
}

// HTTPProvider is a Provider backed by one HTTP identity service.
type HTTPProvider struct {
	profile Profile
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHTTPProvider creates a provider from a profile. A nil client gets a
// dedicated one with the profile's timeout.
func NewHTTPProvider(profile Profile, client *http.Client, logger *slog.Logger) *HTTPProvider {
	timeout := profile.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		profile: profile,
		client:  client,
		limiter: NewRateLimiter(profile.RateLimit, profile.RateLimitWindow),
		logger:  logger,
	}
}

// Name identifies the provider.
func (p *HTTPProvider) Name() string {
	return p.profile.Name
}

// Lookup performs one HTTP GET against the provider. All failure modes map to
// StatusUnknown for this provider only; a provider-reported "not found" is a
// definitive offline result.
func (p *HTTPProvider) Lookup(ctx context.Context, name string) identity.Result {
	if !p.limiter.Allow() {
		return p.unknown("rate limited")
	}

	url := fmt.Sprintf(p.profile.Endpoint, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return p.unknown("request build failed")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("provider call failed",
			slog.String("provider", p.profile.Name),
			slog.String("name", name),
			slog.String("error", err.Error()))
		return p.unknown("io error")
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode == p.profile.NotFoundStatus {
		return identity.Result{
			Status:   identity.StatusOffline,
			Provider: p.profile.Name,
			Message:  "not found",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return p.unknown(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	return p.parseBody(resp.Body, name)
}

// parseBody extracts the id and name fields from a successful response.
func (p *HTTPProvider) parseBody(body io.Reader, requested string) identity.Result {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		p.logger.Debug("provider returned malformed body",
			slog.String("provider", p.profile.Name),
			slog.String("error", err.Error()))
		return p.unknown("malformed response body")
	}

	rawID, ok := stringField(fields, p.profile.IDField)
	if !ok {
		return p.unknown("missing/invalid fields")
	}
	canonical, ok := stringField(fields, p.profile.NameField)
	if !ok {
		return p.unknown("missing/invalid fields")
	}

	var (
		id  uuid.UUID
		err error
	)
	switch p.profile.IDFormat {
	case IDFormatFlat:
		id, err = identity.ParseFlatID(rawID)
	default:
		id, err = identity.ParseID(rawID)
	}
	if err != nil {
		p.logger.Debug("provider returned unparsable id",
			slog.String("provider", p.profile.Name),
			slog.String("raw_id", rawID))
		return p.unknown("missing/invalid fields")
	}

	// A canonical name that does not match the requested one must not confirm
	// the wrong identity: downgrade to offline instead of premium.
	if !strings.EqualFold(canonical, requested) {
		return identity.Result{
			Status:   identity.StatusOffline,
			Provider: p.profile.Name,
			Message:  "canonical mismatch",
		}
	}

	return identity.Result{
		Status:        identity.StatusPremium,
		ID:            id,
		CanonicalName: canonical,
		Provider:      p.profile.Name,
	}
}

func (p *HTTPProvider) unknown(message string) identity.Result {
	return identity.Result{
		Status:   identity.StatusUnknown,
		Provider: p.profile.Name,
		Message:  message,
	}
}

// stringField extracts a non-empty string field from a decoded JSON object.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
