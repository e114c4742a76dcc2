// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stonegate-mc/stonegate/internal/identity"
)

func testProfile(endpoint string) Profile {
	return Profile{
		Name:           "test",
		Endpoint:       endpoint + "/profiles/%s",
		IDField:        "id",
		NameField:      "name",
		NotFoundStatus: http.StatusNoContent,
		IDFormat:       IDFormatFlat,
	}
}

func TestHTTPProvider_Lookup(t *testing.T) {
	t.Run("confirms premium on matching canonical name", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusPremium, res.Status)
		assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", res.ID.String())
		assert.Equal(t, "Notch", res.CanonicalName)
		assert.Equal(t, "test", res.Provider)
	})

	t.Run("maps provider not-found status to offline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "nobody")

		assert.Equal(t, identity.StatusOffline, res.Status)
		assert.Equal(t, "not found", res.Message)
	})

	t.Run("downgrades canonical mismatch to offline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"SomeoneElse"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusOffline, res.Status)
		assert.Equal(t, "canonical mismatch", res.Message)
	})

	t.Run("case-insensitive canonical match still confirms", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"NOTCH"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusPremium, res.Status)
	})

	t.Run("missing id field yields unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"name":"Notch"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusUnknown, res.Status)
		assert.Equal(t, "missing/invalid fields", res.Message)
	})

	t.Run("unparsable id yields unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":"zz","name":"Notch"}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusUnknown, res.Status)
	})

	t.Run("dashed profile parses dashed ids", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","username":"Notch"}`))
		}))
		defer srv.Close()

		profile := Profile{
			Name:           "dashed",
			Endpoint:       srv.URL + "/user/%s",
			IDField:        "uuid",
			NameField:      "username",
			NotFoundStatus: http.StatusNotFound,
			IDFormat:       IDFormatDashed,
		}
		p := NewHTTPProvider(profile, srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		require.Equal(t, identity.StatusPremium, res.Status)
		assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", res.ID.String())
	})

	t.Run("malformed body yields unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusUnknown, res.Status)
	})

	t.Run("unexpected status yields unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := NewHTTPProvider(testProfile(srv.URL), srv.Client(), nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusUnknown, res.Status)
	})

	t.Run("io error yields unknown without propagating", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		srv.Close() // force connection refused

		p := NewHTTPProvider(testProfile(srv.URL), nil, nil)
		res := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusUnknown, res.Status)
		assert.Equal(t, "io error", res.Message)
	})

	t.Run("rate limited lookup skips the network", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		profile := testProfile(srv.URL)
		profile.RateLimit = 1
		profile.RateLimitWindow = time.Hour
		p := NewHTTPProvider(profile, srv.Client(), nil)

		first := p.Lookup(context.Background(), "notch")
		second := p.Lookup(context.Background(), "notch")

		assert.Equal(t, identity.StatusOffline, first.Status)
		assert.Equal(t, identity.StatusUnknown, second.Status)
		assert.Equal(t, "rate limited", second.Message)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	require.Len(t, profiles, 3)

	seenStatus := map[int]bool{}
	for _, p := range profiles {
		assert.NotEmpty(t, p.Name)
		assert.Contains(t, p.Endpoint, "%s")
		assert.NotEmpty(t, p.IDField)
		assert.NotEmpty(t, p.NameField)
		seenStatus[p.NotFoundStatus] = true
	}
	// The defaults differ in their not-found conventions.
	assert.Len(t, seenStatus, 3)
}
