// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package config loads and validates server configuration from a YAML file
// and command-line flags, flags taking precedence.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	flag "github.com/spf13/pflag"

	"github.com/stonegate-mc/stonegate/internal/identity/resolver"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Resolver ResolverConfig `koanf:"resolver"`
	Cache    CacheConfig    `koanf:"cache"`
	Auth     AuthConfig     `koanf:"auth"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Workers  WorkerConfig   `koanf:"workers"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the listen address of the decision API consumed by the
	// host transport layer.
	ListenAddr string `koanf:"listen_addr"`

	// MetricsAddr is the listen address of the health/metrics endpoint.
	MetricsAddr string `koanf:"metrics_addr"`
}

// ProviderConfig describes one remote identity provider.
type ProviderConfig struct {
	Name            string        `koanf:"name"`
	Endpoint        string        `koanf:"endpoint"`
	IDField         string        `koanf:"id_field"`
	NameField       string        `koanf:"name_field"`
	NotFoundStatus  int           `koanf:"not_found_status"`
	IDFormat        string        `koanf:"id_format"` // "flat" or "dashed"
	Timeout         time.Duration `koanf:"timeout"`
	RateLimit       int           `koanf:"rate_limit"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// ResolverConfig configures the resolver pool.
type ResolverConfig struct {
	Providers        []ProviderConfig `koanf:"providers"`
	AggregateTimeout time.Duration    `koanf:"aggregate_timeout"`
}

// CacheConfig configures the two-tier resolution cache.
type CacheConfig struct {
	Capacity     int           `koanf:"capacity"`
	PremiumTTL   time.Duration `koanf:"premium_ttl"`
	OfflineTTL   time.Duration `koanf:"offline_ttl"`
	SoftFraction float64       `koanf:"soft_fraction"`
}

// AuthConfig configures the authorization cache.
type AuthConfig struct {
	BruteForceThreshold int           `koanf:"brute_force_threshold"`
	BruteForceWindow    time.Duration `koanf:"brute_force_window"`
	PremiumEntryTTL     time.Duration `koanf:"premium_entry_ttl"`
}

// DatabaseConfig configures the player-record store.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// RedisConfig configures the persistent resolution-cache tier. An empty URL
// disables the tier, leaving only the in-process cache.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// WorkerConfig sizes the shared background task pool.
type WorkerConfig struct {
	Workers     int           `koanf:"workers"`
	QueueSize   int           `koanf:"queue_size"`
	GracePeriod time.Duration `koanf:"grace_period"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// Default returns the configuration defaults. Provider defaults mirror the
// built-in resolver profiles.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":7420",
			MetricsAddr: ":9090",
		},
		Resolver: ResolverConfig{
			Providers:        defaultProviders(),
			AggregateTimeout: 7 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:     10000,
			PremiumTTL:   time.Hour,
			OfflineTTL:   5 * time.Minute,
			SoftFraction: 0.5,
		},
		Auth: AuthConfig{
			BruteForceThreshold: 5,
			BruteForceWindow:    10 * time.Minute,
			PremiumEntryTTL:     10 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Workers: WorkerConfig{
			Workers:     4,
			QueueSize:   256,
			GracePeriod: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultProviders() []ProviderConfig {
	profiles := resolver.DefaultProfiles()
	out := make([]ProviderConfig, 0, len(profiles))
	for _, p := range profiles {
		format := "dashed"
		if p.IDFormat == resolver.IDFormatFlat {
			format = "flat"
		}
		out = append(out, ProviderConfig{
			Name:            p.Name,
			Endpoint:        p.Endpoint,
			IDField:         p.IDField,
			NameField:       p.NameField,
			NotFoundStatus:  p.NotFoundStatus,
			IDFormat:        format,
			Timeout:         p.Timeout,
			RateLimit:       p.RateLimit,
			RateLimitWindow: p.RateLimitWindow,
		})
	}
	return out
}

// Load reads configuration layered as defaults, then an optional YAML file,
// then flag overrides. An empty path skips the file layer; flags that were
// not explicitly set never shadow lower layers.
func Load(path string, flags *flag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Resolver.Providers) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("at least one identity provider is required")
	}
	for _, p := range c.Resolver.Providers {
		if p.Name == "" || p.Endpoint == "" {
			return oops.Code("CONFIG_INVALID").Errorf("provider name and endpoint are required")
		}
		if p.IDFormat != "flat" && p.IDFormat != "dashed" {
			return oops.Code("CONFIG_INVALID").
				With("provider", p.Name).
				Errorf("id_format must be \"flat\" or \"dashed\", got %q", p.IDFormat)
		}
	}
	if c.Cache.SoftFraction <= 0 || c.Cache.SoftFraction >= 1 {
		return oops.Code("CONFIG_INVALID").Errorf("cache soft_fraction must be in (0, 1)")
	}
	if c.Workers.Workers <= 0 || c.Workers.QueueSize <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("worker pool sizing must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log format must be \"json\" or \"text\", got %q", c.Log.Format)
	}
	return nil
}

// Profiles converts provider configurations into resolver profiles.
func (c *ResolverConfig) Profiles() []resolver.Profile {
	out := make([]resolver.Profile, 0, len(c.Providers))
	for _, p := range c.Providers {
		format := resolver.IDFormatDashed
		if p.IDFormat == "flat" {
			format = resolver.IDFormatFlat
		}
		out = append(out, resolver.Profile{
			Name:            p.Name,
			Endpoint:        p.Endpoint,
			IDField:         p.IDField,
			NameField:       p.NameField,
			NotFoundStatus:  p.NotFoundStatus,
			IDFormat:        format,
			Timeout:         p.Timeout,
			RateLimit:       p.RateLimit,
			RateLimitWindow: p.RateLimitWindow,
		})
	}
	return out
}
