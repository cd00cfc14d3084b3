// Package config holds the runtime configuration of the catalog service:
// database, server, refresh pipeline, and upstream client settings, plus
// the per-partner endpoint definitions loaded from a partners file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the top-level service configuration.
type Config struct {
	// DatabaseDSN selects the backing database. An empty DSN falls back to
	// an embedded SQLite file.
	DatabaseDSN string

	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	Refresh  RefreshConfig
	Upstream UpstreamConfig

	// PartnersFile points at the partner endpoint definitions (YAML).
	PartnersFile string
}

// RefreshConfig controls the ingestion pipeline.
type RefreshConfig struct {
	Parallel   bool // Run loaders concurrently. Default false.
	MaxWorkers int  // Loader pool size in parallel mode. Default 7.

	// PublisherManagedPartners lists partner codes whose editorial fields
	// are owned by the publisher frontend rather than the LMS.
	PublisherManagedPartners []string

	// ChangeThresholdFraction rejects an ingest whose upstream record
	// count shrank by more than this fraction. Zero disables the check.
	ChangeThresholdFraction float64

	SweepOrphans bool // Sweep unreferenced media after ingest. Default true.
}

// UpstreamConfig controls the upstream HTTP clients.
type UpstreamConfig struct {
	Timeout           time.Duration // Per-request timeout. Default 5s.
	RetryMaxAttempts  int           // Default 5.
	RetryBackoff      time.Duration // Initial backoff. Default 200ms.
	RequestsPerSecond float64       // Aggregate rate cap. Zero disables.
	PageSize          int           // Page size hint sent upstream.
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		Refresh: RefreshConfig{
			Parallel:     false,
			MaxWorkers:   7,
			SweepOrphans: true,
		},
		Upstream: UpstreamConfig{
			Timeout:          5 * time.Second,
			RetryMaxAttempts: 5,
			RetryBackoff:     200 * time.Millisecond,
			PageSize:         50,
		},
	}
}

// FromEnv loads configuration from environment variables on top of the
// defaults. Recognized variables:
// CATALOG_DATABASE_DSN, CATALOG_LISTEN_ADDR, CATALOG_PARTNERS_FILE,
// CATALOG_REFRESH_PARALLEL, CATALOG_REFRESH_MAX_WORKERS,
// CATALOG_REFRESH_CHANGE_THRESHOLD, CATALOG_REFRESH_SWEEP_ORPHANS,
// CATALOG_UPSTREAM_TIMEOUT_SECONDS, CATALOG_UPSTREAM_RETRY_MAX_ATTEMPTS,
// CATALOG_UPSTREAM_RETRY_BACKOFF_MS, CATALOG_UPSTREAM_RATE_LIMIT
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("CATALOG_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("CATALOG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CATALOG_PARTNERS_FILE"); v != "" {
		cfg.PartnersFile = v
	}

	if v := os.Getenv("CATALOG_REFRESH_PARALLEL"); v != "" {
		cfg.Refresh.Parallel, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("CATALOG_REFRESH_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Refresh.MaxWorkers = n
		}
	}
	if v := os.Getenv("CATALOG_REFRESH_CHANGE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Refresh.ChangeThresholdFraction = f
		}
	}
	if v := os.Getenv("CATALOG_REFRESH_SWEEP_ORPHANS"); v != "" {
		cfg.Refresh.SweepOrphans, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("CATALOG_UPSTREAM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Upstream.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CATALOG_UPSTREAM_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Upstream.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("CATALOG_UPSTREAM_RETRY_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Upstream.RetryBackoff = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CATALOG_UPSTREAM_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Upstream.RequestsPerSecond = f
		}
	}

	return cfg
}

// PublisherManaged reports whether the given partner code is configured as
// publisher-managed.
func (c *RefreshConfig) PublisherManaged(code string) bool {
	for _, pm := range c.PublisherManagedPartners {
		if pm == code {
			return true
		}
	}
	return false
}
