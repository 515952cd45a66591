// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package config loads and validates Harmonia configuration.
//
// Configuration is layered (highest priority last):
//  1. Built-in defaults
//  2. Optional YAML config file (CONFIG_PATH or a default search path)
//  3. Environment variables (LASTFM_API_KEY, DUCKDB_PATH, HTTP_PORT, ...)
//
// Per-stage tuning knobs (thresholds, sample rates, per-strategy caps) are
// carried in RecommendConfig and passed explicitly into each pipeline stage;
// nothing reads module-level constants at run time.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Harmonia service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	LastFM    LastFMConfig    `koanf:"lastfm"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Recommend RecommendConfig `koanf:"recommend"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings for the serving layer.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// DatabaseConfig holds DuckDB settings for the layered table store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" is supported for tests.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB's memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// LastFMConfig holds settings for the upstream Last.fm API client.
type LastFMConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the client-side request budget in requests per second.
	// Last.fm asks for no more than 5 req/s per client.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`

	// RetryAttempts is the number of attempts per request (including the
	// first). RetryBaseDelay seeds the exponential backoff between them.
	RetryAttempts  int           `koanf:"retry_attempts" validate:"min=1"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// PipelineConfig controls the built-in pipeline scheduler. When an external
// orchestrator drives the stage endpoints instead, leave Enabled false.
type PipelineConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`

	// Users is the allow-list of Last.fm usernames to process.
	Users []string `koanf:"users"`

	// IngestLookback is how far back each scheduled ingest reaches.
	IngestLookback time.Duration `koanf:"ingest_lookback"`
}

// RecommendConfig enumerates the candidate-generation and consolidation
// thresholds. Every generator receives this record explicitly.
type RecommendConfig struct {
	// MinListeners is the popularity floor for candidate tracks.
	MinListeners int `koanf:"min_listeners" validate:"min=0"`

	// SimilarityThreshold drops similar artists with match above it
	// (near-1.0 matches are almost always clones or re-issues).
	SimilarityThreshold float64 `koanf:"similarity_threshold" validate:"gt=0,lte=1"`

	// SampleRate is the fraction of a user's source artists sampled per run.
	SampleRate float64 `koanf:"sample_rate" validate:"gt=0,lte=1"`

	// TagSampleRate is the fraction of a user's tags sampled per run.
	TagSampleRate float64 `koanf:"tag_sample_rate" validate:"gt=0,lte=1"`

	// SampleThreshold is the source-set size above which sampling kicks in.
	SampleThreshold int `koanf:"sample_threshold" validate:"min=1"`

	// TracksPerStrategy caps each strategy's contribution to consolidation.
	TracksPerStrategy int `koanf:"tracks_per_strategy" validate:"min=1"`

	// MaxCandidatesPerSource caps tracks fetched per source item.
	MaxCandidatesPerSource int `koanf:"max_candidates_per_source" validate:"min=1"`

	// MaxTotalCandidates caps rows written per generator run.
	MaxTotalCandidates int `koanf:"max_total_candidates" validate:"min=1"`

	// DeepCutMaxListeners is the obscurity ceiling for deep-cut albums.
	DeepCutMaxListeners int `koanf:"deep_cut_max_listeners" validate:"min=1"`

	// DeepCutMinListeners is the quality floor for deep-cut albums.
	DeepCutMinListeners int `koanf:"deep_cut_min_listeners" validate:"min=0"`

	// TopArtists is how many of the user's most-played artists the
	// deep-cut strategy mines.
	TopArtists int `koanf:"top_artists" validate:"min=1"`

	// OldFavoriteMinDays is the "not touched recently" threshold for the
	// old-favorite strategy.
	OldFavoriteMinDays int `koanf:"old_favorite_min_days" validate:"min=1"`

	// FanOutConcurrency bounds concurrent external API calls per batch.
	FanOutConcurrency int `koanf:"fan_out_concurrency" validate:"min=1"`

	// ProgressInterval is how often generators log batch progress.
	ProgressInterval time.Duration `koanf:"progress_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Recommend.DeepCutMinListeners > c.Recommend.DeepCutMaxListeners {
		return fmt.Errorf("recommend.deep_cut_min_listeners (%d) exceeds deep_cut_max_listeners (%d)",
			c.Recommend.DeepCutMinListeners, c.Recommend.DeepCutMaxListeners)
	}
	if c.Pipeline.Enabled && len(c.Pipeline.Users) == 0 {
		return fmt.Errorf("pipeline.enabled requires at least one entry in pipeline.users")
	}
	return nil
}
