// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/harmonia/config.yaml",
	"/etc/harmonia/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8807,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path:      "/data/harmonia.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		LastFM: LastFMConfig{
			BaseURL:        "https://ws.audioscrobbler.com/2.0/",
			Timeout:        30 * time.Second,
			RateLimit:      5, // Last.fm policy: at most 5 req/s
			RetryAttempts:  3,
			RetryBaseDelay: 2 * time.Second,
		},
		Pipeline: PipelineConfig{
			Enabled:        false, // external orchestrator drives stages by default
			Interval:       6 * time.Hour,
			Users:          []string{},
			IngestLookback: 24 * time.Hour,
		},
		Recommend: RecommendConfig{
			MinListeners:           1000,
			SimilarityThreshold:    0.9,
			SampleRate:             0.3,
			TagSampleRate:          0.5,
			SampleThreshold:        50,
			TracksPerStrategy:      500,
			MaxCandidatesPerSource: 10,
			MaxTotalCandidates:     500,
			DeepCutMinListeners:    100,
			DeepCutMaxListeners:    50000,
			TopArtists:             30,
			OldFavoriteMinDays:     90,
			FanOutConcurrency:      8,
			ProgressInterval:       10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in that order of precedence (env wins).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Environment variables override everything. LASTFM_API_KEY maps to
	// lastfm.api_key, PIPELINE_USERS to pipeline.users, and so on.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches ConfigPathEnvVar then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths accept comma-separated
// environment values in place of YAML lists.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"pipeline.users",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields. Env vars arrive as strings; the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// A HARMONIA_ prefix is accepted and stripped, so both spellings work.
//
// Examples:
//   - HARMONIA_LASTFM_API_KEY -> lastfm.api_key
//   - LASTFM_API_KEY          -> lastfm.api_key
//   - DUCKDB_PATH             -> database.path
//   - HTTP_PORT               -> server.port
//   - PIPELINE_USERS          -> pipeline.users
//   - LOG_LEVEL               -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	key = strings.TrimPrefix(key, "harmonia_")

	envMappings := map[string]string{
		"lastfm_api_key":          "lastfm.api_key",
		"lastfm_base_url":         "lastfm.base_url",
		"lastfm_rate_limit":       "lastfm.rate_limit",
		"lastfm_retry_attempts":   "lastfm.retry_attempts",
		"duckdb_path":             "database.path",
		"duckdb_max_memory":       "database.max_memory",
		"duckdb_threads":          "database.threads",
		"http_host":               "server.host",
		"http_port":               "server.port",
		"http_timeout":            "server.timeout",
		"cors_origins":            "server.cors_origins",
		"pipeline_enabled":        "pipeline.enabled",
		"pipeline_interval":       "pipeline.interval",
		"pipeline_users":          "pipeline.users",
		"pipeline_lookback":       "pipeline.ingest_lookback",
		"log_level":               "logging.level",
		"log_format":              "logging.format",
		"log_caller":              "logging.caller",
		"recommend_min_listeners": "recommend.min_listeners",
	}
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Generic fallback: RECOMMEND_SAMPLE_RATE -> recommend.sample_rate
	for _, prefix := range []string{"server", "database", "lastfm", "pipeline", "recommend", "logging"} {
		if strings.HasPrefix(key, prefix+"_") {
			return prefix + "." + strings.TrimPrefix(key, prefix+"_")
		}
	}

	// Unknown vars are ignored by dropping them into a namespace koanf
	// never unmarshals.
	return ""
}
