// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package main is the entry point for the Harmonia server.
//
// Harmonia ingests Last.fm listening history into a layered DuckDB store,
// derives per-user listening dimensions, generates track candidates with
// four strategies (similar artists, similar tags, deep cuts, old favorites),
// consolidates them into a ranked list, and serves recommendations over a
// REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and config
//     files (Koanf v2)
//  2. Store: open DuckDB and the raw/cleaned/served table layers
//  3. Last.fm client: rate-limited HTTP client behind a circuit breaker
//  4. Pipeline runner: ingest, clean, dimensions, recency, generators,
//     and the consolidator
//  5. HTTP server: recommendations, exclusions, pipeline triggers,
//     health, and Prometheus metrics
//  6. Supervisor tree: the HTTP server and the optional pipeline
//     scheduler run as supervised services
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HARMONIA_ prefix, e.g. HARMONIA_LASTFM_API_KEY)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// The pipeline scheduler is optional. With PIPELINE_ENABLED=false the
// stages only run when triggered through POST /api/v1/pipeline/{stage},
// which suits external orchestrators.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Stops the pipeline scheduler between passes
//   - Closes the database connection
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/harmonia-fm/harmonia/internal/api"
	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/consolidate"
	"github.com/harmonia-fm/harmonia/internal/generate"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/scheduler"
	"github.com/harmonia-fm/harmonia/internal/store"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("pipeline_enabled", cfg.Pipeline.Enabled).
		Int("users", len(cfg.Pipeline.Users)).
		Msg("Starting Harmonia")

	s, err := store.Open(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store initialized successfully")

	// The breaker sheds load fast when Last.fm is down instead of letting
	// every generator ride out its full retry budget.
	upstream := lastfm.NewBreaker(lastfm.NewClient(&cfg.LastFM))

	runner := pipeline.NewRunner(s, upstream, &cfg.Pipeline, cfg.Recommend.FanOutConcurrency)
	runner.RegisterGenerator(generate.New(s, &cfg.Recommend, generate.NewSimilarArtist(s, upstream, &cfg.Recommend)))
	runner.RegisterGenerator(generate.New(s, &cfg.Recommend, generate.NewSimilarTag(s, upstream, &cfg.Recommend)))
	runner.RegisterGenerator(generate.New(s, &cfg.Recommend, generate.NewDeepCut(s, upstream, &cfg.Recommend)))
	runner.RegisterGenerator(generate.New(s, &cfg.Recommend, generate.NewOldFavorite(s, &cfg.Recommend)))
	runner.RegisterConsolidator(consolidate.New(s, &cfg.Recommend))

	apiServer := api.NewServer(s, runner, &cfg.Server, cfg.Pipeline.Users)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := scheduler.NewTree()
	tree.AddServing(scheduler.NewHTTPService(httpServer, cfg.Server.Timeout))
	if cfg.Pipeline.Enabled {
		tree.AddPipeline(scheduler.NewPipelineService(runner, &cfg.Pipeline))
		logging.Info().Dur("interval", cfg.Pipeline.Interval).Msg("Pipeline scheduler enabled")
	} else {
		logging.Info().Msg("Pipeline scheduler disabled - stages run via the API only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Harmonia started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Harmonia stopped")
}
