// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package scheduler runs the pipeline on a fixed interval under a
// supervisor tree, alongside the HTTP server.
package scheduler

import (
	"context"
	"time"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
)

// PipelineService drives Runner.RunAllUsers on a ticker. It implements
// suture.Service: returning ctx.Err() on cancellation signals a clean stop
// to the supervisor.
type PipelineService struct {
	runner *pipeline.Runner
	cfg    *config.PipelineConfig
}

// NewPipelineService creates the scheduled pipeline service.
func NewPipelineService(runner *pipeline.Runner, cfg *config.PipelineConfig) *PipelineService {
	return &PipelineService{runner: runner, cfg: cfg}
}

// Serve runs one full pipeline pass immediately, then one per interval,
// until the context is canceled. A pass that fails for some users does not
// stop the service; failures are logged inside the runner.
func (s *PipelineService) Serve(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	s.runPass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *PipelineService) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	results := s.runner.RunAllUsers(ctx)
	logging.Info().
		Int("users", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Scheduled pipeline pass complete")
}

// String identifies the service in supervisor logs.
func (s *PipelineService) String() string { return "pipeline-scheduler" }
