// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/metrics"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// UserStage is a pipeline stage that operates on one user. Candidate
// generators and the consolidator implement this and register with the
// Runner; the built-in stages are wired in directly.
type UserStage interface {
	// Name returns the stage identifier used in triggers and metrics.
	Name() string
	// Run executes the stage for one user.
	Run(ctx context.Context, user string) (Outcome, error)
}

// Runner owns the pipeline stages and exposes idempotent per-stage entry
// points. Registered generator stages write to distinct tables, so a full
// run executes them concurrently without violating the store's
// single-writer-per-table invariant.
type Runner struct {
	store *store.Store
	cfg   *config.PipelineConfig

	ingest     *Ingest
	clean      *Clean
	dimensions *Dimensions
	recency    *Recency

	generators  []UserStage
	consolidate UserStage
}

// NewRunner wires the built-in stages.
func NewRunner(s *store.Store, api lastfm.API, cfg *config.PipelineConfig, concurrency int) *Runner {
	return &Runner{
		store:      s,
		cfg:        cfg,
		ingest:     NewIngest(s, api),
		clean:      NewClean(s),
		dimensions: NewDimensions(s, api, concurrency),
		recency:    NewRecency(s),
	}
}

// RegisterGenerator adds a candidate-generation stage to full runs.
func (r *Runner) RegisterGenerator(stage UserStage) {
	r.generators = append(r.generators, stage)
}

// RegisterConsolidator sets the consolidation stage run after generators.
func (r *Runner) RegisterConsolidator(stage UserStage) {
	r.consolidate = stage
}

// Stages returns the names of all runnable stages.
func (r *Runner) Stages() []string {
	names := []string{StageIngest, StageClean, StageDimensions, StageRecency}
	for _, g := range r.generators {
		names = append(names, g.Name())
	}
	if r.consolidate != nil {
		names = append(names, r.consolidate.Name())
	}
	sort.Strings(names)
	return names
}

// RunStage executes one named stage for one user. Unknown stage names are
// an error; a stage with nothing to do returns a skipped Outcome.
func (r *Runner) RunStage(ctx context.Context, stage, user string) (Outcome, error) {
	start := time.Now()
	outcome, err := r.dispatch(ctx, stage, user)
	observeOutcome(stage, outcome, err, time.Since(start))
	return outcome, err
}

func (r *Runner) dispatch(ctx context.Context, stage, user string) (Outcome, error) {
	switch stage {
	case StageIngest:
		lookback := r.cfg.IngestLookback
		from := time.Time{}
		if lookback > 0 {
			from = time.Now().UTC().Add(-lookback)
		}
		return r.ingest.Run(ctx, user, from, time.Time{})
	case StageClean:
		return r.clean.Run(ctx, user)
	case StageDimensions:
		return r.dimensions.Run(ctx)
	case StageRecency:
		return r.recency.Run(ctx, user)
	}
	for _, g := range r.generators {
		if g.Name() == stage {
			return g.Run(ctx, user)
		}
	}
	if r.consolidate != nil && r.consolidate.Name() == stage {
		return r.consolidate.Run(ctx, user)
	}
	return Outcome{}, fmt.Errorf("unknown pipeline stage %q", stage)
}

// RunAll executes the full pipeline for one user in dependency order:
// ingest, clean, dimensions, recency, then all generators concurrently,
// then consolidation. A generator failure is logged and excluded from
// consolidation input rather than aborting the run.
func (r *Runner) RunAll(ctx context.Context, user string) ([]Outcome, error) {
	var outcomes []Outcome

	for _, stage := range []string{StageIngest, StageClean, StageDimensions, StageRecency} {
		outcome, err := r.RunStage(ctx, stage, user)
		if err != nil {
			return outcomes, fmt.Errorf("stage %s failed for %s: %w", stage, user, err)
		}
		outcomes = append(outcomes, outcome)
	}

	genOutcomes := make([]Outcome, len(r.generators))
	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range r.generators {
		g.Go(func() error {
			outcome, err := r.RunStage(gctx, gen.Name(), user)
			if err != nil {
				logging.Error().Err(err).Str("stage", gen.Name()).Str("user", user).
					Msg("Generator failed, continuing without its candidates")
				genOutcomes[i] = Skipped(gen.Name(), "failed: "+err.Error())
				return nil
			}
			genOutcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	outcomes = append(outcomes, genOutcomes...)

	if r.consolidate != nil {
		outcome, err := r.RunStage(ctx, r.consolidate.Name(), user)
		if err != nil {
			return outcomes, fmt.Errorf("consolidation failed for %s: %w", user, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// RunAllUsers runs the full pipeline for every configured user. One user's
// failure does not block the others.
func (r *Runner) RunAllUsers(ctx context.Context) map[string][]Outcome {
	results := make(map[string][]Outcome, len(r.cfg.Users))
	for _, user := range r.cfg.Users {
		outcomes, err := r.RunAll(ctx, user)
		if err != nil {
			logging.Error().Err(err).Str("user", user).Msg("Pipeline run failed for user")
		}
		results[user] = outcomes
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func observeOutcome(stage string, outcome Outcome, err error, elapsed time.Duration) {
	switch {
	case err != nil:
		metrics.ObserveStage(stage, "failed", elapsed, 0)
	case outcome.Processed():
		metrics.ObserveStage(stage, "processed", elapsed, outcome.Rows)
	default:
		metrics.ObserveStage(stage, "skipped", elapsed, 0)
	}
}
