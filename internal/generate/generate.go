// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package generate implements the candidate-generation strategies and the
// shared driver that runs them.
//
// Every strategy follows the same shape: derive source items from the
// user's listening history, expand each source into candidate tracks
// (usually via the upstream API), then filter, dedupe and persist. The
// driver owns the shared mechanics; strategies only supply sources and
// expansion. Each strategy writes its own cleaned-layer table, keyed
// (username, track_key), so strategies can run concurrently.
//
// Incrementality: each candidate row records the source item it came from.
// On the next run, sources already present in the strategy's table are
// skipped, so repeated runs only pay for new listening history.
package generate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// candidateMergePredicate is the row identity of a candidate within one
// strategy table.
const candidateMergePredicate = "s.username = t.username AND s.track_key = t.track_key"

// Source is one unit of incremental work: an artist, a tag, or a track the
// strategy expands into candidates. Weight carries the user's engagement
// with the source, normalized to (0, 1].
type Source struct {
	Key    string
	Weight float64
}

// Strategy supplies the per-strategy pieces the driver runs.
type Strategy interface {
	// Name is the pipeline stage name.
	Name() string
	// Table is the strategy's cleaned-layer candidate table.
	Table() string
	// IncludePlayed reports whether tracks the user already played may be
	// candidates. Only the old-favorite strategy says yes.
	IncludePlayed() bool
	// SampleRate is the fraction of sources processed per run once the
	// source set exceeds the configured threshold.
	SampleRate() float64
	// Sources derives the user's source items.
	Sources(ctx context.Context, user string) ([]Source, error)
	// Expand produces candidates for one source. Failures are logged and
	// skipped by the driver, never fatal.
	Expand(ctx context.Context, cache *RunCache, user string, src Source) ([]models.CandidateRecord, error)
}

// Generator drives one strategy as a pipeline stage.
type Generator struct {
	store *store.Store
	cfg   *config.RecommendConfig
	strat Strategy
}

var _ pipeline.UserStage = (*Generator)(nil)

// New creates a driver for the given strategy.
func New(s *store.Store, cfg *config.RecommendConfig, strat Strategy) *Generator {
	return &Generator{store: s, cfg: cfg, strat: strat}
}

// Name implements pipeline.UserStage.
func (g *Generator) Name() string { return g.strat.Name() }

// Run executes one generation pass for a user.
func (g *Generator) Run(ctx context.Context, user string) (pipeline.Outcome, error) {
	played, err := g.playedTrackKeys(ctx, user)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	sources, err := g.strat.Sources(ctx, user)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("%s: failed to derive sources: %w", g.Name(), err)
	}
	if len(sources) == 0 {
		return pipeline.Skipped(g.Name(), "no sources"), nil
	}

	sources, err = g.dropProcessed(ctx, user, sources)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if len(sources) == 0 {
		return pipeline.Skipped(g.Name(), "all sources already processed"), nil
	}

	if len(sources) > g.cfg.SampleThreshold {
		sources = sampleSources(sources, g.strat.SampleRate())
		if len(sources) == 0 {
			return pipeline.Skipped(g.Name(), "sampling left no sources"), nil
		}
	}

	candidates := g.expandAll(ctx, user, sources)

	if !g.strat.IncludePlayed() {
		candidates = dropPlayed(candidates, played)
	}
	candidates = dedupeKeepMax(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > g.cfg.MaxTotalCandidates {
		candidates = candidates[:g.cfg.MaxTotalCandidates]
	}
	if len(candidates) == 0 {
		return pipeline.Skipped(g.Name(), "no candidates survived filtering"), nil
	}

	now := time.Now().UTC()
	frame := models.CandidateFrame()
	for _, c := range candidates {
		c.Username = user
		c.GeneratedAt = now
		c.AppendTo(frame)
	}

	result, err := g.store.Write(ctx, frame, store.Cleaned, g.strat.Table(), store.WriteOptions{
		Mode:        store.ModeMerge,
		Predicate:   candidateMergePredicate,
		PartitionBy: "username",
	})
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("%s: failed to merge candidates: %w", g.Name(), err)
	}

	logging.Info().Str("stage", g.Name()).Str("user", user).
		Int("sources", len(sources)).Int64("inserted", result.Inserted).
		Int64("updated", result.Updated).Msg("Candidate generation complete")
	return pipeline.Processed(g.Name(), g.strat.Table(), result.Rows, result.Version), nil
}

// playedTrackKeys loads the user's played set. Absent listening history is
// a broken precondition for every strategy.
func (g *Generator) playedTrackKeys(ctx context.Context, user string) (map[string]struct{}, error) {
	plays, err := g.store.Read(store.Cleaned, models.TableCleanedPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, fmt.Errorf("%s: cleaned plays missing: %w", g.Name(), pipeline.ErrNoActivity)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read plays: %w", g.Name(), err)
	}
	if plays.Len() == 0 {
		return nil, fmt.Errorf("%s: user %s: %w", g.Name(), user, pipeline.ErrNoActivity)
	}

	played := make(map[string]struct{}, plays.Len())
	for i := 0; i < plays.Len(); i++ {
		played[plays.String(i, "track_key")] = struct{}{}
	}
	return played, nil
}

// dropProcessed removes sources already recorded in the strategy's table.
func (g *Generator) dropProcessed(ctx context.Context, user string, sources []Source) ([]Source, error) {
	existing, err := g.store.Read(store.Cleaned, g.strat.Table()).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return sources, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read own table: %w", g.Name(), err)
	}

	processed := make(map[string]struct{}, existing.Len())
	for i := 0; i < existing.Len(); i++ {
		processed[existing.String(i, "source_key")] = struct{}{}
	}

	remaining := sources[:0:0]
	for _, s := range sources {
		if _, done := processed[s.Key]; !done {
			remaining = append(remaining, s)
		}
	}
	return remaining, nil
}

// expandAll fans sources out over a bounded worker pool, logging progress
// on a ticker. Individual source failures are logged and skipped.
func (g *Generator) expandAll(ctx context.Context, user string, sources []Source) []models.CandidateRecord {
	cache := NewRunCache()

	var done atomic.Int64
	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go func() {
		interval := g.cfg.ProgressInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				logging.Info().Str("stage", g.Name()).Str("user", user).
					Int64("done", done.Load()).Int("total", len(sources)).
					Msg("Generation progress")
			}
		}
	}()

	var mu sync.Mutex
	var out []models.CandidateRecord

	eg, gctx := errgroup.WithContext(ctx)
	limit := g.cfg.FanOutConcurrency
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)
	for _, src := range sources {
		eg.Go(func() error {
			cands, err := g.strat.Expand(gctx, cache, user, src)
			done.Add(1)
			if err != nil {
				logging.Warn().Err(err).Str("stage", g.Name()).
					Str("source", src.Key).Msg("Source expansion failed, skipping")
				return nil
			}
			mu.Lock()
			out = append(out, cands...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// sampleSources keeps sources deterministically: a source survives when
// hash(key) mod 100 falls under the rate. The same source set always
// samples identically, so reruns are stable.
func sampleSources(sources []Source, rate float64) []Source {
	if rate >= 1 {
		return sources
	}
	cutoff := uint32(rate * 100)
	kept := sources[:0:0]
	for _, s := range sources {
		h := fnv.New32a()
		_, _ = h.Write([]byte(s.Key))
		if h.Sum32()%100 < cutoff {
			kept = append(kept, s)
		}
	}
	return kept
}

func dropPlayed(candidates []models.CandidateRecord, played map[string]struct{}) []models.CandidateRecord {
	kept := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := played[c.TrackKey]; !ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// dedupeKeepMax collapses canonical duplicates, keeping the highest score.
func dedupeKeepMax(candidates []models.CandidateRecord) []models.CandidateRecord {
	best := make(map[string]int, len(candidates))
	var out []models.CandidateRecord
	for _, c := range candidates {
		if c.TrackKey == "" {
			continue
		}
		if i, seen := best[c.TrackKey]; seen {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.TrackKey] = len(out)
		out = append(out, c)
	}
	return out
}

// splitTags parses a comma-separated tag list into trimmed, lowercased
// names.
func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
