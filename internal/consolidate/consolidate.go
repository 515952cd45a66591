// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package consolidate merges the per-strategy candidate tables into the
// single ranked list the serving layer reads.
//
// Raw strategy scores live on incompatible scales (a similarity product, a
// tag match count, an inverse play count, a decayed affinity), so each
// strategy's scores are first normalized to percentile ranks within the
// strategy. After that the per-track scores are additive: a track surfaced
// by several strategies sums their percentiles and naturally outranks a
// track only one strategy liked.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageConsolidate is the pipeline stage name.
const StageConsolidate = "consolidate"

// strategyOrigin identifies which provenance flag a strategy table sets.
type strategyOrigin int

const (
	originSimilarArtist strategyOrigin = iota
	originSimilarTag
	originDeepCut
	originOldFavorite
)

// strategyTables maps each candidate table to its provenance flag and
// whether its tracks may already be in the user's history.
var strategyTables = []struct {
	table         string
	origin        strategyOrigin
	includePlayed bool
}{
	{models.TableCandidatesSimilarArtist, originSimilarArtist, false},
	{models.TableCandidatesSimilarTag, originSimilarTag, false},
	{models.TableCandidatesDeepCut, originDeepCut, false},
	{models.TableCandidatesOldFavorite, originOldFavorite, true},
}

// Consolidate is the stage that folds strategy outputs into
// served.track_candidates.
type Consolidate struct {
	store *store.Store
	cfg   *config.RecommendConfig
	now   func() time.Time
}

var _ pipeline.UserStage = (*Consolidate)(nil)

// New creates the consolidation stage.
func New(s *store.Store, cfg *config.RecommendConfig) *Consolidate {
	return &Consolidate{store: s, cfg: cfg, now: time.Now}
}

// Name implements pipeline.UserStage.
func (c *Consolidate) Name() string { return StageConsolidate }

// Run rebuilds the user's ranked candidate list from the strategy tables.
func (c *Consolidate) Run(ctx context.Context, user string) (pipeline.Outcome, error) {
	played, err := c.playedTrackKeys(ctx, user)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	merged := make(map[string]*models.ConsolidatedCandidate)
	var total int
	for _, strat := range strategyTables {
		cands, err := c.readStrategy(ctx, strat.table, user)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		if !strat.includePlayed {
			cands = filterPlayed(cands, played)
		}
		// Percentiles span the whole strategy output; the cap only bounds
		// how many of its best rows enter the union.
		sortByScore(cands)
		population := len(cands)
		if n := c.cfg.TracksPerStrategy; n > 0 && len(cands) > n {
			cands = cands[:n]
		}
		total += len(cands)

		for i, cand := range cands {
			percentile := percentileRank(i, population)
			entry, ok := merged[cand.TrackKey]
			if !ok {
				entry = &models.ConsolidatedCandidate{
					Username: user,
					TrackKey: cand.TrackKey,
					Track:    cand.Track,
					Artist:   cand.Artist,
				}
				merged[cand.TrackKey] = entry
			}
			entry.Score += percentile
			switch strat.origin {
			case originSimilarArtist:
				entry.FromSimilarArtist = true
			case originSimilarTag:
				entry.FromSimilarTag = true
			case originDeepCut:
				entry.FromDeepCut = true
			case originOldFavorite:
				entry.FromOldFavorite = true
			}
		}
	}
	if len(merged) == 0 {
		return pipeline.Skipped(StageConsolidate, "no candidates to consolidate"), nil
	}

	urls, err := c.trackURLs(ctx)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	ranked := make([]*models.ConsolidatedCandidate, 0, len(merged))
	for _, entry := range merged {
		url, ok := urls[entry.TrackKey]
		if !ok || url == "" {
			continue
		}
		entry.TrackURL = url
		ranked = append(ranked, entry)
	}
	if len(ranked) == 0 {
		return pipeline.Skipped(StageConsolidate, "no candidates with a resolvable URL"), nil
	}
	ranked = dedupeByURL(ranked)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].TrackKey < ranked[j].TrackKey
	})

	now := c.now().UTC()
	frame := models.ConsolidatedFrame()
	for i, entry := range ranked {
		entry.Rank = int64(i + 1)
		entry.ConsolidatedAt = now
		entry.AppendTo(frame)
	}

	result, err := c.store.Write(ctx, frame, store.Served, models.TableTrackCandidates, store.WriteOptions{
		Mode:        store.ModeOverwrite,
		PartitionBy: "username",
		Scope:       &store.Scope{Column: "username", Value: user},
	})
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("consolidate: failed to write candidates: %w", err)
	}

	logging.Info().Str("user", user).Int("strategy_rows", total).
		Int("ranked", len(ranked)).Msg("Consolidation complete")
	return pipeline.Processed(StageConsolidate, models.TableTrackCandidates, result.Rows, result.Version), nil
}

func (c *Consolidate) readStrategy(ctx context.Context, table, user string) ([]models.CandidateRecord, error) {
	frame, err := c.store.Read(store.Cleaned, table).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to read %s: %w", table, err)
	}
	out := make([]models.CandidateRecord, 0, frame.Len())
	for i := 0; i < frame.Len(); i++ {
		out = append(out, models.CandidateAt(frame, i))
	}
	return out, nil
}

func (c *Consolidate) playedTrackKeys(ctx context.Context, user string) (map[string]struct{}, error) {
	plays, err := c.store.Read(store.Cleaned, models.TableCleanedPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to read plays: %w", err)
	}
	played := make(map[string]struct{}, plays.Len())
	for i := 0; i < plays.Len(); i++ {
		played[plays.String(i, "track_key")] = struct{}{}
	}
	return played, nil
}

// trackURLs resolves each canonical key to a URL from the track dimension.
// When multiple dimension rows share a key, the most popular row wins so
// variant spellings collapse onto the mainstream recording.
func (c *Consolidate) trackURLs(ctx context.Context) (map[string]string, error) {
	dims, err := c.store.Read(store.Cleaned, models.TableTracks).Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to read track dimension: %w", err)
	}

	best := make(map[string]models.Track, dims.Len())
	urls := make(map[string]string, dims.Len())
	for i := 0; i < dims.Len(); i++ {
		t := models.TrackAt(dims, i)
		if t.URL == "" {
			continue
		}
		cur, seen := best[t.TrackKey]
		if !seen || t.Listeners > cur.Listeners {
			best[t.TrackKey] = t
			urls[t.TrackKey] = t.URL
		}
	}
	return urls, nil
}

func filterPlayed(cands []models.CandidateRecord, played map[string]struct{}) []models.CandidateRecord {
	kept := cands[:0:0]
	for _, c := range cands {
		if _, ok := played[c.TrackKey]; !ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// sortByScore orders candidates score-descending, ties broken by key so
// reruns rank identically.
func sortByScore(cands []models.CandidateRecord) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].TrackKey < cands[j].TrackKey
	})
}

// percentileRank maps position i in a descending list of n to (0, 1], with
// the best element at 1.
func percentileRank(i, n int) float64 {
	return float64(n-i) / float64(n)
}

// dedupeByURL collapses candidates resolving to the same URL, keeping the
// higher score.
func dedupeByURL(in []*models.ConsolidatedCandidate) []*models.ConsolidatedCandidate {
	byURL := make(map[string]*models.ConsolidatedCandidate, len(in))
	out := in[:0:0]
	for _, c := range in {
		if prev, ok := byURL[c.TrackURL]; ok {
			if c.Score > prev.Score {
				*prev = *c
			}
			continue
		}
		byURL[c.TrackURL] = c
		out = append(out, c)
	}
	return out
}
