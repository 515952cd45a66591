// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package generate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

const (
	// similarFetchLimit is how many similar artists to request per seed.
	similarFetchLimit = 30
	// similarKeepLimit is how many survive the similarity filter.
	similarKeepLimit = 10
)

// SimilarArtistStrategy expands each artist the user plays into tracks by
// similar artists. Near-identical matches are dropped: an artist with a
// match of 0.99 is usually a re-issue or alias of something the user
// already knows, not a discovery.
type SimilarArtistStrategy struct {
	store *store.Store
	api   lastfm.API
	cfg   *config.RecommendConfig
}

// NewSimilarArtist creates the similar-artist strategy.
func NewSimilarArtist(s *store.Store, api lastfm.API, cfg *config.RecommendConfig) *SimilarArtistStrategy {
	return &SimilarArtistStrategy{store: s, api: api, cfg: cfg}
}

func (st *SimilarArtistStrategy) Name() string       { return "generate-similar-artist" }
func (st *SimilarArtistStrategy) Table() string      { return models.TableCandidatesSimilarArtist }
func (st *SimilarArtistStrategy) IncludePlayed() bool { return false }
func (st *SimilarArtistStrategy) SampleRate() float64 { return st.cfg.SampleRate }

// Sources lists the user's played artists, weighted by relative play count.
func (st *SimilarArtistStrategy) Sources(ctx context.Context, user string) ([]Source, error) {
	counts, err := userArtistPlays(ctx, st.store, user)
	if err != nil {
		return nil, err
	}
	return artistSources(counts, 0), nil
}

// Expand fetches similar artists for a seed and turns their top tracks into
// candidates.
func (st *SimilarArtistStrategy) Expand(ctx context.Context, cache *RunCache, user string, src Source) ([]models.CandidateRecord, error) {
	similar, err := cache.SimilarArtists(src.Key, func() ([]lastfm.SimilarArtist, error) {
		return st.api.SimilarArtists(ctx, src.Key, similarFetchLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("similar artists for %q: %w", src.Key, err)
	}

	kept := make([]lastfm.SimilarArtist, 0, similarKeepLimit)
	for _, sim := range similar {
		match := sim.Match.Float64()
		if sim.Name == "" || match <= 0 || match > st.cfg.SimilarityThreshold {
			continue
		}
		kept = append(kept, sim)
		if len(kept) == similarKeepLimit {
			break
		}
	}

	var out []models.CandidateRecord
	for _, sim := range kept {
		tracks, err := cache.ArtistTopTracks(sim.Name, func() ([]lastfm.TopTrack, error) {
			return st.api.ArtistTopTracks(ctx, sim.Name, st.cfg.MaxCandidatesPerSource)
		})
		if err != nil {
			return nil, fmt.Errorf("top tracks for %q: %w", sim.Name, err)
		}
		for _, t := range tracks {
			if t.Name == "" {
				continue
			}
			artist := t.ArtistName()
			if artist == "" {
				artist = sim.Name
			}
			listeners := t.Listeners.Int64()
			if listeners > 0 && listeners < int64(st.cfg.MinListeners) {
				continue
			}
			match := sim.Match.Float64()
			score := match * src.Weight * math.Log10(float64(t.Playcount.Int64())+1)
			out = append(out, models.CandidateRecord{
				TrackKey:  canonical.TrackKey(t.Name, artist),
				Track:     t.Name,
				Artist:    artist,
				Score:     score,
				SourceKey: src.Key,
				WhySource: src.Key,
				WhyMatch:  match,
			})
		}
	}
	return out, nil
}

// userArtistPlays tallies the user's cleaned plays per artist name.
func userArtistPlays(ctx context.Context, s *store.Store, user string) (map[string]int64, error) {
	plays, err := s.Read(store.Cleaned, models.TableCleanedPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for i := 0; i < plays.Len(); i++ {
		if artist := plays.String(i, "artist"); artist != "" {
			counts[artist]++
		}
	}
	return counts, nil
}

// artistSources converts play counts to sources weighted by relative play
// count, most-played first. A positive limit keeps only the top artists.
func artistSources(counts map[string]int64, limit int) []Source {
	if len(counts) == 0 {
		return nil
	}
	var max int64
	for _, c := range counts {
		if c > max {
			max = c
		}
	}

	sources := make([]Source, 0, len(counts))
	for artist, c := range counts {
		sources = append(sources, Source{Key: artist, Weight: float64(c) / float64(max)})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Weight != sources[j].Weight {
			return sources[i].Weight > sources[j].Weight
		}
		return sources[i].Key < sources[j].Key
	})
	if limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	return sources
}
