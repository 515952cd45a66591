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
	"strings"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// similarTagExpand is how many similar tags each source tag expands into.
const similarTagExpand = 5

// SimilarTagStrategy mines the tag vocabulary of the user's played tracks
// and artists, expands each tag into a small neighborhood of similar tags,
// and pulls the top tracks of that neighborhood. A track matched by several
// of the user's tags outranks one matched by a single tag.
type SimilarTagStrategy struct {
	store *store.Store
	api   lastfm.API
	cfg   *config.RecommendConfig
}

// NewSimilarTag creates the similar-tag strategy.
func NewSimilarTag(s *store.Store, api lastfm.API, cfg *config.RecommendConfig) *SimilarTagStrategy {
	return &SimilarTagStrategy{store: s, api: api, cfg: cfg}
}

func (st *SimilarTagStrategy) Name() string        { return "generate-similar-tag" }
func (st *SimilarTagStrategy) Table() string       { return models.TableCandidatesSimilarTag }
func (st *SimilarTagStrategy) IncludePlayed() bool { return false }
func (st *SimilarTagStrategy) SampleRate() float64 { return st.cfg.TagSampleRate }

// Sources collects the distinct tags attached to the user's played tracks
// and artists in the dimension tables.
func (st *SimilarTagStrategy) Sources(ctx context.Context, user string) ([]Source, error) {
	plays, err := st.store.Read(store.Cleaned, models.TableCleanedPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	playedTracks := make(map[string]struct{}, plays.Len())
	playedArtists := make(map[string]struct{})
	for i := 0; i < plays.Len(); i++ {
		playedTracks[plays.String(i, "track_key")] = struct{}{}
		playedArtists[plays.String(i, "artist_key")] = struct{}{}
	}

	tags := make(map[string]struct{})

	trackDims, err := st.store.Read(store.Cleaned, models.TableTracks).Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return nil, err
	}
	if err == nil {
		for i := 0; i < trackDims.Len(); i++ {
			t := models.TrackAt(trackDims, i)
			if _, played := playedTracks[t.TrackKey]; !played {
				continue
			}
			for _, tag := range splitTags(t.Tags) {
				tags[tag] = struct{}{}
			}
		}
	}

	artistDims, err := st.store.Read(store.Cleaned, models.TableArtists).Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return nil, err
	}
	if err == nil {
		for i := 0; i < artistDims.Len(); i++ {
			a := models.ArtistAt(artistDims, i)
			if _, played := playedArtists[a.ArtistKey]; !played {
				continue
			}
			for _, tag := range splitTags(a.Tags) {
				tags[tag] = struct{}{}
			}
		}
	}

	sources := make([]Source, 0, len(tags))
	for tag := range tags {
		sources = append(sources, Source{Key: tag, Weight: 1})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Key < sources[j].Key })
	return sources, nil
}

// Expand widens one tag into its similar-tag neighborhood and scores each
// top track by how many tags in the neighborhood matched it.
func (st *SimilarTagStrategy) Expand(ctx context.Context, cache *RunCache, user string, src Source) ([]models.CandidateRecord, error) {
	neighborhood := []string{src.Key}
	similar, err := cache.SimilarTags(src.Key, func() ([]lastfm.Tag, error) {
		return st.api.SimilarTags(ctx, src.Key)
	})
	if err != nil {
		return nil, fmt.Errorf("similar tags for %q: %w", src.Key, err)
	}
	for _, t := range similar {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" || name == src.Key {
			continue
		}
		neighborhood = append(neighborhood, name)
		if len(neighborhood) == similarTagExpand+1 {
			break
		}
	}

	type hit struct {
		track     string
		artist    string
		playcount int64
		tags      []string
	}
	hits := make(map[string]*hit)

	for _, tag := range neighborhood {
		tracks, err := cache.TagTopTracks(tag, func() ([]lastfm.TopTrack, error) {
			return st.api.TagTopTracks(ctx, tag, st.cfg.MaxCandidatesPerSource)
		})
		if err != nil {
			return nil, fmt.Errorf("top tracks for tag %q: %w", tag, err)
		}
		for _, t := range tracks {
			artist := t.ArtistName()
			if t.Name == "" || artist == "" {
				continue
			}
			// tag.getTopTracks usually omits listener counts; only enforce
			// the popularity floor when the count is actually present.
			listeners := t.Listeners.Int64()
			if listeners > 0 && listeners < int64(st.cfg.MinListeners) {
				continue
			}
			key := canonical.TrackKey(t.Name, artist)
			h, ok := hits[key]
			if !ok {
				h = &hit{track: t.Name, artist: artist}
				hits[key] = h
			}
			if pc := t.Playcount.Int64(); pc > h.playcount {
				h.playcount = pc
			}
			h.tags = append(h.tags, tag)
		}
	}

	out := make([]models.CandidateRecord, 0, len(hits))
	for key, h := range hits {
		// Popularity is frequently absent on this endpoint; fall back to a
		// neutral factor so the tag match count still differentiates.
		popularity := math.Log10(float64(h.playcount) + 1)
		if h.playcount == 0 {
			popularity = 1
		}
		out = append(out, models.CandidateRecord{
			TrackKey:  key,
			Track:     h.track,
			Artist:    h.artist,
			Score:     float64(len(h.tags)) * popularity,
			SourceKey: src.Key,
			WhySource: strings.Join(h.tags, ", "),
			WhyMatch:  float64(len(h.tags)),
		})
	}
	return out, nil
}
