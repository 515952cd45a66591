// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package generate

import (
	"context"
	"fmt"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// topAlbumsFetchLimit is how many albums to request per favorite artist.
const topAlbumsFetchLimit = 15

// DeepCutStrategy digs into the discographies of the user's most-played
// artists for obscure albums: albums with a global play count inside a
// configured obscurity window. Tracks on rarer albums score higher, so the
// strategy surfaces the corners of a beloved catalog instead of its hits.
// Album play count stands in for per-track popularity, which the tracklist
// endpoint does not expose.
type DeepCutStrategy struct {
	store *store.Store
	api   lastfm.API
	cfg   *config.RecommendConfig
}

// NewDeepCut creates the deep-cut strategy.
func NewDeepCut(s *store.Store, api lastfm.API, cfg *config.RecommendConfig) *DeepCutStrategy {
	return &DeepCutStrategy{store: s, api: api, cfg: cfg}
}

func (st *DeepCutStrategy) Name() string        { return "generate-deep-cut" }
func (st *DeepCutStrategy) Table() string       { return models.TableCandidatesDeepCut }
func (st *DeepCutStrategy) IncludePlayed() bool { return false }
func (st *DeepCutStrategy) SampleRate() float64 { return 1 }

// Sources picks the user's most-played artists, weighted by engagement.
func (st *DeepCutStrategy) Sources(ctx context.Context, user string) ([]Source, error) {
	counts, err := userArtistPlays(ctx, st.store, user)
	if err != nil {
		return nil, err
	}
	return artistSources(counts, st.cfg.TopArtists), nil
}

// Expand walks one artist's top albums, keeps the obscure ones, and emits
// their tracklists as candidates.
func (st *DeepCutStrategy) Expand(ctx context.Context, cache *RunCache, user string, src Source) ([]models.CandidateRecord, error) {
	albums, err := cache.ArtistTopAlbums(src.Key, func() ([]lastfm.TopAlbum, error) {
		return st.api.ArtistTopAlbums(ctx, src.Key, topAlbumsFetchLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("top albums for %q: %w", src.Key, err)
	}

	var out []models.CandidateRecord
	for _, album := range albums {
		playcount := album.Playcount.Int64()
		if album.Name == "" ||
			playcount < int64(st.cfg.DeepCutMinListeners) ||
			playcount > int64(st.cfg.DeepCutMaxListeners) {
			continue
		}

		info, err := cache.AlbumInfo(src.Key+"\x00"+album.Name, func() (*lastfm.AlbumInfo, error) {
			return st.api.AlbumInfo(ctx, album.Name, src.Key)
		})
		if err != nil {
			return nil, fmt.Errorf("album info for %q / %q: %w", src.Key, album.Name, err)
		}
		if info == nil {
			continue
		}

		albumPlays := info.Playcount.Int64()
		if albumPlays == 0 {
			albumPlays = playcount
		}
		obscurity := 1 / (float64(albumPlays) + 1)

		for _, t := range info.Tracks.Track {
			if t.Name == "" {
				continue
			}
			artist := t.ArtistName()
			if artist == "" {
				artist = src.Key
			}
			out = append(out, models.CandidateRecord{
				TrackKey:  canonical.TrackKey(t.Name, artist),
				Track:     t.Name,
				Artist:    artist,
				Score:     obscurity * src.Weight,
				SourceKey: src.Key,
				WhySource: album.Name,
				WhyMatch:  float64(albumPlays),
			})
		}
	}
	return out, nil
}
