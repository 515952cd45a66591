// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/consolidate"
	"github.com/harmonia-fm/harmonia/internal/generate"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// fullRunAPI stubs the upstream for a complete pipeline run: one listened
// artist with one similar artist offering one unheard top track.
type fullRunAPI struct {
	mu             sync.Mutex
	trackInfoCalls map[string]int
}

func newFullRunAPI() *fullRunAPI {
	return &fullRunAPI{trackInfoCalls: make(map[string]int)}
}

func (a *fullRunAPI) RecentTracks(context.Context, string, time.Time, time.Time) ([]lastfm.RecentTrack, error) {
	return nil, nil
}

func (a *fullRunAPI) SimilarArtists(_ context.Context, artist string, _ int) ([]lastfm.SimilarArtist, error) {
	if artist == "Deep Purple" {
		return []lastfm.SimilarArtist{{Name: "Rainbow", Match: 0.8}}, nil
	}
	return nil, nil
}

func (a *fullRunAPI) ArtistTopTracks(_ context.Context, artist string, _ int) ([]lastfm.TopTrack, error) {
	if artist == "Rainbow" {
		return []lastfm.TopTrack{{
			Name:      "Stargazer",
			Listeners: 120000,
			Playcount: 900000,
			Artist:    lastfm.ArtistRef{Name: "Rainbow"},
		}}, nil
	}
	return nil, nil
}

func (a *fullRunAPI) ArtistTopAlbums(context.Context, string, int) ([]lastfm.TopAlbum, error) {
	return nil, nil
}

func (a *fullRunAPI) AlbumInfo(context.Context, string, string) (*lastfm.AlbumInfo, error) {
	return nil, nil
}

func (a *fullRunAPI) SimilarTags(context.Context, string) ([]lastfm.Tag, error) {
	return nil, nil
}

func (a *fullRunAPI) TagTopTracks(context.Context, string, int) ([]lastfm.TopTrack, error) {
	return nil, nil
}

func (a *fullRunAPI) GetTrackInfo(_ context.Context, track, artist string) (*lastfm.TrackInfo, error) {
	a.mu.Lock()
	a.trackInfoCalls[track]++
	a.mu.Unlock()
	return &lastfm.TrackInfo{
		Name:      track,
		URL:       "https://www.last.fm/music/" + artist + "/_/" + track,
		Listeners: 120000,
		Playcount: 900000,
		Artist:    lastfm.ArtistRef{Name: artist},
	}, nil
}

func (a *fullRunAPI) GetArtistInfo(context.Context, string) (*lastfm.ArtistInfo, error) {
	return nil, nil
}

func (a *fullRunAPI) trackInfoCount(track string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trackInfoCalls[track]
}

// TestFullRunSurfacesUnplayedCandidate drives the runner's complete stage
// order against a stub upstream and asserts that a track the user never
// played reaches the served table. The candidate only gets its dimension
// row (and so its URL) on the cycle after it is generated, so serving it
// takes two full runs.
func TestFullRunSurfacesUnplayedCandidate(t *testing.T) {
	s, err := store.Open(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	frame := models.RawPlayFrame()
	models.RawPlay{
		Username:    "alice",
		Track:       "Highway Star",
		Artist:      "Deep Purple",
		ScrobbledAt: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC),
		FetchedAt:   time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
	}.AppendTo(frame)
	if _, err := s.Write(ctx, frame, store.Raw, models.TableRawPlays, store.WriteOptions{
		Mode:        store.ModeAppend,
		PartitionBy: "username",
	}); err != nil {
		t.Fatalf("failed to seed raw plays: %v", err)
	}

	api := newFullRunAPI()
	recommend := &config.RecommendConfig{
		MinListeners:           100,
		SimilarityThreshold:    0.9,
		SampleRate:             1,
		SampleThreshold:        1000,
		TracksPerStrategy:      50,
		MaxCandidatesPerSource: 20,
		MaxTotalCandidates:     500,
		FanOutConcurrency:      2,
		ProgressInterval:       time.Minute,
	}
	runner := pipeline.NewRunner(s, api, &config.PipelineConfig{}, 2)
	runner.RegisterGenerator(generate.New(s, recommend, generate.NewSimilarArtist(s, api, recommend)))
	runner.RegisterConsolidator(consolidate.New(s, recommend))

	if _, err := runner.RunAll(ctx, "alice"); err != nil {
		t.Fatalf("first RunAll() error = %v", err)
	}

	// The candidate exists in the strategy table but has no dimension row
	// yet, so nothing is served after one cycle.
	if _, err := s.Read(store.Served, models.TableTrackCandidates).Collect(ctx); !errors.Is(err, store.ErrTableNotFound) {
		t.Fatalf("served candidates after first run: err = %v, want ErrTableNotFound", err)
	}

	if _, err := runner.RunAll(ctx, "alice"); err != nil {
		t.Fatalf("second RunAll() error = %v", err)
	}

	if got := api.trackInfoCount("Stargazer"); got != 1 {
		t.Errorf("Stargazer enrichment calls = %d, want 1", got)
	}

	served, err := s.Read(store.Served, models.TableTrackCandidates).
		Filter("username = ?", "alice").
		OrderBy("candidate_rank").
		Collect(ctx)
	if err != nil {
		t.Fatalf("failed to read served candidates: %v", err)
	}
	if served.Len() != 1 {
		t.Fatalf("got %d served candidates, want 1", served.Len())
	}
	got := models.ConsolidatedCandidateAt(served, 0)
	if got.Track != "Stargazer" || got.Artist != "Rainbow" {
		t.Errorf("served candidate = %s by %s, want Stargazer by Rainbow", got.Track, got.Artist)
	}
	if !got.FromSimilarArtist {
		t.Error("FromSimilarArtist = false, want true")
	}
	if got.TrackURL == "" {
		t.Error("TrackURL is empty, want the enriched track page")
	}
	if got.Rank != 1 {
		t.Errorf("Rank = %d, want 1", got.Rank)
	}
}
