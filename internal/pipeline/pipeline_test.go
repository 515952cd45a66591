// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// stubAPI satisfies lastfm.API with overridable behavior per method.
type stubAPI struct {
	recentTracks func(user string) ([]lastfm.RecentTrack, error)
	trackInfo    func(track, artist string) (*lastfm.TrackInfo, error)
	artistInfo   func(artist string) (*lastfm.ArtistInfo, error)
}

func (s *stubAPI) RecentTracks(_ context.Context, user string, _, _ time.Time) ([]lastfm.RecentTrack, error) {
	if s.recentTracks != nil {
		return s.recentTracks(user)
	}
	return nil, nil
}

func (s *stubAPI) SimilarArtists(context.Context, string, int) ([]lastfm.SimilarArtist, error) {
	return nil, nil
}

func (s *stubAPI) ArtistTopTracks(context.Context, string, int) ([]lastfm.TopTrack, error) {
	return nil, nil
}

func (s *stubAPI) ArtistTopAlbums(context.Context, string, int) ([]lastfm.TopAlbum, error) {
	return nil, nil
}

func (s *stubAPI) AlbumInfo(context.Context, string, string) (*lastfm.AlbumInfo, error) {
	return nil, nil
}

func (s *stubAPI) SimilarTags(context.Context, string) ([]lastfm.Tag, error) {
	return nil, nil
}

func (s *stubAPI) TagTopTracks(context.Context, string, int) ([]lastfm.TopTrack, error) {
	return nil, nil
}

func (s *stubAPI) GetTrackInfo(_ context.Context, track, artist string) (*lastfm.TrackInfo, error) {
	if s.trackInfo != nil {
		return s.trackInfo(track, artist)
	}
	return nil, nil
}

func (s *stubAPI) GetArtistInfo(_ context.Context, artist string) (*lastfm.ArtistInfo, error) {
	if s.artistInfo != nil {
		return s.artistInfo(artist)
	}
	return nil, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRawPlays(t *testing.T, s *store.Store, user string, plays []models.RawPlay) {
	t.Helper()
	frame := models.RawPlayFrame()
	for _, p := range plays {
		p.Username = user
		p.AppendTo(frame)
	}
	if _, err := s.Write(context.Background(), frame, store.Raw, models.TableRawPlays, store.WriteOptions{
		Mode:        store.ModeAppend,
		PartitionBy: "username",
	}); err != nil {
		t.Fatalf("failed to seed raw plays: %v", err)
	}
}

func TestCleanCanonicalizesAndConverges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	// Two spellings of the same track plus a duplicate scrobble.
	seedRawPlays(t, s, "alice", []models.RawPlay{
		{Track: "Highway Star (Remastered 2012)", Artist: "Deep Purple", ScrobbledAt: base},
		{Track: "Highway Star", Artist: "Deep Purple", ScrobbledAt: base.Add(time.Hour)},
		{Track: "Highway Star", Artist: "Deep Purple", ScrobbledAt: base.Add(time.Hour)},
	})

	clean := NewClean(s)
	outcome, err := clean.Run(ctx, "alice")
	if err != nil {
		t.Fatalf("Clean.Run() error = %v", err)
	}
	if !outcome.Processed() {
		t.Fatalf("outcome = %+v, want processed", outcome)
	}

	events, err := s.Read(store.Cleaned, models.TableCleanedPlays).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if events.Len() != 2 {
		t.Fatalf("got %d cleaned events, want 2 (duplicate collapsed)", events.Len())
	}
	for i := 0; i < events.Len(); i++ {
		if got := events.String(i, "track_key"); got != "highway star|deep purple" {
			t.Errorf("track_key = %q, want variants collapsed", got)
		}
	}

	// Re-running converges on the same state.
	if _, err := clean.Run(ctx, "alice"); err != nil {
		t.Fatalf("second Clean.Run() error = %v", err)
	}
	n, err := s.Read(store.Cleaned, models.TableCleanedPlays).Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("got %d events after rerun, want 2", n)
	}
}

func TestCleanSkipsWithoutRawPlays(t *testing.T) {
	s := openTestStore(t)

	outcome, err := NewClean(s).Run(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Clean.Run() error = %v", err)
	}
	if outcome.Status != StatusSkipped {
		t.Errorf("outcome = %+v, want skipped", outcome)
	}
}

func TestIngestSkipsWhenUpstreamEmpty(t *testing.T) {
	s := openTestStore(t)
	api := &stubAPI{}

	outcome, err := NewIngest(s, api).Run(context.Background(), "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Ingest.Run() error = %v", err)
	}
	if outcome.Status != StatusSkipped {
		t.Errorf("outcome = %+v, want skipped", outcome)
	}
}

func TestDecayScore(t *testing.T) {
	// One play exactly one half-life old contributes 0.5.
	if got := DecayScore([]float64{30}, 30); got != 0.5 {
		t.Errorf("DecayScore(30d, 30d) = %v, want 0.5", got)
	}
	// A play today scores 1.
	if got := DecayScore([]float64{0}, 30); got != 1 {
		t.Errorf("DecayScore(0d, 30d) = %v, want 1", got)
	}
	// Mean keeps the score in (0, 1] regardless of play count.
	if got := DecayScore([]float64{0, 0, 0, 0}, 30); got != 1 {
		t.Errorf("DecayScore(4x today) = %v, want 1", got)
	}
	// Older plays score strictly lower.
	if DecayScore([]float64{10}, 30) <= DecayScore([]float64{20}, 30) {
		t.Error("decay must be monotonically decreasing in age")
	}
	if got := DecayScore(nil, 30); got != 0 {
		t.Errorf("DecayScore(no plays) = %v, want 0", got)
	}
}

func TestHalfLifeDaysFloor(t *testing.T) {
	tests := []struct {
		span float64
		want float64
	}{
		{0, 30},
		{60, 30},
		{90, 30},
		{180, 60},
		{360, 120},
	}
	for _, tt := range tests {
		if got := halfLifeDays(tt.span); got != tt.want {
			t.Errorf("halfLifeDays(%v) = %v, want %v", tt.span, got, tt.want)
		}
	}
}

// A track played once yesterday must outrank a track played many times long
// ago: decay is averaged per play, not summed.
func TestRecencyRecentOutranksStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var plays []models.RawPlay
	for i := 0; i < 20; i++ {
		plays = append(plays, models.RawPlay{
			Track: "Stale Anthem", Artist: "Old Band",
			ScrobbledAt: now.AddDate(0, 0, -300).Add(time.Duration(i) * time.Hour),
		})
	}
	plays = append(plays, models.RawPlay{
		Track: "Fresh Cut", Artist: "New Band",
		ScrobbledAt: now.AddDate(0, 0, -1),
	})
	seedRawPlays(t, s, "alice", plays)

	if _, err := NewClean(s).Run(ctx, "alice"); err != nil {
		t.Fatalf("Clean.Run() error = %v", err)
	}

	recency := NewRecency(s)
	recency.now = func() time.Time { return now }
	if _, err := recency.Run(ctx, "alice"); err != nil {
		t.Fatalf("Recency.Run() error = %v", err)
	}

	stats, err := s.Read(store.Served, models.TableTrackStats).
		Filter("username = ?", "alice").
		OrderBy("decay_score DESC").
		Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if stats.Len() != 2 {
		t.Fatalf("got %d track stats, want 2", stats.Len())
	}

	top := models.TrackStatAt(stats, 0)
	if top.Track != "Fresh Cut" {
		t.Errorf("top decay track = %q, want Fresh Cut", top.Track)
	}
	if top.DecayScore <= 0 || top.DecayScore > 1 {
		t.Errorf("decay score %v outside (0, 1]", top.DecayScore)
	}

	stale := models.TrackStatAt(stats, 1)
	if stale.PlayCount != 20 {
		t.Errorf("stale play count = %d, want 20", stale.PlayCount)
	}
	if stale.DaysSinceLastPlay < 299 {
		t.Errorf("stale days_since_last_play = %v, want about 300", stale.DaysSinceLastPlay)
	}
}

func TestRecencyNoActivity(t *testing.T) {
	s := openTestStore(t)

	_, err := NewRecency(s).Run(context.Background(), "ghost")
	if !errors.Is(err, ErrNoActivity) {
		t.Errorf("got error %v, want ErrNoActivity", err)
	}
}

func TestDimensionsBuildsUserSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedRawPlays(t, s, "alice", []models.RawPlay{
		{Track: "Opening", Artist: "Glass", ScrobbledAt: base},
		{Track: "Closing", Artist: "Glass", ScrobbledAt: base.AddDate(0, 0, 180)},
	})
	if _, err := NewClean(s).Run(ctx, "alice"); err != nil {
		t.Fatalf("Clean.Run() error = %v", err)
	}

	api := &stubAPI{
		trackInfo: func(track, artist string) (*lastfm.TrackInfo, error) {
			return nil, nil // enrichment unavailable, bare rows expected
		},
	}
	outcome, err := NewDimensions(s, api, 2).Run(ctx)
	if err != nil {
		t.Fatalf("Dimensions.Run() error = %v", err)
	}
	if !outcome.Processed() {
		t.Fatalf("outcome = %+v, want processed", outcome)
	}

	dims, err := s.Read(store.Cleaned, models.TableDimUsers).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if dims.Len() != 1 {
		t.Fatalf("got %d user dims, want 1", dims.Len())
	}
	u := models.UserDimensionAt(dims, 0)
	if u.TotalPlays != 2 {
		t.Errorf("total plays = %d, want 2", u.TotalPlays)
	}
	if u.HalfLifeDays != 60 {
		t.Errorf("half life = %v, want 60 (span 180 / 3)", u.HalfLifeDays)
	}

	tracks, err := s.Read(store.Cleaned, models.TableTracks).Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if tracks != 2 {
		t.Errorf("got %d dimension tracks, want 2", tracks)
	}

	// Second run is incremental: nothing new to enrich, snapshot rebuilt.
	if _, err := NewDimensions(s, api, 2).Run(ctx); err != nil {
		t.Fatalf("second Dimensions.Run() error = %v", err)
	}
	n, err := s.Read(store.Cleaned, models.TableTracks).Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("got %d tracks after rerun, want 2", n)
	}
}

func TestRunnerUnknownStage(t *testing.T) {
	s := openTestStore(t)
	runner := NewRunner(s, &stubAPI{}, &config.PipelineConfig{}, 2)

	if _, err := runner.RunStage(context.Background(), "no-such-stage", "alice"); err == nil {
		t.Error("unknown stage should be an error")
	}
}
