// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

type stubRunner struct {
	stages []string
	run    func(stage, user string) (pipeline.Outcome, error)
}

func (r *stubRunner) Stages() []string { return r.stages }

func (r *stubRunner) RunStage(_ context.Context, stage, user string) (pipeline.Outcome, error) {
	if r.run != nil {
		return r.run(stage, user)
	}
	return pipeline.Processed(stage, "t", 1, 1), nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	srv := NewServer(s, &stubRunner{stages: []string{"ingest", "clean"}}, &config.ServerConfig{
		Port: 8080,
	}, []string{"alice", "bob"})
	return srv, s
}

func seedServed(t *testing.T, s *store.Store, cands []models.ConsolidatedCandidate) {
	t.Helper()
	frame := models.ConsolidatedFrame()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range cands {
		if c.TrackKey == "" {
			c.TrackKey = canonical.TrackKey(c.Track, c.Artist)
		}
		if c.ConsolidatedAt.IsZero() {
			c.ConsolidatedAt = now
		}
		c.AppendTo(frame)
	}
	if _, err := s.Write(context.Background(), frame, store.Served, models.TableTrackCandidates, store.WriteOptions{
		Mode: store.ModeOverwrite,
	}); err != nil {
		t.Fatalf("failed to seed served candidates: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, target, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode %s %s response %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec
}

func TestRecommendationsEmptyWithoutServedTable(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	var resp recommendationsResponse
	rec := doJSON(t, h, http.MethodGet, "/api/v1/users/ghost/recommendations", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Count != 0 || len(resp.Recommendations) != 0 {
		t.Errorf("response = %+v, want empty list", resp)
	}
}

func TestRecommendationsRankedWithLimit(t *testing.T) {
	srv, s := newTestServer(t)
	seedServed(t, s, []models.ConsolidatedCandidate{
		{Username: "alice", Track: "First", Artist: "Band A", TrackURL: "https://last.fm/1", Score: 3, Rank: 1},
		{Username: "alice", Track: "Second", Artist: "Band B", TrackURL: "https://last.fm/2", Score: 2, Rank: 2},
		{Username: "alice", Track: "Third", Artist: "Band C", TrackURL: "https://last.fm/3", Score: 1, Rank: 3},
	})
	h := srv.Router()

	var resp recommendationsResponse
	rec := doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations?limit=2", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Recommendations[0].Track != "First" || resp.Recommendations[1].Track != "Second" {
		t.Errorf("recommendations out of rank order: %+v", resp.Recommendations)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations?limit=zero", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestArtistExclusionFiltersAllTheirTracks(t *testing.T) {
	srv, s := newTestServer(t)
	seedServed(t, s, []models.ConsolidatedCandidate{
		{Username: "alice", Track: "Song One", Artist: "Boring Band", TrackURL: "https://last.fm/b1", Score: 5, Rank: 1},
		{Username: "alice", Track: "Song Two", Artist: "Boring Band", TrackURL: "https://last.fm/b2", Score: 4, Rank: 2},
		{Username: "alice", Track: "Keeper", Artist: "Good Band", TrackURL: "https://last.fm/g1", Score: 3, Rank: 3},
		{Username: "bob", Track: "Song One", Artist: "Boring Band", TrackURL: "https://last.fm/b1", Score: 5, Rank: 1},
	})
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/users/alice/exclusions/artists",
		`{"artist":"Boring Band"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("exclusion status = %d, want 204", rec.Code)
	}

	var resp recommendationsResponse
	doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations", "", &resp)
	if resp.Count != 1 || resp.Recommendations[0].Track != "Keeper" {
		t.Errorf("alice recommendations = %+v, want only Good Band", resp.Recommendations)
	}

	// Bob's view is untouched by alice's exclusion.
	doJSON(t, h, http.MethodGet, "/api/v1/users/bob/recommendations", "", &resp)
	if resp.Count != 1 || resp.Recommendations[0].Artist != "Boring Band" {
		t.Errorf("bob recommendations = %+v, want Boring Band intact", resp.Recommendations)
	}
}

func TestTrackExclusionUpsertAndRemoval(t *testing.T) {
	srv, s := newTestServer(t)
	seedServed(t, s, []models.ConsolidatedCandidate{
		{Username: "alice", Track: "Skip Me", Artist: "Band", TrackURL: "https://last.fm/s", Score: 2, Rank: 1},
	})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	srv.now = func() time.Time { return clock }
	h := srv.Router()

	body := `{"track":"Skip Me","artist":"Band"}`
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/users/alice/exclusions/tracks", body, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("first exclusion status = %d, want 204", rec.Code)
	}

	// Re-excluding refreshes the timestamp without duplicating the row.
	clock = base.Add(time.Hour)
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/users/alice/exclusions/tracks", body, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("second exclusion status = %d, want 204", rec.Code)
	}

	var listed []excludedTrackDTO
	doJSON(t, h, http.MethodGet, "/api/v1/users/alice/exclusions/tracks", "", &listed)
	if len(listed) != 1 {
		t.Fatalf("exclusions = %+v, want single upserted row", listed)
	}
	if !listed[0].ExcludedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("excluded_at = %v, want refreshed to %v", listed[0].ExcludedAt, base.Add(time.Hour))
	}

	var resp recommendationsResponse
	doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations", "", &resp)
	if resp.Count != 0 {
		t.Errorf("recommendations = %+v, want excluded track hidden", resp.Recommendations)
	}

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/users/alice/exclusions/tracks?track=Skip+Me&artist=Band", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("removal status = %d, want 204", rec.Code)
	}
	doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations", "", &resp)
	if resp.Count != 1 {
		t.Errorf("recommendations after removal = %+v, want track visible again", resp.Recommendations)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/users/alice/exclusions/tracks?track=Skip+Me&artist=Band", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second removal status = %d, want 404", rec.Code)
	}
}

func TestStrategyFilter(t *testing.T) {
	srv, s := newTestServer(t)
	seedServed(t, s, []models.ConsolidatedCandidate{
		{Username: "alice", Track: "Fresh Find", Artist: "Band A", TrackURL: "https://last.fm/1", Score: 3, Rank: 1, FromSimilarArtist: true},
		{Username: "alice", Track: "Old Flame", Artist: "Band B", TrackURL: "https://last.fm/2", Score: 2, Rank: 2, FromOldFavorite: true},
	})
	h := srv.Router()

	var resp recommendationsResponse
	doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations?strategy=old_favorite", "", &resp)
	if resp.Count != 1 || resp.Recommendations[0].Track != "Old Flame" {
		t.Errorf("filtered recommendations = %+v, want old favorites only", resp.Recommendations)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/users/alice/recommendations?strategy=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown strategy status = %d, want 400", rec.Code)
	}
}

func TestPipelineTrigger(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.runner = &stubRunner{
		stages: []string{"ingest", "clean"},
		run: func(stage, user string) (pipeline.Outcome, error) {
			if user == "bob" {
				return pipeline.Outcome{}, errors.New("upstream unavailable")
			}
			return pipeline.Processed(stage, "cleaned.plays", 10, 2), nil
		},
	}
	h := srv.Router()

	var resp stageResponse
	rec := doJSON(t, h, http.MethodPost, "/api/v1/pipeline/clean", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v, want one per configured user", resp.Results)
	}
	// One user failing does not block the other.
	if resp.Results[0].User != "alice" || resp.Results[0].Outcome == nil {
		t.Errorf("alice result = %+v, want outcome", resp.Results[0])
	}
	if resp.Results[1].User != "bob" || resp.Results[1].Error == "" {
		t.Errorf("bob result = %+v, want error", resp.Results[1])
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pipeline/nonsense", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown stage status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pipeline/clean?user=alice", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("single-user status = %d, want 200", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
