// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/metrics"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

const (
	defaultRecommendationLimit = 50
	maxRecommendationLimit     = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Conn().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recommendation is the wire shape of one served candidate.
type recommendation struct {
	Rank              int64     `json:"rank"`
	Track             string    `json:"track"`
	Artist            string    `json:"artist"`
	TrackURL          string    `json:"track_url"`
	Score             float64   `json:"score"`
	FromSimilarArtist bool      `json:"from_similar_artist"`
	FromSimilarTag    bool      `json:"from_similar_tag"`
	FromDeepCut       bool      `json:"from_deep_cut"`
	FromOldFavorite   bool      `json:"from_old_favorite"`
	ConsolidatedAt    time.Time `json:"consolidated_at"`
}

type recommendationsResponse struct {
	User            string           `json:"user"`
	Count           int              `json:"count"`
	Recommendations []recommendation `json:"recommendations"`
}

// handleRecommendations serves the ranked list with exclusions applied at
// read time. A user with no consolidated table yet gets an empty list.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	ctx := r.Context()

	limit := defaultRecommendationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			metrics.RecommendationRequests.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxRecommendationLimit {
			n = maxRecommendationLimit
		}
		limit = n
	}

	strategies, err := parseStrategyFilter(r.URL.Query().Get("strategy"))
	if err != nil {
		metrics.RecommendationRequests.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	frame, err := s.store.Read(store.Served, models.TableTrackCandidates).
		Filter("username = ?", user).
		OrderBy("candidate_rank").
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		metrics.RecommendationRequests.WithLabelValues("empty").Inc()
		writeJSON(w, http.StatusOK, recommendationsResponse{User: user, Recommendations: []recommendation{}})
		return
	}
	if err != nil {
		metrics.RecommendationRequests.WithLabelValues("error").Inc()
		logging.Err(err).Str("user", user).Msg("Failed to read candidates")
		writeError(w, http.StatusInternalServerError, "failed to read recommendations")
		return
	}

	excludedTracks, excludedArtists, err := s.loadExclusions(ctx, user)
	if err != nil {
		metrics.RecommendationRequests.WithLabelValues("error").Inc()
		logging.Err(err).Str("user", user).Msg("Failed to read exclusions")
		writeError(w, http.StatusInternalServerError, "failed to read exclusions")
		return
	}

	recs := make([]recommendation, 0, limit)
	for i := 0; i < frame.Len() && len(recs) < limit; i++ {
		c := models.ConsolidatedCandidateAt(frame, i)
		if _, ok := excludedTracks[c.TrackKey]; ok {
			continue
		}
		if _, ok := excludedArtists[canonical.ArtistKey(c.Artist)]; ok {
			continue
		}
		if len(strategies) > 0 && !matchesStrategy(c, strategies) {
			continue
		}
		recs = append(recs, recommendation{
			Rank:              c.Rank,
			Track:             c.Track,
			Artist:            c.Artist,
			TrackURL:          c.TrackURL,
			Score:             c.Score,
			FromSimilarArtist: c.FromSimilarArtist,
			FromSimilarTag:    c.FromSimilarTag,
			FromDeepCut:       c.FromDeepCut,
			FromOldFavorite:   c.FromOldFavorite,
			ConsolidatedAt:    c.ConsolidatedAt,
		})
	}

	metrics.RecommendationRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, recommendationsResponse{
		User:            user,
		Count:           len(recs),
		Recommendations: recs,
	})
}

func parseStrategyFilter(raw string) (map[string]struct{}, error) {
	if raw == "" {
		return nil, nil
	}
	known := map[string]struct{}{
		"similar_artist": {},
		"similar_tag":    {},
		"deep_cut":       {},
		"old_favorite":   {},
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := known[name]; !ok {
			return nil, errors.New("unknown strategy " + strconv.Quote(name))
		}
		out[name] = struct{}{}
	}
	return out, nil
}

func matchesStrategy(c models.ConsolidatedCandidate, want map[string]struct{}) bool {
	if _, ok := want["similar_artist"]; ok && c.FromSimilarArtist {
		return true
	}
	if _, ok := want["similar_tag"]; ok && c.FromSimilarTag {
		return true
	}
	if _, ok := want["deep_cut"]; ok && c.FromDeepCut {
		return true
	}
	if _, ok := want["old_favorite"]; ok && c.FromOldFavorite {
		return true
	}
	return false
}

// stageResult is one user's outcome from a pipeline trigger.
type stageResult struct {
	User    string            `json:"user"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type stageResponse struct {
	Stage   string        `json:"stage"`
	Results []stageResult `json:"results"`
}

// handlePipelineStage runs one stage for the requested user, or for every
// configured user when none is given. One user failing never blocks the
// rest.
func (s *Server) handlePipelineStage(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")

	valid := false
	for _, name := range s.runner.Stages() {
		if name == stage {
			valid = true
			break
		}
	}
	if !valid {
		writeError(w, http.StatusNotFound, "unknown stage "+strconv.Quote(stage))
		return
	}

	users := s.users
	if u := r.URL.Query().Get("user"); u != "" {
		users = []string{u}
	}
	if len(users) == 0 {
		writeError(w, http.StatusBadRequest, "no user given and none configured")
		return
	}

	resp := stageResponse{Stage: stage}
	for _, user := range users {
		outcome, err := s.runner.RunStage(r.Context(), stage, user)
		if err != nil {
			logging.Err(err).Str("stage", stage).Str("user", user).Msg("Stage trigger failed")
			resp.Results = append(resp.Results, stageResult{User: user, Error: err.Error()})
			continue
		}
		resp.Results = append(resp.Results, stageResult{User: user, Outcome: &outcome})
	}
	writeJSON(w, http.StatusOK, resp)
}
