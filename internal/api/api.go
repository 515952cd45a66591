// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package api serves recommendations, user exclusions, and pipeline
// triggers over HTTP.
//
// The serving layer only reads tables the pipeline owns; the exclusion
// tables are the one exception, owned and written here. A user with no
// served table yet gets an empty recommendation list, never an error.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/pipeline"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageRunner is the pipeline surface the trigger endpoints need.
// Implemented by pipeline.Runner.
type StageRunner interface {
	Stages() []string
	RunStage(ctx context.Context, stage, user string) (pipeline.Outcome, error)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	store  *store.Store
	runner StageRunner
	cfg    *config.ServerConfig
	users  []string
	now    func() time.Time
}

// NewServer creates the serving layer. users is the configured allow-list
// a stage trigger without an explicit user fans out over.
func NewServer(s *store.Store, runner StageRunner, cfg *config.ServerConfig, users []string) *Server {
	return &Server{store: s, runner: runner, cfg: cfg, users: users, now: time.Now}
}

// Router builds the chi route tree with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			window := s.cfg.RateLimitWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, window))
		}

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/recommendations", s.handleRecommendations)

			r.Route("/exclusions", func(r chi.Router) {
				r.Get("/tracks", s.handleListExcludedTracks)
				r.Post("/tracks", s.handleExcludeTrack)
				r.Delete("/tracks", s.handleRemoveExcludedTrack)
				r.Get("/artists", s.handleListExcludedArtists)
				r.Post("/artists", s.handleExcludeArtist)
				r.Delete("/artists", s.handleRemoveExcludedArtist)
			})
		})

		r.Post("/pipeline/{stage}", s.handlePipelineStage)
	})

	return r
}
