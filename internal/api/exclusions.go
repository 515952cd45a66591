// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// Exclusion merge predicates: re-excluding refreshes excluded_at instead
// of inserting a duplicate row.
const (
	excludedTrackPredicate  = "s.username = t.username AND s.track_key = t.track_key"
	excludedArtistPredicate = "s.username = t.username AND s.artist_key = t.artist_key"
)

type excludeTrackRequest struct {
	Track  string `json:"track"`
	Artist string `json:"artist"`
}

type excludeArtistRequest struct {
	Artist string `json:"artist"`
}

type excludedTrackDTO struct {
	Track      string    `json:"track"`
	Artist     string    `json:"artist"`
	ExcludedAt time.Time `json:"excluded_at"`
}

type excludedArtistDTO struct {
	Artist     string    `json:"artist"`
	ExcludedAt time.Time `json:"excluded_at"`
}

// loadExclusions returns the user's excluded track and artist key sets.
// Missing tables read as empty.
func (s *Server) loadExclusions(ctx context.Context, user string) (map[string]struct{}, map[string]struct{}, error) {
	tracks := make(map[string]struct{})
	artists := make(map[string]struct{})

	frame, err := s.store.Read(store.Served, models.TableExcludedTracks).
		Filter("username = ?", user).
		Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return nil, nil, err
	}
	if err == nil {
		for i := 0; i < frame.Len(); i++ {
			tracks[frame.String(i, "track_key")] = struct{}{}
		}
	}

	frame, err = s.store.Read(store.Served, models.TableExcludedArtists).
		Filter("username = ?", user).
		Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return nil, nil, err
	}
	if err == nil {
		for i := 0; i < frame.Len(); i++ {
			artists[frame.String(i, "artist_key")] = struct{}{}
		}
	}
	return tracks, artists, nil
}

func (s *Server) handleListExcludedTracks(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	frame, err := s.store.Read(store.Served, models.TableExcludedTracks).
		Filter("username = ?", user).
		OrderBy("excluded_at DESC").
		Collect(r.Context())
	if errors.Is(err, store.ErrTableNotFound) {
		writeJSON(w, http.StatusOK, []excludedTrackDTO{})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read exclusions")
		return
	}
	out := make([]excludedTrackDTO, 0, frame.Len())
	for i := 0; i < frame.Len(); i++ {
		e := models.ExcludedTrackAt(frame, i)
		out = append(out, excludedTrackDTO{Track: e.Track, Artist: e.Artist, ExcludedAt: e.ExcludedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExcludeTrack(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var req excludeTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Track == "" || req.Artist == "" {
		writeError(w, http.StatusBadRequest, "track and artist are required")
		return
	}

	frame := models.ExcludedTrackFrame()
	models.ExcludedTrack{
		Username:   user,
		TrackKey:   canonical.TrackKey(req.Track, req.Artist),
		Track:      req.Track,
		Artist:     req.Artist,
		ExcludedAt: s.now().UTC(),
	}.AppendTo(frame)

	if _, err := s.store.Write(r.Context(), frame, store.Served, models.TableExcludedTracks, store.WriteOptions{
		Mode:        store.ModeMerge,
		Predicate:   excludedTrackPredicate,
		PartitionBy: "username",
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save exclusion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveExcludedTrack(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	track := r.URL.Query().Get("track")
	artist := r.URL.Query().Get("artist")
	if track == "" || artist == "" {
		writeError(w, http.StatusBadRequest, "track and artist query parameters are required")
		return
	}
	key := canonical.TrackKey(track, artist)

	removed, err := s.rewriteExclusions(r.Context(), models.TableExcludedTracks, user, func(frame *store.Frame, keep *store.Frame) bool {
		found := false
		for i := 0; i < frame.Len(); i++ {
			e := models.ExcludedTrackAt(frame, i)
			if e.TrackKey == key {
				found = true
				continue
			}
			e.AppendTo(keep)
		}
		return found
	}, models.ExcludedTrackFrame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove exclusion")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "exclusion not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExcludedArtists(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	frame, err := s.store.Read(store.Served, models.TableExcludedArtists).
		Filter("username = ?", user).
		OrderBy("excluded_at DESC").
		Collect(r.Context())
	if errors.Is(err, store.ErrTableNotFound) {
		writeJSON(w, http.StatusOK, []excludedArtistDTO{})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read exclusions")
		return
	}
	out := make([]excludedArtistDTO, 0, frame.Len())
	for i := 0; i < frame.Len(); i++ {
		e := models.ExcludedArtistAt(frame, i)
		out = append(out, excludedArtistDTO{Artist: e.Artist, ExcludedAt: e.ExcludedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExcludeArtist(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var req excludeArtistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Artist == "" {
		writeError(w, http.StatusBadRequest, "artist is required")
		return
	}

	frame := models.ExcludedArtistFrame()
	models.ExcludedArtist{
		Username:   user,
		ArtistKey:  canonical.ArtistKey(req.Artist),
		Artist:     req.Artist,
		ExcludedAt: s.now().UTC(),
	}.AppendTo(frame)

	if _, err := s.store.Write(r.Context(), frame, store.Served, models.TableExcludedArtists, store.WriteOptions{
		Mode:        store.ModeMerge,
		Predicate:   excludedArtistPredicate,
		PartitionBy: "username",
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save exclusion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveExcludedArtist(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	artist := r.URL.Query().Get("artist")
	if artist == "" {
		writeError(w, http.StatusBadRequest, "artist query parameter is required")
		return
	}
	key := canonical.ArtistKey(artist)

	removed, err := s.rewriteExclusions(r.Context(), models.TableExcludedArtists, user, func(frame *store.Frame, keep *store.Frame) bool {
		found := false
		for i := 0; i < frame.Len(); i++ {
			e := models.ExcludedArtistAt(frame, i)
			if e.ArtistKey == key {
				found = true
				continue
			}
			e.AppendTo(keep)
		}
		return found
	}, models.ExcludedArtistFrame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove exclusion")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "exclusion not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rewriteExclusions deletes rows from an exclusion table by re-writing the
// user's partition without them. The store has no row-delete primitive;
// partition-scoped overwrite is the deletion mechanism everywhere.
func (s *Server) rewriteExclusions(ctx context.Context, table, user string,
	filter func(all *store.Frame, keep *store.Frame) bool,
	newFrame func() *store.Frame,
) (bool, error) {
	frame, err := s.store.Read(store.Served, table).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	keep := newFrame()
	found := filter(frame, keep)
	if !found {
		return false, nil
	}

	_, err = s.store.Write(ctx, keep, store.Served, table, store.WriteOptions{
		Mode:        store.ModeOverwrite,
		PartitionBy: "username",
		Scope:       &store.Scope{Column: "username", Value: user},
	})
	return true, err
}
