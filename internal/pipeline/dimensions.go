// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageDimensions is the dimensions stage name.
const StageDimensions = "dimensions"

// Dimension rows match on MusicBrainz id when both sides have one, and on
// exact name otherwise. A row with an mbid never matches a row without.
const (
	trackMergePredicate = `(s.track_mbid != '' AND s.track_mbid = t.track_mbid) OR ` +
		`(s.track_mbid = '' AND t.track_mbid = '' AND s.track = t.track AND s.artist = t.artist)`
	artistMergePredicate = `(s.artist_mbid != '' AND s.artist_mbid = t.artist_mbid) OR ` +
		`(s.artist_mbid = '' AND t.artist_mbid = '' AND s.artist = t.artist)`
)

// topTagLimit caps how many top tags are kept per dimension row.
const topTagLimit = 5

// minHalfLifeDays floors the per-user half-life so brand-new listeners do
// not get a degenerate decay curve.
const minHalfLifeDays = 30.0

// halfLifeDays derives a user's decay half-life from their listening span:
// a third of the span, floored at 30 days.
func halfLifeDays(spanDays float64) float64 {
	h := spanDays / 3
	if h < minHalfLifeDays {
		h = minHalfLifeDays
	}
	return h
}

// Dimensions maintains the track, artist and user dimension tables.
//
// Track and artist dims are enriched incrementally: only names not yet
// present are fetched from the upstream API, then merged on the mbid-or-name
// predicate. The user dimension is cheap to derive and is rebuilt wholesale
// every run so downstream stages always read one consistent snapshot.
type Dimensions struct {
	store       *store.Store
	api         lastfm.API
	concurrency int
}

// NewDimensions creates the dimensions stage. concurrency bounds parallel
// upstream API calls.
func NewDimensions(s *store.Store, api lastfm.API, concurrency int) *Dimensions {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dimensions{store: s, api: api, concurrency: concurrency}
}

type namePair struct {
	track  string
	artist string
}

// Run refreshes all three dimension tables from the current cleaned plays.
func (d *Dimensions) Run(ctx context.Context) (Outcome, error) {
	plays, err := d.store.Read(store.Cleaned, models.TableCleanedPlays).Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return Skipped(StageDimensions, "no cleaned plays"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read cleaned plays: %w", err)
	}
	if plays.Len() == 0 {
		return Skipped(StageDimensions, "cleaned plays empty"), nil
	}

	trackRows, err := d.refreshTracks(ctx, plays)
	if err != nil {
		return Outcome{}, err
	}
	artistRows, err := d.refreshArtists(ctx, plays)
	if err != nil {
		return Outcome{}, err
	}

	userResult, err := d.rebuildUserDims(ctx, plays)
	if err != nil {
		return Outcome{}, err
	}

	logging.Info().Int64("tracks", trackRows).Int64("artists", artistRows).
		Int64("users", userResult.Rows).Msg("Dimensions refresh complete")
	return Processed(StageDimensions, models.TableDimUsers,
		trackRows+artistRows+userResult.Rows, userResult.Version), nil
}

// refreshTracks enriches tracks seen in plays or proposed as candidates
// that are not yet in the track dimension.
func (d *Dimensions) refreshTracks(ctx context.Context, plays *store.Frame) (int64, error) {
	wanted := make(map[namePair]struct{})
	for i := 0; i < plays.Len(); i++ {
		track, artist := plays.String(i, "track"), plays.String(i, "artist")
		if track != "" && artist != "" {
			wanted[namePair{track, artist}] = struct{}{}
		}
	}

	// Candidate tracks need dimension rows too, or consolidation can never
	// resolve their URLs. The strategy tables are read here, not the served
	// output: served rows only exist once a URL resolved, so reading them
	// back would leave unplayed candidates without dimension rows forever.
	candidateTables := []string{
		models.TableCandidatesSimilarArtist,
		models.TableCandidatesSimilarTag,
		models.TableCandidatesDeepCut,
		models.TableCandidatesOldFavorite,
	}
	for _, table := range candidateTables {
		candidates, err := d.store.Read(store.Cleaned, table).Collect(ctx)
		if errors.Is(err, store.ErrTableNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s candidates: %w", table, err)
		}
		for i := 0; i < candidates.Len(); i++ {
			track, artist := candidates.String(i, "track"), candidates.String(i, "artist")
			if track != "" && artist != "" {
				wanted[namePair{track, artist}] = struct{}{}
			}
		}
	}

	existing, err := d.store.Read(store.Cleaned, models.TableTracks).Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return 0, fmt.Errorf("failed to read track dimension: %w", err)
	}
	if existing != nil {
		for i := 0; i < existing.Len(); i++ {
			delete(wanted, namePair{existing.String(i, "track"), existing.String(i, "artist")})
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	pairs := make([]namePair, 0, len(wanted))
	for p := range wanted {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].artist != pairs[j].artist {
			return pairs[i].artist < pairs[j].artist
		}
		return pairs[i].track < pairs[j].track
	})

	var mu sync.Mutex
	rows := make([]models.Track, 0, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, p := range pairs {
		g.Go(func() error {
			info, err := d.api.GetTrackInfo(gctx, p.track, p.artist)
			if err != nil {
				// A single bad lookup must not sink the whole refresh.
				logging.Warn().Err(err).Str("track", p.track).Str("artist", p.artist).
					Msg("Track enrichment failed, keeping bare row")
				info = nil
			}

			row := models.Track{
				TrackKey: canonical.TrackKey(p.track, p.artist),
				Name:     p.track,
				Artist:   p.artist,
			}
			if info != nil {
				row.TrackMBID = info.MBID
				row.ArtistMBID = info.Artist.MBID
				row.Album = info.AlbumTitle()
				row.Listeners = info.Listeners.Int64()
				row.Playcount = info.Playcount.Int64()
				row.Tags = strings.Join(info.TagNames(topTagLimit), ", ")
				row.URL = info.URL
			}

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	frame := models.TrackFrame()
	for _, r := range rows {
		r.AppendTo(frame)
	}
	result, err := d.store.Write(ctx, frame, store.Cleaned, models.TableTracks, store.WriteOptions{
		Mode:      store.ModeMerge,
		Predicate: trackMergePredicate,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to merge track dimension: %w", err)
	}
	return result.Rows, nil
}

// refreshArtists enriches artists not yet in the artist dimension.
func (d *Dimensions) refreshArtists(ctx context.Context, plays *store.Frame) (int64, error) {
	wanted := make(map[string]struct{})
	for i := 0; i < plays.Len(); i++ {
		if artist := plays.String(i, "artist"); artist != "" {
			wanted[artist] = struct{}{}
		}
	}

	existing, err := d.store.Read(store.Cleaned, models.TableArtists).Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return 0, fmt.Errorf("failed to read artist dimension: %w", err)
	}
	if existing != nil {
		for i := 0; i < existing.Len(); i++ {
			delete(wanted, existing.String(i, "artist"))
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(wanted))
	for n := range wanted {
		names = append(names, n)
	}
	sort.Strings(names)

	var mu sync.Mutex
	rows := make([]models.Artist, 0, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, name := range names {
		g.Go(func() error {
			info, err := d.api.GetArtistInfo(gctx, name)
			if err != nil {
				logging.Warn().Err(err).Str("artist", name).
					Msg("Artist enrichment failed, keeping bare row")
				info = nil
			}

			row := models.Artist{
				ArtistKey: canonical.ArtistKey(name),
				Name:      name,
			}
			if info != nil {
				row.MBID = info.MBID
				row.Listeners = info.Stats.Listeners.Int64()
				row.Playcount = info.Stats.Playcount.Int64()
				row.Tags = strings.Join(info.TagNames(topTagLimit), ", ")
				row.URL = info.URL
			}

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	frame := models.ArtistFrame()
	for _, r := range rows {
		r.AppendTo(frame)
	}
	result, err := d.store.Write(ctx, frame, store.Cleaned, models.TableArtists, store.WriteOptions{
		Mode:      store.ModeMerge,
		Predicate: artistMergePredicate,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to merge artist dimension: %w", err)
	}
	return result.Rows, nil
}

// rebuildUserDims recomputes the per-user listening span and half-life and
// overwrites the user dimension with the fresh snapshot.
func (d *Dimensions) rebuildUserDims(ctx context.Context, plays *store.Frame) (*store.WriteResult, error) {
	type span struct {
		first, last time.Time
		total       int64
	}
	spans := make(map[string]*span)
	for i := 0; i < plays.Len(); i++ {
		user := plays.String(i, "username")
		at := plays.Time(i, "scrobbled_at")
		if user == "" || at.IsZero() {
			continue
		}
		s, ok := spans[user]
		if !ok {
			s = &span{first: at, last: at}
			spans[user] = s
		}
		if at.Before(s.first) {
			s.first = at
		}
		if at.After(s.last) {
			s.last = at
		}
		s.total++
	}

	users := make([]string, 0, len(spans))
	for u := range spans {
		users = append(users, u)
	}
	sort.Strings(users)

	now := time.Now().UTC()
	frame := models.UserDimensionFrame()
	for _, u := range users {
		s := spans[u]
		spanDays := s.last.Sub(s.first).Hours() / 24
		models.UserDimension{
			Username:          u,
			FirstPlay:         s.first,
			LastPlay:          s.last,
			TotalPlays:        s.total,
			ListeningSpanDays: spanDays,
			HalfLifeDays:      halfLifeDays(spanDays),
			ComputedAt:        now,
		}.AppendTo(frame)
	}

	result, err := d.store.Write(ctx, frame, store.Cleaned, models.TableDimUsers, store.WriteOptions{
		Mode: store.ModeOverwrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to overwrite user dimension: %w", err)
	}
	return result, nil
}
