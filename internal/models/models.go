// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package models defines the row types exchanged with the layered table
// store and the logical table names of each layer.
package models

import (
	"time"

	"github.com/harmonia-fm/harmonia/internal/store"
)

// Table names by layer. Each candidate strategy owns its own table so that
// generators can run concurrently without violating the store's
// single-writer-per-table invariant.
const (
	TableRawPlays = "plays"

	TableCleanedPlays = "plays"
	TableTracks       = "tracks"
	TableArtists      = "artists"
	TableDimUsers     = "dim_users"

	TableCandidatesSimilarArtist = "candidates_similar_artist"
	TableCandidatesSimilarTag    = "candidates_similar_tag"
	TableCandidatesDeepCut       = "candidates_deep_cut"
	TableCandidatesOldFavorite   = "candidates_old_favorite"

	TableTrackStats      = "track_stats"
	TableArtistStats     = "artist_stats"
	TableTrackCandidates = "track_candidates"
	TableExcludedTracks  = "excluded_tracks"
	TableExcludedArtists = "excluded_artists"
)

// RawPlay is one scrobble exactly as fetched, before canonicalization.
type RawPlay struct {
	Username    string
	Track       string
	Artist      string
	Album       string
	TrackMBID   string
	ArtistMBID  string
	TrackURL    string
	ScrobbledAt time.Time
	FetchedAt   time.Time
}

// RawPlayFrame returns an empty frame with the raw.plays schema.
func RawPlayFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "album", Type: store.TypeText},
		store.Column{Name: "track_mbid", Type: store.TypeText},
		store.Column{Name: "artist_mbid", Type: store.TypeText},
		store.Column{Name: "track_url", Type: store.TypeText},
		store.Column{Name: "scrobbled_at", Type: store.TypeTimestamp},
		store.Column{Name: "fetched_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the play to a RawPlayFrame-shaped frame.
func (p RawPlay) AppendTo(f *store.Frame) {
	f.MustAppend(p.Username, p.Track, p.Artist, p.Album, p.TrackMBID,
		p.ArtistMBID, p.TrackURL, p.ScrobbledAt, p.FetchedAt)
}

// RawPlayAt reads row i of a raw plays frame.
func RawPlayAt(f *store.Frame, i int) RawPlay {
	return RawPlay{
		Username:    f.String(i, "username"),
		Track:       f.String(i, "track"),
		Artist:      f.String(i, "artist"),
		Album:       f.String(i, "album"),
		TrackMBID:   f.String(i, "track_mbid"),
		ArtistMBID:  f.String(i, "artist_mbid"),
		TrackURL:    f.String(i, "track_url"),
		ScrobbledAt: f.Time(i, "scrobbled_at"),
		FetchedAt:   f.Time(i, "fetched_at"),
	}
}

// ActivityEvent is one cleaned, canonicalized scrobble. Row identity is
// (username, scrobbled_at).
type ActivityEvent struct {
	Username    string
	Track       string
	Artist      string
	Album       string
	TrackKey    string
	ArtistKey   string
	TrackMBID   string
	ArtistMBID  string
	TrackURL    string
	ScrobbledAt time.Time
}

// ActivityEventFrame returns an empty frame with the cleaned.plays schema.
func ActivityEventFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "album", Type: store.TypeText},
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "artist_key", Type: store.TypeText},
		store.Column{Name: "track_mbid", Type: store.TypeText},
		store.Column{Name: "artist_mbid", Type: store.TypeText},
		store.Column{Name: "track_url", Type: store.TypeText},
		store.Column{Name: "scrobbled_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the event to an ActivityEventFrame-shaped frame.
func (e ActivityEvent) AppendTo(f *store.Frame) {
	f.MustAppend(e.Username, e.Track, e.Artist, e.Album, e.TrackKey,
		e.ArtistKey, e.TrackMBID, e.ArtistMBID, e.TrackURL, e.ScrobbledAt)
}

// ActivityEventAt reads row i of a cleaned plays frame.
func ActivityEventAt(f *store.Frame, i int) ActivityEvent {
	return ActivityEvent{
		Username:    f.String(i, "username"),
		Track:       f.String(i, "track"),
		Artist:      f.String(i, "artist"),
		Album:       f.String(i, "album"),
		TrackKey:    f.String(i, "track_key"),
		ArtistKey:   f.String(i, "artist_key"),
		TrackMBID:   f.String(i, "track_mbid"),
		ArtistMBID:  f.String(i, "artist_mbid"),
		TrackURL:    f.String(i, "track_url"),
		ScrobbledAt: f.Time(i, "scrobbled_at"),
	}
}

// Track is one canonical track dimension row, enriched with popularity and
// tag metadata from the upstream API. Tags is a comma-separated list of the
// track's top tags.
type Track struct {
	TrackKey   string
	Name       string
	Artist     string
	TrackMBID  string
	ArtistMBID string
	Album      string
	Listeners  int64
	Playcount  int64
	Tags       string
	URL        string
}

// TrackFrame returns an empty frame with the cleaned.tracks schema.
func TrackFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "track_mbid", Type: store.TypeText},
		store.Column{Name: "artist_mbid", Type: store.TypeText},
		store.Column{Name: "album", Type: store.TypeText},
		store.Column{Name: "listeners", Type: store.TypeBigInt},
		store.Column{Name: "playcount", Type: store.TypeBigInt},
		store.Column{Name: "tags", Type: store.TypeText},
		store.Column{Name: "track_url", Type: store.TypeText},
	)
}

// AppendTo adds the track to a TrackFrame-shaped frame.
func (t Track) AppendTo(f *store.Frame) {
	f.MustAppend(t.TrackKey, t.Name, t.Artist, t.TrackMBID, t.ArtistMBID,
		t.Album, t.Listeners, t.Playcount, t.Tags, t.URL)
}

// TrackAt reads row i of a tracks frame.
func TrackAt(f *store.Frame, i int) Track {
	return Track{
		TrackKey:   f.String(i, "track_key"),
		Name:       f.String(i, "track"),
		Artist:     f.String(i, "artist"),
		TrackMBID:  f.String(i, "track_mbid"),
		ArtistMBID: f.String(i, "artist_mbid"),
		Album:      f.String(i, "album"),
		Listeners:  f.Int(i, "listeners"),
		Playcount:  f.Int(i, "playcount"),
		Tags:       f.String(i, "tags"),
		URL:        f.String(i, "track_url"),
	}
}

// Artist is one canonical artist dimension row. Tags is a comma-separated
// list of the artist's top tags.
type Artist struct {
	ArtistKey string
	Name      string
	MBID      string
	Listeners int64
	Playcount int64
	Tags      string
	URL       string
}

// ArtistFrame returns an empty frame with the cleaned.artists schema.
func ArtistFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "artist_key", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "artist_mbid", Type: store.TypeText},
		store.Column{Name: "listeners", Type: store.TypeBigInt},
		store.Column{Name: "playcount", Type: store.TypeBigInt},
		store.Column{Name: "tags", Type: store.TypeText},
		store.Column{Name: "artist_url", Type: store.TypeText},
	)
}

// AppendTo adds the artist to an ArtistFrame-shaped frame.
func (a Artist) AppendTo(f *store.Frame) {
	f.MustAppend(a.ArtistKey, a.Name, a.MBID, a.Listeners, a.Playcount, a.Tags, a.URL)
}

// ArtistAt reads row i of an artists frame.
func ArtistAt(f *store.Frame, i int) Artist {
	return Artist{
		ArtistKey: f.String(i, "artist_key"),
		Name:      f.String(i, "artist"),
		MBID:      f.String(i, "artist_mbid"),
		Listeners: f.Int(i, "listeners"),
		Playcount: f.Int(i, "playcount"),
		Tags:      f.String(i, "tags"),
		URL:       f.String(i, "artist_url"),
	}
}

// UserDimension is one user's listening-span summary. One row per user,
// rebuilt (overwritten) every run.
type UserDimension struct {
	Username          string
	FirstPlay         time.Time
	LastPlay          time.Time
	TotalPlays        int64
	ListeningSpanDays float64
	HalfLifeDays      float64
	ComputedAt        time.Time
}

// UserDimensionFrame returns an empty frame with the cleaned.dim_users schema.
func UserDimensionFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "first_play", Type: store.TypeTimestamp},
		store.Column{Name: "last_play", Type: store.TypeTimestamp},
		store.Column{Name: "total_plays", Type: store.TypeBigInt},
		store.Column{Name: "listening_span_days", Type: store.TypeDouble},
		store.Column{Name: "half_life_days", Type: store.TypeDouble},
		store.Column{Name: "computed_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the dimension to a UserDimensionFrame-shaped frame.
func (u UserDimension) AppendTo(f *store.Frame) {
	f.MustAppend(u.Username, u.FirstPlay, u.LastPlay, u.TotalPlays,
		u.ListeningSpanDays, u.HalfLifeDays, u.ComputedAt)
}

// UserDimensionAt reads row i of a dim_users frame.
func UserDimensionAt(f *store.Frame, i int) UserDimension {
	return UserDimension{
		Username:          f.String(i, "username"),
		FirstPlay:         f.Time(i, "first_play"),
		LastPlay:          f.Time(i, "last_play"),
		TotalPlays:        f.Int(i, "total_plays"),
		ListeningSpanDays: f.Float(i, "listening_span_days"),
		HalfLifeDays:      f.Float(i, "half_life_days"),
		ComputedAt:        f.Time(i, "computed_at"),
	}
}

// TrackStat is one (user, track) recency aggregate.
type TrackStat struct {
	Username          string
	TrackKey          string
	Track             string
	Artist            string
	TrackURL          string
	PlayCount         int64
	FirstPlayed       time.Time
	LastPlayed        time.Time
	DaysSinceLastPlay float64
	DecayScore        float64
}

// TrackStatFrame returns an empty frame with the served.track_stats schema.
func TrackStatFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "track_url", Type: store.TypeText},
		store.Column{Name: "play_count", Type: store.TypeBigInt},
		store.Column{Name: "first_played", Type: store.TypeTimestamp},
		store.Column{Name: "last_played", Type: store.TypeTimestamp},
		store.Column{Name: "days_since_last_play", Type: store.TypeDouble},
		store.Column{Name: "decay_score", Type: store.TypeDouble},
	)
}

// AppendTo adds the stat to a TrackStatFrame-shaped frame.
func (s TrackStat) AppendTo(f *store.Frame) {
	f.MustAppend(s.Username, s.TrackKey, s.Track, s.Artist, s.TrackURL,
		s.PlayCount, s.FirstPlayed, s.LastPlayed, s.DaysSinceLastPlay, s.DecayScore)
}

// TrackStatAt reads row i of a track stats frame.
func TrackStatAt(f *store.Frame, i int) TrackStat {
	return TrackStat{
		Username:          f.String(i, "username"),
		TrackKey:          f.String(i, "track_key"),
		Track:             f.String(i, "track"),
		Artist:            f.String(i, "artist"),
		TrackURL:          f.String(i, "track_url"),
		PlayCount:         f.Int(i, "play_count"),
		FirstPlayed:       f.Time(i, "first_played"),
		LastPlayed:        f.Time(i, "last_played"),
		DaysSinceLastPlay: f.Float(i, "days_since_last_play"),
		DecayScore:        f.Float(i, "decay_score"),
	}
}

// ArtistStat is one (user, artist) recency aggregate.
type ArtistStat struct {
	Username          string
	ArtistKey         string
	Artist            string
	PlayCount         int64
	FirstPlayed       time.Time
	LastPlayed        time.Time
	DaysSinceLastPlay float64
	DecayScore        float64
}

// ArtistStatFrame returns an empty frame with the served.artist_stats schema.
func ArtistStatFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "artist_key", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "play_count", Type: store.TypeBigInt},
		store.Column{Name: "first_played", Type: store.TypeTimestamp},
		store.Column{Name: "last_played", Type: store.TypeTimestamp},
		store.Column{Name: "days_since_last_play", Type: store.TypeDouble},
		store.Column{Name: "decay_score", Type: store.TypeDouble},
	)
}

// AppendTo adds the stat to an ArtistStatFrame-shaped frame.
func (s ArtistStat) AppendTo(f *store.Frame) {
	f.MustAppend(s.Username, s.ArtistKey, s.Artist, s.PlayCount,
		s.FirstPlayed, s.LastPlayed, s.DaysSinceLastPlay, s.DecayScore)
}

// ArtistStatAt reads row i of an artist stats frame.
func ArtistStatAt(f *store.Frame, i int) ArtistStat {
	return ArtistStat{
		Username:          f.String(i, "username"),
		ArtistKey:         f.String(i, "artist_key"),
		Artist:            f.String(i, "artist"),
		PlayCount:         f.Int(i, "play_count"),
		FirstPlayed:       f.Time(i, "first_played"),
		LastPlayed:        f.Time(i, "last_played"),
		DaysSinceLastPlay: f.Float(i, "days_since_last_play"),
		DecayScore:        f.Float(i, "decay_score"),
	}
}

// CandidateRecord is one recommendation candidate produced by a generation
// strategy. SourceKey is the provenance key the incremental anti-join runs
// against; WhySource and WhyMatch record strategy-specific provenance.
type CandidateRecord struct {
	Username    string
	TrackKey    string
	Track       string
	Artist      string
	Score       float64
	SourceKey   string
	WhySource   string
	WhyMatch    float64
	GeneratedAt time.Time
}

// CandidateFrame returns an empty frame with the per-strategy candidates
// schema.
func CandidateFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "score", Type: store.TypeDouble},
		store.Column{Name: "source_key", Type: store.TypeText},
		store.Column{Name: "why_source", Type: store.TypeText},
		store.Column{Name: "why_match", Type: store.TypeDouble},
		store.Column{Name: "generated_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the candidate to a CandidateFrame-shaped frame.
func (c CandidateRecord) AppendTo(f *store.Frame) {
	f.MustAppend(c.Username, c.TrackKey, c.Track, c.Artist, c.Score,
		c.SourceKey, c.WhySource, c.WhyMatch, c.GeneratedAt)
}

// CandidateAt reads row i of a candidates frame.
func CandidateAt(f *store.Frame, i int) CandidateRecord {
	return CandidateRecord{
		Username:    f.String(i, "username"),
		TrackKey:    f.String(i, "track_key"),
		Track:       f.String(i, "track"),
		Artist:      f.String(i, "artist"),
		Score:       f.Float(i, "score"),
		SourceKey:   f.String(i, "source_key"),
		WhySource:   f.String(i, "why_source"),
		WhyMatch:    f.Float(i, "why_match"),
		GeneratedAt: f.Time(i, "generated_at"),
	}
}

// ConsolidatedCandidate is one final ranked recommendation. The from_*
// flags record which strategies proposed the track.
type ConsolidatedCandidate struct {
	Username          string
	TrackKey          string
	Track             string
	Artist            string
	TrackURL          string
	Score             float64
	Rank              int64
	FromSimilarArtist bool
	FromSimilarTag    bool
	FromDeepCut       bool
	FromOldFavorite   bool
	ConsolidatedAt    time.Time
}

// ConsolidatedFrame returns an empty frame with the served.track_candidates
// schema.
func ConsolidatedFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "track_url", Type: store.TypeText},
		store.Column{Name: "score", Type: store.TypeDouble},
		store.Column{Name: "candidate_rank", Type: store.TypeBigInt},
		store.Column{Name: "from_similar_artist", Type: store.TypeBool},
		store.Column{Name: "from_similar_tag", Type: store.TypeBool},
		store.Column{Name: "from_deep_cut", Type: store.TypeBool},
		store.Column{Name: "from_old_favorite", Type: store.TypeBool},
		store.Column{Name: "consolidated_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the candidate to a ConsolidatedFrame-shaped frame.
func (c ConsolidatedCandidate) AppendTo(f *store.Frame) {
	f.MustAppend(c.Username, c.TrackKey, c.Track, c.Artist, c.TrackURL,
		c.Score, c.Rank, c.FromSimilarArtist, c.FromSimilarTag,
		c.FromDeepCut, c.FromOldFavorite, c.ConsolidatedAt)
}

// ConsolidatedCandidateAt reads row i of a consolidated candidates frame.
func ConsolidatedCandidateAt(f *store.Frame, i int) ConsolidatedCandidate {
	return ConsolidatedCandidate{
		Username:          f.String(i, "username"),
		TrackKey:          f.String(i, "track_key"),
		Track:             f.String(i, "track"),
		Artist:            f.String(i, "artist"),
		TrackURL:          f.String(i, "track_url"),
		Score:             f.Float(i, "score"),
		Rank:              f.Int(i, "candidate_rank"),
		FromSimilarArtist: f.Bool(i, "from_similar_artist"),
		FromSimilarTag:    f.Bool(i, "from_similar_tag"),
		FromDeepCut:       f.Bool(i, "from_deep_cut"),
		FromOldFavorite:   f.Bool(i, "from_old_favorite"),
		ConsolidatedAt:    f.Time(i, "consolidated_at"),
	}
}

// ExcludedTrack is one user-suppressed track.
type ExcludedTrack struct {
	Username   string
	TrackKey   string
	Track      string
	Artist     string
	ExcludedAt time.Time
}

// ExcludedTrackFrame returns an empty frame with the served.excluded_tracks
// schema.
func ExcludedTrackFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "track_key", Type: store.TypeText},
		store.Column{Name: "track", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "excluded_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the exclusion to an ExcludedTrackFrame-shaped frame.
func (e ExcludedTrack) AppendTo(f *store.Frame) {
	f.MustAppend(e.Username, e.TrackKey, e.Track, e.Artist, e.ExcludedAt)
}

// ExcludedTrackAt reads row i of an excluded tracks frame.
func ExcludedTrackAt(f *store.Frame, i int) ExcludedTrack {
	return ExcludedTrack{
		Username:   f.String(i, "username"),
		TrackKey:   f.String(i, "track_key"),
		Track:      f.String(i, "track"),
		Artist:     f.String(i, "artist"),
		ExcludedAt: f.Time(i, "excluded_at"),
	}
}

// ExcludedArtist is one user-suppressed artist.
type ExcludedArtist struct {
	Username   string
	ArtistKey  string
	Artist     string
	ExcludedAt time.Time
}

// ExcludedArtistFrame returns an empty frame with the served.excluded_artists
// schema.
func ExcludedArtistFrame() *store.Frame {
	return store.NewFrame(
		store.Column{Name: "username", Type: store.TypeText},
		store.Column{Name: "artist_key", Type: store.TypeText},
		store.Column{Name: "artist", Type: store.TypeText},
		store.Column{Name: "excluded_at", Type: store.TypeTimestamp},
	)
}

// AppendTo adds the exclusion to an ExcludedArtistFrame-shaped frame.
func (e ExcludedArtist) AppendTo(f *store.Frame) {
	f.MustAppend(e.Username, e.ArtistKey, e.Artist, e.ExcludedAt)
}

// ExcludedArtistAt reads row i of an excluded artists frame.
func ExcludedArtistAt(f *store.Frame, i int) ExcludedArtist {
	return ExcludedArtist{
		Username:   f.String(i, "username"),
		ArtistKey:  f.String(i, "artist_key"),
		Artist:     f.String(i, "artist"),
		ExcludedAt: f.Time(i, "excluded_at"),
	}
}
