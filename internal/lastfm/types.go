// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package lastfm

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// The Last.fm API serializes XML-shaped documents as JSON, which produces
// three recurring quirks handled here so callers never see them:
//   - a field holding a list of T becomes a bare T object when there is
//     exactly one element (flexList)
//   - numbers are usually strings, occasionally real numbers (flexInt,
//     flexFloat)
//   - text nodes appear under "#text"

// flexList unmarshals a JSON value that is either an array of T, a single
// T object, or an empty string (the API's encoding of "no elements").
type flexList[T any] []T

func (l *flexList[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "" || trimmed == "null" || trimmed == `""`:
		*l = nil
		return nil
	case strings.HasPrefix(trimmed, "["):
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		var single T
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = []T{single}
		return nil
	}
}

// flexInt unmarshals an integer sent as either a JSON number or a string.
// Unparseable values read as 0.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}

// Int64 returns the value as an int64.
func (n flexInt) Int64() int64 { return int64(n) }

// flexFloat unmarshals a float sent as either a JSON number or a string.
// Unparseable values read as 0.
type flexFloat float64

func (n *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexFloat(v)
	return nil
}

// Float64 returns the value as a float64.
func (n flexFloat) Float64() float64 { return float64(n) }

// ArtistRef is an artist reference nested inside another entity. With
// extended metadata the name is under "name"; otherwise under "#text".
// Exactly one of Name and Text is populated depending on the endpoint.
type ArtistRef struct {
	Name string `json:"name"`
	Text string `json:"#text"`
	MBID string `json:"mbid"`
	URL  string `json:"url"`
}

func (a ArtistRef) name() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Text
}

// albumRef is an album reference nested inside a scrobble.
type albumRef struct {
	Text  string `json:"#text"`
	Title string `json:"title"`
	MBID  string `json:"mbid"`
}

func (a albumRef) title() string {
	if a.Title != "" {
		return a.Title
	}
	return a.Text
}

// RecentTrack is one scrobble from user.getRecentTracks.
type RecentTrack struct {
	Name   string    `json:"name"`
	MBID   string    `json:"mbid"`
	URL    string    `json:"url"`
	Artist ArtistRef `json:"artist"`
	Album  albumRef  `json:"album"`
	Date   *struct {
		UTS flexInt `json:"uts"`
	} `json:"date"`
	Attr *struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

// ArtistName returns the scrobble's artist name.
func (t RecentTrack) ArtistName() string { return t.Artist.name() }

// AlbumName returns the scrobble's album title.
func (t RecentTrack) AlbumName() string { return t.Album.title() }

// NowPlaying reports whether the entry is an in-progress play without a
// timestamp.
func (t RecentTrack) NowPlaying() bool {
	return t.Date == nil || (t.Attr != nil && t.Attr.NowPlaying == "true")
}

type recentTracksResponse struct {
	RecentTracks struct {
		Track flexList[RecentTrack] `json:"track"`
		Attr  struct {
			Page       flexInt `json:"page"`
			TotalPages flexInt `json:"totalPages"`
			Total      flexInt `json:"total"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

// SimilarArtist is one artist.getSimilar match.
type SimilarArtist struct {
	Name  string    `json:"name"`
	MBID  string    `json:"mbid"`
	URL   string    `json:"url"`
	Match flexFloat `json:"match"`
}

type similarArtistsResponse struct {
	SimilarArtists struct {
		Artist flexList[SimilarArtist] `json:"artist"`
	} `json:"similarartists"`
}

// TopTrack is one track from artist.getTopTracks or tag.getTopTracks.
// Listeners and Playcount are zero when the endpoint omits them.
type TopTrack struct {
	Name      string    `json:"name"`
	MBID      string    `json:"mbid"`
	URL       string    `json:"url"`
	Listeners flexInt   `json:"listeners"`
	Playcount flexInt   `json:"playcount"`
	Artist    ArtistRef `json:"artist"`
}

// ArtistName returns the track's artist name.
func (t TopTrack) ArtistName() string { return t.Artist.name() }

type topTracksResponse struct {
	TopTracks struct {
		Track flexList[TopTrack] `json:"track"`
	} `json:"toptracks"`
}

type tagTopTracksResponse struct {
	Tracks struct {
		Track flexList[TopTrack] `json:"track"`
	} `json:"tracks"`
}

// TopAlbum is one album from artist.getTopAlbums.
type TopAlbum struct {
	Name      string    `json:"name"`
	MBID      string    `json:"mbid"`
	URL       string    `json:"url"`
	Playcount flexInt   `json:"playcount"`
	Artist    ArtistRef `json:"artist"`
}

type topAlbumsResponse struct {
	TopAlbums struct {
		Album flexList[TopAlbum] `json:"album"`
	} `json:"topalbums"`
}

// AlbumTrack is one track of an album.getInfo tracklist. The endpoint does
// not expose per-track popularity.
type AlbumTrack struct {
	Name   string    `json:"name"`
	URL    string    `json:"url"`
	Artist ArtistRef `json:"artist"`
}

// ArtistName returns the track's artist name, which can differ from the
// album artist on compilations.
func (t AlbumTrack) ArtistName() string { return t.Artist.name() }

// AlbumInfo is the album.getInfo response body.
type AlbumInfo struct {
	Name      string  `json:"name"`
	Artist    string  `json:"artist"`
	MBID      string  `json:"mbid"`
	URL       string  `json:"url"`
	Listeners flexInt `json:"listeners"`
	Playcount flexInt `json:"playcount"`
	Tracks    struct {
		Track flexList[AlbumTrack] `json:"track"`
	} `json:"tracks"`
}

type albumInfoResponse struct {
	Album AlbumInfo `json:"album"`
}

// Tag is one tag reference.
type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type similarTagsResponse struct {
	SimilarTags struct {
		Tag flexList[Tag] `json:"tag"`
	} `json:"similartags"`
}

// TrackInfo is the track.getInfo response body, used for dimension
// enrichment.
type TrackInfo struct {
	Name      string    `json:"name"`
	MBID      string    `json:"mbid"`
	URL       string    `json:"url"`
	Listeners flexInt   `json:"listeners"`
	Playcount flexInt   `json:"playcount"`
	Artist    ArtistRef `json:"artist"`
	Album     *struct {
		Title string `json:"title"`
		MBID  string `json:"mbid"`
	} `json:"album"`
	TopTags struct {
		Tag flexList[Tag] `json:"tag"`
	} `json:"toptags"`
}

// TagNames returns up to limit top tag names.
func (t TrackInfo) TagNames(limit int) []string {
	return tagNames(t.TopTags.Tag, limit)
}

// AlbumTitle returns the album title, or "".
func (t TrackInfo) AlbumTitle() string {
	if t.Album == nil {
		return ""
	}
	return t.Album.Title
}

type trackInfoResponse struct {
	Track TrackInfo `json:"track"`
}

// ArtistInfo is the artist.getInfo response body.
type ArtistInfo struct {
	Name  string `json:"name"`
	MBID  string `json:"mbid"`
	URL   string `json:"url"`
	Stats struct {
		Listeners flexInt `json:"listeners"`
		Playcount flexInt `json:"playcount"`
	} `json:"stats"`
	Tags struct {
		Tag flexList[Tag] `json:"tag"`
	} `json:"tags"`
}

// TagNames returns up to limit top tag names.
func (a ArtistInfo) TagNames(limit int) []string {
	return tagNames(a.Tags.Tag, limit)
}

type artistInfoResponse struct {
	Artist ArtistInfo `json:"artist"`
}

func tagNames(tags []Tag, limit int) []string {
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}
