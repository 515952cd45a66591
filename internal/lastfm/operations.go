// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package lastfm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// recentTracksPageSize is the API maximum per page.
const recentTracksPageSize = 200

// maxSimilarArtists is the API maximum for artist.getSimilar.
const maxSimilarArtists = 100

// API is the operation surface consumed by the pipeline. Implemented by
// Client and by Breaker; tests substitute stubs.
type API interface {
	RecentTracks(ctx context.Context, user string, from, to time.Time) ([]RecentTrack, error)
	SimilarArtists(ctx context.Context, artist string, limit int) ([]SimilarArtist, error)
	ArtistTopTracks(ctx context.Context, artist string, limit int) ([]TopTrack, error)
	ArtistTopAlbums(ctx context.Context, artist string, limit int) ([]TopAlbum, error)
	AlbumInfo(ctx context.Context, album, artist string) (*AlbumInfo, error)
	SimilarTags(ctx context.Context, tag string) ([]Tag, error)
	TagTopTracks(ctx context.Context, tag string, limit int) ([]TopTrack, error)
	GetTrackInfo(ctx context.Context, track, artist string) (*TrackInfo, error)
	GetArtistInfo(ctx context.Context, artist string) (*ArtistInfo, error)
}

var _ API = (*Client)(nil)

// RecentTracks fetches every scrobble for a user in [from, to], following
// pagination to the end. Now-playing entries (no timestamp) are dropped.
// Zero from/to values leave the window unbounded on that side. Tracks come
// back newest first, as the API returns them.
func (c *Client) RecentTracks(ctx context.Context, user string, from, to time.Time) ([]RecentTrack, error) {
	if user == "" {
		return nil, fmt.Errorf("username must not be empty")
	}

	var all []RecentTrack
	page := 1
	totalPages := -1

	for {
		params := url.Values{}
		params.Set("user", user)
		params.Set("limit", strconv.Itoa(recentTracksPageSize))
		params.Set("page", strconv.Itoa(page))
		params.Set("extended", "1")
		if !from.IsZero() {
			params.Set("from", strconv.FormatInt(from.Unix(), 10))
		}
		if !to.IsZero() {
			params.Set("to", strconv.FormatInt(to.Unix(), 10))
		}

		var resp recentTracksResponse
		if err := c.get(ctx, "user.getrecenttracks", params, &resp); err != nil {
			return nil, err
		}

		var kept int
		for _, t := range resp.RecentTracks.Track {
			if t.NowPlaying() {
				continue
			}
			all = append(all, t)
			kept++
		}

		if totalPages < 0 {
			totalPages = int(resp.RecentTracks.Attr.TotalPages)
			if totalPages < 1 {
				totalPages = 1
			}
		}
		if page >= totalPages || len(resp.RecentTracks.Track) == 0 {
			break
		}
		page++
	}
	return all, nil
}

// SimilarArtists returns artists similar to the given one with match
// scores. An unknown artist yields an empty slice.
func (c *Client) SimilarArtists(ctx context.Context, artist string, limit int) ([]SimilarArtist, error) {
	if limit <= 0 || limit > maxSimilarArtists {
		limit = maxSimilarArtists
	}
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var resp similarArtistsResponse
	if err := c.get(ctx, "artist.getsimilar", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.SimilarArtists.Artist, nil
}

// ArtistTopTracks returns an artist's most-played tracks. An unknown artist
// yields an empty slice.
func (c *Client) ArtistTopTracks(ctx context.Context, artist string, limit int) ([]TopTrack, error) {
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var resp topTracksResponse
	if err := c.get(ctx, "artist.gettoptracks", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.TopTracks.Track, nil
}

// ArtistTopAlbums returns an artist's most-played albums. An unknown artist
// yields an empty slice.
func (c *Client) ArtistTopAlbums(ctx context.Context, artist string, limit int) ([]TopAlbum, error) {
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var resp topAlbumsResponse
	if err := c.get(ctx, "artist.gettopalbums", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.TopAlbums.Album, nil
}

// AlbumInfo returns album metadata including the tracklist. An unknown
// album yields nil.
func (c *Client) AlbumInfo(ctx context.Context, album, artist string) (*AlbumInfo, error) {
	params := url.Values{}
	params.Set("album", album)
	params.Set("artist", artist)
	params.Set("autocorrect", "1")

	var resp albumInfoResponse
	if err := c.get(ctx, "album.getinfo", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Album, nil
}

// SimilarTags returns tags similar to the given one.
func (c *Client) SimilarTags(ctx context.Context, tag string) ([]Tag, error) {
	params := url.Values{}
	params.Set("tag", tag)

	var resp similarTagsResponse
	if err := c.get(ctx, "tag.getsimilar", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.SimilarTags.Tag, nil
}

// TagTopTracks returns a tag's most-played tracks.
func (c *Client) TagTopTracks(ctx context.Context, tag string, limit int) ([]TopTrack, error) {
	params := url.Values{}
	params.Set("tag", tag)
	params.Set("limit", strconv.Itoa(limit))

	var resp tagTopTracksResponse
	if err := c.get(ctx, "tag.gettoptracks", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Tracks.Track, nil
}

// GetTrackInfo returns track metadata including top tags and popularity.
// An unknown track yields nil.
func (c *Client) GetTrackInfo(ctx context.Context, track, artist string) (*TrackInfo, error) {
	params := url.Values{}
	params.Set("track", track)
	params.Set("artist", artist)
	params.Set("autocorrect", "1")

	var resp trackInfoResponse
	if err := c.get(ctx, "track.getinfo", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Track, nil
}

// GetArtistInfo returns artist metadata including top tags and popularity.
// An unknown artist yields nil.
func (c *Client) GetArtistInfo(ctx context.Context, artist string) (*ArtistInfo, error) {
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("autocorrect", "1")

	var resp artistInfoResponse
	if err := c.get(ctx, "artist.getinfo", params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Artist, nil
}
