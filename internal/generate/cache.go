// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package generate

import (
	"sync"

	"github.com/harmonia-fm/harmonia/internal/lastfm"
)

// RunCache memoizes upstream lookups for the duration of one generation
// run. Strategies for the same user frequently revisit the same artist or
// tag; caching per run keeps the API budget proportional to distinct
// sources without risking staleness across runs.
type RunCache struct {
	mu             sync.Mutex
	similarArtists map[string][]lastfm.SimilarArtist
	topTracks      map[string][]lastfm.TopTrack
	topAlbums      map[string][]lastfm.TopAlbum
	albumInfo      map[string]*lastfm.AlbumInfo
	similarTags    map[string][]lastfm.Tag
	tagTracks      map[string][]lastfm.TopTrack
}

// NewRunCache creates an empty per-run cache.
func NewRunCache() *RunCache {
	return &RunCache{
		similarArtists: make(map[string][]lastfm.SimilarArtist),
		topTracks:      make(map[string][]lastfm.TopTrack),
		topAlbums:      make(map[string][]lastfm.TopAlbum),
		albumInfo:      make(map[string]*lastfm.AlbumInfo),
		similarTags:    make(map[string][]lastfm.Tag),
		tagTracks:      make(map[string][]lastfm.TopTrack),
	}
}

func cached[T any](c *RunCache, m map[string]T, key string, fetch func() (T, error)) (T, error) {
	c.mu.Lock()
	if v, ok := m[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	m[key] = v
	c.mu.Unlock()
	return v, nil
}

func (c *RunCache) SimilarArtists(key string, fetch func() ([]lastfm.SimilarArtist, error)) ([]lastfm.SimilarArtist, error) {
	return cached(c, c.similarArtists, key, fetch)
}

func (c *RunCache) ArtistTopTracks(key string, fetch func() ([]lastfm.TopTrack, error)) ([]lastfm.TopTrack, error) {
	return cached(c, c.topTracks, key, fetch)
}

func (c *RunCache) ArtistTopAlbums(key string, fetch func() ([]lastfm.TopAlbum, error)) ([]lastfm.TopAlbum, error) {
	return cached(c, c.topAlbums, key, fetch)
}

func (c *RunCache) AlbumInfo(key string, fetch func() (*lastfm.AlbumInfo, error)) (*lastfm.AlbumInfo, error) {
	return cached(c, c.albumInfo, key, fetch)
}

func (c *RunCache) SimilarTags(key string, fetch func() ([]lastfm.Tag, error)) ([]lastfm.Tag, error) {
	return cached(c, c.similarTags, key, fetch)
}

func (c *RunCache) TagTopTracks(key string, fetch func() ([]lastfm.TopTrack, error)) ([]lastfm.TopTrack, error) {
	return cached(c, c.tagTracks, key, fetch)
}
