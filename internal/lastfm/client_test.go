// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package lastfm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harmonia-fm/harmonia/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(&config.LastFMConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL + "/2.0/",
		Timeout:        5 * time.Second,
		RateLimit:      1000,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestRecentTracksPagination(t *testing.T) {
	pages := map[string]string{
		"1": `{"recenttracks":{"track":[
			{"name":"Now Spinning","artist":{"name":"Live Act"},"@attr":{"nowplaying":"true"}},
			{"name":"Paranoid","mbid":"m1","url":"https://last.fm/p","artist":{"name":"Black Sabbath","mbid":"a1"},"album":{"#text":"Paranoid"},"date":{"uts":"1767225600"}}
		],"@attr":{"page":"1","totalPages":"2","total":"3"}}}`,
		"2": `{"recenttracks":{"track":
			{"name":"War Pigs","artist":{"name":"Black Sabbath"},"album":{"#text":"Paranoid"},"date":{"uts":"1767222000"}},
		"@attr":{"page":"2","totalPages":"2","total":"3"}}}`,
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("method"); got != "user.getrecenttracks" {
			t.Errorf("method = %q", got)
		}
		if got := r.URL.Query().Get("user"); got != "alice" {
			t.Errorf("user = %q", got)
		}
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("page")]))
	})

	tracks, err := client.RecentTracks(context.Background(), "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("RecentTracks() error = %v", err)
	}
	// 3 entries across pages, one now-playing dropped. Page 2 returns a bare
	// object instead of a list.
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].Name != "Paranoid" || tracks[0].ArtistName() != "Black Sabbath" {
		t.Errorf("first track = %q by %q", tracks[0].Name, tracks[0].ArtistName())
	}
	if tracks[0].Date.UTS.Int64() != 1767225600 {
		t.Errorf("first track uts = %d", tracks[0].Date.UTS.Int64())
	}
	if tracks[1].Name != "War Pigs" {
		t.Errorf("second track = %q", tracks[1].Name)
	}
}

func TestRecentTracksRequiresUsername(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := client.RecentTracks(context.Background(), "", time.Time{}, time.Time{}); err == nil {
		t.Error("empty username should be rejected")
	}
}

func TestSimilarArtistsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":6,"message":"The artist you supplied could not be found"}`))
	})

	artists, err := client.SimilarArtists(context.Background(), "nonexistent artist", 30)
	if err != nil {
		t.Fatalf("SimilarArtists() error = %v, want nil for not-found", err)
	}
	if len(artists) != 0 {
		t.Errorf("got %d artists, want 0", len(artists))
	}
}

func TestAPIErrorPropagates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":10,"message":"Invalid API key"}`))
	})

	_, err := client.SimilarArtists(context.Background(), "nirvana", 30)
	if err == nil {
		t.Fatal("expected error for API error code 10")
	}
	if IsNotFound(err) {
		t.Error("code 10 should not classify as not-found")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"similarartists":{"artist":[{"name":"Alice in Chains","match":"0.87"}]}}`))
	})

	artists, err := client.SimilarArtists(context.Background(), "soundgarden", 30)
	if err != nil {
		t.Fatalf("SimilarArtists() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("server called %d times, want 3", calls)
	}
	if len(artists) != 1 || artists[0].Match.Float64() != 0.87 {
		t.Errorf("got %+v", artists)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if _, err := client.SimilarArtists(context.Background(), "nirvana", 30); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("server called %d times, want 3", calls)
	}
}

func TestTagTopTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tag"); got != "shoegaze" {
			t.Errorf("tag = %q", got)
		}
		_, _ = w.Write([]byte(`{"tracks":{"track":[
			{"name":"Only Shallow","url":"https://last.fm/os","artist":{"name":"My Bloody Valentine"}},
			{"name":"Vapour Trail","artist":{"name":"Ride"}}
		]}}`))
	})

	tracks, err := client.TagTopTracks(context.Background(), "shoegaze", 50)
	if err != nil {
		t.Fatalf("TagTopTracks() error = %v", err)
	}
	if len(tracks) != 2 || tracks[0].ArtistName() != "My Bloody Valentine" {
		t.Errorf("got %+v", tracks)
	}
}

func TestAlbumInfoTracklist(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"album":{"name":"Loveless","artist":"My Bloody Valentine",
			"listeners":"41000","playcount":"2200000",
			"tracks":{"track":{"name":"Soon","url":"https://last.fm/soon","artist":{"name":"My Bloody Valentine"}}}}}`))
	})

	album, err := client.AlbumInfo(context.Background(), "Loveless", "My Bloody Valentine")
	if err != nil {
		t.Fatalf("AlbumInfo() error = %v", err)
	}
	if album.Playcount.Int64() != 2200000 {
		t.Errorf("playcount = %d", album.Playcount.Int64())
	}
	// Single-track album arrives as a bare object.
	if len(album.Tracks.Track) != 1 || album.Tracks.Track[0].Name != "Soon" {
		t.Errorf("tracks = %+v", album.Tracks.Track)
	}
}

func TestGetArtistInfoTags(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"artist":{"name":"Boards of Canada","mbid":"b0c",
			"stats":{"listeners":"1200000","playcount":"98000000"},
			"tags":{"tag":[{"name":"idm"},{"name":"electronic"},{"name":"downtempo"}]}}}`))
	})

	artist, err := client.GetArtistInfo(context.Background(), "Boards of Canada")
	if err != nil {
		t.Fatalf("GetArtistInfo() error = %v", err)
	}
	if artist.Stats.Listeners.Int64() != 1200000 {
		t.Errorf("listeners = %d", artist.Stats.Listeners.Int64())
	}
	tags := artist.TagNames(2)
	if len(tags) != 2 || tags[0] != "idm" {
		t.Errorf("tags = %v", tags)
	}
}

func TestFlexIntVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"quoted", `"123"`, 123},
		{"bare number", `123`, 123},
		{"empty string", `""`, 0},
		{"null", `null`, 0},
		{"garbage", `"abc"`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n flexInt
			if err := n.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatalf("UnmarshalJSON(%s) error = %v", tt.in, err)
			}
			if n.Int64() != tt.want {
				t.Errorf("got %d, want %d", n.Int64(), tt.want)
			}
		})
	}
}
