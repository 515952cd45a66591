// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package lastfm

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/metrics"
)

// Breaker wraps an API implementation with circuit breaker protection so a
// degraded Last.fm does not stall whole pipeline runs.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests should exercise the wrapped client directly rather than the breaker.
type Breaker struct {
	api  API
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

var _ API = (*Breaker)(nil)

// NewBreaker wraps api with a circuit breaker:
// - opens at a 60% failure rate over at least 10 requests
// - 1 minute measurement window, 2 minutes open before half-open
// - 3 concurrent probes in half-open state
func NewBreaker(api API) *Breaker {
	const name = "lastfm-api"

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},

		// Not-found responses are successful lookups of absent entities,
		// not upstream failures.
		IsSuccessful: func(err error) bool {
			return err == nil || IsNotFound(err)
		},
	})

	return &Breaker{api: api, cb: cb, name: name}
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		case IsNotFound(err):
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		default:
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return result, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// RecentTracks delegates through the breaker.
func (b *Breaker) RecentTracks(ctx context.Context, user string, from, to time.Time) ([]RecentTrack, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.RecentTracks(ctx, user, from, to)
	})
	if err != nil {
		return nil, err
	}
	return result.([]RecentTrack), nil
}

// SimilarArtists delegates through the breaker.
func (b *Breaker) SimilarArtists(ctx context.Context, artist string, limit int) ([]SimilarArtist, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.SimilarArtists(ctx, artist, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]SimilarArtist), nil
}

// ArtistTopTracks delegates through the breaker.
func (b *Breaker) ArtistTopTracks(ctx context.Context, artist string, limit int) ([]TopTrack, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.ArtistTopTracks(ctx, artist, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]TopTrack), nil
}

// ArtistTopAlbums delegates through the breaker.
func (b *Breaker) ArtistTopAlbums(ctx context.Context, artist string, limit int) ([]TopAlbum, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.ArtistTopAlbums(ctx, artist, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]TopAlbum), nil
}

// AlbumInfo delegates through the breaker.
func (b *Breaker) AlbumInfo(ctx context.Context, album, artist string) (*AlbumInfo, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.AlbumInfo(ctx, album, artist)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*AlbumInfo), nil
}

// SimilarTags delegates through the breaker.
func (b *Breaker) SimilarTags(ctx context.Context, tag string) ([]Tag, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.SimilarTags(ctx, tag)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Tag), nil
}

// TagTopTracks delegates through the breaker.
func (b *Breaker) TagTopTracks(ctx context.Context, tag string, limit int) ([]TopTrack, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.TagTopTracks(ctx, tag, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]TopTrack), nil
}

// GetTrackInfo delegates through the breaker.
func (b *Breaker) GetTrackInfo(ctx context.Context, track, artist string) (*TrackInfo, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.GetTrackInfo(ctx, track, artist)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*TrackInfo), nil
}

// GetArtistInfo delegates through the breaker.
func (b *Breaker) GetArtistInfo(ctx context.Context, artist string) (*ArtistInfo, error) {
	result, err := b.execute(func() (any, error) {
		return b.api.GetArtistInfo(ctx, artist)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*ArtistInfo), nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
