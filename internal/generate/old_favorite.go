// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package generate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// OldFavoriteStrategy resurfaces tracks the user once loved but has not
// played in a long while. It works entirely from the recency snapshot and
// never calls the upstream API. It is also the only strategy where
// already-played tracks are the point rather than noise.
type OldFavoriteStrategy struct {
	store *store.Store
	cfg   *config.RecommendConfig

	mu    sync.Mutex
	stats map[string]models.TrackStat
}

// NewOldFavorite creates the old-favorite strategy.
func NewOldFavorite(s *store.Store, cfg *config.RecommendConfig) *OldFavoriteStrategy {
	return &OldFavoriteStrategy{store: s, cfg: cfg, stats: make(map[string]models.TrackStat)}
}

func (st *OldFavoriteStrategy) Name() string        { return "generate-old-favorite" }
func (st *OldFavoriteStrategy) Table() string       { return models.TableCandidatesOldFavorite }
func (st *OldFavoriteStrategy) IncludePlayed() bool { return true }
func (st *OldFavoriteStrategy) SampleRate() float64 { return 1 }

// Sources lists tracks untouched for at least the configured number of
// days, weighted by their decayed affinity.
func (st *OldFavoriteStrategy) Sources(ctx context.Context, user string) ([]Source, error) {
	stats, err := st.store.Read(store.Served, models.TableTrackStats).
		Filter("username = ?", user).
		OrderBy("track_key").
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sources []Source
	for i := 0; i < stats.Len(); i++ {
		stat := models.TrackStatAt(stats, i)
		if stat.DaysSinceLastPlay < float64(st.cfg.OldFavoriteMinDays) {
			continue
		}
		st.mu.Lock()
		st.stats[user+"\x00"+stat.TrackKey] = stat
		st.mu.Unlock()
		sources = append(sources, Source{Key: stat.TrackKey, Weight: stat.DecayScore})
	}
	return sources, nil
}

// Expand turns one stale favorite's stats into a candidate.
func (st *OldFavoriteStrategy) Expand(ctx context.Context, cache *RunCache, user string, src Source) ([]models.CandidateRecord, error) {
	st.mu.Lock()
	stat, ok := st.stats[user+"\x00"+src.Key]
	st.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no stats snapshot for track %q", src.Key)
	}

	return []models.CandidateRecord{{
		TrackKey:  stat.TrackKey,
		Track:     stat.Track,
		Artist:    stat.Artist,
		Score:     stat.DecayScore * math.Log10(float64(stat.PlayCount)+1),
		SourceKey: stat.TrackKey,
		WhySource: fmt.Sprintf("last played %.0f days ago", stat.DaysSinceLastPlay),
		WhyMatch:  stat.DaysSinceLastPlay,
	}}, nil
}
