// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageRecency is the recency stage name.
const StageRecency = "recency"

// hoursPerDay converts play ages into fractional days.
const hoursPerDay = 24.0

// Recency derives per-user track and artist engagement aggregates from the
// cleaned plays, scored with a per-user exponential decay.
//
// The decay score of a group is the mean of 2^(-age/half_life) over its
// plays, where age is the play's age in days at the run's single reference
// instant and half_life comes from the user dimension snapshot. Base 2
// gives the half-life its literal meaning: a play exactly one half-life old
// contributes 0.5. Dividing by the play count keeps the score in (0, 1] so
// a rarely-but-recently played track can outrank a heavily-played stale
// one. days_since_last_play is carried undecayed for threshold filters.
type Recency struct {
	store *store.Store

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewRecency creates the recency stage.
func NewRecency(s *store.Store) *Recency {
	return &Recency{store: s, now: time.Now}
}

// DecayScore computes the mean base-2 exponential decay over play ages.
func DecayScore(ages []float64, halfLife float64) float64 {
	if len(ages) == 0 || halfLife <= 0 {
		return 0
	}
	var sum float64
	for _, age := range ages {
		if age < 0 {
			age = 0
		}
		sum += math.Exp2(-age / halfLife)
	}
	return sum / float64(len(ages))
}

// Run rebuilds the served track and artist stats for one user.
func (r *Recency) Run(ctx context.Context, user string) (Outcome, error) {
	plays, err := r.store.Read(store.Cleaned, models.TableCleanedPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return Outcome{}, fmt.Errorf("cleaned plays missing: %w", ErrNoActivity)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read cleaned plays: %w", err)
	}
	if plays.Len() == 0 {
		return Outcome{}, fmt.Errorf("user %s: %w", user, ErrNoActivity)
	}

	halfLife, err := r.userHalfLife(ctx, user, plays)
	if err != nil {
		return Outcome{}, err
	}

	ref := r.now().UTC()
	trackResult, err := r.writeTrackStats(ctx, user, plays, halfLife, ref)
	if err != nil {
		return Outcome{}, err
	}
	artistResult, err := r.writeArtistStats(ctx, user, plays, halfLife, ref)
	if err != nil {
		return Outcome{}, err
	}

	logging.Info().Str("user", user).Float64("half_life_days", halfLife).
		Int64("tracks", trackResult.Rows).Int64("artists", artistResult.Rows).
		Msg("Recency stats rebuilt")
	return Processed(StageRecency, models.TableTrackStats,
		trackResult.Rows+artistResult.Rows, trackResult.Version), nil
}

// userHalfLife reads the user's half-life from the dimension snapshot,
// deriving it from the plays themselves when the snapshot predates the user.
func (r *Recency) userHalfLife(ctx context.Context, user string, plays *store.Frame) (float64, error) {
	dims, err := r.store.Read(store.Cleaned, models.TableDimUsers).
		Filter("username = ?", user).
		Collect(ctx)
	if err != nil && !errors.Is(err, store.ErrTableNotFound) {
		return 0, fmt.Errorf("failed to read user dimension: %w", err)
	}
	if dims != nil && dims.Len() > 0 {
		return models.UserDimensionAt(dims, 0).HalfLifeDays, nil
	}

	first, last := plays.Time(0, "scrobbled_at"), plays.Time(0, "scrobbled_at")
	for i := 1; i < plays.Len(); i++ {
		at := plays.Time(i, "scrobbled_at")
		if at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
	}
	h := halfLifeDays(last.Sub(first).Hours() / hoursPerDay)
	logging.Debug().Str("user", user).Float64("half_life_days", h).
		Msg("User dimension missing, derived half-life from plays")
	return h, nil
}

type statAccum struct {
	event models.ActivityEvent
	ages  []float64
	first time.Time
	last  time.Time
}

func (a *statAccum) add(at time.Time, ageDays float64) {
	a.ages = append(a.ages, ageDays)
	if at.Before(a.first) {
		a.first = at
	}
	if at.After(a.last) {
		a.last = at
	}
}

func accumulate(plays *store.Frame, ref time.Time, keyOf func(models.ActivityEvent) string) map[string]*statAccum {
	groups := make(map[string]*statAccum)
	for i := 0; i < plays.Len(); i++ {
		e := models.ActivityEventAt(plays, i)
		key := keyOf(e)
		if key == "" || e.ScrobbledAt.IsZero() {
			continue
		}
		age := ref.Sub(e.ScrobbledAt).Hours() / hoursPerDay

		g, ok := groups[key]
		if !ok {
			g = &statAccum{event: e, first: e.ScrobbledAt, last: e.ScrobbledAt}
			groups[key] = g
		}
		if !e.ScrobbledAt.Before(g.last) {
			g.event = e
		}
		g.add(e.ScrobbledAt, age)
	}
	return groups
}

func sortedKeys(groups map[string]*statAccum) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Recency) writeTrackStats(ctx context.Context, user string, plays *store.Frame, halfLife float64, ref time.Time) (*store.WriteResult, error) {
	groups := accumulate(plays, ref, func(e models.ActivityEvent) string { return e.TrackKey })

	frame := models.TrackStatFrame()
	for _, key := range sortedKeys(groups) {
		g := groups[key]
		models.TrackStat{
			Username:          user,
			TrackKey:          key,
			Track:             g.event.Track,
			Artist:            g.event.Artist,
			TrackURL:          g.event.TrackURL,
			PlayCount:         int64(len(g.ages)),
			FirstPlayed:       g.first,
			LastPlayed:        g.last,
			DaysSinceLastPlay: ref.Sub(g.last).Hours() / hoursPerDay,
			DecayScore:        DecayScore(g.ages, halfLife),
		}.AppendTo(frame)
	}

	result, err := r.store.Write(ctx, frame, store.Served, models.TableTrackStats, store.WriteOptions{
		Mode:        store.ModeOverwrite,
		PartitionBy: "username",
		Scope:       &store.Scope{Column: "username", Value: user},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write track stats: %w", err)
	}
	return result, nil
}

func (r *Recency) writeArtistStats(ctx context.Context, user string, plays *store.Frame, halfLife float64, ref time.Time) (*store.WriteResult, error) {
	groups := accumulate(plays, ref, func(e models.ActivityEvent) string { return e.ArtistKey })

	frame := models.ArtistStatFrame()
	for _, key := range sortedKeys(groups) {
		g := groups[key]
		models.ArtistStat{
			Username:          user,
			ArtistKey:         key,
			Artist:            g.event.Artist,
			PlayCount:         int64(len(g.ages)),
			FirstPlayed:       g.first,
			LastPlayed:        g.last,
			DaysSinceLastPlay: ref.Sub(g.last).Hours() / hoursPerDay,
			DecayScore:        DecayScore(g.ages, halfLife),
		}.AppendTo(frame)
	}

	result, err := r.store.Write(ctx, frame, store.Served, models.TableArtistStats, store.WriteOptions{
		Mode:        store.ModeOverwrite,
		PartitionBy: "username",
		Scope:       &store.Scope{Column: "username", Value: user},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write artist stats: %w", err)
	}
	return result, nil
}
