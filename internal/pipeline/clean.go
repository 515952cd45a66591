// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harmonia-fm/harmonia/internal/canonical"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageClean is the clean stage name.
const StageClean = "clean"

// playMergePredicate is the row identity of a scrobble: one play per user
// per instant. Re-ingested windows converge instead of duplicating.
const playMergePredicate = "s.username = t.username AND s.scrobbled_at = t.scrobbled_at"

// Clean canonicalizes raw plays into cleaned activity events. Raw rows may
// contain duplicates from overlapping ingest windows; the batch is deduped
// on (username, scrobbled_at) and merge-upserted so the cleaned table holds
// exactly one event per play.
type Clean struct {
	store *store.Store
}

// NewClean creates the clean stage.
func NewClean(s *store.Store) *Clean {
	return &Clean{store: s}
}

// Run cleans all raw plays for one user.
func (c *Clean) Run(ctx context.Context, user string) (Outcome, error) {
	raw, err := c.store.Read(store.Raw, models.TableRawPlays).
		Filter("username = ?", user).
		Collect(ctx)
	if errors.Is(err, store.ErrTableNotFound) {
		return Skipped(StageClean, "no raw plays ingested"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read raw plays: %w", err)
	}
	if raw.Len() == 0 {
		return Skipped(StageClean, "no raw plays for user"), nil
	}

	frame := models.ActivityEventFrame()
	seen := make(map[time.Time]struct{}, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		play := models.RawPlayAt(raw, i)
		if play.ScrobbledAt.IsZero() {
			continue
		}
		if _, dup := seen[play.ScrobbledAt]; dup {
			continue
		}
		seen[play.ScrobbledAt] = struct{}{}

		models.ActivityEvent{
			Username:    play.Username,
			Track:       play.Track,
			Artist:      play.Artist,
			Album:       play.Album,
			TrackKey:    canonical.TrackKey(play.Track, play.Artist),
			ArtistKey:   canonical.ArtistKey(play.Artist),
			TrackMBID:   play.TrackMBID,
			ArtistMBID:  play.ArtistMBID,
			TrackURL:    play.TrackURL,
			ScrobbledAt: play.ScrobbledAt,
		}.AppendTo(frame)
	}
	if frame.Len() == 0 {
		return Skipped(StageClean, "no timestamped plays"), nil
	}

	result, err := c.store.Write(ctx, frame, store.Cleaned, models.TableCleanedPlays, store.WriteOptions{
		Mode:        store.ModeMerge,
		Predicate:   playMergePredicate,
		PartitionBy: "username",
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to merge cleaned plays: %w", err)
	}

	logging.Info().Str("user", user).
		Int64("inserted", result.Inserted).Int64("updated", result.Updated).
		Msg("Clean complete")
	return Processed(StageClean, models.TableCleanedPlays, result.Rows, result.Version), nil
}
