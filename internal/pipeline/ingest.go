// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/harmonia-fm/harmonia/internal/lastfm"
	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/models"
	"github.com/harmonia-fm/harmonia/internal/store"
)

// StageIngest is the ingest stage name.
const StageIngest = "ingest"

// Ingest fetches a user's scrobbles from the upstream API into the raw
// layer, exactly as received. Duplicate scrobbles across overlapping fetch
// windows are tolerated here; the clean stage's merge collapses them.
type Ingest struct {
	store *store.Store
	api   lastfm.API
}

// NewIngest creates the ingest stage.
func NewIngest(s *store.Store, api lastfm.API) *Ingest {
	return &Ingest{store: s, api: api}
}

// Run fetches all scrobbles for user in [from, to] and appends them to
// raw plays. Zero bounds leave the window open on that side.
func (in *Ingest) Run(ctx context.Context, user string, from, to time.Time) (Outcome, error) {
	tracks, err := in.api.RecentTracks(ctx, user, from, to)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to fetch scrobbles for %s: %w", user, err)
	}
	if len(tracks) == 0 {
		return Skipped(StageIngest, "no scrobbles in window"), nil
	}

	now := time.Now().UTC()
	frame := models.RawPlayFrame()
	for _, t := range tracks {
		if t.Date == nil {
			continue
		}
		models.RawPlay{
			Username:    user,
			Track:       t.Name,
			Artist:      t.ArtistName(),
			Album:       t.AlbumName(),
			TrackMBID:   t.MBID,
			ArtistMBID:  t.Artist.MBID,
			TrackURL:    t.URL,
			ScrobbledAt: time.Unix(t.Date.UTS.Int64(), 0).UTC(),
			FetchedAt:   now,
		}.AppendTo(frame)
	}

	result, err := in.store.Write(ctx, frame, store.Raw, models.TableRawPlays, store.WriteOptions{
		Mode:        store.ModeAppend,
		PartitionBy: "username",
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to write raw plays: %w", err)
	}

	logging.Info().Str("user", user).Int64("rows", result.Rows).
		Time("from", from).Time("to", to).Msg("Ingest complete")
	return Processed(StageIngest, models.TableRawPlays, result.Rows, result.Version), nil
}
