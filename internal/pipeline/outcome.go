// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package pipeline implements the listening-history pipeline stages and the
// runner that orchestrates them: ingest (raw), clean (cleaned), dimensions,
// recency scoring (served), plus externally registered candidate generation
// and consolidation stages.
//
// Stages are idempotent: re-running one with the same inputs converges to
// the same table state. A stage that finds nothing to do reports a skipped
// Outcome rather than an error; errors are reserved for broken
// preconditions and infrastructure failures.
package pipeline

import "errors"

// ErrNoActivity is returned by stages whose semantics require recorded
// listening history. An absent cleaned plays table is a broken precondition,
// not an empty result: recommending from nothing would silently serve
// garbage.
var ErrNoActivity = errors.New("no listening activity recorded")

// Status tags an Outcome.
type Status string

const (
	// StatusProcessed means the stage ran and wrote rows.
	StatusProcessed Status = "processed"
	// StatusSkipped means the stage had nothing to do. Not an error.
	StatusSkipped Status = "skipped"
)

// Outcome is the structured result of one stage run.
type Outcome struct {
	Status  Status `json:"status"`
	Stage   string `json:"stage"`
	Table   string `json:"table,omitempty"`
	Rows    int64  `json:"rows"`
	Version int64  `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Processed builds a processed outcome.
func Processed(stage, table string, rows, version int64) Outcome {
	return Outcome{Status: StatusProcessed, Stage: stage, Table: table, Rows: rows, Version: version}
}

// Skipped builds a skipped outcome with the reason nothing ran.
func Skipped(stage, reason string) Outcome {
	return Outcome{Status: StatusSkipped, Stage: stage, Reason: reason}
}

// Processed reports whether the outcome carries written rows.
func (o Outcome) Processed() bool {
	return o.Status == StatusProcessed
}
