// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harmonia-fm/harmonia/internal/logging"
	"github.com/harmonia-fm/harmonia/internal/metrics"
)

// WriteMode selects how a frame is applied to its target table.
type WriteMode int

const (
	// ModeOverwrite replaces the table contents, or only the rows of one
	// partition when a Scope is given.
	ModeOverwrite WriteMode = iota
	// ModeAppend inserts all rows without touching existing ones.
	ModeAppend
	// ModeMerge upserts by predicate: matched rows are updated in place,
	// unmatched rows are inserted. Requires WriteOptions.Predicate.
	ModeMerge
)

// String returns the catalog name of the mode.
func (m WriteMode) String() string {
	switch m {
	case ModeOverwrite:
		return "overwrite"
	case ModeAppend:
		return "append"
	case ModeMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Scope narrows an overwrite to a single partition value. Only rows where
// Column equals Value are replaced; other partitions are untouched.
type Scope struct {
	Column string
	Value  any
}

// WriteOptions controls a single write.
type WriteOptions struct {
	Mode WriteMode

	// Predicate identifies matching rows for ModeMerge. It references the
	// staged source as "s" and the target as "t", for example
	// "s.username = t.username AND s.scrobbled_at = t.scrobbled_at".
	Predicate string

	// PartitionBy records the table's advisory partition column in the
	// catalog. It does not change physical layout.
	PartitionBy string

	// Scope limits ModeOverwrite to one partition.
	Scope *Scope
}

// WriteResult reports what a write did.
type WriteResult struct {
	Table    string
	Layer    Layer
	Rows     int64
	Columns  int
	Inserted int64
	Updated  int64
	Version  int64
}

// Write applies a frame to the named table. The table is created on first
// write with the frame's schema. Merge runs staged in a single transaction
// so a failure leaves the target untouched.
func (s *Store) Write(ctx context.Context, frame *Frame, layer Layer, table string, opts WriteOptions) (*WriteResult, error) {
	if !layer.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, int(layer))
	}
	if err := validateIdent("table", table); err != nil {
		return nil, err
	}
	if len(frame.Columns) == 0 {
		return nil, fmt.Errorf("%s: %w", qualify(layer, table), ErrEmptySchema)
	}
	for _, c := range frame.Columns {
		if err := validateIdent("column", c.Name); err != nil {
			return nil, err
		}
	}
	if opts.Mode == ModeMerge && strings.TrimSpace(opts.Predicate) == "" {
		return nil, fmt.Errorf("%s: %w", qualify(layer, table), ErrMissingPredicate)
	}
	if opts.Scope != nil {
		if opts.Mode != ModeOverwrite {
			return nil, fmt.Errorf("%s: scope is only valid for overwrite", qualify(layer, table))
		}
		if err := validateIdent("column", opts.Scope.Column); err != nil {
			return nil, err
		}
	}

	start := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin write transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tableExists(ctx, tx, layer, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := createTable(ctx, tx, layer, table, frame); err != nil {
			return nil, err
		}
	}

	result := &WriteResult{
		Table:   table,
		Layer:   layer,
		Rows:    int64(frame.Len()),
		Columns: len(frame.Columns),
	}

	switch opts.Mode {
	case ModeOverwrite:
		if err := runOverwrite(ctx, tx, layer, table, frame, opts.Scope, result); err != nil {
			return nil, err
		}
	case ModeAppend:
		n, err := insertRows(ctx, tx, qualify(layer, table), frame)
		if err != nil {
			return nil, err
		}
		result.Inserted = n
	case ModeMerge:
		// A freshly created table has nothing to match; merge degenerates
		// to a plain insert.
		if !exists {
			n, err := insertRows(ctx, tx, qualify(layer, table), frame)
			if err != nil {
				return nil, err
			}
			result.Inserted = n
		} else if err := runMerge(ctx, tx, layer, table, frame, opts.Predicate, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown write mode %d", int(opts.Mode))
	}

	version, err := bumpCatalog(ctx, tx, layer, table, opts, result.Rows)
	if err != nil {
		return nil, err
	}
	result.Version = version

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit write to %s: %w", qualify(layer, table), err)
	}

	metrics.ObserveWrite(layer.String(), table, opts.Mode.String(), result.Rows)

	logging.Debug().
		Str("table", qualify(layer, table)).
		Str("mode", opts.Mode.String()).
		Int64("rows", result.Rows).
		Int64("inserted", result.Inserted).
		Int64("updated", result.Updated).
		Int64("version", version).
		Dur("elapsed", time.Since(start)).
		Msg("Table write complete")

	return result, nil
}

func createTable(ctx context.Context, q querier, layer Layer, table string, frame *Frame) error {
	defs := make([]string, len(frame.Columns))
	for i, c := range frame.Columns {
		defs[i] = c.Name + " " + c.Type.String()
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", qualify(layer, table), strings.Join(defs, ", "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create %s: %w", qualify(layer, table), err)
	}
	return nil
}

func runOverwrite(ctx context.Context, q querier, layer Layer, table string, frame *Frame, scope *Scope, result *WriteResult) error {
	target := qualify(layer, table)
	if scope != nil {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", target, scope.Column)
		if _, err := q.ExecContext(ctx, stmt, scope.Value); err != nil {
			return fmt.Errorf("failed to clear partition of %s: %w", target, err)
		}
	} else {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+target); err != nil {
			return fmt.Errorf("failed to clear %s: %w", target, err)
		}
	}
	n, err := insertRows(ctx, q, target, frame)
	if err != nil {
		return err
	}
	result.Inserted = n
	return nil
}

// runMerge stages the frame in a temp table, updates matched target rows,
// then inserts the rest. The predicate references source rows as "s" and
// target rows as "t".
func runMerge(ctx context.Context, q querier, layer Layer, table string, frame *Frame, predicate string, result *WriteResult) error {
	target := qualify(layer, table)

	defs := make([]string, len(frame.Columns))
	for i, c := range frame.Columns {
		defs[i] = c.Name + " " + c.Type.String()
	}
	if _, err := q.ExecContext(ctx,
		fmt.Sprintf("CREATE TEMP TABLE merge_stage (%s)", strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create merge stage: %w", err)
	}
	defer func() {
		_, _ = q.ExecContext(ctx, "DROP TABLE IF EXISTS merge_stage")
	}()

	if _, err := insertRows(ctx, q, "merge_stage", frame); err != nil {
		return err
	}

	sets := make([]string, len(frame.Columns))
	for i, c := range frame.Columns {
		sets[i] = c.Name + " = s." + c.Name
	}
	updateStmt := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM merge_stage AS s WHERE %s",
		target, strings.Join(sets, ", "), predicate)
	res, err := q.ExecContext(ctx, updateStmt)
	if err != nil {
		return fmt.Errorf("failed to merge-update %s: %w", target, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.Updated = n
	}

	cols := quoteIdentList(frame.ColumnNames())
	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM merge_stage AS s WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE %s)",
		target, cols, cols, target, predicate)
	res, err = q.ExecContext(ctx, insertStmt)
	if err != nil {
		return fmt.Errorf("failed to merge-insert %s: %w", target, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.Inserted = n
	}
	return nil
}

// insertRows bulk-inserts frame rows in batches of multi-row VALUES
// statements.
func insertRows(ctx context.Context, q querier, target string, frame *Frame) (int64, error) {
	if frame.Len() == 0 {
		return 0, nil
	}

	cols := quoteIdentList(frame.ColumnNames())
	width := len(frame.Columns)
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"

	const batchSize = 500
	var total int64
	for offset := 0; offset < frame.Len(); offset += batchSize {
		end := offset + batchSize
		if end > frame.Len() {
			end = frame.Len()
		}
		batch := frame.Rows[offset:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*width)
		for i, row := range batch {
			placeholders[i] = placeholder
			args = append(args, row...)
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", target, cols, strings.Join(placeholders, ", "))
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return total, fmt.Errorf("failed to insert into %s: %w", target, err)
		}
		total += int64(len(batch))
	}
	return total, nil
}

// bumpCatalog records the write in meta.tables, incrementing the version.
func bumpCatalog(ctx context.Context, q querier, layer Layer, table string, opts WriteOptions, rows int64) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT version FROM meta.tables WHERE schema_name = ? AND table_name = ?`,
		layer.String(), table).Scan(&version)
	now := time.Now().UTC()
	var partition any
	if opts.PartitionBy != "" {
		partition = opts.PartitionBy
	}
	switch {
	case err == nil:
		version++
		_, err = q.ExecContext(ctx,
			`UPDATE meta.tables
			 SET version = ?, last_mode = ?, last_rows = ?, last_written_at = ?,
			     partition_column = coalesce(?, partition_column)
			 WHERE schema_name = ? AND table_name = ?`,
			version, opts.Mode.String(), rows, now, partition, layer.String(), table)
		if err != nil {
			return 0, fmt.Errorf("failed to update table catalog: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		version = 1
		_, err = q.ExecContext(ctx,
			`INSERT INTO meta.tables
			 (schema_name, table_name, partition_column, version, last_mode, last_rows, last_written_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			layer.String(), table, partition, version, opts.Mode.String(), rows, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert table catalog row: %w", err)
		}
	default:
		return 0, fmt.Errorf("failed to read table catalog: %w", err)
	}
	return version, nil
}
