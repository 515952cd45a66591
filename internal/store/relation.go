// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Relation is a lazy reference to a table plus accumulated filters. No SQL
// runs until Collect or Count. Filters combine with AND in the order added.
type Relation struct {
	store   *Store
	layer   Layer
	table   string
	filters []filterClause
	orderBy string
	limit   int
}

type filterClause struct {
	expr string
	args []any
}

// Read returns a lazy relation over the named table in the given layer. The
// table does not need to exist yet; a missing table surfaces as
// ErrTableNotFound at Collect time.
func (s *Store) Read(layer Layer, table string) *Relation {
	return &Relation{store: s, layer: layer, table: table, limit: -1}
}

// Filter returns a new relation with an additional predicate. The expression
// uses ? placeholders bound to args. The receiver is not modified.
func (r *Relation) Filter(expr string, args ...any) *Relation {
	next := r.clone()
	next.filters = append(next.filters, filterClause{expr: expr, args: args})
	return next
}

// OrderBy returns a new relation ordered by the given clause, for example
// "scrobbled_at DESC". The receiver is not modified.
func (r *Relation) OrderBy(clause string) *Relation {
	next := r.clone()
	next.orderBy = clause
	return next
}

// Limit returns a new relation capped at n rows. The receiver is not
// modified.
func (r *Relation) Limit(n int) *Relation {
	next := r.clone()
	next.limit = n
	return next
}

func (r *Relation) clone() *Relation {
	next := &Relation{
		store:   r.store,
		layer:   r.layer,
		table:   r.table,
		orderBy: r.orderBy,
		limit:   r.limit,
	}
	next.filters = append(next.filters, r.filters...)
	return next
}

// Collect materializes the relation into a Frame. Reading a table that has
// never been written returns ErrTableNotFound wrapped with the table name.
func (r *Relation) Collect(ctx context.Context) (*Frame, error) {
	if !r.layer.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, int(r.layer))
	}
	if err := validateIdent("table", r.table); err != nil {
		return nil, err
	}

	exists, err := tableExists(ctx, r.store.conn, r.layer, r.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", qualify(r.layer, r.table), ErrTableNotFound)
	}

	query, args := r.buildQuery()
	rows, err := r.store.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect %s: %w", qualify(r.layer, r.table), err)
	}
	defer rows.Close()

	return scanFrame(rows)
}

// Count returns the number of rows matching the relation's filters. A
// missing table counts as zero rows.
func (r *Relation) Count(ctx context.Context) (int64, error) {
	if err := validateIdent("table", r.table); err != nil {
		return 0, err
	}
	exists, err := tableExists(ctx, r.store.conn, r.layer, r.table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("SELECT count(*) FROM ")
	sb.WriteString(qualify(r.layer, r.table))
	args := r.appendWhere(&sb)

	var n int64
	if err := r.store.conn.QueryRowContext(ctx, sb.String(), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", qualify(r.layer, r.table), err)
	}
	return n, nil
}

func (r *Relation) buildQuery() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(qualify(r.layer, r.table))
	args := r.appendWhere(&sb)
	if r.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(r.orderBy)
	}
	if r.limit >= 0 {
		fmt.Fprintf(&sb, " LIMIT %d", r.limit)
	}
	return sb.String(), args
}

func (r *Relation) appendWhere(sb *strings.Builder) []any {
	var args []any
	for i, f := range r.filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString("(")
		sb.WriteString(f.expr)
		sb.WriteString(")")
		args = append(args, f.args...)
	}
	return args
}

// scanFrame reads all rows of a result set into a Frame, mapping DuckDB
// column types back to the store's column types.
func scanFrame(rows *sql.Rows) (*Frame, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	frame := &Frame{Columns: make([]Column, len(colTypes))}
	for i, ct := range colTypes {
		frame.Columns[i] = Column{Name: ct.Name(), Type: columnTypeFromDB(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		holders := make([]any, len(colTypes))
		for i := range holders {
			holders[i] = new(any)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(colTypes))
		for i, h := range holders {
			row[i] = normalizeValue(*(h.(*any)))
		}
		frame.Rows = append(frame.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return frame, nil
}

func columnTypeFromDB(name string) ColumnType {
	switch strings.ToUpper(name) {
	case "VARCHAR", "TEXT", "STRING":
		return TypeText
	case "BIGINT", "INTEGER", "SMALLINT", "TINYINT", "HUGEINT":
		return TypeBigInt
	case "DOUBLE", "FLOAT", "DECIMAL", "REAL":
		return TypeDouble
	case "BOOLEAN":
		return TypeBool
	case "TIMESTAMP", "TIMESTAMPTZ", "DATE":
		return TypeTimestamp
	default:
		return TypeText
	}
}

// normalizeValue collapses driver-specific scan types into the small set the
// Frame accessors understand.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
