// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package store

import (
	"fmt"
	"time"
)

// ColumnType enumerates the storage types the layered store supports.
type ColumnType int

const (
	// TypeText maps to DuckDB VARCHAR.
	TypeText ColumnType = iota
	// TypeBigInt maps to DuckDB BIGINT.
	TypeBigInt
	// TypeDouble maps to DuckDB DOUBLE.
	TypeDouble
	// TypeBool maps to DuckDB BOOLEAN.
	TypeBool
	// TypeTimestamp maps to DuckDB TIMESTAMP.
	TypeTimestamp
)

// String returns the DuckDB type name.
func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "VARCHAR"
	case TypeBigInt:
		return "BIGINT"
	case TypeDouble:
		return "DOUBLE"
	case TypeBool:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// Column describes one column of a Frame.
type Column struct {
	Name string
	Type ColumnType
}

// Frame is an ordered, in-memory batch of rows with a fixed column schema.
// It is the unit of data exchanged with the layered store: stages build a
// Frame, write it, and collect Relations back into Frames.
type Frame struct {
	Columns []Column
	Rows    [][]any
}

// NewFrame creates an empty frame with the given column schema.
func NewFrame(columns ...Column) *Frame {
	return &Frame{Columns: columns}
}

// Append adds one row. The value count must match the column count.
func (f *Frame) Append(values ...any) error {
	if len(values) != len(f.Columns) {
		return fmt.Errorf("frame append: got %d values for %d columns", len(values), len(f.Columns))
	}
	f.Rows = append(f.Rows, values)
	return nil
}

// MustAppend adds one row and panics on column-count mismatch. Intended for
// construction sites where the schema is statically known.
func (f *Frame) MustAppend(values ...any) {
	if err := f.Append(values...); err != nil {
		panic(err)
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// ColumnIndex returns the index of the named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// String reads the named column of row i as a string. Nulls read as "".
func (f *Frame) String(i int, name string) string {
	v := f.value(i, name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Int reads the named column of row i as an int64. Nulls read as 0.
func (f *Frame) Int(i int, name string) int64 {
	switch v := f.value(i, name).(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float reads the named column of row i as a float64. Nulls read as 0.
func (f *Frame) Float(i int, name string) float64 {
	switch v := f.value(i, name).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return 0
	}
}

// Bool reads the named column of row i as a bool. Nulls read as false.
func (f *Frame) Bool(i int, name string) bool {
	if v, ok := f.value(i, name).(bool); ok {
		return v
	}
	return false
}

// Time reads the named column of row i as a time.Time. Nulls read as the
// zero time.
func (f *Frame) Time(i int, name string) time.Time {
	if v, ok := f.value(i, name).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// IsNull reports whether the named column of row i is NULL.
func (f *Frame) IsNull(i int, name string) bool {
	return f.value(i, name) == nil
}

func (f *Frame) value(i int, name string) any {
	idx := f.ColumnIndex(name)
	if idx < 0 || i < 0 || i >= len(f.Rows) {
		return nil
	}
	return f.Rows[i][idx]
}
