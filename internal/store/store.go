// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

// Package store implements the layered table store on top of DuckDB.
//
// Tables live in one of three medallion layers (raw, cleaned, served), each
// mapped to a DuckDB schema. The store exposes lazy reads by logical table
// name and versioned writes in three modes: overwrite, append, and
// predicate-based merge-upsert. Every write bumps the table's version in the
// meta.tables catalog, which also records the advisory partition column.
//
// Invariant: at most one writer per table at a time. The store does not
// provide inter-process locking; the calling orchestrator must serialize
// writes to any one table. Per-strategy candidate tables are separate for
// exactly this reason.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/logging"
)

// Layer identifies a medallion layer of the store.
type Layer int

const (
	// Raw holds ingested data exactly as fetched.
	Raw Layer = iota
	// Cleaned holds canonicalized, deduplicated fact and dimension tables.
	Cleaned
	// Served holds derived output read by the serving layer.
	Served
)

// String returns the DuckDB schema name for the layer.
func (l Layer) String() string {
	switch l {
	case Raw:
		return "raw"
	case Cleaned:
		return "cleaned"
	case Served:
		return "served"
	default:
		return "unknown"
	}
}

func (l Layer) valid() bool {
	return l == Raw || l == Cleaned || l == Served
}

// Sentinel errors. A missing table on read is recoverable; the rest are
// programming errors that must fail immediately.
var (
	// ErrTableNotFound is returned when reading a table that has never
	// been written. Callers treat it as "empty" unless documented as a
	// hard dependency.
	ErrTableNotFound = errors.New("table not found")

	// ErrMissingPredicate is returned by merge writes with no predicate.
	ErrMissingPredicate = errors.New("merge requires a row-identity predicate")

	// ErrUnknownLayer is returned for layers outside raw/cleaned/served.
	ErrUnknownLayer = errors.New("unknown medallion layer")

	// ErrEmptySchema is returned when writing a frame with no columns.
	ErrEmptySchema = errors.New("frame has no columns")
)

// identRe validates table and column identifiers. Identifiers come from
// internal constants, so a mismatch is a programming error.
var identRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Store wraps a DuckDB connection and provides layered table access.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the DuckDB database and initializes
// the layer schemas and the table catalog.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for file-backed databases.
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, threads)
	if cfg.MaxMemory != "" {
		connStr += "&max_memory=" + cfg.MaxMemory
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an in-process engine; a small pool is enough, and merge
	// transactions pin a single connection anyway.
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{conn: conn}
	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logging.Debug().Str("path", cfg.Path).Int("threads", threads).Msg("Layered store opened")
	return s, nil
}

// initialize creates the layer schemas and the table catalog.
func (s *Store) initialize() error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS raw`,
		`CREATE SCHEMA IF NOT EXISTS cleaned`,
		`CREATE SCHEMA IF NOT EXISTS served`,
		`CREATE SCHEMA IF NOT EXISTS meta`,
		`CREATE TABLE IF NOT EXISTS meta.tables (
			schema_name      VARCHAR NOT NULL,
			table_name       VARCHAR NOT NULL,
			partition_column VARCHAR,
			version          BIGINT NOT NULL,
			last_mode        VARCHAR NOT NULL,
			last_rows        BIGINT NOT NULL,
			last_written_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (schema_name, table_name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("init statement failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the underlying connection for tests and diagnostics.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// TableVersion returns the current catalog version of a table, or 0 if the
// table has never been written.
func (s *Store) TableVersion(ctx context.Context, layer Layer, table string) (int64, error) {
	if !layer.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownLayer, int(layer))
	}
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT version FROM meta.tables WHERE schema_name = ? AND table_name = ?`,
		layer.String(), table).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read table version: %w", err)
	}
	return version, nil
}

// tableExists checks physical table existence within a transaction-capable
// querier.
func tableExists(ctx context.Context, q querier, layer Layer, table string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		layer.String(), table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// validateIdent rejects identifiers that are not plain snake_case names.
func validateIdent(kind, name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid %s identifier %q", kind, name)
	}
	return nil
}

// qualify returns the schema-qualified table name.
func qualify(layer Layer, table string) string {
	return layer.String() + "." + table
}

// quoteIdentList joins validated identifiers for a column list.
func quoteIdentList(names []string) string {
	return strings.Join(names, ", ")
}
