// Harmonia - Listening History Analytics and Music Recommendations
// Copyright 2026 Harmonia contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/harmonia-fm/harmonia

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harmonia-fm/harmonia/internal/config"
	"github.com/harmonia-fm/harmonia/internal/metrics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func playFrame() *Frame {
	f := NewFrame(
		Column{Name: "username", Type: TypeText},
		Column{Name: "track", Type: TypeText},
		Column{Name: "scrobbled_at", Type: TypeTimestamp},
		Column{Name: "play_count", Type: TypeBigInt},
	)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.MustAppend("alice", "paranoid", base, int64(3))
	f.MustAppend("alice", "war pigs", base.Add(time.Hour), int64(1))
	f.MustAppend("bob", "paranoid", base.Add(2*time.Hour), int64(5))
	return f
}

func TestWriteOverwriteAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Write(ctx, playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeOverwrite})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Inserted != 3 || res.Version != 1 {
		t.Errorf("got inserted=%d version=%d, want 3 and 1", res.Inserted, res.Version)
	}

	got, err := s.Read(Cleaned, "plays").Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("got %d rows, want 3", got.Len())
	}

	// A second overwrite replaces everything.
	small := NewFrame(
		Column{Name: "username", Type: TypeText},
		Column{Name: "track", Type: TypeText},
		Column{Name: "scrobbled_at", Type: TypeTimestamp},
		Column{Name: "play_count", Type: TypeBigInt},
	)
	small.MustAppend("carol", "changes", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), int64(1))
	res, err = s.Write(ctx, small, Cleaned, "plays", WriteOptions{Mode: ModeOverwrite})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Version != 2 {
		t.Errorf("got version %d, want 2", res.Version)
	}

	n, err := s.Read(Cleaned, "plays").Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows after overwrite, want 1", n)
	}
}

func TestWriteAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Write(ctx, playFrame(), Raw, "plays", WriteOptions{Mode: ModeAppend}); err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
	}

	n, err := s.Read(Raw, "plays").Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 6 {
		t.Errorf("got %d rows, want 6", n)
	}
}

func TestMergeUpsertConverges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	predicate := "s.username = t.username AND s.scrobbled_at = t.scrobbled_at"

	res, err := s.Write(ctx, playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeMerge, Predicate: predicate})
	if err != nil {
		t.Fatalf("first merge error = %v", err)
	}
	if res.Inserted != 3 {
		t.Errorf("first merge inserted = %d, want 3", res.Inserted)
	}

	// Same identity rows with a changed value: all update, none insert.
	updated := playFrame()
	for i := range updated.Rows {
		updated.Rows[i][3] = int64(99)
	}
	res, err = s.Write(ctx, updated, Cleaned, "plays", WriteOptions{Mode: ModeMerge, Predicate: predicate})
	if err != nil {
		t.Fatalf("second merge error = %v", err)
	}
	if res.Updated != 3 || res.Inserted != 0 {
		t.Errorf("second merge got updated=%d inserted=%d, want 3 and 0", res.Updated, res.Inserted)
	}

	got, err := s.Read(Cleaned, "plays").Filter("username = ?", "alice").Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("got %d alice rows, want 2", got.Len())
	}
	for i := 0; i < got.Len(); i++ {
		if got.Int(i, "play_count") != 99 {
			t.Errorf("row %d play_count = %d, want 99", i, got.Int(i, "play_count"))
		}
	}
}

func TestMergeRequiresPredicate(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Write(context.Background(), playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeMerge})
	if !errors.Is(err, ErrMissingPredicate) {
		t.Errorf("got error %v, want ErrMissingPredicate", err)
	}
}

func TestPartitionScopedOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, playFrame(), Served, "candidates", WriteOptions{
		Mode:        ModeOverwrite,
		PartitionBy: "username",
	}); err != nil {
		t.Fatalf("seed write error = %v", err)
	}

	// Replace only alice's partition with a single row.
	repl := NewFrame(
		Column{Name: "username", Type: TypeText},
		Column{Name: "track", Type: TypeText},
		Column{Name: "scrobbled_at", Type: TypeTimestamp},
		Column{Name: "play_count", Type: TypeBigInt},
	)
	repl.MustAppend("alice", "iron man", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), int64(7))

	if _, err := s.Write(ctx, repl, Served, "candidates", WriteOptions{
		Mode:  ModeOverwrite,
		Scope: &Scope{Column: "username", Value: "alice"},
	}); err != nil {
		t.Fatalf("scoped write error = %v", err)
	}

	alice, err := s.Read(Served, "candidates").Filter("username = ?", "alice").Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if alice.Len() != 1 || alice.String(0, "track") != "iron man" {
		t.Errorf("alice partition = %d rows (first track %q), want 1 row of iron man",
			alice.Len(), alice.String(0, "track"))
	}

	bob, err := s.Read(Served, "candidates").Filter("username = ?", "bob").Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if bob != 1 {
		t.Errorf("bob partition = %d rows, want 1 (untouched)", bob)
	}
}

func TestScopeOnlyValidForOverwrite(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Write(context.Background(), playFrame(), Raw, "plays", WriteOptions{
		Mode:  ModeAppend,
		Scope: &Scope{Column: "username", Value: "alice"},
	})
	if err == nil {
		t.Error("append with scope should be rejected")
	}
}

func TestReadMissingTable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Read(Served, "nope").Collect(context.Background())
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("got error %v, want ErrTableNotFound", err)
	}

	// Count treats a missing table as empty.
	n, err := s.Read(Served, "nope").Count(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Count() = %d, %v, want 0, nil", n, err)
	}
}

func TestFilterOrderLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeOverwrite}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := s.Read(Cleaned, "plays").
		Filter("play_count >= ?", 1).
		OrderBy("scrobbled_at DESC").
		Limit(2).
		Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("got %d rows, want 2", got.Len())
	}
	if got.String(0, "username") != "bob" {
		t.Errorf("first row username = %q, want bob (latest scrobble)", got.String(0, "username"))
	}
	if !got.Time(0, "scrobbled_at").After(got.Time(1, "scrobbled_at")) {
		t.Error("rows not ordered by scrobbled_at DESC")
	}
}

func TestFilterDoesNotMutateReceiver(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeOverwrite}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	base := s.Read(Cleaned, "plays")
	_ = base.Filter("username = ?", "alice")

	n, err := base.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("base relation count = %d after derived filter, want 3", n)
	}
}

func TestInvalidIdentifiers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, playFrame(), Cleaned, "plays; DROP TABLE x", WriteOptions{Mode: ModeAppend}); err == nil {
		t.Error("bad table name should be rejected")
	}

	bad := NewFrame(Column{Name: "user name", Type: TypeText})
	bad.MustAppend("x")
	if _, err := s.Write(ctx, bad, Cleaned, "plays", WriteOptions{Mode: ModeAppend}); err == nil {
		t.Error("bad column name should be rejected")
	}
}

func TestTableVersionTracksWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.TableVersion(ctx, Raw, "plays")
	if err != nil || v != 0 {
		t.Fatalf("TableVersion() before write = %d, %v, want 0, nil", v, err)
	}

	for want := int64(1); want <= 3; want++ {
		if _, err := s.Write(ctx, playFrame(), Raw, "plays", WriteOptions{Mode: ModeAppend}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		v, err = s.TableVersion(ctx, Raw, "plays")
		if err != nil {
			t.Fatalf("TableVersion() error = %v", err)
		}
		if v != want {
			t.Errorf("version after write %d = %d", want, v)
		}
	}
}

func TestEmptyFrameRejected(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Write(context.Background(), &Frame{}, Raw, "plays", WriteOptions{Mode: ModeAppend})
	if !errors.Is(err, ErrEmptySchema) {
		t.Errorf("got error %v, want ErrEmptySchema", err)
	}
}

func TestWriteIncrementsMetrics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	beforeWrites := testutil.ToFloat64(metrics.StoreWrites.WithLabelValues("cleaned", "plays", "overwrite"))
	beforeRows := testutil.ToFloat64(metrics.StoreRowsWritten.WithLabelValues("cleaned", "plays"))

	if _, err := s.Write(ctx, playFrame(), Cleaned, "plays", WriteOptions{Mode: ModeOverwrite}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	afterWrites := testutil.ToFloat64(metrics.StoreWrites.WithLabelValues("cleaned", "plays", "overwrite"))
	afterRows := testutil.ToFloat64(metrics.StoreRowsWritten.WithLabelValues("cleaned", "plays"))

	if afterWrites != beforeWrites+1 {
		t.Errorf("store_writes_total = %v, want %v", afterWrites, beforeWrites+1)
	}
	if afterRows != beforeRows+3 {
		t.Errorf("store_rows_written_total = %v, want %v", afterRows, beforeRows+3)
	}
}
