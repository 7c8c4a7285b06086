package storage

import (
	"context"
	"database/sql"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// a pooled second connection would see its own empty :memory: database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := EnsureMetaTables(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestRunSummaryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := RunSummary{
		RunID:       "run-1",
		Depth:       5,
		Width:       1000,
		Left:        0,
		Right:       9999,
		ItemsTotal:  1000000,
		ItemsKept:   800000,
		Distinct:    10000,
		TrueF2:      17126,
		ApproxF2:    17100,
		AvgRelError: 0.031,
	}
	if err := UpsertRun(ctx, db, run); err != nil {
		t.Fatal(err)
	}

	got, err := GetRun(ctx, db, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	got.CreatedAt = 0
	if !reflect.DeepEqual(got, run) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, run)
	}

	// upsert replaces the stats, not the row
	run.AvgRelError = 0.02
	run.ItemsTotal = 1000001
	if err := UpsertRun(ctx, db, run); err != nil {
		t.Fatal(err)
	}
	runs, err := ListRuns(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].AvgRelError != 0.02 || runs[0].ItemsTotal != 1000001 {
		t.Errorf("upsert did not refresh stats: %+v", runs[0])
	}
}

func TestSketchBlobRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sk, err := countsketch.New(4, 64, countsketch.SeedsFromBase(5, 4))
	if err != nil {
		t.Fatal(err)
	}
	// single distinct item, so the restored estimate must be exact
	if err := sk.Update(7, 100); err != nil {
		t.Fatal(err)
	}
	if err := sk.Update(7, 20); err != nil {
		t.Fatal(err)
	}

	if err := UpsertSketch(ctx, db, "run-1", sk.Serialize()); err != nil {
		t.Fatal(err)
	}
	blob, err := GetSketch(ctx, db, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	restored, err := countsketch.Deserialize(blob)
	if err != nil {
		t.Fatal(err)
	}
	got, err := restored.EstimateFrequency(7)
	if err != nil {
		t.Fatal(err)
	}
	if got != 120 {
		t.Errorf("restored estimate %d, want 120", got)
	}

	if _, err := GetSketch(ctx, db, "missing"); err != sql.ErrNoRows {
		t.Errorf("missing sketch: got %v, want sql.ErrNoRows", err)
	}
}
