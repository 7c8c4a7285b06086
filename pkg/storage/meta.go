// Package storage persists finished sketch runs: one summary row per run and
// the serialized sketch blob, so estimates stay queryable after the stream
// stopped.
package storage

import (
	"context"
	"database/sql"
)

// RunSummary is the persisted record of one stream run.
type RunSummary struct {
	RunID       string  `json:"run_id"`
	Depth       int     `json:"depth"`
	Width       int     `json:"width"`
	Left        int64   `json:"left"`
	Right       int64   `json:"right"`
	ItemsTotal  uint64  `json:"items_total"`
	ItemsKept   uint64  `json:"items_kept"`
	Distinct    int     `json:"distinct_items"`
	TrueF2      int64   `json:"true_f2"`
	ApproxF2    int64   `json:"approx_f2"`
	AvgRelError float64 `json:"avg_relative_error"`
	CreatedAt   int64   `json:"created_at"`
}

func EnsureMetaTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cs_runs (
            run_id TEXT PRIMARY KEY,
            depth INTEGER NOT NULL,
            width INTEGER NOT NULL,
            left_bound INTEGER NOT NULL,
            right_bound INTEGER NOT NULL,
            items_total INTEGER NOT NULL,
            items_kept INTEGER NOT NULL,
            distinct_items INTEGER NOT NULL,
            true_f2 INTEGER NOT NULL,
            approx_f2 INTEGER NOT NULL,
            avg_rel_error REAL NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS cs_sketches (
            run_id TEXT PRIMARY KEY,
            sketch_data BLOB NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRun stores or refreshes a run summary.
func UpsertRun(ctx context.Context, db *sql.DB, run RunSummary) error {
	_, err := db.ExecContext(ctx, `INSERT INTO cs_runs
        (run_id, depth, width, left_bound, right_bound, items_total, items_kept,
         distinct_items, true_f2, approx_f2, avg_rel_error, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
        ON CONFLICT(run_id) DO UPDATE SET
            items_total=excluded.items_total,
            items_kept=excluded.items_kept,
            distinct_items=excluded.distinct_items,
            true_f2=excluded.true_f2,
            approx_f2=excluded.approx_f2,
            avg_rel_error=excluded.avg_rel_error,
            created_at=CURRENT_TIMESTAMP`,
		run.RunID, run.Depth, run.Width, run.Left, run.Right,
		int64(run.ItemsTotal), int64(run.ItemsKept),
		run.Distinct, run.TrueF2, run.ApproxF2, run.AvgRelError)
	return err
}

// GetRun loads one run summary.
func GetRun(ctx context.Context, db *sql.DB, runID string) (RunSummary, error) {
	var run RunSummary
	var total, kept int64
	err := db.QueryRowContext(ctx, `SELECT run_id, depth, width, left_bound, right_bound,
        items_total, items_kept, distinct_items, true_f2, approx_f2, avg_rel_error,
        strftime('%s', created_at)
        FROM cs_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.Depth, &run.Width, &run.Left, &run.Right,
		&total, &kept, &run.Distinct, &run.TrueF2, &run.ApproxF2,
		&run.AvgRelError, &run.CreatedAt)
	run.ItemsTotal = uint64(total)
	run.ItemsKept = uint64(kept)
	return run, err
}

// ListRuns returns all persisted run summaries, newest first.
func ListRuns(ctx context.Context, db *sql.DB) ([]RunSummary, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, depth, width, left_bound, right_bound,
        items_total, items_kept, distinct_items, true_f2, approx_f2, avg_rel_error,
        strftime('%s', created_at)
        FROM cs_runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var total, kept int64
		if err := rows.Scan(&run.RunID, &run.Depth, &run.Width, &run.Left, &run.Right,
			&total, &kept, &run.Distinct, &run.TrueF2, &run.ApproxF2,
			&run.AvgRelError, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.ItemsTotal = uint64(total)
		run.ItemsKept = uint64(kept)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpsertSketch stores the serialized sketch of a run.
func UpsertSketch(ctx context.Context, db *sql.DB, runID string, data []byte) error {
	_, err := db.ExecContext(ctx, `INSERT INTO cs_sketches(run_id, sketch_data, created_at)
        VALUES(?,?,CURRENT_TIMESTAMP)
        ON CONFLICT(run_id) DO UPDATE SET sketch_data=excluded.sketch_data, created_at=CURRENT_TIMESTAMP`,
		runID, data)
	return err
}

// GetSketch loads the serialized sketch of a run.
func GetSketch(ctx context.Context, db *sql.DB, runID string) ([]byte, error) {
	var data []byte
	err := db.QueryRowContext(ctx, `SELECT sketch_data FROM cs_sketches WHERE run_id = ?`, runID).Scan(&data)
	return data, err
}
