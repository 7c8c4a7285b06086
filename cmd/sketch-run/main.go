// sketch-run performs one stream run end to end: dial a text stream source,
// fold time-windowed batches into a count sketch until the item threshold is
// reached, then print the accuracy report and optionally persist the result.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ValerioRocca/count-sketch/pkg/evaluate"
	"github.com/ValerioRocca/count-sketch/pkg/storage"
	"github.com/ValerioRocca/count-sketch/pkg/stream"
)

func main() {
	var (
		depth     = flag.Int("d", 5, "sketch rows")
		width     = flag.Int("w", 1000, "sketch columns")
		left      = flag.Int64("left", 0, "left endpoint of the interval of interest")
		right     = flag.Int64("right", 9999, "right endpoint of the interval of interest")
		topK      = flag.Int("k", 10, "number of top frequent items to report")
		threshold = flag.Uint64("threshold", 10_000_000, "stop after this many raw items (0 = until the source closes)")
		addr      = flag.String("addr", "localhost:9999", "stream source address")
		window    = flag.Duration("window", time.Second, "batch window duration")
		seed      = flag.Uint64("seed", 42, "base hash seed")
		workers   = flag.Int("workers", 0, "partitions per batch (0 = GOMAXPROCS)")
		dbPath    = flag.String("db", "", "sqlite path to persist the run (empty = don't persist)")
	)
	flag.Parse()

	driver, err := stream.NewDriver(stream.Config{
		Depth:     *depth,
		Width:     *width,
		Base:      *seed,
		Left:      *left,
		Right:     *right,
		Threshold: *threshold,
		Workers:   *workers,
	})
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	src, err := stream.DialSocket(*addr, *window)
	if err != nil {
		log.Fatalf("source: %v", err)
	}
	defer src.Close()

	log.Printf("consuming %s in %s windows until %d items", *addr, *window, *threshold)
	start := time.Now()
	if err := driver.Run(context.Background(), src); err != nil {
		log.Fatalf("stream run: %v", err)
	}
	log.Printf("stream stopped after %s", time.Since(start).Round(time.Millisecond))

	sum, err := evaluate.Evaluate(driver.Sketch(), driver.Exact())
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}
	report(driver, sum, *depth, *width, *left, *right, *topK)

	if *dbPath != "" {
		if err := persist(driver, sum, *dbPath); err != nil {
			log.Fatalf("persist: %v", err)
		}
	}
}

func report(d *stream.Driver, sum *evaluate.Summary, depth, width int, left, right int64, k int) {
	fmt.Printf("D = %d W = %d [left,right] = [%d,%d] K = %d\n", depth, width, left, right, k)
	fmt.Printf("Total number of items = %d\n", d.TotalItems())
	fmt.Printf("Total number of items in [%d,%d] = %d\n", left, right, d.KeptItems())
	fmt.Printf("Number of distinct items in [%d,%d] = %d\n", left, right, sum.Distinct)

	// top frequencies are only worth printing when the list is short
	if k <= 20 {
		for _, it := range sum.TopK(k) {
			fmt.Printf("Item %d Freq = %d Est. Freq = %d\n", it.Item, it.TrueFreq, it.ApproxFreq)
		}
	}
	fmt.Printf("Avg err for top %d = %g\n", k, sum.TopKAverageError(k))
	fmt.Printf("Avg err overall = %g\n", sum.AverageRelError)
	trueN, approxN := sum.NormalizedF2(d.KeptItems())
	fmt.Printf("F2 %g F2 Estimate %g\n", trueN, approxN)
}

func persist(d *stream.Driver, sum *evaluate.Summary, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		return err
	}

	left, right := d.Interval()
	id := uuid.NewString()
	run := storage.RunSummary{
		RunID:       id,
		Depth:       d.Sketch().Depth(),
		Width:       d.Sketch().Width(),
		Left:        left,
		Right:       right,
		ItemsTotal:  d.TotalItems(),
		ItemsKept:   d.KeptItems(),
		Distinct:    sum.Distinct,
		TrueF2:      sum.TrueF2,
		ApproxF2:    sum.ApproxF2,
		AvgRelError: sum.AverageRelError,
	}
	if err := storage.UpsertRun(ctx, db, run); err != nil {
		return err
	}
	if err := storage.UpsertSketch(ctx, db, id, d.Sketch().Serialize()); err != nil {
		return err
	}
	log.Printf("run persisted as %s in %s", id, dbPath)
	return nil
}
