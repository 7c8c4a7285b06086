package stream

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
)

// Config carries the knobs of one stream run.
type Config struct {
	Depth int      // sketch rows, robustness knob
	Width int      // buckets per row, resolution knob
	Seeds []uint64 // one per row; derived from Base when empty

	// Base expands into row seeds when Seeds is nil, so a whole family is
	// reproducible from a single number.
	Base uint64

	// Items outside the inclusive interval [Left, Right] are discarded
	// before they reach the sketch or the exact table.
	Left  int64
	Right int64

	// Threshold stops the run once this many raw items were seen, checked
	// between batches. Zero means run until the source drains.
	Threshold uint64

	// Workers bounds the partitions used per batch. Defaults to GOMAXPROCS.
	Workers int
}

// Driver owns the single running sketch/table accumulator pair. One batch is
// folded at a time; parallelism lives inside the batch protocol, never across
// batches.
type Driver struct {
	cfg     Config
	sketch  *countsketch.Sketch
	exact   countsketch.ExactCounts
	total   uint64 // raw items seen
	kept    uint64 // items inside [Left, Right]
	batches uint64
}

// NewDriver validates the configuration and allocates the accumulator pair.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Left > cfg.Right {
		return nil, fmt.Errorf("stream: interval [%d,%d] is empty", cfg.Left, cfg.Right)
	}
	if cfg.Seeds == nil {
		cfg.Seeds = countsketch.SeedsFromBase(cfg.Base, cfg.Depth)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	sk, err := countsketch.New(cfg.Depth, cfg.Width, cfg.Seeds)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, sketch: sk, exact: make(countsketch.ExactCounts)}, nil
}

// Run consumes batches from src until the item threshold is reached or the
// source drains. Each batch is applied atomically to the sketch and the
// exact table; a batch error aborts the run with both still consistent.
func (d *Driver) Run(ctx context.Context, src Source) error {
	for {
		if d.cfg.Threshold > 0 && d.total >= d.cfg.Threshold {
			return nil
		}
		items, err := src.NextBatch(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := d.ApplyItems(items); err != nil {
			return err
		}
	}
}

// ApplyItems folds one raw batch: count it, filter to the configured
// interval, pre-aggregate occurrences into (item, count) observations and
// hand the batch to the update protocol.
func (d *Driver) ApplyItems(items []int64) error {
	d.batches++
	if len(items) == 0 {
		return nil
	}
	d.total += uint64(len(items))

	counts := make(map[int64]int64)
	var kept uint64
	for _, v := range items {
		if v < d.cfg.Left || v > d.cfg.Right {
			continue
		}
		counts[v]++
		kept++
	}
	d.kept += kept
	if len(counts) == 0 {
		return nil
	}

	batch := make(countsketch.Batch, 0, len(counts))
	for item, n := range counts {
		batch = append(batch, countsketch.Observation{Item: item, Count: n})
	}
	if err := countsketch.ApplyBatch(d.sketch, d.exact, batch, d.cfg.Workers); err != nil {
		return fmt.Errorf("stream: batch %d: %w", d.batches, err)
	}
	return nil
}

// Sketch returns the running sketch accumulator.
func (d *Driver) Sketch() *countsketch.Sketch { return d.sketch }

// Exact returns the ground-truth frequency table.
func (d *Driver) Exact() countsketch.ExactCounts { return d.exact }

// Interval returns the inclusive filter bounds.
func (d *Driver) Interval() (left, right int64) { return d.cfg.Left, d.cfg.Right }

// TotalItems returns the number of raw items seen.
func (d *Driver) TotalItems() uint64 { return d.total }

// KeptItems returns the number of items that passed the interval filter.
func (d *Driver) KeptItems() uint64 { return d.kept }

// Batches returns the number of windows consumed, including empty ones.
func (d *Driver) Batches() uint64 { return d.batches }
