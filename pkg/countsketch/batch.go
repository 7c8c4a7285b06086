package countsketch

import (
	"fmt"
	"sync"
)

// Observation is one (item, count) pair of a batch. Count must be >= 1;
// raw streams pre-aggregate repeated occurrences into counts.
type Observation struct {
	Item  int64 `json:"item"`
	Count int64 `json:"count"`
}

// Batch is the bounded multiset of observations from one stream window.
type Batch []Observation

// ExactCounts is the ground-truth frequency table maintained in lockstep
// with the sketch, one entry per distinct item observed. Evaluation compares
// it against the sketch's estimates.
type ExactCounts map[int64]int64

// Add folds one observation into the table.
func (t ExactCounts) Add(item, count int64) {
	t[item] += count
}

// Merge folds another table into t.
func (t ExactCounts) Merge(other ExactCounts) {
	for item, count := range other {
		t[item] += count
	}
}

// Partial maps one batch into a sketch of that batch alone: every
// observation contributes D signed cell deltas and the deltas are summed
// per cell. An invalid observation or an overflow aborts before any shared
// state exists, so partials are always all-or-nothing.
func Partial(family *HashFamily, batch Batch) (*Sketch, error) {
	sk := NewWithFamily(family)
	for _, obs := range batch {
		if obs.Count < 1 {
			return nil, fmt.Errorf("countsketch: observation of item %d has count %d, want >= 1", obs.Item, obs.Count)
		}
		if err := sk.Update(obs.Item, obs.Count); err != nil {
			return nil, err
		}
	}
	return sk, nil
}

// PartialParallel computes the batch sketch across workers goroutines, one
// partition each, and merges the partition sketches. The map phase shares no
// mutable state and the merge is associative integer addition, so the result
// is cell-for-cell identical to Partial regardless of worker count.
func PartialParallel(family *HashFamily, batch Batch, workers int) (*Sketch, error) {
	if workers > len(batch) {
		workers = len(batch)
	}
	if workers <= 1 {
		return Partial(family, batch)
	}

	partials := make([]*Sketch, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		lo := i * len(batch) / workers
		hi := (i + 1) * len(batch) / workers
		wg.Add(1)
		go func(i int, part Batch) {
			defer wg.Done()
			partials[i], errs[i] = Partial(family, part)
		}(i, batch[lo:hi])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := partials[0]
	for _, p := range partials[1:] {
		if err := out.Merge(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyBatch folds one batch into the running sketch and the exact table.
// The batch sketch is computed first and the running pair is only touched
// once the whole batch has mapped cleanly, so a failed batch leaves both
// exactly as they were and the two never drift apart.
func ApplyBatch(running *Sketch, exact ExactCounts, batch Batch, workers int) error {
	if len(batch) == 0 {
		return nil
	}
	partial, err := PartialParallel(running.family, batch, workers)
	if err != nil {
		return err
	}
	if err := running.Merge(partial); err != nil {
		return err
	}
	for _, obs := range batch {
		exact.Add(obs.Item, obs.Count)
	}
	return nil
}
