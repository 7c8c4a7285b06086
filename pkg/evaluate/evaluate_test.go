package evaluate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
)

func TestEndToEndScenario(t *testing.T) {
	sk, err := countsketch.New(5, 1000, countsketch.SeedsFromBase(42, 5))
	if err != nil {
		t.Fatal(err)
	}
	exact := make(countsketch.ExactCounts)

	batches := []countsketch.Batch{
		{{Item: 7, Count: 100}, {Item: 42, Count: 50}},
		{{Item: 7, Count: 20}},
		{{Item: 99, Count: 1}},
	}
	for _, b := range batches {
		if err := countsketch.ApplyBatch(sk, exact, b, 2); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := Evaluate(sk, exact)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Distinct != 3 {
		t.Fatalf("distinct %d, want 3", sum.Distinct)
	}
	if want := int64(120*120 + 50*50 + 1); sum.TrueF2 != want {
		t.Errorf("true F2 %d, want %d", sum.TrueF2, want)
	}

	byItem := map[int64]ItemEstimate{}
	for _, it := range sum.Items {
		byItem[it.Item] = it
	}
	for item, want := range map[int64]int64{7: 120, 42: 50, 99: 1} {
		it, ok := byItem[item]
		if !ok {
			t.Fatalf("item %d missing from summary", item)
		}
		if it.TrueFreq != want {
			t.Errorf("item %d true freq %d, want %d", item, it.TrueFreq, want)
		}
	}

	// 3 items in 1000 buckets: the 5-row median shrugs off the rare collision
	if heavy := byItem[7]; heavy.RelativeError > 0.05 {
		t.Errorf("item 7: relative error %f too large (approx %d)", heavy.RelativeError, heavy.ApproxFreq)
	}
	if rel := math.Abs(float64(sum.ApproxF2-sum.TrueF2)) / float64(sum.TrueF2); rel > 0.2 {
		t.Errorf("approx F2 %d deviates %f from true %d", sum.ApproxF2, rel, sum.TrueF2)
	}

	// items come back sorted by descending true frequency
	for i := 1; i < len(sum.Items); i++ {
		if sum.Items[i].TrueFreq > sum.Items[i-1].TrueFreq {
			t.Fatal("summary items not sorted by true frequency")
		}
	}
}

func TestRelativeErrorsAreFiniteAndNonNegative(t *testing.T) {
	sk, err := countsketch.New(4, 128, countsketch.SeedsFromBase(9, 4))
	if err != nil {
		t.Fatal(err)
	}
	exact := make(countsketch.ExactCounts)

	rng := rand.New(rand.NewSource(77))
	batch := make(countsketch.Batch, 0, 5000)
	for i := 0; i < 5000; i++ {
		batch = append(batch, countsketch.Observation{Item: rng.Int63n(400), Count: 1})
	}
	if err := countsketch.ApplyBatch(sk, exact, batch, 4); err != nil {
		t.Fatal(err)
	}

	sum, err := Evaluate(sk, exact)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range sum.Items {
		if it.TrueFreq <= 0 {
			t.Fatalf("item %d has non-positive true frequency %d", it.Item, it.TrueFreq)
		}
		if it.RelativeError < 0 || math.IsInf(it.RelativeError, 0) || math.IsNaN(it.RelativeError) {
			t.Fatalf("item %d has invalid relative error %f", it.Item, it.RelativeError)
		}
	}
	if sum.AverageRelError < 0 {
		t.Errorf("negative average relative error %f", sum.AverageRelError)
	}
	if sum.ErrorBound <= 0 {
		t.Errorf("non-positive error bound %f", sum.ErrorBound)
	}
}

func TestEvaluateEmptyTable(t *testing.T) {
	sk, err := countsketch.New(3, 16, countsketch.SeedsFromBase(1, 3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Evaluate(sk, countsketch.ExactCounts{}); err == nil {
		t.Error("expected error for empty exact table")
	}
}

func TestTopKTieExtension(t *testing.T) {
	s := &Summary{Items: []ItemEstimate{
		{Item: 1, TrueFreq: 100},
		{Item: 2, TrueFreq: 40},
		{Item: 3, TrueFreq: 40},
		{Item: 4, TrueFreq: 40},
		{Item: 5, TrueFreq: 10},
	}}
	if got := s.TopK(2); len(got) != 4 {
		t.Errorf("TopK(2) returned %d entries, want 4 (tie at the boundary)", len(got))
	}
	if got := s.TopK(1); len(got) != 1 {
		t.Errorf("TopK(1) returned %d entries, want 1", len(got))
	}
	if got := s.TopK(10); len(got) != 5 {
		t.Errorf("TopK(10) returned %d entries, want all 5", len(got))
	}
	if got := s.TopK(0); got != nil {
		t.Errorf("TopK(0) = %v, want nil", got)
	}
}

func TestNormalizedF2(t *testing.T) {
	s := &Summary{TrueF2: 17126, ApproxF2: 17000}
	trueN, approxN := s.NormalizedF2(171)
	if want := 17126.0 / (171.0 * 171.0); math.Abs(trueN-want) > 1e-12 {
		t.Errorf("normalized true F2 %f, want %f", trueN, want)
	}
	if approxN >= trueN {
		t.Errorf("expected approx %f below true %f for this fixture", approxN, trueN)
	}
	if a, b := s.NormalizedF2(0); a != 0 || b != 0 {
		t.Error("zero kept items should normalize to 0")
	}
}

// feeding the same skewed stream into wider and deeper sketches must pay off
// in average relative error (the accuracy/resource tradeoff).
func TestAccuracyImprovesWithWidthAndDepth(t *testing.T) {
	if testing.Short() {
		t.Skip("stress comparison")
	}

	run := func(depth, width int) float64 {
		sk, err := countsketch.New(depth, width, countsketch.SeedsFromBase(1234, depth))
		if err != nil {
			t.Fatal(err)
		}
		exact := make(countsketch.ExactCounts)
		rng := rand.New(rand.NewSource(99))
		const batchSize = 20000
		for b := 0; b < 10; b++ {
			counts := make(map[int64]int64)
			for i := 0; i < batchSize; i++ {
				counts[rng.Int63n(2000)]++
			}
			batch := make(countsketch.Batch, 0, len(counts))
			for item, n := range counts {
				batch = append(batch, countsketch.Observation{Item: item, Count: n})
			}
			if err := countsketch.ApplyBatch(sk, exact, batch, 4); err != nil {
				t.Fatal(err)
			}
		}
		sum, err := Evaluate(sk, exact)
		if err != nil {
			t.Fatal(err)
		}
		return sum.AverageRelError
	}

	narrow := run(4, 32)
	wide := run(4, 2048)
	if wide >= narrow {
		t.Errorf("width 2048 error %f not below width 32 error %f", wide, narrow)
	}

	shallow := run(1, 256)
	deep := run(9, 256)
	if deep >= shallow {
		t.Errorf("depth 9 error %f not below depth 1 error %f", deep, shallow)
	}
}
