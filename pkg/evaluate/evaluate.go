// Package evaluate compares a count sketch against the exact frequency table
// maintained alongside it and produces the accuracy summary of a stream run.
package evaluate

import (
	"errors"
	"math"
	"sort"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
)

// ItemEstimate pairs the true and estimated frequency of one distinct item.
type ItemEstimate struct {
	Item          int64   `json:"item"`
	TrueFreq      int64   `json:"true_freq"`
	ApproxFreq    int64   `json:"approx_freq"`
	RelativeError float64 `json:"relative_error"`
}

// Summary is the read-only result of evaluating a finished run. Items are
// sorted by descending true frequency (ties by ascending item value).
type Summary struct {
	Distinct        int            `json:"distinct_items"`
	TrueF2          int64          `json:"true_f2"`
	ApproxF2        int64          `json:"approx_f2"`
	AverageRelError float64        `json:"avg_relative_error"`
	ErrorBound      float64        `json:"error_bound"`
	Confidence      float64        `json:"confidence"`
	Items           []ItemEstimate `json:"items,omitempty"`
}

// Evaluate queries the sketch for every distinct item in the exact table and
// derives per-item relative errors, both second moments and the average
// relative error. Keys present in the table entered it with count >= 1, so
// true frequencies are strictly positive and every relative error is finite.
func Evaluate(sk *countsketch.Sketch, exact countsketch.ExactCounts) (*Summary, error) {
	if len(exact) == 0 {
		return nil, errors.New("evaluate: exact table is empty")
	}

	items := make([]ItemEstimate, 0, len(exact))
	var trueF2 int64
	var errSum float64
	for item, freq := range exact {
		approx, err := sk.EstimateFrequency(item)
		if err != nil {
			return nil, err
		}
		rel := math.Abs(float64(freq)-float64(approx)) / float64(freq)
		errSum += rel
		trueF2 += freq * freq
		items = append(items, ItemEstimate{
			Item:          item,
			TrueFreq:      freq,
			ApproxFreq:    approx,
			RelativeError: rel,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].TrueFreq != items[j].TrueFreq {
			return items[i].TrueFreq > items[j].TrueFreq
		}
		return items[i].Item < items[j].Item
	})

	approxF2, err := sk.EstimateF2()
	if err != nil {
		return nil, err
	}
	bound, err := sk.ErrorBound()
	if err != nil {
		return nil, err
	}

	return &Summary{
		Distinct:        len(items),
		TrueF2:          trueF2,
		ApproxF2:        approxF2,
		AverageRelError: errSum / float64(len(items)),
		ErrorBound:      bound,
		Confidence:      sk.Confidence(),
		Items:           items,
	}, nil
}

// TopK returns the k highest true-frequency entries, extended past k while
// the true frequency at the boundary ties, so equally frequent items are
// never cut in half.
func (s *Summary) TopK(k int) []ItemEstimate {
	if k <= 0 || len(s.Items) == 0 {
		return nil
	}
	if k >= len(s.Items) {
		return s.Items
	}
	cut := k
	for cut < len(s.Items) && s.Items[cut].TrueFreq == s.Items[k-1].TrueFreq {
		cut++
	}
	return s.Items[:cut]
}

// TopKAverageError is the mean relative error over TopK(k).
func (s *Summary) TopKAverageError(k int) float64 {
	top := s.TopK(k)
	if len(top) == 0 {
		return 0
	}
	var sum float64
	for _, it := range top {
		sum += it.RelativeError
	}
	return sum / float64(len(top))
}

// NormalizedF2 scales both second moments by kept², the square of the number
// of stream items that survived filtering, giving a size-independent skew
// measure.
func (s *Summary) NormalizedF2(kept uint64) (trueF2, approxF2 float64) {
	if kept == 0 {
		return 0, 0
	}
	d := float64(kept) * float64(kept)
	return float64(s.TrueF2) / d, float64(s.ApproxF2) / d
}
