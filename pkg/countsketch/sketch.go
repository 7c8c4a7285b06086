package countsketch

import (
	"fmt"
	"math"
	"sort"
)

// maxSquarable is the largest |cell| whose square still fits in an int64.
const maxSquarable = 3037000499

// Sketch is the D×W signed counter matrix. State is mutated only through
// Update and Merge and read only through the estimate queries; a zero matrix
// that has absorbed no observation rejects queries with ErrEmptySketch.
type Sketch struct {
	family       *HashFamily
	cells        [][]int64
	observations uint64
}

// New builds an empty sketch with a fresh hash family derived from seeds,
// one seed per row.
func New(depth, width int, seeds []uint64) (*Sketch, error) {
	family, err := NewHashFamily(depth, width, seeds)
	if err != nil {
		return nil, err
	}
	return NewWithFamily(family), nil
}

// NewWithFamily builds an empty sketch sharing an existing family. Partial
// sketches for partitions of a batch are created this way so they merge into
// the running sketch without re-deriving coefficients.
func NewWithFamily(family *HashFamily) *Sketch {
	cells := make([][]int64, family.depth)
	for r := range cells {
		cells[r] = make([]int64, family.width)
	}
	return &Sketch{family: family, cells: cells}
}

// Family returns the hash family the sketch was built with.
func (s *Sketch) Family() *HashFamily { return s.family }

// Depth returns the number of rows D.
func (s *Sketch) Depth() int { return s.family.depth }

// Width returns the number of buckets per row W.
func (s *Sketch) Width() int { return s.family.width }

// Observations returns how many (item, count) observations were absorbed.
func (s *Sketch) Observations() uint64 { return s.observations }

// Update adds g_r(item)*count into cell [r][h_r(item)] for every row.
// Cells are signed and may go negative. An addition that would wrap an
// int64 cell is reported as ErrOverflow; callers folding whole batches keep
// atomicity by building partials (see ApplyBatch).
func (s *Sketch) Update(item, count int64) error {
	for r := 0; r < s.family.depth; r++ {
		col := s.family.Bucket(r, item)
		delta := s.family.Sign(r, item) * count
		cur := s.cells[r][col]
		if addOverflows(cur, delta) {
			return fmt.Errorf("%w: row %d col %d", ErrOverflow, r, col)
		}
		s.cells[r][col] = cur + delta
	}
	s.observations++
	return nil
}

// Merge adds other's cells into s elementwise. Both sketches must share
// dimensions and hash family. The merge is validated before any cell is
// touched, so a failed merge leaves s unchanged; a successful merge is
// bit-for-bit equivalent to having replayed other's updates into s.
func (s *Sketch) Merge(other *Sketch) error {
	if other == nil || !s.family.matches(other.family) {
		return ErrFamilyMismatch
	}
	for r := range s.cells {
		for c, v := range other.cells[r] {
			if addOverflows(s.cells[r][c], v) {
				return fmt.Errorf("%w: merge at row %d col %d", ErrOverflow, r, c)
			}
		}
	}
	for r := range s.cells {
		for c, v := range other.cells[r] {
			s.cells[r][c] += v
		}
	}
	s.observations += other.observations
	return nil
}

// EstimateFrequency returns the median over rows of g_r(item)*cell[r][h_r(item)].
// For even D the two middle values are averaged with the result rounded
// toward zero; the same rule applies to every query, so estimates are
// reproducible across runs with the same seeds.
func (s *Sketch) EstimateFrequency(item int64) (int64, error) {
	if s.observations == 0 {
		return 0, ErrEmptySketch
	}
	rows := make([]int64, s.family.depth)
	for r := range rows {
		rows[r] = s.family.Sign(r, item) * s.cells[r][s.family.Bucket(r, item)]
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	return medianSorted(rows), nil
}

// EstimateF2 returns the second-moment estimate: the median over rows of
// the per-row sum of squared cells. No per-item enumeration is involved.
func (s *Sketch) EstimateF2() (int64, error) {
	if s.observations == 0 {
		return 0, ErrEmptySketch
	}
	sums := make([]int64, s.family.depth)
	for r := range sums {
		var sum int64
		for _, cell := range s.cells[r] {
			if cell > maxSquarable || cell < -maxSquarable {
				return 0, fmt.Errorf("%w: cell square exceeds int64 in row %d", ErrOverflow, r)
			}
			sq := cell * cell
			if addOverflows(sum, sq) {
				return 0, fmt.Errorf("%w: row %d sum of squares", ErrOverflow, r)
			}
			sum += sq
		}
		sums[r] = sum
	}
	sort.Slice(sums, func(i, j int) bool { return sums[i] < sums[j] })
	return medianSorted(sums), nil
}

// ErrorBound returns the expected magnitude of collision noise on a single
// frequency estimate, sqrt(F2/W). Widening the matrix shrinks it.
func (s *Sketch) ErrorBound() (float64, error) {
	f2, err := s.EstimateF2()
	if err != nil {
		return 0, err
	}
	return math.Sqrt(float64(f2) / float64(s.family.width)), nil
}

// Confidence returns the probability that the median estimate lands within
// the error bound, via the Chernoff bound on the median of D row estimators.
func (s *Sketch) Confidence() float64 {
	return 1 - math.Exp(-float64(s.family.depth)/8)
}

// medianSorted returns the median of an already sorted slice. Even lengths
// average the two middle values, rounding toward zero.
func medianSorted(v []int64) int64 {
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return midTowardZero(v[n/2-1], v[n/2])
}

// midTowardZero averages lo <= hi without overflowing int64.
func midTowardZero(lo, hi int64) int64 {
	switch {
	case lo <= 0 && hi >= 0:
		return (lo + hi) / 2
	case lo >= 0:
		return lo + (hi-lo)/2
	default:
		return hi - (hi-lo)/2
	}
}

func addOverflows(a, b int64) bool {
	sum := a + b
	return (b > 0 && sum < a) || (b < 0 && sum > a)
}
