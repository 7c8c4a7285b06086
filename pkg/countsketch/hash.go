// Package countsketch implements the Count-Sketch frequency estimator:
// a fixed D×W matrix of signed counters that answers point-frequency and
// second-moment (F2) queries over a stream without storing per-item counts.
package countsketch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/dgryski/go-farm"
)

// mersenne61 is the modulus of the universal hash family. It exceeds the
// int64 item domain, which pairwise independence of h and g relies on.
const mersenne61 = (1 << 61) - 1

var (
	ErrBadDimensions  = errors.New("countsketch: depth and width must be positive")
	ErrFamilyMismatch = errors.New("countsketch: sketches built with different dimensions or hash families")
	ErrEmptySketch    = errors.New("countsketch: sketch holds no observations")
	ErrOverflow       = errors.New("countsketch: counter overflow")
)

// rowHash carries the coefficients of one row's bucket hash (a,b) and
// sign hash (c,d). Plain values, no dispatch: the function shape never varies.
type rowHash struct {
	a, b uint64
	c, d uint64
}

// HashFamily holds D independent (bucket, sign) hash pairs, one per row.
// Construction is deterministic given the seeds, so two families built from
// the same seeds agree on every (item, row) — the property that makes
// independently computed partial sketches mergeable.
type HashFamily struct {
	depth int
	width int
	rows  []rowHash
}

// NewHashFamily derives a family of depth rows over [0,width) buckets from
// one opaque seed per row.
func NewHashFamily(depth, width int, seeds []uint64) (*HashFamily, error) {
	if depth <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w (depth=%d, width=%d)", ErrBadDimensions, depth, width)
	}
	if len(seeds) != depth {
		return nil, fmt.Errorf("countsketch: want %d row seeds, got %d", depth, len(seeds))
	}
	rows := make([]rowHash, depth)
	for r := range rows {
		rows[r] = rowHash{
			a: derive(seeds[r], 'a')%(mersenne61-1) + 1,
			b: derive(seeds[r], 'b') % mersenne61,
			c: derive(seeds[r], 'c')%(mersenne61-1) + 1,
			d: derive(seeds[r], 'd') % mersenne61,
		}
	}
	return &HashFamily{depth: depth, width: width, rows: rows}, nil
}

// derive expands a row seed into independent coefficient material.
func derive(seed uint64, label byte) uint64 {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	buf[8] = label
	return farm.Hash64(buf[:])
}

// SeedsFromBase expands a single base seed into depth row seeds, so callers
// can reproduce a whole family from one number.
func SeedsFromBase(base uint64, depth int) []uint64 {
	seeds := make([]uint64, depth)
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], base)
	for r := range seeds {
		buf[8] = byte(r)
		seeds[r] = farm.Hash64(buf[:])
	}
	return seeds
}

// Depth returns the number of rows D.
func (f *HashFamily) Depth() int { return f.depth }

// Width returns the number of buckets per row W.
func (f *HashFamily) Width() int { return f.width }

// Bucket returns h_r(item) in [0, width).
func (f *HashFamily) Bucket(row int, item int64) int {
	h := f.rows[row]
	return int(mulAddMod61(h.a, uint64(item), h.b) % uint64(f.width))
}

// Sign returns g_r(item), either -1 or +1.
func (f *HashFamily) Sign(row int, item int64) int64 {
	h := f.rows[row]
	return 2*int64(mulAddMod61(h.c, uint64(item), h.d)&1) - 1
}

func (f *HashFamily) matches(o *HashFamily) bool {
	if o == nil || f.depth != o.depth || f.width != o.width {
		return false
	}
	for r := range f.rows {
		if f.rows[r] != o.rows[r] {
			return false
		}
	}
	return true
}

// mulAddMod61 computes (a*x + b) mod 2^61-1 using the full 128-bit product.
// 2^64 ≡ 8 (mod 2^61-1), so the high word folds back with a shift by 3.
func mulAddMod61(a, x, b uint64) uint64 {
	hi, lo := bits.Mul64(a%mersenne61, x%mersenne61)
	s := hi*8 + (lo >> 61) + (lo & mersenne61) + b
	for s >= mersenne61 {
		s -= mersenne61
	}
	return s
}
