package countsketch

import (
	"encoding/binary"
	"fmt"
)

// Blob layout, little-endian:
//   depth(4) width(4) observations(8)
//   per row: a(8) b(8) c(8) d(8)
//   per cell: value(8), row-major
// Carrying the coefficients in the blob lets a deserialized sketch keep
// answering queries and merging with live partials from the same family.

const serializeHeader = 16

// Serialize encodes the sketch state, including its hash family, as bytes
// suitable for blob storage.
func (s *Sketch) Serialize() []byte {
	d, w := s.family.depth, s.family.width
	data := make([]byte, serializeHeader+d*32+d*w*8)
	binary.LittleEndian.PutUint32(data[0:4], uint32(d))
	binary.LittleEndian.PutUint32(data[4:8], uint32(w))
	binary.LittleEndian.PutUint64(data[8:16], s.observations)

	off := serializeHeader
	for _, row := range s.family.rows {
		binary.LittleEndian.PutUint64(data[off:], row.a)
		binary.LittleEndian.PutUint64(data[off+8:], row.b)
		binary.LittleEndian.PutUint64(data[off+16:], row.c)
		binary.LittleEndian.PutUint64(data[off+24:], row.d)
		off += 32
	}
	for r := 0; r < d; r++ {
		for c := 0; c < w; c++ {
			binary.LittleEndian.PutUint64(data[off:], uint64(s.cells[r][c]))
			off += 8
		}
	}
	return data
}

// Deserialize rebuilds a sketch from a Serialize blob.
func Deserialize(data []byte) (*Sketch, error) {
	if len(data) < serializeHeader {
		return nil, fmt.Errorf("countsketch: blob too short (%d bytes)", len(data))
	}
	d := int(binary.LittleEndian.Uint32(data[0:4]))
	w := int(binary.LittleEndian.Uint32(data[4:8]))
	if d <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w (depth=%d, width=%d)", ErrBadDimensions, d, w)
	}
	want := serializeHeader + d*32 + d*w*8
	if len(data) != want {
		return nil, fmt.Errorf("countsketch: blob length mismatch: want %d, got %d", want, len(data))
	}

	family := &HashFamily{depth: d, width: w, rows: make([]rowHash, d)}
	off := serializeHeader
	for r := range family.rows {
		family.rows[r] = rowHash{
			a: binary.LittleEndian.Uint64(data[off:]),
			b: binary.LittleEndian.Uint64(data[off+8:]),
			c: binary.LittleEndian.Uint64(data[off+16:]),
			d: binary.LittleEndian.Uint64(data[off+24:]),
		}
		off += 32
	}
	s := NewWithFamily(family)
	s.observations = binary.LittleEndian.Uint64(data[8:16])
	for r := 0; r < d; r++ {
		for c := 0; c < w; c++ {
			s.cells[r][c] = int64(binary.LittleEndian.Uint64(data[off:]))
			off += 8
		}
	}
	return s, nil
}
