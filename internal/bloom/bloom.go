// Package bloom implements the plain and counting Bloom filters used by the key index.
//
// Both filters are thin views over a byte slice so they can be written to and
// read from storage without any re-encoding. Slot positions are derived from a
// 32-byte digest by double hashing, so callers hash keys (with a salt) once and
// hand the digest to every filter.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Digest is the pre-hashed form of a key.
type Digest [32]byte

// OptimalK returns the hash count minimising false positives for a filter of
// bits slots holding keys elements.
func OptimalK(bits, keys int) int {
	if keys <= 0 {
		return 1
	}
	k := int(math.Round(math.Ln2 * float64(bits) / float64(keys)))
	if k < 1 {
		return 1
	}
	return k
}

// slots yields the k slot indices of d in a filter of m slots. lane selects which
// half of the digest seeds the double hash, so two filters fed the same digest
// place it independently.
func slots(d Digest, lane, k int, m uint64, fn func(uint64) bool) bool {
	off := (lane & 1) * 16
	h1 := binary.LittleEndian.Uint64(d[off : off+8])
	h2 := binary.LittleEndian.Uint64(d[off+8 : off+16])
	h2 |= 1
	for i := 0; i < k; i++ {
		if !fn((h1 + uint64(i)*h2) % m) {
			return false
		}
	}
	return true
}

// Filter is a plain bit Bloom filter.
type Filter struct {
	data []byte
	k    int
	lane int
	m    uint64
}

// NewFilter wraps data as a filter of len(data)*8 slots using k hashes.
func NewFilter(data []byte, k, lane int) (*Filter, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("bloom filter needs at least one byte")
	}
	if k < 1 {
		return nil, fmt.Errorf("bloom filter needs at least one hash, got %d", k)
	}
	return &Filter{data: data, k: k, lane: lane, m: uint64(len(data)) * 8}, nil
}

// Add inserts d.
func (f *Filter) Add(d Digest) {
	slots(d, f.lane, f.k, f.m, func(i uint64) bool {
		f.data[i/8] |= 1 << (i % 8)
		return true
	})
}

// MayContain reports whether d may have been added.
func (f *Filter) MayContain(d Digest) bool {
	return slots(d, f.lane, f.k, f.m, func(i uint64) bool {
		return f.data[i/8]&(1<<(i%8)) != 0
	})
}

// Reset clears every bit.
func (f *Filter) Reset() {
	clear(f.data)
}

// Bytes returns the backing slice.
func (f *Filter) Bytes() []byte {
	return f.data
}

// K returns the hash count.
func (f *Filter) K() int {
	return f.k
}
