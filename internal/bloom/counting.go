package bloom

import "fmt"

const counterMax = 3

// CountingFilter is a Bloom filter of 2-bit saturating counters, four per byte.
// A counter that reached its maximum is never decremented: it may be shared by
// more keys than it can count, and dropping it could produce a false negative.
type CountingFilter struct {
	data []byte
	k    int
	lane int
	m    uint64
}

// NewCountingFilter wraps data as a counting filter of len(data)*4 slots.
func NewCountingFilter(data []byte, k, lane int) (*CountingFilter, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("counting bloom filter needs at least one byte")
	}
	if k < 1 {
		return nil, fmt.Errorf("counting bloom filter needs at least one hash, got %d", k)
	}
	return &CountingFilter{data: data, k: k, lane: lane, m: uint64(len(data)) * 4}, nil
}

func (f *CountingFilter) get(i uint64) byte {
	return (f.data[i/4] >> ((i % 4) * 2)) & counterMax
}

func (f *CountingFilter) set(i uint64, v byte) {
	shift := (i % 4) * 2
	f.data[i/4] = f.data[i/4]&^(counterMax<<shift) | v<<shift
}

// Add increments every counter of d.
func (f *CountingFilter) Add(d Digest) {
	slots(d, f.lane, f.k, f.m, func(i uint64) bool {
		if c := f.get(i); c < counterMax {
			f.set(i, c+1)
		}
		return true
	})
}

// Remove decrements every unsaturated counter of d. Removing a digest that was
// never added corrupts the filter.
func (f *CountingFilter) Remove(d Digest) {
	slots(d, f.lane, f.k, f.m, func(i uint64) bool {
		if c := f.get(i); c > 0 && c < counterMax {
			f.set(i, c-1)
		}
		return true
	})
}

// MayContain reports whether d may be present.
func (f *CountingFilter) MayContain(d Digest) bool {
	return slots(d, f.lane, f.k, f.m, func(i uint64) bool {
		return f.get(i) != 0
	})
}

// Bytes returns the backing slice.
func (f *CountingFilter) Bytes() []byte {
	return f.data
}

// Slots returns the number of counters.
func (f *CountingFilter) Slots() uint64 {
	return f.m
}
