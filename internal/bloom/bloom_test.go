package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func digest(i int) Digest {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return Digest(sha256.Sum256(b[:]))
}

func TestOptimalK(t *testing.T) {
	tests := []struct {
		bits, keys, want int
	}{
		{bits: 1000, keys: 100, want: 7},
		{bits: 13 * 255, keys: 255, want: 9},
		{bits: 8, keys: 1000, want: 1},
		{bits: 8, keys: 0, want: 1},
	}
	for _, tt := range tests {
		if got := OptimalK(tt.bits, tt.keys); got != tt.want {
			t.Errorf("OptimalK(%d, %d) = %d, want %d", tt.bits, tt.keys, got, tt.want)
		}
	}
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f, err := NewFilter(make([]byte, 2048), 7, 1)
	if err != nil {
		t.Fatalf("NewFilter() error = %v", err)
	}
	for i := 0; i < 1000; i++ {
		f.Add(digest(i))
	}
	for i := 0; i < 1000; i++ {
		if !f.MayContain(digest(i)) {
			t.Fatalf("MayContain(%d) = false after Add", i)
		}
	}
	f.Reset()
	if f.MayContain(digest(1)) {
		t.Error("MayContain() = true after Reset")
	}
}

func TestCountingFilter_AddRemove(t *testing.T) {
	f, err := NewCountingFilter(make([]byte, 4096), 5, 0)
	if err != nil {
		t.Fatalf("NewCountingFilter() error = %v", err)
	}
	if f.Slots() != 4096*4 {
		t.Fatalf("Slots() = %d, want %d", f.Slots(), 4096*4)
	}

	f.Add(digest(1))
	f.Add(digest(2))
	if !f.MayContain(digest(1)) || !f.MayContain(digest(2)) {
		t.Fatal("MayContain() = false after Add")
	}

	f.Remove(digest(1))
	if !f.MayContain(digest(2)) {
		t.Fatal("removing one digest made another disappear")
	}
	if f.MayContain(digest(1)) {
		t.Error("MayContain() = true after the only Add was removed")
	}
}

func TestCountingFilter_Saturation(t *testing.T) {
	f, err := NewCountingFilter(make([]byte, 1), 1, 0)
	if err != nil {
		t.Fatalf("NewCountingFilter() error = %v", err)
	}
	d := digest(9)
	for i := 0; i < 5; i++ {
		f.Add(d)
	}
	// Saturated at 3: removals never bring it back to zero.
	for i := 0; i < 5; i++ {
		f.Remove(d)
	}
	if !f.MayContain(d) {
		t.Error("saturated counter was decremented to zero")
	}
}

func TestCountingFilter_SharedBytes(t *testing.T) {
	data := make([]byte, 64)
	f, _ := NewCountingFilter(data, 3, 0)
	f.Add(digest(5))

	g, _ := NewCountingFilter(append([]byte(nil), f.Bytes()...), 3, 0)
	if !g.MayContain(digest(5)) {
		t.Error("filter rebuilt from bytes lost a digest")
	}
}

func TestNewFilterErrors(t *testing.T) {
	if _, err := NewFilter(nil, 1, 0); err == nil {
		t.Error("NewFilter(nil) error = nil")
	}
	if _, err := NewCountingFilter(make([]byte, 1), 0, 0); err == nil {
		t.Error("NewCountingFilter(k=0) error = nil")
	}
}
