// Package keyindex tracks which block keys a splitfile fetch still wants.
//
// The index is two-tier: one counting Bloom filter holds every outstanding key so
// the network layer can reject unrelated blocks cheaply, and one plain filter per
// segment tells which segment a plausible block belongs to. Keys are hashed with a
// per-job salt before they reach either tier so that no one can pick keys that
// pile up in the same slots.
package keyindex

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"github.com/zzenonn/zfetch/internal/bloom"
	"github.com/zzenonn/zfetch/internal/keys"
)

const (
	mainLane    = 0
	segmentLane = 1
)

// Storage locates the two persisted filter files.
type Storage struct {
	Fs       afero.Fs
	MainPath string
	AltPath  string
}

// Remove deletes both filter files.
func (s *Storage) Remove() {
	if s == nil {
		return
	}
	_ = s.Fs.Remove(s.MainPath)
	_ = s.Fs.Remove(s.AltPath)
}

// Index is the two-tier key index of one fetch.
type Index struct {
	mu       sync.RWMutex
	salt     [keys.Size]byte
	sizes    Sizes
	main     *bloom.CountingFilter
	alt      []byte
	segments []*bloom.Filter
	pending  []map[keys.Key]struct{}
	keyCount int
	storage  *Storage
	readOnly bool
}

// New creates empty filters. A nil storage keeps the index in memory only; readOnly
// indexes never write their filters back.
func New(sizes Sizes, segmentCount int, salt [keys.Size]byte, storage *Storage, readOnly bool) (*Index, error) {
	return build(sizes, segmentCount, salt, storage, readOnly,
		make([]byte, sizes.MainBytes), make([]byte, sizes.SegmentBytes*segmentCount))
}

// Open loads filters written by a previous Flush. live lists the keys each segment
// still waits for; the filters are trusted to already contain them.
func Open(sizes Sizes, segmentCount int, salt [keys.Size]byte, storage *Storage, readOnly bool, live [][]keys.Key) (*Index, error) {
	if storage == nil {
		return nil, fmt.Errorf("cannot open an in-memory key index")
	}
	if len(live) != segmentCount {
		return nil, fmt.Errorf("live keys for %d segments, want %d", len(live), segmentCount)
	}
	mainData, err := afero.ReadFile(storage.Fs, storage.MainPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read main bloom filter: %w", err)
	}
	if len(mainData) != sizes.MainBytes {
		return nil, fmt.Errorf("main bloom filter is %d bytes, want %d", len(mainData), sizes.MainBytes)
	}
	altData, err := afero.ReadFile(storage.Fs, storage.AltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment bloom filters: %w", err)
	}
	if len(altData) != sizes.SegmentBytes*segmentCount {
		return nil, fmt.Errorf("segment bloom filters are %d bytes, want %d",
			len(altData), sizes.SegmentBytes*segmentCount)
	}

	idx, err := build(sizes, segmentCount, salt, storage, readOnly, mainData, altData)
	if err != nil {
		return nil, err
	}
	for seg, ks := range live {
		for _, k := range ks {
			if _, dup := idx.pending[seg][k]; dup {
				continue
			}
			idx.pending[seg][k] = struct{}{}
			idx.keyCount++
		}
	}
	return idx, nil
}

func build(sizes Sizes, segmentCount int, salt [keys.Size]byte, storage *Storage, readOnly bool, mainData, altData []byte) (*Index, error) {
	main, err := bloom.NewCountingFilter(mainData, sizes.MainK, mainLane)
	if err != nil {
		return nil, fmt.Errorf("failed to create main bloom filter: %w", err)
	}
	idx := &Index{
		salt:     salt,
		sizes:    sizes,
		main:     main,
		alt:      altData,
		segments: make([]*bloom.Filter, segmentCount),
		pending:  make([]map[keys.Key]struct{}, segmentCount),
		storage:  storage,
		readOnly: readOnly,
	}
	for i := range idx.segments {
		part := altData[i*sizes.SegmentBytes : (i+1)*sizes.SegmentBytes]
		f, err := bloom.NewFilter(part, sizes.SegmentK, segmentLane)
		if err != nil {
			return nil, fmt.Errorf("failed to create bloom filter for segment %d: %w", i, err)
		}
		idx.segments[i] = f
		idx.pending[i] = make(map[keys.Key]struct{})
	}
	return idx, nil
}

func (idx *Index) digest(k keys.Key) bloom.Digest {
	return bloom.Digest(keys.Salted(idx.salt, k))
}

// AddKey records k as outstanding in segment seg.
func (idx *Index) AddKey(k keys.Key, seg int) error {
	if seg < 0 || seg >= len(idx.segments) {
		return fmt.Errorf("segment %d out of range [0, %d)", seg, len(idx.segments))
	}
	d := idx.digest(k)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, dup := idx.pending[seg][k]; dup {
		return nil
	}
	idx.main.Add(d)
	idx.segments[seg].Add(d)
	idx.pending[seg][k] = struct{}{}
	idx.keyCount++
	return nil
}

// MayContain reports whether the fetch may still want k. It never returns false for
// an outstanding key.
func (idx *Index) MayContain(k keys.Key) bool {
	d := idx.digest(k)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.main.MayContain(d)
}

// SegmentsFor returns the segments whose filters may contain k.
func (idx *Index) SegmentsFor(k keys.Key) []int {
	d := idx.digest(k)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.main.MayContain(d) {
		return nil
	}
	var out []int
	for i, f := range idx.segments {
		if f.MayContain(d) {
			out = append(out, i)
		}
	}
	return out
}

// RemoveKey drops k from segment seg once its block has arrived. It reports
// whether k was outstanding.
func (idx *Index) RemoveKey(k keys.Key, seg int) bool {
	if seg < 0 || seg >= len(idx.segments) {
		return false
	}
	d := idx.digest(k)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.pending[seg][k]; !ok {
		return false
	}
	delete(idx.pending[seg], k)
	idx.main.Remove(d)
	idx.keyCount--
	return true
}

// KillSegment removes every outstanding key of seg from the main filter, clears the
// segment's own filter and returns the new outstanding key count.
func (idx *Index) KillSegment(seg int) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if seg < 0 || seg >= len(idx.segments) {
		return idx.keyCount
	}
	for k := range idx.pending[seg] {
		idx.main.Remove(idx.digest(k))
	}
	idx.keyCount -= len(idx.pending[seg])
	idx.pending[seg] = make(map[keys.Key]struct{})
	idx.segments[seg].Reset()
	return idx.keyCount
}

// KeyCount returns the number of outstanding keys.
func (idx *Index) KeyCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.keyCount
}

// SegmentCount returns the number of per-segment filters.
func (idx *Index) SegmentCount() int {
	return len(idx.segments)
}

// Sizes returns the filter dimensions.
func (idx *Index) Sizes() Sizes {
	return idx.sizes
}

// Persistent reports whether the filters are backed by files.
func (idx *Index) Persistent() bool {
	return idx.storage != nil
}

// Flush writes both filters to storage: the main filter first, then every
// per-segment filter in segment order.
func (idx *Index) Flush() error {
	if idx.storage == nil || idx.readOnly {
		return nil
	}
	idx.mu.RLock()
	mainData := append([]byte(nil), idx.main.Bytes()...)
	altData := append([]byte(nil), idx.alt...)
	idx.mu.RUnlock()

	if err := afero.WriteFile(idx.storage.Fs, idx.storage.MainPath, mainData, 0o600); err != nil {
		return fmt.Errorf("failed to write main bloom filter: %w", err)
	}
	if err := afero.WriteFile(idx.storage.Fs, idx.storage.AltPath, altData, 0o600); err != nil {
		return fmt.Errorf("failed to write segment bloom filters: %w", err)
	}
	return nil
}
