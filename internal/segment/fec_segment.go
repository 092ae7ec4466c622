package segment

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/fec"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/scheduler"
)

type state int

const (
	statePending state = iota
	stateDecoded
	stateFailed
)

// FECSegment collects blocks until any dataCount of them are present, then
// reconstructs the data blocks with Reed-Solomon.
type FECSegment struct {
	mu        sync.Mutex
	index     int
	dataKeys  []keys.Key
	checkKeys []keys.Key
	listener  Listener

	blocks    [][]byte
	missing   []bool
	received  int
	notFound  int
	scheduled bool
	state     state
	err       error
	decoded   []byte
}

// NewFECSegment creates a segment. It satisfies Factory.
func NewFECSegment(index int, dataKeys, checkKeys []keys.Key, l Listener) Segment {
	n := len(dataKeys) + len(checkKeys)
	return &FECSegment{
		index:     index,
		dataKeys:  dataKeys,
		checkKeys: checkKeys,
		listener:  l,
		blocks:    make([][]byte, n),
		missing:   make([]bool, n),
	}
}

// Index is the segment's position in the splitfile.
func (s *FECSegment) Index() int {
	return s.index
}

func (s *FECSegment) keyAt(i int) keys.Key {
	if i < len(s.dataKeys) {
		return s.dataKeys[i]
	}
	return s.checkKeys[i-len(s.dataKeys)]
}

// Schedule returns every key that has not arrived yet, data keys first.
func (s *FECSegment) Schedule() (scheduler.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduled {
		return scheduler.Request{}, fmt.Errorf("segment %d already scheduled", s.index)
	}
	s.scheduled = true
	return scheduler.Request{Segment: s.index, Keys: s.pendingLocked()}, nil
}

func (s *FECSegment) pendingLocked() []keys.Key {
	if s.state != statePending {
		return nil
	}
	var out []keys.Key
	for i := range s.blocks {
		if s.blocks[i] == nil && !s.missing[i] {
			out = append(out, s.keyAt(i))
		}
	}
	return out
}

// PendingKeys returns the keys still outstanding.
func (s *FECSegment) PendingKeys() []keys.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

// OnBlock stores a verified block in every slot its key occupies.
func (s *FECSegment) OnBlock(k keys.Key, data []byte) bool {
	s.mu.Lock()
	if s.state != statePending {
		s.mu.Unlock()
		return false
	}
	accepted := false
	verified := false
	for i := range s.blocks {
		if s.blocks[i] != nil || s.keyAt(i) != k {
			continue
		}
		if !verified {
			if len(data) != keys.BlockSize || !k.Verify(data) {
				s.mu.Unlock()
				log.WithFields(log.Fields{"segment": s.index, "key": k.String()}).Warn("Rejecting block that does not match its key")
				return false
			}
			verified = true
		}
		if s.missing[i] {
			s.missing[i] = false
			s.notFound--
		}
		s.blocks[i] = data
		s.received++
		accepted = true
	}
	if !accepted || s.received < len(s.dataKeys) {
		s.mu.Unlock()
		return accepted
	}
	s.decodeLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *FECSegment) decodeLocked() {
	shards := make([][]byte, len(s.blocks))
	copy(shards, s.blocks)
	out, err := fec.Decode(shards, len(s.dataKeys))
	s.blocks = nil
	if err != nil {
		s.state = stateFailed
		s.err = ferrors.Wrap(ferrors.SplitfileError, err, fmt.Sprintf("segment %d failed to decode", s.index))
		log.WithFields(log.Fields{"segment": s.index}).Errorf("Decode failed: %v", err)
		return
	}
	s.decoded = out
	s.state = stateDecoded
	log.WithFields(log.Fields{"segment": s.index, "bytes": len(out)}).Debug("Segment decoded")
}

// OnNotFound marks k unavailable. The segment fails once fewer than dataCount
// blocks can still arrive.
func (s *FECSegment) OnNotFound(k keys.Key, err error) {
	s.mu.Lock()
	if s.state != statePending {
		s.mu.Unlock()
		return
	}
	for i := range s.blocks {
		if s.blocks[i] == nil && !s.missing[i] && s.keyAt(i) == k {
			s.missing[i] = true
			s.notFound++
		}
	}
	if len(s.blocks)-s.notFound >= len(s.dataKeys) {
		s.mu.Unlock()
		return
	}
	s.state = stateFailed
	s.err = ferrors.Wrap(ferrors.SplitfileError, ferrors.ErrInsufficientShards,
		fmt.Sprintf("segment %d: %d of %d blocks not found, last: %v", s.index, s.notFound, len(s.blocks), err))
	s.blocks = nil
	s.mu.Unlock()

	log.WithFields(log.Fields{"segment": s.index}).Error("Segment failed: too many blocks not found")
	s.notify()
}

// Cancel fails the segment with a cancellation error if it is still pending.
func (s *FECSegment) Cancel() {
	s.mu.Lock()
	if s.state != statePending {
		s.mu.Unlock()
		return
	}
	s.state = stateFailed
	s.err = ferrors.New(ferrors.Cancelled, "segment %d cancelled", s.index)
	s.blocks = nil
	s.mu.Unlock()

	s.notify()
}

func (s *FECSegment) notify() {
	if s.listener == nil {
		return
	}
	s.listener.RemovePendingKeys(s.index)
	s.listener.SegmentFinished(s)
}

// Finished reports whether the segment decoded or failed.
func (s *FECSegment) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != statePending
}

// Err is the failure of a finished segment, or nil after a decode.
func (s *FECSegment) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DecodedLength is the length of all data blocks, padding included.
func (s *FECSegment) DecodedLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.decoded))
}

// WriteDecodedDataTo writes at most max bytes of decoded data to w.
func (s *FECSegment) WriteDecodedDataTo(w io.Writer, max int64) (int64, error) {
	s.mu.Lock()
	data, st := s.decoded, s.state
	s.mu.Unlock()
	if st != stateDecoded {
		return 0, fmt.Errorf("segment %d has no decoded data", s.index)
	}
	if max < 0 {
		max = 0
	}
	if int64(len(data)) > max {
		data = data[:max]
	}
	n, err := w.Write(data)
	return int64(n), err
}
