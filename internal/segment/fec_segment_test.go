package segment

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/fec"
	"github.com/zzenonn/zfetch/internal/keys"
)

type recordingListener struct {
	mu       sync.Mutex
	finished []int
	removed  []int
}

func (l *recordingListener) SegmentFinished(s Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, s.Index())
}

func (l *recordingListener) RemovePendingKeys(segment int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, segment)
}

func (l *recordingListener) finishCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.finished)
}

type testSegment struct {
	data      []byte
	blocks    [][]byte
	dataKeys  []keys.Key
	checkKeys []keys.Key
}

func newTestSegment(t *testing.T, dataBlocks, checkBlocks int) testSegment {
	t.Helper()
	data := make([]byte, dataBlocks*keys.BlockSize)
	rand.New(rand.NewSource(int64(dataBlocks*100+checkBlocks))).Read(data)
	blocks := fec.SplitBlocks(data)
	check, err := fec.Encode(blocks, checkBlocks)
	require.NoError(t, err)

	ts := testSegment{data: data}
	for _, b := range blocks {
		ts.blocks = append(ts.blocks, b)
		ts.dataKeys = append(ts.dataKeys, keys.FromBlock(b))
	}
	for _, b := range check {
		ts.blocks = append(ts.blocks, b)
		ts.checkKeys = append(ts.checkKeys, keys.FromBlock(b))
	}
	return ts
}

func (ts testSegment) key(i int) keys.Key {
	if i < len(ts.dataKeys) {
		return ts.dataKeys[i]
	}
	return ts.checkKeys[i-len(ts.dataKeys)]
}

func decoded(t *testing.T, s Segment) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := s.WriteDecodedDataTo(&buf, s.DecodedLength())
	require.NoError(t, err)
	require.Equal(t, s.DecodedLength(), n)
	return buf.Bytes()
}

func TestFECSegment_DecodesFromAnyDataCountBlocks(t *testing.T) {
	tests := []struct {
		name    string
		deliver []int
	}{
		{name: "data blocks only", deliver: []int{0, 1, 2, 3}},
		{name: "check blocks replace data", deliver: []int{5, 1, 4, 3}},
		{name: "mostly check blocks", deliver: []int{4, 5, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSegment(t, 4, 2)
			l := &recordingListener{}
			s := NewFECSegment(3, ts.dataKeys, ts.checkKeys, l)

			req, err := s.Schedule()
			require.NoError(t, err)
			require.Equal(t, 3, req.Segment)
			require.Len(t, req.Keys, 6)

			for i, idx := range tt.deliver {
				require.False(t, s.Finished())
				require.True(t, s.OnBlock(ts.key(idx), ts.blocks[idx]), "block %d", idx)
				if i < len(tt.deliver)-1 {
					require.Len(t, s.PendingKeys(), 6-i-1)
				}
			}

			require.True(t, s.Finished())
			require.NoError(t, s.Err())
			require.Equal(t, []int{3}, l.finished)
			require.Equal(t, []int{3}, l.removed)
			require.Equal(t, ts.data, decoded(t, s))
			require.Empty(t, s.PendingKeys())

			// Late blocks are ignored.
			require.False(t, s.OnBlock(ts.key(0), ts.blocks[0]))
			require.Equal(t, 1, l.finishCount())
		})
	}
}

func TestFECSegment_RejectsMismatchedBlock(t *testing.T) {
	ts := newTestSegment(t, 2, 1)
	l := &recordingListener{}
	s := NewFECSegment(0, ts.dataKeys, ts.checkKeys, l)

	require.False(t, s.OnBlock(ts.key(0), ts.blocks[1]))
	require.False(t, s.OnBlock(ts.key(0), ts.blocks[0][:100]))
	require.Len(t, s.PendingKeys(), 3)

	unrelated := make([]byte, keys.BlockSize)
	require.False(t, s.OnBlock(keys.FromBlock(unrelated), unrelated))
}

func TestFECSegment_DuplicateKeysFillEverySlot(t *testing.T) {
	block := bytes.Repeat([]byte{9}, keys.BlockSize)
	k := keys.FromBlock(block)
	l := &recordingListener{}
	s := NewFECSegment(0, []keys.Key{k, k, k}, nil, l)

	require.True(t, s.OnBlock(k, block))
	require.True(t, s.Finished())
	require.NoError(t, s.Err())
	require.Equal(t, bytes.Repeat(block, 3), decoded(t, s))
}

func TestFECSegment_FailsWhenTooManyNotFound(t *testing.T) {
	ts := newTestSegment(t, 4, 2)
	l := &recordingListener{}
	s := NewFECSegment(1, ts.dataKeys, ts.checkKeys, l)
	notFound := errors.New("not found")

	s.OnNotFound(ts.key(0), notFound)
	s.OnNotFound(ts.key(4), notFound)
	require.False(t, s.Finished())
	require.Len(t, s.PendingKeys(), 4)

	s.OnNotFound(ts.key(5), notFound)
	require.True(t, s.Finished())
	err := s.Err()
	require.Error(t, err)
	require.ErrorIs(t, err, ferrors.ErrSplitfile)
	require.True(t, errors.Is(err, ferrors.ErrInsufficientShards))
	require.Equal(t, []int{1}, l.finished)

	_, err = s.WriteDecodedDataTo(&bytes.Buffer{}, 1<<20)
	require.Error(t, err)
	require.Zero(t, s.DecodedLength())
}

func TestFECSegment_LateBlockRecoversNotFound(t *testing.T) {
	ts := newTestSegment(t, 2, 1)
	l := &recordingListener{}
	s := NewFECSegment(0, ts.dataKeys, ts.checkKeys, l)

	s.OnNotFound(ts.key(2), errors.New("not found"))
	require.True(t, s.OnBlock(ts.key(2), ts.blocks[2]))
	s.OnNotFound(ts.key(1), errors.New("not found"))
	require.False(t, s.Finished())

	require.True(t, s.OnBlock(ts.key(0), ts.blocks[0]))
	require.True(t, s.Finished())
	require.NoError(t, s.Err())
	require.Equal(t, ts.data, decoded(t, s))
}

func TestFECSegment_Cancel(t *testing.T) {
	ts := newTestSegment(t, 2, 1)
	l := &recordingListener{}
	s := NewFECSegment(0, ts.dataKeys, ts.checkKeys, l)

	s.Cancel()
	s.Cancel()
	require.True(t, s.Finished())
	require.ErrorIs(t, s.Err(), ferrors.ErrCancelled)
	require.Equal(t, 1, l.finishCount())
	require.False(t, s.OnBlock(ts.key(0), ts.blocks[0]))
}

func TestFECSegment_ScheduleTwice(t *testing.T) {
	ts := newTestSegment(t, 1, 0)
	s := NewFECSegment(0, ts.dataKeys, ts.checkKeys, &recordingListener{})
	_, err := s.Schedule()
	require.NoError(t, err)
	_, err = s.Schedule()
	require.Error(t, err)
}

func TestFECSegment_WriteIsClamped(t *testing.T) {
	ts := newTestSegment(t, 2, 0)
	s := NewFECSegment(0, ts.dataKeys, nil, &recordingListener{})
	require.True(t, s.OnBlock(ts.key(0), ts.blocks[0]))
	require.True(t, s.OnBlock(ts.key(1), ts.blocks[1]))

	var buf bytes.Buffer
	n, err := s.WriteDecodedDataTo(&buf, 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), n)
	require.Equal(t, ts.data[:100], buf.Bytes())

	buf.Reset()
	n, err = s.WriteDecodedDataTo(&buf, -5)
	require.NoError(t, err)
	require.Zero(t, n)
}
