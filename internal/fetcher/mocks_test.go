package fetcher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/bucket"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/scheduler"
	"github.com/zzenonn/zfetch/internal/segment"
)

// recordingCallback captures every callback a job makes.
type recordingCallback struct {
	mu            sync.Mutex
	expectedSize  int64
	expectedMIME  string
	finalized     bool
	events        []string
	successes     []Result
	failures      []error
	done          chan struct{}
	doneOnce      sync.Once
	onSuccessFunc func(r Result)
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{done: make(chan struct{})}
}

func (c *recordingCallback) OnExpectedSize(length int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectedSize = length
	c.events = append(c.events, "size")
}

func (c *recordingCallback) OnExpectedMIME(mime string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectedMIME = mime
	c.events = append(c.events, "mime")
}

func (c *recordingCallback) OnFinalizedMetadata() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true
	c.events = append(c.events, "finalized")
}

func (c *recordingCallback) OnSuccess(r Result) {
	c.mu.Lock()
	c.successes = append(c.successes, r)
	c.mu.Unlock()
	if c.onSuccessFunc != nil {
		c.onSuccessFunc(r)
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *recordingCallback) OnFailure(err error) {
	c.mu.Lock()
	c.failures = append(c.failures, err)
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *recordingCallback) outcomes() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.successes), len(c.failures)
}

func (c *recordingCallback) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the fetch outcome")
	}
}

// mockSegment is a Segment driven directly by tests.
type mockSegment struct {
	mu          sync.Mutex
	index       int
	listener    segment.Listener
	keys        []keys.Key
	finished    bool
	err         error
	data        []byte
	cancels     int
	scheduled   int
	cancelFunc  func()
	writeErr    error
}

func (s *mockSegment) Index() int { return s.index }

func (s *mockSegment) Schedule() (scheduler.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled++
	return scheduler.Request{Segment: s.index, Keys: s.keys}, nil
}

func (s *mockSegment) Cancel() {
	s.mu.Lock()
	s.cancels++
	already := s.finished
	s.finished = true
	if s.err == nil && !already {
		s.err = fmt.Errorf("segment %d cancelled", s.index)
	}
	s.mu.Unlock()
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	if !already {
		s.listener.RemovePendingKeys(s.index)
		s.listener.SegmentFinished(s)
	}
}

func (s *mockSegment) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *mockSegment) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mockSegment) DecodedLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data))
}

func (s *mockSegment) WriteDecodedDataTo(w io.Writer, max int64) (int64, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	data := s.data
	if int64(len(data)) > max {
		data = data[:max]
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (s *mockSegment) OnBlock(k keys.Key, data []byte) bool { return false }

func (s *mockSegment) OnNotFound(k keys.Key, err error) {}

func (s *mockSegment) PendingKeys() []keys.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	return s.keys
}

// complete finishes the segment with data and notifies the job.
func (s *mockSegment) complete(data []byte, err error) {
	s.mu.Lock()
	s.finished = true
	s.data = data
	s.err = err
	s.mu.Unlock()
	s.listener.RemovePendingKeys(s.index)
	s.listener.SegmentFinished(s)
}

func (s *mockSegment) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// mockSegments records the segments a job creates.
type mockSegments struct {
	mu   sync.Mutex
	segs []*mockSegment
}

func (m *mockSegments) factory(index int, dataKeys, checkKeys []keys.Key, l segment.Listener) segment.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &mockSegment{index: index, listener: l, keys: append(append([]keys.Key{}, dataKeys...), checkKeys...)}
	m.segs = append(m.segs, s)
	return s
}

// mockScheduler records registrations without fetching anything.
type mockScheduler struct {
	mu           sync.Mutex
	registerFunc func(client scheduler.Client) error
	registered   [][]scheduler.Request
	removed      int
}

func (m *mockScheduler) Register(ctx context.Context, client scheduler.Client, requests []scheduler.Request, persistent, isSplitfile bool, blocks blockset.BlockSet) error {
	m.mu.Lock()
	m.registered = append(m.registered, requests)
	m.mu.Unlock()
	if m.registerFunc != nil {
		return m.registerFunc(client)
	}
	_, err := client.KeyListener()
	return err
}

func (m *mockScheduler) RemovePendingKeys(client scheduler.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
}

// mapSource serves blocks from a map.
type mapSource struct {
	mu     sync.Mutex
	blocks map[keys.Key][]byte
}

func (m *mapSource) FetchBlock(ctx context.Context, k keys.Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blocks[k]
	if !ok {
		return nil, fmt.Errorf("block %s not found", k)
	}
	return data, nil
}

func readBucket(t *testing.T, b bucket.Bucket) []byte {
	t.Helper()
	r, err := b.Reader()
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return data
}
