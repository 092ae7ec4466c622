// Package fetcher reconstructs a splitfile from its manifest.
//
// A Job splits the manifest's keys into segments, indexes every outstanding key
// in a salted two-tier Bloom filter so the transport can route arriving blocks
// without scanning, waits for every segment to reach a terminal state,
// assembles the decoded segments in order, undoes the insert-time compression
// and reports exactly one outcome to its Callback.
package fetcher

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/bucket"
	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keyindex"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/scheduler"
	"github.com/zzenonn/zfetch/internal/segment"
	"github.com/zzenonn/zfetch/internal/segmenter"
)

// Result is a successful fetch.
type Result struct {
	Data     bucket.Bucket
	MIMEType string
}

// Callback receives progress and the single terminal outcome of a Job.
type Callback interface {
	OnExpectedSize(length int64)
	OnExpectedMIME(mime string)
	// OnFinalizedMetadata is called when the manifest states the final length.
	OnFinalizedMetadata()
	OnSuccess(r Result)
	OnFailure(err error)
}

// Limits bound what a fetch accepts.
type Limits struct {
	MaxOutputLength          int64
	MaxTempLength            int64
	MaxDataBlocksPerSegment  int
	MaxCheckBlocksPerSegment int
}

// Options configure a Job.
type Options struct {
	Limits Limits
	// Persistent keeps the key index in two files under TempDir on Fs.
	Persistent bool
	Fs         afero.Fs
	TempDir    string
	Scheduler  scheduler.Scheduler
	// BlockSet is handed to the scheduler as a local source of blocks.
	BlockSet blockset.BlockSet
	Buckets  bucket.Factory
	// ReturnBucket, when set, receives the final output.
	ReturnBucket bucket.Bucket
	NewSegment   segment.Factory
	// Random seeds the key index salt.
	Random io.Reader
	ID     string
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.Buckets == nil {
		o.Buckets = bucket.MemoryFactory{}
	}
	if o.NewSegment == nil {
		o.NewSegment = segment.NewFECSegment
	}
	if o.Random == nil {
		o.Random = rand.Reader
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return o
}

// State is the lifecycle stage of a Job.
type State int32

const (
	StateConstructing State = iota
	StateScheduled
	StateAggregating
	StateDecompressing
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateScheduled:
		return "scheduled"
	case StateAggregating:
		return "aggregating"
	case StateDecompressing:
		return "decompressing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	outcomePending int32 = iota
	outcomeDelivered
	outcomeCancelled
)

// Job is one splitfile fetch.
type Job struct {
	id             string
	opts           Options
	cb             Callback
	decompressors  *compress.Stack
	mimeType       string
	overrideLength int64
	layout         segmenter.Layout
	segments       []segment.Segment
	salt           [keys.Size]byte
	sizes          keyindex.Sizes

	mu                  sync.Mutex
	allSegmentsFinished bool
	otherFailure        error
	listener            *keyListener
	storage             *keyindex.Storage
	keyCount            int
	// live holds the outstanding keys recorded by a checkpoint until the key
	// index is reopened.
	live [][]keys.Key

	outcome atomic.Int32
	state   atomic.Int32
}

// New validates m, builds its segments and key index and returns a job ready
// to Schedule. decompressors lists the codecs applied at insert time; it may be nil.
func New(m domain.Manifest, decompressors *compress.Stack, cb Callback, opts Options) (*Job, error) {
	j, err := prepare(m, decompressors, cb, opts)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(j.opts.Random, j.salt[:]); err != nil {
		return nil, ferrors.Wrap(ferrors.InternalError, err, "unable to generate salt")
	}

	if j.opts.Persistent {
		storage, err := j.newStorage()
		if err != nil {
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create Bloom filter files")
		}
		j.storage = storage
	}

	log.WithFields(log.Fields{
		"job":           j.id,
		"keys":          len(m.DataKeys) + len(m.CheckKeys),
		"main_bytes":    j.sizes.MainBytes,
		"main_k":        j.sizes.MainK,
		"segments":      len(j.segments),
		"segment_bytes": j.sizes.SegmentBytes,
		"segment_k":     j.sizes.SegmentK,
	}).Info("Creating block filter")

	idx, err := keyindex.New(j.sizes, len(j.segments), j.salt, j.storage, false)
	if err != nil {
		j.storage.Remove()
		return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create Bloom filters for splitfile")
	}
	if err := j.populate(idx, m.DataKeys, m.CheckKeys); err != nil {
		j.storage.Remove()
		return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to write Bloom filters for splitfile")
	}
	j.listener = &keyListener{job: j, index: idx}
	j.keyCount = idx.KeyCount()
	return j, nil
}

// prepare runs every manifest check in order and creates the segments. It
// leaves nothing behind on failure.
func prepare(m domain.Manifest, decompressors *compress.Stack, cb Callback, opts Options) (*Job, error) {
	opts = opts.withDefaults()
	if decompressors == nil {
		decompressors = compress.NewStack()
	}
	j := &Job{
		id:             opts.ID,
		opts:           opts,
		cb:             cb,
		decompressors:  decompressors,
		mimeType:       m.MIMEType,
		overrideLength: m.DataLength,
	}
	j.state.Store(int32(StateConstructing))

	for i, k := range m.DataKeys {
		if k.IsZero() {
			return nil, ferrors.New(ferrors.InvalidMetadata, "null: data block %d of %d", i, len(m.DataKeys))
		}
	}
	for i, k := range m.CheckKeys {
		if k.IsZero() {
			return nil, ferrors.New(ferrors.InvalidMetadata, "null: check block %d of %d", i, len(m.CheckKeys))
		}
	}
	if len(m.DataKeys) == 0 {
		return nil, ferrors.New(ferrors.InvalidMetadata, "splitfile has no data blocks")
	}

	finalLength := int64(len(m.DataKeys)) * keys.BlockSize
	if finalLength > j.overrideLength && finalLength-j.overrideLength > keys.BlockSize {
		return nil, ferrors.New(ferrors.InvalidMetadata,
			"splitfile is %d but length is %d", finalLength, j.overrideLength)
	}

	eventualLength := max(j.overrideLength, m.UncompressedLength)
	cb.OnExpectedSize(eventualLength)
	if m.MIMEType != "" {
		cb.OnExpectedMIME(m.MIMEType)
	}
	if m.UncompressedLength > 0 {
		cb.OnFinalizedMetadata()
	}
	if eventualLength > 0 && opts.Limits.MaxOutputLength > 0 && eventualLength > opts.Limits.MaxOutputLength {
		return nil, ferrors.TooBigError(eventualLength, m.MIMEType)
	}

	params, err := segmenter.ParseParams(m.SplitfileType, m.SplitfileParams)
	if err != nil {
		return nil, err
	}
	layout, err := segmenter.Plan(len(m.DataKeys), len(m.CheckKeys), params, segmenter.Limits{
		MaxDataBlocksPerSegment:  opts.Limits.MaxDataBlocksPerSegment,
		MaxCheckBlocksPerSegment: opts.Limits.MaxCheckBlocksPerSegment,
	})
	if err != nil {
		return nil, err
	}
	j.layout = layout

	log.WithFields(log.Fields{
		"job":                      j.id,
		"type":                     m.SplitfileType.String(),
		"blocks_per_segment":       layout.BlocksPerSegment,
		"check_blocks_per_segment": layout.CheckBlocksPerSegment,
		"segments":                 len(layout.Segments),
		"data_blocks":              len(m.DataKeys),
		"check_blocks":             len(m.CheckKeys),
	}).Debug("Planned splitfile")

	j.segments = make([]segment.Segment, len(layout.Segments))
	for i, s := range layout.Segments {
		dataKeys := append([]keys.Key(nil), m.DataKeys[s.Data.Start:s.Data.End]...)
		checkKeys := append([]keys.Key(nil), m.CheckKeys[s.Check.Start:s.Check.End]...)
		j.segments[i] = opts.NewSegment(i, dataKeys, checkKeys, j)
	}

	j.sizes, err = keyindex.ComputeSizes(keyindex.Config{
		TotalKeys:             len(m.DataKeys) + len(m.CheckKeys),
		SegmentCount:          len(j.segments),
		BlocksPerSegment:      layout.BlocksPerSegment,
		CheckBlocksPerSegment: layout.CheckBlocksPerSegment,
		MaxSegmentKeys:        layout.MaxSegmentKeys(),
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// populate adds every key to idx tagged with its segment and flushes it.
func (j *Job) populate(idx *keyindex.Index, dataKeys, checkKeys []keys.Key) error {
	for i, s := range j.layout.Segments {
		for _, k := range dataKeys[s.Data.Start:s.Data.End] {
			if err := idx.AddKey(k, i); err != nil {
				return err
			}
		}
		for _, k := range checkKeys[s.Check.Start:s.Check.End] {
			if err := idx.AddKey(k, i); err != nil {
				return err
			}
		}
	}
	return idx.Flush()
}

func (j *Job) newStorage() (*keyindex.Storage, error) {
	if !j.opts.Persistent {
		return nil, nil
	}
	if err := j.opts.Fs.MkdirAll(j.opts.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", j.opts.TempDir, err)
	}
	return &keyindex.Storage{
		Fs:       j.opts.Fs,
		MainPath: filepath.Join(j.opts.TempDir, "bloom-"+uuid.NewString()),
		AltPath:  filepath.Join(j.opts.TempDir, "bloom-"+uuid.NewString()),
	}, nil
}

// ID identifies the job to the scheduler.
func (j *Job) ID() string {
	return j.id
}

// State returns the current lifecycle stage.
func (j *Job) State() State {
	return State(j.state.Load())
}

// Segments returns the job's segments in order.
func (j *Job) Segments() []segment.Segment {
	return j.segments
}

// KeyCount returns the number of keys still outstanding.
func (j *Job) KeyCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener != nil {
		return j.listener.index.KeyCount()
	}
	return j.keyCount
}

// Schedule asks every segment for its keys and registers them with the
// scheduler as one unit.
func (j *Job) Schedule(ctx context.Context) error {
	if j.outcome.Load() != outcomePending {
		return ferrors.New(ferrors.Cancelled, "job %s already finished", j.id)
	}
	if j.opts.Scheduler == nil {
		return ferrors.New(ferrors.InternalError, "no scheduler configured")
	}
	requests := make([]scheduler.Request, len(j.segments))
	for i, s := range j.segments {
		log.WithFields(log.Fields{"job": j.id, "segment": i}).Debug("Scheduling segment")
		r, err := s.Schedule()
		if err != nil {
			return ferrors.Wrap(ferrors.InternalError, err, fmt.Sprintf("unable to schedule segment %d", i))
		}
		requests[i] = r
	}
	j.state.CompareAndSwap(int32(StateConstructing), int32(StateScheduled))
	return j.opts.Scheduler.Register(ctx, j, requests, j.opts.Persistent, true, j.opts.BlockSet)
}

// Cancel stops the job. It cancels every segment once and delivers a single
// cancellation failure unless an outcome was already delivered.
func (j *Job) Cancel() {
	j.abort(ferrors.New(ferrors.Cancelled, "fetch cancelled"), StateCancelled)
}

// OnKeyListenerFailed fails the job when its key index could not be rebuilt.
// Every segment is cancelled and the last one to finish delivers err.
func (j *Job) OnKeyListenerFailed(err error) {
	j.mu.Lock()
	if j.otherFailure == nil {
		j.otherFailure = err
	}
	j.mu.Unlock()
	if j.outcome.Load() != outcomePending {
		return
	}
	j.state.Store(int32(StateFailed))
	for i, s := range j.segments {
		log.WithFields(log.Fields{"job": j.id, "segment": i}).Debug("Cancelling segment")
		s.Cancel()
	}
	// No-op once finish has delivered. Covers segments that were all
	// finished before the failure and so never call back.
	j.abort(err, StateFailed)
}

func (j *Job) abort(err error, st State) {
	if !j.outcome.CompareAndSwap(outcomePending, outcomeCancelled) {
		return
	}
	j.state.Store(int32(st))
	for i, s := range j.segments {
		log.WithFields(log.Fields{"job": j.id, "segment": i}).Debug("Cancelling segment")
		s.Cancel()
	}
	if j.opts.Scheduler != nil {
		j.opts.Scheduler.RemovePendingKeys(j)
	}
	j.cleanup()
	log.WithFields(log.Fields{"job": j.id}).Infof("Fetch stopped: %v", err)
	j.cb.OnFailure(err)
}

// SegmentFinished is called by a segment that reached a terminal state. The
// last one to finish triggers assembly.
func (j *Job) SegmentFinished(s segment.Segment) {
	log.WithFields(log.Fields{"job": j.id, "segment": s.Index()}).Debug("Finished segment")
	j.state.CompareAndSwap(int32(StateScheduled), int32(StateAggregating))

	finish := false
	j.mu.Lock()
	allDone := true
	for _, seg := range j.segments {
		if !seg.Finished() {
			allDone = false
			break
		}
	}
	if allDone {
		if j.allSegmentsFinished {
			log.WithFields(log.Fields{"job": j.id, "segment": s.Index()}).Error("Was already finished")
		} else {
			j.allSegmentsFinished = true
			finish = true
		}
	}
	j.mu.Unlock()

	if finish {
		j.finish()
	}
}

// RemovePendingKeys kills a finished segment's keys in the index.
func (j *Job) RemovePendingKeys(seg int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener == nil {
		return
	}
	j.keyCount = j.listener.index.KillSegment(seg)
}

func (j *Job) cleanup() {
	j.mu.Lock()
	storage := j.storage
	j.mu.Unlock()
	storage.Remove()
}
