package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/bucket"
	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	"github.com/zzenonn/zfetch/internal/fetcher"
	"github.com/zzenonn/zfetch/internal/scheduler"
)

// FetchOptions configure every job a FetchService starts.
type FetchOptions struct {
	Limits     fetcher.Limits
	Persistent bool
	Fs         afero.Fs
	TempDir    string
	BlockSet   blockset.BlockSet
	Buckets    bucket.Factory
	Quiet      bool
}

// FetchService reconstructs stored files.
type FetchService struct {
	manifests ManifestRepository
	scheduler scheduler.Scheduler
	opts      FetchOptions
}

// NewFetchService creates a FetchService. manifests may be nil when only
// manifest files are fetched.
func NewFetchService(manifests ManifestRepository, sched scheduler.Scheduler, opts FetchOptions) *FetchService {
	return &FetchService{
		manifests: manifests,
		scheduler: sched,
		opts:      opts,
	}
}

// Fetch looks up the manifest stored for uri and writes the file to w.
func (s *FetchService) Fetch(ctx context.Context, uri string, w io.Writer) (int64, error) {
	if s.manifests == nil {
		return 0, fmt.Errorf("no manifest repository configured")
	}
	prefix, fileName, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	m, err := s.manifests.GetManifest(ctx, prefix, fileName)
	if err != nil {
		return 0, err
	}
	return s.FetchManifest(ctx, m, w)
}

// FetchManifest runs one fetch job for m and writes the result to w. The job is
// cancelled when ctx ends.
func (s *FetchService) FetchManifest(ctx context.Context, m domain.Manifest, w io.Writer) (int64, error) {
	codecs, err := compress.ParseCodecs(m.Compression)
	if err != nil {
		return 0, err
	}

	cb := newWaitCallback()
	job, err := fetcher.New(m, compress.NewStack(codecs...), cb, fetcher.Options{
		Limits:     s.opts.Limits,
		Persistent: s.opts.Persistent,
		Fs:         s.opts.Fs,
		TempDir:    s.opts.TempDir,
		Scheduler:  s.scheduler,
		BlockSet:   s.opts.BlockSet,
		Buckets:    s.opts.Buckets,
	})
	if err != nil {
		return 0, err
	}
	logger := log.WithFields(log.Fields{"job": job.ID(), "uri": m.URI()})
	logger.WithField("expected_bytes", cb.expectedSize()).Info("Fetching splitfile")

	if err := job.Schedule(ctx); err != nil {
		job.Cancel()
		return 0, err
	}

	select {
	case <-cb.done:
	case <-ctx.Done():
		logger.Info("Context ended, cancelling fetch")
		job.Cancel()
		<-cb.done
	}

	result, err := cb.outcome()
	if err != nil {
		return 0, err
	}
	defer result.Data.Free()
	return s.copyResult(result.Data, w)
}

func (s *FetchService) copyResult(data bucket.Bucket, w io.Writer) (int64, error) {
	r, err := data.Reader()
	if err != nil {
		return 0, fmt.Errorf("failed to read fetched data: %w", err)
	}
	defer r.Close()

	if !s.opts.Quiet {
		bar := progressbar.DefaultBytes(data.Size(), "writing")
		w = io.MultiWriter(w, bar)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("failed to write fetched data: %w", err)
	}
	return n, nil
}

// waitCallback turns a job's single outcome into a channel close.
type waitCallback struct {
	mu     sync.Mutex
	size   int64
	result fetcher.Result
	err    error
	done   chan struct{}
	once   sync.Once
}

func newWaitCallback() *waitCallback {
	return &waitCallback{done: make(chan struct{})}
}

func (c *waitCallback) OnExpectedSize(length int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = length
}

func (c *waitCallback) OnExpectedMIME(mime string) {}

func (c *waitCallback) OnFinalizedMetadata() {}

func (c *waitCallback) OnSuccess(r fetcher.Result) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = r
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *waitCallback) OnFailure(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *waitCallback) expectedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *waitCallback) outcome() (fetcher.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}
