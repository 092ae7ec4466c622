// Package bucket provides the byte containers a fetch assembles and
// decompresses its output into.
package bucket

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Bucket is a write-once, read-many byte container.
type Bucket interface {
	// Writer truncates the bucket and returns a writer for its new content.
	Writer() (io.WriteCloser, error)
	// Reader returns a reader over the current content.
	Reader() (io.ReadCloser, error)
	Size() int64
	// Free releases the bucket's storage. The bucket must not be used afterwards.
	Free() error
}

// Factory creates buckets. sizeHint is the expected content length or -1.
type Factory interface {
	MakeBucket(sizeHint int64) (Bucket, error)
}

// Memory is a bucket held in a byte slice.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory returns an empty in-memory bucket.
func NewMemory() *Memory {
	return &Memory{}
}

type memoryWriter struct {
	b   *Memory
	buf bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.data = w.buf.Bytes()
	return nil
}

// Writer returns a writer whose content replaces the bucket's on Close.
func (b *Memory) Writer() (io.WriteCloser, error) {
	return &memoryWriter{b: b}, nil
}

// Reader returns a reader over the bucket's content.
func (b *Memory) Reader() (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Size returns the content length.
func (b *Memory) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data))
}

// Bytes returns the content.
func (b *Memory) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Free drops the content.
func (b *Memory) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

// MemoryFactory makes in-memory buckets.
type MemoryFactory struct{}

// MakeBucket returns a new Memory bucket.
func (MemoryFactory) MakeBucket(int64) (Bucket, error) {
	return NewMemory(), nil
}

// File is a bucket backed by a file on an afero filesystem.
type File struct {
	fs   afero.Fs
	path string
}

// NewFile returns a bucket stored at path.
func NewFile(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

// Path returns the backing file path.
func (b *File) Path() string {
	return b.path
}

// Writer truncates the backing file.
func (b *File) Writer() (io.WriteCloser, error) {
	f, err := b.fs.Create(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket file %s: %w", b.path, err)
	}
	return f, nil
}

// Reader opens the backing file.
func (b *File) Reader() (io.ReadCloser, error) {
	f, err := b.fs.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket file %s: %w", b.path, err)
	}
	return f, nil
}

// Size returns the backing file length, or 0 when it does not exist.
func (b *File) Size() int64 {
	info, err := b.fs.Stat(b.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Free removes the backing file.
func (b *File) Free() error {
	if err := b.fs.Remove(b.path); err != nil {
		exists, _ := afero.Exists(b.fs, b.path)
		if exists {
			return fmt.Errorf("failed to remove bucket file %s: %w", b.path, err)
		}
	}
	return nil
}

// FileFactory makes file buckets with random names under Dir.
type FileFactory struct {
	Fs  afero.Fs
	Dir string
}

// MakeBucket creates a new file bucket.
func (f FileFactory) MakeBucket(int64) (Bucket, error) {
	if err := f.Fs.MkdirAll(f.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", f.Dir, err)
	}
	return NewFile(f.Fs, filepath.Join(f.Dir, "bucket-"+uuid.NewString())), nil
}
