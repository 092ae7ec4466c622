package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryObjectRepository keeps objects in a map. It backs mem:// buckets used
// for local runs and tests.
type MemoryObjectRepository struct {
	mu         sync.RWMutex
	bucketName string
	objects    map[string][]byte
}

// NewMemoryObjectRepository creates an empty in-memory bucket.
func NewMemoryObjectRepository(bucketName string) *MemoryObjectRepository {
	return &MemoryObjectRepository{
		bucketName: bucketName,
		objects:    make(map[string][]byte),
	}
}

func (r *MemoryObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read object %s: %w", key, err)
	}
	r.mu.Lock()
	r.objects[key] = data
	r.mu.Unlock()
	return r.bucketName + "/" + key, nil
}

func (r *MemoryObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	r.mu.RLock()
	data, ok := r.objects[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mem://%s/%s: %w", r.bucketName, key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *MemoryObjectRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, key)
	return nil
}

func (r *MemoryObjectRepository) DeletePrefix(ctx context.Context, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.objects {
		if strings.HasPrefix(key, prefix) {
			delete(r.objects, key)
		}
	}
	return nil
}

func (r *MemoryObjectRepository) GetBucketName() string {
	return r.bucketName
}

func (r *MemoryObjectRepository) GetStorageType() string {
	return string(MemoryType)
}

// Len returns the number of stored objects.
func (r *MemoryObjectRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
