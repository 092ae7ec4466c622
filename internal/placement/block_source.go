package placement

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
)

// BlockSource fetches blocks from the buckets of a Placer.
type BlockSource struct {
	placer Placer
}

// NewBlockSource creates a source reading from every bucket of placer.
func NewBlockSource(placer Placer) *BlockSource {
	return &BlockSource{placer: placer}
}

// KeyIndex is the placement index of a block. Inserting with Place(KeyIndex(k))
// stores a block in the bucket FetchBlock tries first.
func KeyIndex(k keys.Key) int {
	return int(xxhash.Sum64(k[:]) >> 33)
}

// start returns the bucket a key is tried in first.
func start(k keys.Key, n int) int {
	return KeyIndex(k) % n
}

// FetchBlock tries the key's first bucket, then every other bucket in order. It
// returns ferrors.ErrNotFound when no bucket has the block.
func (s *BlockSource) FetchBlock(ctx context.Context, k keys.Key) ([]byte, error) {
	buckets := s.placer.ListBuckets()
	if len(buckets) == 0 {
		return nil, fmt.Errorf("no buckets registered")
	}

	first := start(k, len(buckets))
	var lastErr error
	for i := range buckets {
		name := buckets[(first+i)%len(buckets)]
		repo, err := s.placer.GetRepositoryForBucket(name)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := objectstore.GetBlock(ctx, repo, k)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, objectstore.ErrObjectNotFound) {
			log.WithFields(log.Fields{"key": k.String(), "bucket": name}).Warnf("Block fetch failed: %v", err)
		}
	}
	if errors.Is(lastErr, objectstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("block %s: %w", k, ferrors.ErrNotFound)
	}
	return nil, lastErr
}
