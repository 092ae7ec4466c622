package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/zzenonn/zfetch/internal/keys"
)

// PutBlock stores a block under its content key.
func PutBlock(ctx context.Context, repo ObjectRepository, k keys.Key, data []byte) error {
	if _, err := repo.Upload(ctx, k.ObjectKey(), bytes.NewReader(data), true); err != nil {
		return fmt.Errorf("failed to store block %s in %s: %w", k, repo.GetBucketName(), err)
	}
	return nil
}

// GetBlock reads the block stored under k. It reads at most one byte more than
// a block so an oversized object is caught without reading all of it.
func GetBlock(ctx context.Context, repo ObjectRepository, k keys.Key) ([]byte, error) {
	r, err := repo.Download(ctx, k.ObjectKey(), true)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, keys.BlockSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s from %s: %w", k, repo.GetBucketName(), err)
	}
	if len(data) != keys.BlockSize {
		return nil, fmt.Errorf("block %s in %s is %d bytes", k, repo.GetBucketName(), len(data))
	}
	return data, nil
}
