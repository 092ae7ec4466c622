// Package placement spreads a splitfile's blocks over several storage buckets.
//
// A block's key picks its bucket. Insert places it with Place(KeyIndex(key)),
// fetch tries the same bucket first and then the others in order, so a fetch
// finds the block in one request while every bucket still holds a similar share
// of each segment.
//
// Example:
//
//	placer := NewRoundRobinPlacer()
//	placer.RegisterBucket("s3-blocks", s3Repo)
//	placer.RegisterBucket("gcs-blocks", gcsRepo)
//
//	name, repo, _ := placer.Place(KeyIndex(key))
//
//	source := NewBlockSource(placer)
//	data, err := source.FetchBlock(ctx, key)
package placement

import (
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
)

// Placer manages block placement across multiple storage backends.
//
// Implementations must be thread-safe and deterministic: the same index and
// bucket set always yield the same bucket.
type Placer interface {
	// GetRepositoryForBucket returns the repository for a specific bucket.
	GetRepositoryForBucket(bucketName string) (objectstore.ObjectRepository, error)

	// Place selects the bucket for the block at blockIndex.
	Place(blockIndex int) (string, objectstore.ObjectRepository, error)

	// RegisterBucket adds a storage bucket and repository to the placer.
	RegisterBucket(bucketName string, repo objectstore.ObjectRepository) error

	// ListBuckets returns all registered bucket names in registration order.
	ListBuckets() []string
}
