// Package fec wraps the Reed-Solomon code that produces and consumes a segment's
// check blocks. Every block is exactly keys.BlockSize bytes; the last data block
// of a splitfile is zero padded.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/zzenonn/zfetch/internal/keys"
)

// SplitBlocks cuts data into BlockSize blocks, padding the last one.
func SplitBlocks(data []byte) [][]byte {
	var blocks [][]byte
	for off := 0; off < len(data); off += keys.BlockSize {
		block := make([]byte, keys.BlockSize)
		copy(block, data[off:])
		blocks = append(blocks, block)
	}
	return blocks
}

// Encode computes checkCount check blocks for one segment's data blocks.
func Encode(data [][]byte, checkCount int) ([][]byte, error) {
	if checkCount == 0 {
		return nil, nil
	}
	enc, err := reedsolomon.New(len(data), checkCount)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder for %d+%d blocks: %w", len(data), checkCount, err)
	}

	shards := make([][]byte, len(data)+checkCount)
	copy(shards, data)
	for i := len(data); i < len(shards); i++ {
		shards[i] = make([]byte, keys.BlockSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode segment: %w", err)
	}
	return shards[len(data):], nil
}

// Decode rebuilds the data blocks of a segment from any dataCount of its blocks
// and returns them concatenated. shards holds data blocks first, then check
// blocks, with nil for every block that did not arrive.
func Decode(shards [][]byte, dataCount int) ([]byte, error) {
	checkCount := len(shards) - dataCount
	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < dataCount {
		return nil, fmt.Errorf("have %d of %d required blocks: %w", present, dataCount, reedsolomon.ErrTooFewShards)
	}

	if checkCount > 0 {
		enc, err := reedsolomon.New(dataCount, checkCount)
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder for %d+%d blocks: %w", dataCount, checkCount, err)
		}
		if err := enc.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("failed to reconstruct segment: %w", err)
		}
	}

	out := make([]byte, 0, dataCount*keys.BlockSize)
	for _, s := range shards[:dataCount] {
		if s == nil {
			return nil, fmt.Errorf("data block missing after reconstruction")
		}
		out = append(out, s...)
	}
	return out, nil
}
