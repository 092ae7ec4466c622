package keyindex

import (
	"math"

	"github.com/zzenonn/zfetch/internal/bloom"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
)

const (
	// MainElementsPerKey gives about 0.6185^19 = 0.01% false positives on the
	// main filter, acceptable with thousands of splitfiles queued.
	MainElementsPerKey = 19
	// AcceptableFalsePositivesAllSegments is the overall chance of a per-segment
	// false positive given a main filter hit. It is split across segments.
	AcceptableFalsePositivesAllSegments = 0.01
	falsePositiveBase                   = 0.6185
)

// Config describes the keys an index will hold.
type Config struct {
	TotalKeys             int
	SegmentCount          int
	BlocksPerSegment      int
	CheckBlocksPerSegment int
	MaxSegmentKeys        int
}

// Sizes are the derived filter dimensions.
type Sizes struct {
	MainBytes    int
	MainK        int
	SegmentBytes int
	SegmentK     int
}

// ComputeSizes derives filter sizes from cfg.
func ComputeSizes(cfg Config) (Sizes, error) {
	if cfg.SegmentCount < 1 {
		return Sizes{}, ferrors.New(ferrors.InvalidMetadata, "splitfile has no segments")
	}
	elements := int64(cfg.TotalKeys) * MainElementsPerKey
	if elements > math.MaxInt32 {
		return Sizes{}, ferrors.New(ferrors.TooBig,
			"cannot fetch splitfiles with more than %d keys", math.MaxInt32/MainElementsPerKey)
	}
	mainBits := ceil8(int(elements))
	if mainBits == 0 {
		mainBits = 8
	}

	acceptable := AcceptableFalsePositivesAllSegments / float64(cfg.SegmentCount)
	bitsPerKey := int(math.Ceil(math.Log(acceptable) / math.Log(falsePositiveBase)))
	segBlocks := max(cfg.BlocksPerSegment+cfg.CheckBlocksPerSegment, cfg.MaxSegmentKeys, 1)
	segBits := ceil8(bitsPerKey * segBlocks)

	return Sizes{
		MainBytes:    mainBits / 8 * 2,
		MainK:        int(math.Floor(MainElementsPerKey * 0.7)),
		SegmentBytes: segBits / 8,
		SegmentK:     bloom.OptimalK(segBits, segBlocks),
	}, nil
}

func ceil8(n int) int {
	if n&7 != 0 {
		n += 8 - n&7
	}
	return n
}
