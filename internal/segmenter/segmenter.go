// Package segmenter partitions a splitfile's block keys into segments.
//
// A segment is decoded independently of every other segment, so the
// partition is fixed by the manifest: segment i owns data blocks
// [i*bps, min((i+1)*bps, D)) and check blocks [i*cbps, min((i+1)*cbps, C)).
package segmenter

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
)

// Unsegmented is the blocks-per-segment value of a splitfile with one segment.
const Unsegmented = -1

// Params are the segmentation parameters declared by a manifest.
type Params struct {
	Type                  domain.SplitfileType
	BlocksPerSegment      int
	CheckBlocksPerSegment int
}

// Limits bound the per-segment block counts a fetch will accept.
type Limits struct {
	MaxDataBlocksPerSegment  int
	MaxCheckBlocksPerSegment int
}

// Range is a half-open slice [Start, End) of a key list.
type Range struct {
	Start int
	End   int
}

// Len returns the number of keys in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Segment is the data and check key ranges owned by one segment.
type Segment struct {
	Data  Range
	Check Range
}

// Keys returns the number of keys in the segment.
func (s Segment) Keys() int {
	return s.Data.Len() + s.Check.Len()
}

// Layout is the result of planning.
type Layout struct {
	BlocksPerSegment      int
	CheckBlocksPerSegment int
	Segments              []Segment
}

// MaxSegmentKeys returns the key count of the largest segment.
func (l Layout) MaxSegmentKeys() int {
	largest := 0
	for _, s := range l.Segments {
		largest = max(largest, s.Keys())
	}
	return largest
}

// ParseParams decodes the packed splitfile parameters of an onion splitfile.
func ParseParams(t domain.SplitfileType, buf []byte) (Params, error) {
	if t == domain.Nonredundant {
		return Params{Type: t, BlocksPerSegment: Unsegmented, CheckBlocksPerSegment: Unsegmented}, nil
	}
	if t != domain.OnionStandard {
		return Params{}, ferrors.New(ferrors.InvalidMetadata, "unknown splitfile format: %d", int16(t))
	}
	if len(buf) < 8 {
		return Params{}, ferrors.New(ferrors.InvalidMetadata, "no splitfile params")
	}
	return Params{
		Type:                  t,
		BlocksPerSegment:      int(int32(binary.BigEndian.Uint32(buf[0:4]))),
		CheckBlocksPerSegment: int(int32(binary.BigEndian.Uint32(buf[4:8]))),
	}, nil
}

// EncodeParams packs blocks-per-segment and check-blocks-per-segment.
func EncodeParams(blocksPerSegment, checkBlocksPerSegment int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(blocksPerSegment)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(checkBlocksPerSegment)))
	return buf
}

// Plan computes the segment layout for dataBlocks data keys and checkBlocks check keys.
func Plan(dataBlocks, checkBlocks int, p Params, limits Limits) (Layout, error) {
	switch p.Type {
	case domain.Nonredundant:
		if checkBlocks > 0 {
			return Layout{}, ferrors.New(ferrors.InvalidMetadata,
				"splitfile type is non-redundant yet have %d check blocks", checkBlocks)
		}
		return Layout{
			BlocksPerSegment:      Unsegmented,
			CheckBlocksPerSegment: Unsegmented,
			Segments:              []Segment{{Data: Range{0, dataBlocks}, Check: Range{0, 0}}},
		}, nil
	case domain.OnionStandard:
	default:
		return Layout{}, ferrors.New(ferrors.InvalidMetadata, "unknown splitfile format: %d", int16(p.Type))
	}

	bps := p.BlocksPerSegment
	cbps := p.CheckBlocksPerSegment

	// Files inserted by the old encoder have 127 check blocks per full segment but
	// record 64. Their check block count gives them away.
	if cbps == 64 && bps == 128 && checkBlocks == dataBlocks-(dataBlocks/128) {
		log.WithFields(log.Fields{"data": dataBlocks, "check": checkBlocks}).
			Info("Activating wrong check blocks per segment workaround")
		cbps = 127
	}

	if bps > limits.MaxDataBlocksPerSegment || cbps > limits.MaxCheckBlocksPerSegment {
		return Layout{}, ferrors.New(ferrors.TooManyBlocksPerSegment,
			"too many blocks per segment: %d data, %d check", bps, cbps)
	}
	if bps <= 0 || cbps < 0 {
		return Layout{}, ferrors.New(ferrors.InvalidMetadata,
			"invalid segment parameters: %d data, %d check", bps, cbps)
	}

	count := dataBlocks / bps
	if dataBlocks%bps != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}

	layout := Layout{
		BlocksPerSegment:      bps,
		CheckBlocksPerSegment: cbps,
		Segments:              make([]Segment, count),
	}
	dataPtr, checkPtr := 0, 0
	for i := range layout.Segments {
		copyData := min(dataBlocks-dataPtr, bps)
		copyCheck := min(checkBlocks-checkPtr, cbps)
		layout.Segments[i] = Segment{
			Data:  Range{dataPtr, dataPtr + copyData},
			Check: Range{checkPtr, checkPtr + copyCheck},
		}
		dataPtr += copyData
		checkPtr += copyCheck
	}
	if dataPtr != dataBlocks {
		return Layout{}, ferrors.New(ferrors.InvalidMetadata,
			"unable to allocate all data blocks to segments - buggy or malicious inserter")
	}
	if checkPtr != checkBlocks {
		return Layout{}, ferrors.New(ferrors.InvalidMetadata,
			"unable to allocate all check blocks to segments - buggy or malicious inserter")
	}
	return layout, nil
}
