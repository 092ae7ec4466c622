// Package splitfile turns a byte stream into the manifest and blocks that a
// fetch job reconstructs.
package splitfile

import (
	"bytes"
	"fmt"

	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/fec"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/segmenter"
)

// Options control how a file is split.
type Options struct {
	// BlocksPerSegment data blocks per segment. Zero puts everything in one
	// non-redundant segment.
	BlocksPerSegment int
	// CheckBlocksPerSegment check blocks for a full segment. Shorter segments
	// get proportionally fewer.
	CheckBlocksPerSegment int
	// Codecs are applied in order before splitting.
	Codecs   []compress.Codec
	MIMEType string
}

// Block is one content-addressed block.
type Block struct {
	Key  keys.Key
	Data []byte
}

// Encoded is a split file.
type Encoded struct {
	Manifest domain.Manifest
	// Blocks holds the data blocks followed by the check blocks, in manifest order.
	Blocks []Block
}

// Encode compresses, splits and erasure codes data.
func Encode(data []byte, opts Options) (Encoded, error) {
	if len(data) == 0 {
		return Encoded{}, ferrors.ErrEmptyFile
	}
	payload := data
	for _, c := range opts.Codecs {
		var buf bytes.Buffer
		if _, err := compress.Compress(c, &buf, bytes.NewReader(payload)); err != nil {
			return Encoded{}, err
		}
		payload = buf.Bytes()
	}

	dataBlocks := fec.SplitBlocks(payload)
	m := domain.Manifest{
		DataLength:         int64(len(payload)),
		UncompressedLength: int64(len(data)),
		MIMEType:           opts.MIMEType,
		Compression:        compress.Names(opts.Codecs),
	}
	var checkBlocks [][]byte

	if opts.BlocksPerSegment <= 0 || opts.CheckBlocksPerSegment <= 0 {
		m.SplitfileType = domain.Nonredundant
	} else {
		bps, cbps := opts.BlocksPerSegment, opts.CheckBlocksPerSegment
		m.SplitfileType = domain.OnionStandard
		m.SplitfileParams = segmenter.EncodeParams(bps, cbps)
		for start := 0; start < len(dataBlocks); start += bps {
			seg := dataBlocks[start:min(start+bps, len(dataBlocks))]
			checkCount := (cbps*len(seg) + bps - 1) / bps
			check, err := fec.Encode(seg, checkCount)
			if err != nil {
				return Encoded{}, fmt.Errorf("failed to encode segment %d: %w", start/bps, err)
			}
			checkBlocks = append(checkBlocks, check...)
		}
	}

	enc := Encoded{Manifest: m}
	for _, b := range dataBlocks {
		k := keys.FromBlock(b)
		enc.Manifest.DataKeys = append(enc.Manifest.DataKeys, k)
		enc.Blocks = append(enc.Blocks, Block{Key: k, Data: b})
	}
	for _, b := range checkBlocks {
		k := keys.FromBlock(b)
		enc.Manifest.CheckKeys = append(enc.Manifest.CheckKeys, k)
		enc.Blocks = append(enc.Blocks, Block{Key: k, Data: b})
	}
	return enc, nil
}
