// Package compress holds the reversible transforms applied to a splitfile before
// insertion and undone, in reverse order, after retrieval.
package compress

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Codec identifies a compression algorithm. The values are stored in manifests
// and must not change.
type Codec uint8

const (
	Gzip  Codec = 0
	Bzip2 Codec = 1
	LZMA  Codec = 2
	Zstd  Codec = 3
	LZ4   Codec = 4
)

// String returns the name a codec is stored under.
func (c Codec) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gzip":
		return Gzip, nil
	case "bzip2":
		return Bzip2, nil
	case "lzma":
		return LZMA, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// ParseCodecs parses a list of codec names.
func ParseCodecs(names []string) ([]Codec, error) {
	out := make([]Codec, 0, len(names))
	for _, n := range names {
		c, err := ParseCodec(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Names returns the stored names of codecs.
func Names(codecs []Codec) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.String()
	}
	return out
}

// NewReader returns a decompressing reader over r.
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r, nil)
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", uint8(c))
	}
}

// NewWriter returns a compressing writer over w. Close flushes the stream
// without closing w.
func (c Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Bzip2:
		return bzip2.NewWriter(w, nil)
	case LZMA:
		return lzma.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", uint8(c))
	}
}
