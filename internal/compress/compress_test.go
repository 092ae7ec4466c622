package compress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sample() []byte {
	return []byte(strings.Repeat("splitfile block payload ", 2000))
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, c := range []Codec{Gzip, Bzip2, LZMA, Zstd, LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			var compressed bytes.Buffer
			_, err := Compress(c, &compressed, bytes.NewReader(sample()))
			require.NoError(t, err)

			var out bytes.Buffer
			n, err := Decompress(c, &compressed, &out, 1<<20, 4<<20)
			require.NoError(t, err)
			require.Equal(t, int64(len(sample())), n)
			require.Equal(t, sample(), out.Bytes())
		})
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{name: "gzip", want: Gzip},
		{name: " BZIP2 ", want: Bzip2},
		{name: "lz4", want: LZ4},
		{name: "brotli", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.name)
		if tt.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestStack_PopsInReverse(t *testing.T) {
	data := sample()

	// Insert: gzip first, then bzip2 wraps the gzip stream.
	stack := NewStack()
	var current []byte = data
	for _, c := range []Codec{Gzip, Bzip2} {
		var buf bytes.Buffer
		_, err := Compress(c, &buf, bytes.NewReader(current))
		require.NoError(t, err)
		current = buf.Bytes()
		stack.Push(c)
	}
	require.Equal(t, []Codec{Gzip, Bzip2}, stack.Codecs())

	var order []Codec
	for {
		c, ok := stack.Pop()
		if !ok {
			break
		}
		order = append(order, c)
		var out bytes.Buffer
		_, err := Decompress(c, bytes.NewReader(current), &out, int64(len(data)), int64(len(data))*4)
		require.NoError(t, err)
		require.LessOrEqual(t, out.Len(), len(data))
		current = out.Bytes()
	}
	require.Equal(t, []Codec{Bzip2, Gzip}, order)
	require.Equal(t, data, current)
	require.Zero(t, stack.Len())
}

func TestDecompress_OutputTooBig(t *testing.T) {
	var compressed bytes.Buffer
	_, err := Compress(Zstd, &compressed, bytes.NewReader(sample()))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = Decompress(Zstd, &compressed, &out, 1000, 4000)
	var sizeErr *OutputSizeError
	require.True(t, errors.As(err, &sizeErr), "error = %v", err)
	require.Equal(t, int64(1000), sizeErr.Limit)
	require.Equal(t, int64(4000), sizeErr.Estimated)
	require.Equal(t, 1000, out.Len())
}

func TestDecompress_ExactLimit(t *testing.T) {
	data := sample()
	var compressed bytes.Buffer
	_, err := Compress(Gzip, &compressed, bytes.NewReader(data))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := Decompress(Gzip, &compressed, &out, int64(len(data)), int64(len(data))*4)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
}
