package compress

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Stack holds the codecs of a splitfile in the order they were applied at insert
// time. Pop returns the most recently pushed codec, which is the first to undo.
type Stack struct {
	mu     sync.Mutex
	codecs []Codec
}

// NewStack returns a stack with codecs pushed in order.
func NewStack(codecs ...Codec) *Stack {
	s := &Stack{}
	for _, c := range codecs {
		s.Push(c)
	}
	return s
}

// Push adds a codec on top of the stack.
func (s *Stack) Push(c Codec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codecs = append(s.codecs, c)
}

// Pop removes and returns the top codec. ok is false when the stack is empty.
func (s *Stack) Pop() (c Codec, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codecs) == 0 {
		return 0, false
	}
	c = s.codecs[len(s.codecs)-1]
	s.codecs = s.codecs[:len(s.codecs)-1]
	return c, true
}

// Len returns the number of codecs left.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codecs)
}

// Codecs returns the codecs bottom first.
func (s *Stack) Codecs() []Codec {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Codec(nil), s.codecs...)
}

// OutputSizeError is returned when decompressed output would exceed its bound.
// Estimated is the number of bytes seen before giving up, which is at most the
// check size passed to Decompress.
type OutputSizeError struct {
	Limit     int64
	Estimated int64
}

func (e *OutputSizeError) Error() string {
	return fmt.Sprintf("decompressed output too big: at least %d bytes, limit %d", e.Estimated, e.Limit)
}

// Decompress undoes codec from r into w, writing at most maxLength bytes. When
// the stream is longer it keeps reading, up to maxCheckSizeLength bytes in total,
// to estimate the real size and returns an *OutputSizeError.
func Decompress(c Codec, r io.Reader, w io.Writer, maxLength, maxCheckSizeLength int64) (int64, error) {
	dec, err := c.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s stream: %w", c, err)
	}
	defer dec.Close()

	written, err := io.Copy(w, io.LimitReader(dec, maxLength))
	if err != nil {
		return written, fmt.Errorf("failed to decompress %s stream: %w", c, err)
	}
	if written < maxLength {
		return written, nil
	}

	// Exactly at the limit: read one more byte before deciding.
	rest := maxCheckSizeLength - written
	if rest < 1 {
		rest = 1
	}
	extra, err := io.Copy(io.Discard, io.LimitReader(dec, rest))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return written, fmt.Errorf("failed to decompress %s stream: %w", c, err)
	}
	if extra == 0 {
		return written, nil
	}
	return written, &OutputSizeError{Limit: maxLength, Estimated: written + extra}
}

// Compress applies codec to everything read from r and writes the result to w.
func Compress(c Codec, w io.Writer, r io.Reader) (int64, error) {
	enc, err := c.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s writer: %w", c, err)
	}
	n, err := io.Copy(enc, r)
	if err != nil {
		enc.Close()
		return n, fmt.Errorf("failed to compress with %s: %w", c, err)
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("failed to finish %s stream: %w", c, err)
	}
	return n, nil
}
