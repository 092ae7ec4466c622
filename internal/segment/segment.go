// Package segment defines the per-segment fetch and decode contract and a
// Reed-Solomon implementation of it.
package segment

import (
	"io"

	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/scheduler"
)

// Segment fetches and decodes one slice of a splitfile.
type Segment interface {
	Index() int
	// Schedule returns the keys the segment still needs. It is called once per
	// segment per job.
	Schedule() (scheduler.Request, error)
	// Cancel stops the segment. Safe to call more than once and concurrently.
	Cancel()
	// Finished reports whether the segment reached a terminal state, decoded or not.
	Finished() bool
	// Err returns the terminal error of a segment that did not decode.
	Err() error
	DecodedLength() int64
	// WriteDecodedDataTo writes at most max decoded bytes to w.
	WriteDecodedDataTo(w io.Writer, max int64) (int64, error)
	// OnBlock offers a block. It reports whether the segment accepted it.
	OnBlock(k keys.Key, data []byte) bool
	// OnNotFound reports that k could not be retrieved.
	OnNotFound(k keys.Key, err error)
	PendingKeys() []keys.Key
}

// Listener receives segment lifecycle events. The fetch job implements it.
type Listener interface {
	// SegmentFinished is called once per segment when it reaches a terminal state.
	SegmentFinished(s Segment)
	// RemovePendingKeys drops the segment's outstanding keys from the job's index.
	RemovePendingKeys(segment int)
}

// Factory creates the segment owning dataKeys and checkKeys.
type Factory func(index int, dataKeys, checkKeys []keys.Key, l Listener) Segment
