// Package scheduler defines how fetch jobs hand their outstanding keys to the
// block transport, and provides a transport backed by object stores.
package scheduler

import (
	"context"

	"github.com/zzenonn/zfetch/internal/blockset"
	"github.com/zzenonn/zfetch/internal/keys"
)

// Request lists the keys one segment wants.
type Request struct {
	Segment int
	Keys    []keys.Key
}

// KeyListener recognises and consumes the blocks of one job.
type KeyListener interface {
	// ProbablyWantKey never returns false for a key the job is waiting for.
	ProbablyWantKey(k keys.Key) bool
	// HandleBlock routes a block to its segments and reports whether any took it.
	HandleBlock(k keys.Key, data []byte) bool
	HandleNotFound(k keys.Key, err error)
}

// Client is a job registered with a Scheduler.
type Client interface {
	ID() string
	// KeyListener returns the job's listener, building it if needed.
	KeyListener() (KeyListener, error)
	// OnKeyListenerFailed is told when KeyListener could not be built.
	OnKeyListenerFailed(err error)
}

// Scheduler fetches blocks for registered clients.
type Scheduler interface {
	// Register queues every request of client. blocks, when set, is consulted
	// before the network.
	Register(ctx context.Context, client Client, requests []Request, persistent, isSplitfile bool, blocks blockset.BlockSet) error
	// RemovePendingKeys stops all outstanding fetches of client.
	RemovePendingKeys(client Client)
}

// BlockSource retrieves a block by key.
type BlockSource interface {
	FetchBlock(ctx context.Context, k keys.Key) ([]byte, error)
}
