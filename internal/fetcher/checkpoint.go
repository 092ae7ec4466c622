package fetcher

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keyindex"
	"github.com/zzenonn/zfetch/internal/keys"
)

// checkpoint is the persisted state of a job. Decoded segment data is not
// kept; a resumed job fetches every block again, from the block set if one is
// configured.
type checkpoint struct {
	ID       string          `cbor:"1,keyasint"`
	Salt     [keys.Size]byte `cbor:"2,keyasint"`
	MainPath string          `cbor:"3,keyasint,omitempty"`
	AltPath  string          `cbor:"4,keyasint,omitempty"`
	Pending  [][]keys.Key    `cbor:"5,keyasint"`
	Codecs   []string        `cbor:"6,keyasint"`
}

// Checkpoint flushes the key index and returns the state Resume needs.
func (j *Job) Checkpoint() ([]byte, error) {
	if j.outcome.Load() != outcomePending {
		return nil, ferrors.New(ferrors.InternalError, "job %s already finished", j.id)
	}
	j.mu.Lock()
	listener, storage := j.listener, j.storage
	j.mu.Unlock()

	if listener != nil {
		if err := listener.index.Flush(); err != nil {
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to write Bloom filters")
		}
	}
	// Pending keys are read after the flush so every one of them is in the
	// persisted filters.
	cp := checkpoint{
		ID:      j.id,
		Salt:    j.salt,
		Pending: make([][]keys.Key, len(j.segments)),
		Codecs:  compress.Names(j.decompressors.Codecs()),
	}
	if storage != nil {
		cp.MainPath, cp.AltPath = storage.MainPath, storage.AltPath
	}
	for i, s := range j.segments {
		cp.Pending[i] = s.PendingKeys()
	}

	b, err := cbor.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return b, nil
}

// Resume recreates a job from a checkpoint of the same manifest. The key index
// is reopened lazily by KeyListener.
func Resume(state []byte, m domain.Manifest, cb Callback, opts Options) (*Job, error) {
	var cp checkpoint
	if err := cbor.Unmarshal(state, &cp); err != nil {
		return nil, ferrors.Wrap(ferrors.InternalError, err, "unable to decode checkpoint")
	}
	codecs, err := compress.ParseCodecs(cp.Codecs)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.InvalidMetadata, err, "unable to decode checkpoint")
	}
	opts.ID = cp.ID
	j, err := prepare(m, compress.NewStack(codecs...), cb, opts)
	if err != nil {
		return nil, err
	}
	if len(cp.Pending) != len(j.segments) {
		return nil, ferrors.New(ferrors.InvalidMetadata,
			"checkpoint has %d segments but manifest has %d", len(cp.Pending), len(j.segments))
	}

	j.salt = cp.Salt
	j.live = cp.Pending
	if j.opts.Persistent && cp.MainPath != "" {
		j.storage = &keyindex.Storage{Fs: j.opts.Fs, MainPath: cp.MainPath, AltPath: cp.AltPath}
	} else if j.opts.Persistent {
		storage, err := j.newStorage()
		if err != nil {
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create Bloom filter files")
		}
		j.storage = storage
	}
	for _, ks := range cp.Pending {
		j.keyCount += len(ks)
	}
	log.WithFields(log.Fields{"job": j.id, "keys": j.keyCount}).Info("Resumed fetch")
	return j, nil
}
