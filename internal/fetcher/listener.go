package fetcher

import (
	log "github.com/sirupsen/logrus"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keyindex"
	"github.com/zzenonn/zfetch/internal/keys"
	"github.com/zzenonn/zfetch/internal/scheduler"
)

// keyListener routes arriving blocks to the segments whose filters match.
type keyListener struct {
	job   *Job
	index *keyindex.Index
}

func (l *keyListener) ProbablyWantKey(k keys.Key) bool {
	return l.index.MayContain(k)
}

func (l *keyListener) HandleBlock(k keys.Key, data []byte) bool {
	handled := false
	for _, seg := range l.index.SegmentsFor(k) {
		if l.job.segments[seg].OnBlock(k, data) {
			l.index.RemoveKey(k, seg)
			handled = true
		}
	}
	return handled
}

func (l *keyListener) HandleNotFound(k keys.Key, err error) {
	for _, seg := range l.index.SegmentsFor(k) {
		l.job.segments[seg].OnNotFound(k, err)
	}
}

// KeyListener returns the job's listener. A job resumed from a checkpoint
// reopens its persisted filters here; when they cannot be read, both files
// are replaced and the index is rebuilt from the keys the segments still want.
func (j *Job) KeyListener() (scheduler.KeyListener, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener != nil {
		return j.listener, nil
	}

	var idx *keyindex.Index
	if j.storage != nil {
		opened, err := keyindex.Open(j.sizes, len(j.segments), j.salt, j.storage, false, j.live)
		if err == nil {
			err = j.resynthesize(opened)
		}
		if err == nil {
			idx = opened
		} else {
			log.WithFields(log.Fields{"job": j.id}).Errorf("Unable to read Bloom filter, attempting to reconstruct: %v", err)
			j.storage.Remove()
			storage, err := j.newStorage()
			if err != nil {
				return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create Bloom filter files in reconstruction")
			}
			j.storage = storage
		}
	}
	if idx == nil {
		rebuilt, err := keyindex.New(j.sizes, len(j.segments), j.salt, j.storage, false)
		if err == nil {
			err = j.resynthesize(rebuilt)
		}
		if err != nil {
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to reconstruct Bloom filters")
		}
		idx = rebuilt
	}

	j.live = nil
	j.listener = &keyListener{job: j, index: idx}
	j.keyCount = idx.KeyCount()
	return j.listener, nil
}

// resynthesize adds every key a segment still wants that idx does not already
// track, then flushes.
func (j *Job) resynthesize(idx *keyindex.Index) error {
	for i, s := range j.segments {
		for _, k := range s.PendingKeys() {
			if err := idx.AddKey(k, i); err != nil {
				return err
			}
		}
	}
	return idx.Flush()
}
