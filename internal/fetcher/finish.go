package fetcher

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/bucket"
	"github.com/zzenonn/zfetch/internal/compress"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keys"
)

// finish runs once, after every segment reached a terminal state.
func (j *Job) finish() {
	if j.opts.Scheduler != nil {
		j.opts.Scheduler.RemovePendingKeys(j)
	}

	j.mu.Lock()
	other := j.otherFailure
	j.mu.Unlock()
	if !j.outcome.CompareAndSwap(outcomePending, outcomeDelivered) {
		log.WithFields(log.Fields{"job": j.id}).Debug("Outcome already delivered")
		return
	}
	defer j.cleanup()
	if other != nil {
		j.fail(other)
		return
	}

	delivered := false
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"job": j.id}).Errorf("Caught %v", r)
			if !delivered {
				j.fail(ferrors.New(ferrors.InternalError, "%v", r))
			}
		}
	}()

	j.state.Store(int32(StateDecompressing))
	data, err := j.finalStatus()
	if err == nil {
		data, err = j.decompress(data)
	}
	delivered = true
	if err != nil {
		j.fail(err)
		return
	}
	j.state.Store(int32(StateSucceeded))
	log.WithFields(log.Fields{"job": j.id, "bytes": data.Size()}).Info("Fetch succeeded")
	j.cb.OnSuccess(Result{Data: data, MIMEType: j.mimeType})
}

func (j *Job) fail(err error) {
	j.state.Store(int32(StateFailed))
	log.WithFields(log.Fields{"job": j.id}).Errorf("Fetch failed: %v", err)
	j.cb.OnFailure(err)
}

// finalStatus checks every segment and writes their decoded data, in segment
// order, into one bucket truncated to the declared length.
func (j *Job) finalStatus() (bucket.Bucket, error) {
	var finalLength int64
	for i, s := range j.segments {
		if !s.Finished() {
			return nil, ferrors.Wrap(ferrors.InternalError, ferrors.ErrNotFinished, fmt.Sprintf("segment %d", i))
		}
		if err := s.Err(); err != nil {
			var fe *ferrors.FetchError
			if errors.As(err, &fe) {
				return nil, err
			}
			return nil, ferrors.Wrap(ferrors.SplitfileError, err, fmt.Sprintf("segment %d failed", i))
		}
		finalLength += s.DecodedLength()
		log.WithFields(log.Fields{"job": j.id, "segment": i}).
			Debugf("Segment decoded length %d, total length now %d", s.DecodedLength(), finalLength)
	}
	if finalLength > j.overrideLength {
		if finalLength-j.overrideLength > keys.BlockSize {
			return nil, ferrors.New(ferrors.InvalidMetadata,
				"splitfile is %d but length is %d", finalLength, j.overrideLength)
		}
		finalLength = j.overrideLength
	}

	var output bucket.Bucket
	if j.opts.ReturnBucket != nil && j.decompressors.Len() == 0 {
		output = j.opts.ReturnBucket
	} else {
		b, err := j.opts.Buckets.MakeBucket(finalLength)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create output bucket")
		}
		output = b
	}

	w, err := output.Writer()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to open output bucket")
	}
	var written int64
	for _, s := range j.segments {
		remaining := max(finalLength-written, 0)
		n, err := s.WriteDecodedDataTo(w, remaining)
		written += n
		if err != nil {
			w.Close()
			return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to write decoded data")
		}
	}
	// A failed close may leave corrupt data behind.
	if err := w.Close(); err != nil {
		return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to close output bucket")
	}
	if output.Size() != finalLength {
		log.WithFields(log.Fields{"job": j.id}).
			Errorf("Final length is supposed to be %d but only written %d", finalLength, output.Size())
	}
	return output, nil
}

// decompress pops every codec, most recent first. Each step is bounded by the
// larger of the temp and output limits and may read four times that much to
// estimate an oversized result.
func (j *Job) decompress(data bucket.Bucket) (bucket.Bucket, error) {
	maxLen := max(j.opts.Limits.MaxTempLength, j.opts.Limits.MaxOutputLength)
	if maxLen <= 0 {
		maxLen = math.MaxInt64 / 4
	}
	for {
		c, ok := j.decompressors.Pop()
		if !ok {
			return data, nil
		}
		var out bucket.Bucket
		if j.decompressors.Len() == 0 && j.opts.ReturnBucket != nil {
			out = j.opts.ReturnBucket
		} else {
			b, err := j.opts.Buckets.MakeBucket(-1)
			if err != nil {
				return nil, ferrors.Wrap(ferrors.BucketError, err, "unable to create decompression bucket")
			}
			out = b
		}

		err := decompressBucket(c, data, out, maxLen)
		if data != j.opts.ReturnBucket {
			data.Free()
		}
		if err != nil {
			var sizeErr *compress.OutputSizeError
			if errors.As(err, &sizeErr) {
				log.WithFields(log.Fields{"job": j.id}).Debugf("Too big: max output %d, max temp %d",
					j.opts.Limits.MaxOutputLength, j.opts.Limits.MaxTempLength)
				return nil, ferrors.TooBigError(sizeErr.Estimated, j.mimeType)
			}
			return nil, ferrors.Wrap(ferrors.BucketError, err, fmt.Sprintf("unable to decompress %s", c))
		}
		log.WithFields(log.Fields{"job": j.id, "codec": c.String(), "bytes": out.Size()}).Debug("Decompressed")
		data = out
	}
}

func decompressBucket(c compress.Codec, in, out bucket.Bucket, maxLen int64) error {
	r, err := in.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := out.Writer()
	if err != nil {
		return err
	}
	if _, err := compress.Decompress(c, r, w, maxLen, maxLen*4); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
