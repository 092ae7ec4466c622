package service

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/compress"
	"github.com/zzenonn/zfetch/internal/domain"
	"github.com/zzenonn/zfetch/internal/placement"
	"github.com/zzenonn/zfetch/internal/repository/objectstore"
	"github.com/zzenonn/zfetch/internal/splitfile"
	"golang.org/x/sync/errgroup"
)

// InsertOptions configure how files are split.
type InsertOptions struct {
	BlocksPerSegment      int
	CheckBlocksPerSegment int
	Codecs                []compress.Codec
	// Workers bounds concurrent block uploads.
	Workers int
}

// InsertService splits files into blocks, spreads the blocks over the placer's
// buckets and records their manifests.
type InsertService struct {
	placer    placement.Placer
	manifests ManifestRepository
	opts      InsertOptions
}

// NewInsertService creates an InsertService. manifests may be nil when
// manifests are only kept as files.
func NewInsertService(placer placement.Placer, manifests ManifestRepository, opts InsertOptions) *InsertService {
	if opts.Workers < 1 {
		opts.Workers = 8
	}
	return &InsertService{
		placer:    placer,
		manifests: manifests,
		opts:      opts,
	}
}

// Insert stores the contents of r at uri and returns its manifest.
func (s *InsertService) Insert(ctx context.Context, uri string, r io.Reader, mimeType string) (domain.Manifest, error) {
	prefix, fileName, err := ParseURI(uri)
	if err != nil {
		return domain.Manifest{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to read input: %w", err)
	}

	enc, err := splitfile.Encode(data, splitfile.Options{
		BlocksPerSegment:      s.opts.BlocksPerSegment,
		CheckBlocksPerSegment: s.opts.CheckBlocksPerSegment,
		Codecs:                s.opts.Codecs,
		MIMEType:              mimeType,
	})
	if err != nil {
		return domain.Manifest{}, err
	}
	enc.Manifest.Prefix = prefix
	enc.Manifest.FileName = fileName

	log.WithFields(log.Fields{
		"uri":          enc.Manifest.URI(),
		"bytes":        len(data),
		"data_blocks":  len(enc.Manifest.DataKeys),
		"check_blocks": len(enc.Manifest.CheckKeys),
	}).Info("Inserting splitfile")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, b := range enc.Blocks {
		g.Go(func() error {
			bucketName, repo, err := s.placer.Place(placement.KeyIndex(b.Key))
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"block": i, "bucket": bucketName}).Trace("Uploading block")
			return objectstore.PutBlock(gctx, repo, b.Key, b.Data)
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Manifest{}, err
	}

	if s.manifests != nil {
		if _, err := s.manifests.CreateManifest(ctx, enc.Manifest); err != nil {
			return domain.Manifest{}, err
		}
	}
	return enc.Manifest, nil
}
