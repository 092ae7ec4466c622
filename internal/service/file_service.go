package service

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
)

// ManifestRepository stores splitfile manifests by prefix and file name.
type ManifestRepository interface {
	CreateManifest(ctx context.Context, m domain.Manifest) (domain.Manifest, error)
	GetManifest(ctx context.Context, prefix, fileName string) (domain.Manifest, error)
}

// ParseURI splits a zs://prefix/name address. A name without a directory is
// kept under the "root" prefix.
func ParseURI(uri string) (prefix, fileName string, err error) {
	if !strings.HasPrefix(uri, "zs://") {
		return "", "", fmt.Errorf("URL must start with zs://: %s", uri)
	}
	key := strings.Trim(strings.TrimPrefix(uri, "zs://"), "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: file name in %s", ferrors.ErrMissingRequiredFields, uri)
	}

	prefix = path.Dir(key)
	if prefix == "." {
		prefix = "root"
	}
	return prefix, path.Base(key), nil
}

// WriteManifestFile writes m as a manifest file.
func WriteManifestFile(fs afero.Fs, name string, m domain.Manifest) error {
	b, err := domain.EncodeManifest(m)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, name, b, 0o644)
}

// ReadManifestFile reads a manifest file written by WriteManifestFile.
func ReadManifestFile(fs afero.Fs, name string) (domain.Manifest, error) {
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}
	return domain.DecodeManifest(b)
}
