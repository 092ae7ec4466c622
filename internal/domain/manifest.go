package domain

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zzenonn/zfetch/internal/keys"
)

// SplitfileType selects how a manifest's blocks are laid out.
type SplitfileType int16

const (
	// Nonredundant splitfiles have no check blocks and a single segment.
	Nonredundant SplitfileType = 0
	// OnionStandard splitfiles are segmented with Reed-Solomon check blocks.
	OnionStandard SplitfileType = 1
)

func (t SplitfileType) String() string {
	switch t {
	case Nonredundant:
		return "nonredundant"
	case OnionStandard:
		return "onion-standard"
	default:
		return fmt.Sprintf("unknown(%d)", int16(t))
	}
}

// Manifest - representation of a splitfile as stored by the inserter
type Manifest struct {
	Prefix             string        `cbor:"1,keyasint" json:"prefix"`    // Directory path - Partition Key
	FileName           string        `cbor:"2,keyasint" json:"file_name"` // Filename - Sort Key
	SplitfileType      SplitfileType `cbor:"3,keyasint" json:"splitfile_type"`
	DataKeys           []keys.Key    `cbor:"4,keyasint" json:"-"`
	CheckKeys          []keys.Key    `cbor:"5,keyasint" json:"-"`
	DataLength         int64         `cbor:"6,keyasint" json:"data_length"`         // Declared final length, authoritative truncation bound
	UncompressedLength int64         `cbor:"7,keyasint" json:"uncompressed_length"` // -1 when unknown
	MIMEType           string        `cbor:"8,keyasint" json:"mime_type"`
	SplitfileParams    []byte        `cbor:"9,keyasint" json:"splitfile_params"` // 4-byte BE blocks per segment, 4-byte BE check blocks per segment
	Compression        []string      `cbor:"10,keyasint" json:"compression"`     // Codecs in the order they were applied at insert time
}

// URI returns the zs:// address of the manifest.
func (m Manifest) URI() string {
	return "zs://" + m.Prefix + "/" + m.FileName
}

// EncodeManifest serializes a manifest for a manifest file.
func EncodeManifest(m Manifest) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return b, nil
}

// DecodeManifest parses a manifest file.
func DecodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := cbor.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}
