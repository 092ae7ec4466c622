// Package keys defines content-addressed block keys.
package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length of a block key in bytes.
const Size = 32

// BlockSize is the fixed payload length of every data and check block.
const BlockSize = 32768

// Key addresses one block by the BLAKE3 hash of its content.
type Key [Size]byte

// Zero is the unset key. Manifests must never contain it.
var Zero Key

// FromBlock returns the content key of a block.
func FromBlock(data []byte) Key {
	return Key(blake3.Sum256(data))
}

// Verify reports whether data hashes to k.
func (k Key) Verify(data []byte) bool {
	return FromBlock(data) == k
}

// IsZero reports whether k is the unset key.
func (k Key) IsZero() bool {
	return k == Zero
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ObjectKey is the object-store key a block is kept under.
func (k Key) ObjectKey() string {
	return "blocks/" + k.String()
}

// Parse decodes a hex key.
func Parse(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid key %q: %w", s, err)
	}
	if len(b) != Size {
		return k, fmt.Errorf("invalid key length %d, want %d", len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// Salted computes the keyed hash of k used for filter placement.
func Salted(salt [Size]byte, k Key) [Size]byte {
	h, err := blake3.NewKeyed(salt[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes long.
		panic(err)
	}
	h.Write(k[:])
	var out [Size]byte
	h.Sum(out[:0])
	return out
}
