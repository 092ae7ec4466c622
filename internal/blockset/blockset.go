// Package blockset holds blocks that are already local so a fetch can skip
// the network for them.
package blockset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/zzenonn/zfetch/internal/keys"
)

// ErrNotFound is returned by Get for a block the set does not hold.
var ErrNotFound = errors.New("block not in set")

// BlockSet is a local store of verified blocks.
type BlockSet interface {
	Get(k keys.Key) ([]byte, error)
	Add(k keys.Key, data []byte) error
}

// MemorySet is a BlockSet in a map.
type MemorySet struct {
	mu     sync.RWMutex
	blocks map[keys.Key][]byte
}

// NewMemorySet returns an empty MemorySet.
func NewMemorySet() *MemorySet {
	return &MemorySet{blocks: make(map[keys.Key][]byte)}
}

// Get returns a copy of the block stored under k.
func (s *MemorySet) Get(k keys.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blocks[k]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Add stores data under k.
func (s *MemorySet) Add(k keys.Key, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[k] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of blocks held.
func (s *MemorySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

const blockPrefix = "block:"

// BadgerSet is a BlockSet persisted in a badger database.
type BadgerSet struct {
	db *badger.DB
}

// OpenBadger opens or creates a block set in dir. An empty dir keeps the set in memory.
func OpenBadger(dir string) (*BadgerSet, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open block cache: %w", err)
	}
	return &BadgerSet{db: db}, nil
}

func dbKey(k keys.Key) []byte {
	return append([]byte(blockPrefix), k[:]...)
}

// Get returns the block stored under k.
func (s *BadgerSet) Get(k keys.Key) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(k))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get block %s: %w", k, err)
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Add stores data under k.
func (s *BadgerSet) Add(k keys.Key, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(k), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store block %s: %w", k, err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerSet) Close() error {
	return s.db.Close()
}
