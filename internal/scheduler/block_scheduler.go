package scheduler

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/blockset"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keys"
	"golang.org/x/sync/errgroup"
)

// Options configure a BlockScheduler.
type Options struct {
	// Workers bounds concurrent fetches per registration.
	Workers int
	// MaxRetries is the number of extra attempts per key.
	MaxRetries int
}

type registration struct {
	client   Client
	listener KeyListener
	cancel   context.CancelFunc
}

// BlockScheduler fetches requested keys from a BlockSource and dispatches the
// results to every registered listener.
type BlockScheduler struct {
	source BlockSource
	opts   Options

	mu      sync.RWMutex
	clients map[string]*registration
	wg      sync.WaitGroup
}

// NewBlockScheduler creates a scheduler reading from source.
func NewBlockScheduler(source BlockSource, opts Options) *BlockScheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &BlockScheduler{
		source:  source,
		opts:    opts,
		clients: make(map[string]*registration),
	}
}

// Register starts fetching the requested keys in the background.
func (s *BlockScheduler) Register(ctx context.Context, client Client, requests []Request, persistent, isSplitfile bool, blocks blockset.BlockSet) error {
	listener, err := client.KeyListener()
	if err != nil {
		client.OnKeyListenerFailed(err)
		return fmt.Errorf("failed to get key listener for %s: %w", client.ID(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	reg := &registration{client: client, listener: listener, cancel: cancel}

	s.mu.Lock()
	if _, exists := s.clients[client.ID()]; exists {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("client %s already registered", client.ID())
	}
	s.clients[client.ID()] = reg
	s.mu.Unlock()

	total := 0
	for _, r := range requests {
		total += len(r.Keys)
	}
	log.WithFields(log.Fields{
		"job":        client.ID(),
		"keys":       total,
		"persistent": persistent,
		"splitfile":  isSplitfile,
	}).Debug("Registered fetch")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(reg)
		s.run(ctx, reg, requests, blocks)
	}()
	return nil
}

func (s *BlockScheduler) run(ctx context.Context, reg *registration, requests []Request, blocks blockset.BlockSet) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, r := range requests {
		for _, k := range r.Keys {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				s.fetchKey(ctx, reg, k, blocks)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (s *BlockScheduler) fetchKey(ctx context.Context, reg *registration, k keys.Key, blocks blockset.BlockSet) {
	if ctx.Err() != nil || !reg.listener.ProbablyWantKey(k) {
		return
	}
	if blocks != nil {
		if data, err := blocks.Get(k); err == nil && k.Verify(data) {
			s.Dispatch(k, data)
			return
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		data, err := s.source.FetchBlock(ctx, k)
		if err == nil && !k.Verify(data) {
			err = ferrors.ErrBadBlock
		}
		if err == nil {
			if blocks != nil {
				if err := blocks.Add(k, data); err != nil {
					log.WithField("key", k.String()).Warnf("Failed to cache block: %v", err)
				}
			}
			s.Dispatch(k, data)
			return
		}
		lastErr = err
		log.WithFields(log.Fields{"job": reg.client.ID(), "key": k.String(), "attempt": attempt + 1}).
			Debugf("Block fetch failed: %v", err)
	}
	if ctx.Err() != nil {
		return
	}
	reg.listener.HandleNotFound(k, lastErr)
}

// Dispatch offers a block to every registered listener that may want it and
// reports whether any accepted it.
func (s *BlockScheduler) Dispatch(k keys.Key, data []byte) bool {
	s.mu.RLock()
	regs := make([]*registration, 0, len(s.clients))
	for _, r := range s.clients {
		regs = append(regs, r)
	}
	s.mu.RUnlock()

	handled := false
	for _, r := range regs {
		if r.listener.ProbablyWantKey(k) && r.listener.HandleBlock(k, data) {
			handled = true
		}
	}
	return handled
}

// RemovePendingKeys cancels every outstanding fetch of client.
func (s *BlockScheduler) RemovePendingKeys(client Client) {
	s.mu.Lock()
	reg, ok := s.clients[client.ID()]
	if ok {
		delete(s.clients, client.ID())
	}
	s.mu.Unlock()
	if ok {
		reg.cancel()
	}
}

func (s *BlockScheduler) unregister(reg *registration) {
	s.mu.Lock()
	if cur, ok := s.clients[reg.client.ID()]; ok && cur == reg {
		delete(s.clients, reg.client.ID())
	}
	s.mu.Unlock()
	reg.cancel()
}

// Registered reports whether client has fetches in flight.
func (s *BlockScheduler) Registered(client Client) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[client.ID()]
	return ok
}

// Close cancels every registration and waits for the workers to stop.
func (s *BlockScheduler) Close() {
	s.mu.Lock()
	for id, reg := range s.clients {
		reg.cancel()
		delete(s.clients, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
