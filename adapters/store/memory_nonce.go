package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/layer-3/prover/ports"
)

const (
	nonceSize   = 32
	nonceShards = 32
)

// MemoryNonceStore is an in-memory NonceStore. Entries are partitioned into
// shards by nonce value so that unrelated nonces never contend on a lock.
type MemoryNonceStore struct {
	ttl    time.Duration
	clock  clock.Clock
	seed   maphash.Seed
	shards [nonceShards]nonceShard
}

type nonceShard struct {
	mu        sync.Mutex
	entries   map[string]*core.Nonce
	lastSweep time.Time
}

// NewMemoryNonceStore creates a store whose nonces live for ttl
func NewMemoryNonceStore(ttl time.Duration, clk clock.Clock) *MemoryNonceStore {
	if clk == nil {
		clk = clock.Real()
	}
	s := &MemoryNonceStore{
		ttl:   ttl,
		clock: clk,
		seed:  maphash.MakeSeed(),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*core.Nonce)
	}
	return s
}

var _ ports.NonceStore = (*MemoryNonceStore)(nil)

// Issue generates a new random nonce and stores it
func (s *MemoryNonceStore) Issue(ctx context.Context, keyHint string) (core.Nonce, error) {
	value, err := randomNonce()
	if err != nil {
		return core.Nonce{}, err
	}

	now := s.clock.Now()
	nonce := core.Nonce{
		Value:     value,
		KeyHint:   keyHint,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	shard := s.shard(value)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.sweepLocked(now, s.ttl)
	if _, exists := shard.entries[value]; exists {
		return core.Nonce{}, fmt.Errorf("nonce collision")
	}
	stored := nonce
	shard.entries[value] = &stored

	return nonce, nil
}

// Consume marks the nonce consumed. Expired nonces are removed.
func (s *MemoryNonceStore) Consume(ctx context.Context, value string) (core.Nonce, error) {
	now := s.clock.Now()

	shard := s.shard(value)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[value]
	if !ok {
		return core.Nonce{}, core.ErrNonceNotFound
	}
	if entry.Consumed {
		return core.Nonce{}, core.ErrNonceAlreadyConsumed
	}
	if entry.Expired(now) {
		delete(shard.entries, value)
		return core.Nonce{}, core.ErrNonceExpired
	}

	entry.Consumed = true
	return *entry, nil
}

// Len returns the number of tracked nonces, consumed ones included
func (s *MemoryNonceStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.Unlock()
	}
	return n
}

func (s *MemoryNonceStore) shard(value string) *nonceShard {
	return &s.shards[maphash.String(s.seed, value)%nonceShards]
}

// sweepLocked drops expired entries at most once per ttl. Caller must hold mu.
func (sh *nonceShard) sweepLocked(now time.Time, ttl time.Duration) {
	if now.Sub(sh.lastSweep) < ttl {
		return
	}
	sh.lastSweep = now
	for value, entry := range sh.entries {
		if entry.Expired(now) {
			delete(sh.entries, value)
		}
	}
}

func randomNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
