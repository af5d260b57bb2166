package store

import (
	"context"
	"sort"
	"sync"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

// MemoryKeyRegistry is an in-memory KeyRegistry keyed by the raw key bytes
type MemoryKeyRegistry struct {
	keys sync.Map // key ID -> core.AccessKey
}

// NewMemoryKeyRegistry creates an empty registry
func NewMemoryKeyRegistry() *MemoryKeyRegistry {
	return &MemoryKeyRegistry{}
}

var _ ports.KeyRegistry = (*MemoryKeyRegistry)(nil)

// Contains reports whether key is registered
func (r *MemoryKeyRegistry) Contains(ctx context.Context, key core.AccessKey) (bool, error) {
	_, ok := r.keys.Load(key.ID())
	return ok, nil
}

// Add registers key
func (r *MemoryKeyRegistry) Add(ctx context.Context, key core.AccessKey) error {
	if _, loaded := r.keys.LoadOrStore(key.ID(), key); loaded {
		return core.ErrAlreadyRegistered
	}
	return nil
}

// Seed registers keys, ignoring duplicates
func (r *MemoryKeyRegistry) Seed(ctx context.Context, keys []core.AccessKey) error {
	for _, key := range keys {
		r.keys.LoadOrStore(key.ID(), key)
	}
	return nil
}

// List returns all keys ordered by ID
func (r *MemoryKeyRegistry) List(ctx context.Context) ([]core.AccessKey, error) {
	var keys []core.AccessKey
	r.keys.Range(func(_, value any) bool {
		keys = append(keys, value.(core.AccessKey))
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID() < keys[j].ID() })
	return keys, nil
}
