package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
	"github.com/redis/go-redis/v9"
)

// RedisKeyRegistry stores access keys in a Redis hash (key ID -> label)
type RedisKeyRegistry struct {
	client *redis.Client
	hash   string
}

// NewRedisKeyRegistry creates a Redis-backed registry
func NewRedisKeyRegistry(client *redis.Client) *RedisKeyRegistry {
	return &RedisKeyRegistry{
		client: client,
		hash:   "prover:keys",
	}
}

var _ ports.KeyRegistry = (*RedisKeyRegistry)(nil)

// Contains reports whether key is registered
func (r *RedisKeyRegistry) Contains(ctx context.Context, key core.AccessKey) (bool, error) {
	ok, err := r.client.HExists(ctx, r.hash, key.ID()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up key: %w", err)
	}
	return ok, nil
}

// Add registers key
func (r *RedisKeyRegistry) Add(ctx context.Context, key core.AccessKey) error {
	added, err := r.client.HSetNX(ctx, r.hash, key.ID(), key.Label).Result()
	if err != nil {
		return fmt.Errorf("failed to register key: %w", err)
	}
	if !added {
		return core.ErrAlreadyRegistered
	}
	return nil
}

// Seed registers keys, ignoring duplicates
func (r *RedisKeyRegistry) Seed(ctx context.Context, keys []core.AccessKey) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.HSetNX(ctx, r.hash, key.ID(), key.Label)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed keys: %w", err)
	}
	return nil
}

// List returns all keys ordered by ID
func (r *RedisKeyRegistry) List(ctx context.Context) ([]core.AccessKey, error) {
	entries, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]core.AccessKey, 0, len(entries))
	for id, label := range entries {
		key, err := core.ParseAccessKey(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key.WithLabel(label))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID() < keys[j].ID() })
	return keys, nil
}
