package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
	"gopkg.in/yaml.v3"
)

// KeyRecord is the on-disk form of an access key
type KeyRecord struct {
	Key   string `yaml:"key" json:"key"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// FileKeyRegistry keeps registered keys in memory and writes a YAML snapshot
// to path after every addition, so registrations survive restarts.
type FileKeyRegistry struct {
	path    string
	keys    *MemoryKeyRegistry
	writeMu sync.Mutex
}

// NewFileKeyRegistry loads path if it exists and returns the registry
func NewFileKeyRegistry(path string) (*FileKeyRegistry, error) {
	r := &FileKeyRegistry{
		path: path,
		keys: NewMemoryKeyRegistry(),
	}

	records, err := ReadKeyFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	keys, err := ParseKeyRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := r.keys.Seed(context.Background(), keys); err != nil {
		return nil, err
	}

	return r, nil
}

var _ ports.KeyRegistry = (*FileKeyRegistry)(nil)

// Contains reports whether key is registered
func (r *FileKeyRegistry) Contains(ctx context.Context, key core.AccessKey) (bool, error) {
	return r.keys.Contains(ctx, key)
}

// Add registers key and persists the registry
func (r *FileKeyRegistry) Add(ctx context.Context, key core.AccessKey) error {
	if err := r.keys.Add(ctx, key); err != nil {
		return err
	}
	return r.persist(ctx)
}

// Seed registers keys and persists the registry
func (r *FileKeyRegistry) Seed(ctx context.Context, keys []core.AccessKey) error {
	if err := r.keys.Seed(ctx, keys); err != nil {
		return err
	}
	return r.persist(ctx)
}

// List returns all keys ordered by ID
func (r *FileKeyRegistry) List(ctx context.Context) ([]core.AccessKey, error) {
	return r.keys.List(ctx)
}

func (r *FileKeyRegistry) persist(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	keys, err := r.keys.List(ctx)
	if err != nil {
		return err
	}
	records := make([]KeyRecord, 0, len(keys))
	for _, key := range keys {
		records = append(records, KeyRecord{Key: key.ID(), Label: key.Label})
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode key registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".keys-*")
	if err != nil {
		return fmt.Errorf("failed to persist key registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist key registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist key registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to persist key registry: %w", err)
	}
	return nil
}

// ReadKeyFile reads a YAML (or JSON) list of keys. Entries are either bare
// hex strings or {key, label} mappings.
func ReadKeyFile(path string) ([]KeyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}

	records := make([]KeyRecord, 0, len(nodes))
	for _, node := range nodes {
		var record KeyRecord
		switch node.Kind {
		case yaml.ScalarNode:
			record.Key = node.Value
		case yaml.MappingNode:
			if err := node.Decode(&record); err != nil {
				return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("key file %s: line %d: expected key string or mapping", path, node.Line)
		}
		records = append(records, record)
	}
	return records, nil
}

// ParseKeyRecords converts records into access keys
func ParseKeyRecords(records []KeyRecord) ([]core.AccessKey, error) {
	keys := make([]core.AccessKey, 0, len(records))
	for _, record := range records {
		key, err := core.ParseAccessKey(record.Key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key.WithLabel(record.Label))
	}
	return keys, nil
}
