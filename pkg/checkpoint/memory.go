package checkpoint

import (
	"context"
	"strings"
	"sync"
)

// MemoryBackend keeps objects in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Put(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	b.objects[name] = append([]byte(nil), data...)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; !ok {
		return ErrNotExist
	}
	delete(b.objects, name)
	return nil
}

func (b *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var names []string
	for name := range b.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (b *MemoryBackend) Close() error { return nil }

// NewMemoryStore returns a store that lives as long as the process.
func NewMemoryStore() *ObjectStore {
	return NewObjectStore(NewMemoryBackend(), "")
}

// NopStore records nothing; every job starts from scratch.
type NopStore struct{}

func (NopStore) Commit(context.Context, Key, ...PartitionRecord) error { return nil }

func (NopStore) Load(_ context.Context, key Key) (*TableCheckpoint, error) {
	return &TableCheckpoint{JobID: key.JobID, Table: key.Table}, nil
}

func (NopStore) Clear(context.Context, Key) error { return nil }

func (NopStore) List(context.Context, string) ([]*TableCheckpoint, error) { return nil, nil }

func (NopStore) Close() error { return nil }
