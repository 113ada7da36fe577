package keystore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Writer is implemented by stores that accept imported keys
type Writer interface {
	// Put adds or replaces the given kid -> key entries
	Put(ctx context.Context, keys map[string]string) error
}

// MemoryStore provides an in-memory key store for local development and tests
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemoryStore creates a memory store holding a copy of keys
func NewMemoryStore(keys map[string]string) *MemoryStore {
	m := &MemoryStore{keys: make(map[string]string, len(keys))}
	for kid, key := range keys {
		m.keys[kid] = key
	}
	return m
}

// LoadFile creates a memory store from a JWKS or DID document file
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	keys, err := ParseKeySet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewMemoryStore(keys), nil
}

// Lookup returns the key published under kid
func (m *MemoryStore) Lookup(ctx context.Context, kid string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[kid]
	if !ok {
		return "", &ErrKeyNotFound{Kid: kid}
	}
	return key, nil
}

// List returns all key ids in sorted order
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKids(m.keys), nil
}

// Put adds or replaces keys
func (m *MemoryStore) Put(ctx context.Context, keys map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kid, key := range keys {
		m.keys[kid] = key
	}
	return nil
}

// Delete removes a key
func (m *MemoryStore) Delete(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[kid]; !ok {
		return &ErrKeyNotFound{Kid: kid}
	}
	delete(m.keys, kid)
	return nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sortedKids(keys map[string]string) []string {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}
