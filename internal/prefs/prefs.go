// Package prefs persists small pieces of client state (active organization,
// dismissed banners, filters, navigation) in namespaced key/value buckets.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type Namespace string

const (
	NamespaceOrg           Namespace = "org"
	NamespaceBanners       Namespace = "banners"
	NamespaceFilters       Namespace = "filters"
	NamespaceNavigation    Namespace = "navigation"
	NamespaceSearchOptions Namespace = "search-options"
	NamespaceSession       Namespace = "session"
)

var ErrNotFound = errors.New("prefs: not found")

type Store interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Put(ctx context.Context, ns Namespace, key string, payload []byte) error
	Delete(ctx context.Context, ns Namespace, key string) error
}

// Load decodes the value stored under ns/key. The boolean is false when
// nothing is stored.
func Load[T any](ctx context.Context, s Store, ns Namespace, key string) (T, bool, error) {
	var value T
	payload, err := s.Get(ctx, ns, key)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return value, true, nil
}

func Save[T any](ctx context.Context, s Store, ns Namespace, key string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	return s.Put(ctx, ns, key, payload)
}

// MemoryStore keeps values for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string][]byte{}}
}

func memoryKey(ns Namespace, key string) string {
	return string(ns) + "/" + key
}

func (m *MemoryStore) Get(_ context.Context, ns Namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.values[memoryKey(ns, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

func (m *MemoryStore) Put(_ context.Context, ns Namespace, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[memoryKey(ns, key)] = append([]byte(nil), payload...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, memoryKey(ns, key))
	return nil
}
