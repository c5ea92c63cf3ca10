package minimalkv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
)

func init() {
	Register("memory", func(_ context.Context, _ *ParsedURL) (KeyValueStore, error) {
		return NewMemoryStore(), nil
	})
	Register("hmemory", func(_ context.Context, _ *ParsedURL) (KeyValueStore, error) {
		return NewMemoryStore(WithExtendedKeyspace()), nil
	})
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithExtendedKeyspace enables /-delimited hierarchical keys.
func WithExtendedKeyspace() MemoryOption {
	return func(m *MemoryStore) {
		m.extended = true
	}
}

// MemoryStore is an in-memory KeyValueStore. It is primarily useful for
// testing and as the front store of a Cache decorator. Values are copied
// in and out, so callers cannot mutate stored data. Safe for concurrent
// use.
type MemoryStore struct {
	extended bool

	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key, m.extended); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return bytes.Clone(data), nil
}

// Open returns a reader over the value stored under key.
func (m *MemoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put stores data under key, overwriting any existing value.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	if err := ValidateKey(key, m.extended); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = bytes.Clone(data)
	return nil
}

// PutReader drains r and stores the result under key.
func (m *MemoryStore) PutReader(ctx context.Context, key string, r io.Reader) error {
	if err := ValidateKey(key, m.extended); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return m.Put(ctx, key, data)
}

// Delete removes key. Removing an absent key is a no-op.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key, m.extended); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Exists reports whether key is present.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	if err := ValidateKey(key, m.extended); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[key]
	return ok, nil
}

// IterKeys yields the keys starting with prefix. The snapshot is taken
// when iteration begins; concurrent writes are not reflected.
func (m *MemoryStore) IterKeys(_ context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		keys := make([]string, 0, len(m.entries))
		for key := range m.entries {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		m.mu.RUnlock()

		sort.Strings(keys)
		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}
