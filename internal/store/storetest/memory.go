// Package storetest provides an in-process store.Library for tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"marketlab/internal/store"
)

// Compile-time interface check.
var _ store.Library[store.BarRecord] = (*MemoryLibrary[store.BarRecord])(nil)

// MemoryLibrary is an in-process store.Library with the same versioning
// semantics as store.ParquetLibrary. Individual keys can be made to fail,
// which lets tests simulate a crash part way through a batch of writes.
type MemoryLibrary[T any] struct {
	mu       sync.Mutex
	data     map[string][]T
	versions map[string]int
	failures map[string]error

	Writes  int
	Appends int
}

// NewMemoryLibrary returns an empty MemoryLibrary.
func NewMemoryLibrary[T any]() *MemoryLibrary[T] {
	return &MemoryLibrary[T]{
		data:     make(map[string][]T),
		versions: make(map[string]int),
		failures: make(map[string]error),
	}
}

// FailKey makes every Write and Append of key return err. A nil err clears
// the failure.
func (m *MemoryLibrary[T]) FailKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// Version returns the number of committed versions of key.
func (m *MemoryLibrary[T]) Version(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[key]
}

// Write implements store.Library.
func (m *MemoryLibrary[T]) Write(ctx context.Context, key string, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[key]; err != nil {
		return err
	}
	m.Writes++
	m.data[key] = append([]T(nil), rows...)
	m.versions[key]++
	return nil
}

// Append implements store.Library.
func (m *MemoryLibrary[T]) Append(ctx context.Context, key string, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[key]; err != nil {
		return err
	}
	existing, ok := m.data[key]
	if !ok {
		return store.ErrNoData
	}
	if len(rows) == 0 {
		return nil
	}
	m.Appends++
	next := make([]T, 0, len(existing)+len(rows))
	next = append(next, existing...)
	m.data[key] = append(next, rows...)
	m.versions[key]++
	return nil
}

// Read implements store.Library.
func (m *MemoryLibrary[T]) Read(ctx context.Context, key string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.data[key]
	if !ok {
		return nil, store.ErrNoData
	}
	return append([]T(nil), rows...), nil
}

// ListKeys implements store.Library.
func (m *MemoryLibrary[T]) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
