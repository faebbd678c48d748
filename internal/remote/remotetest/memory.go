// Package remotetest provides an in-process remote.ObjectStore for tests.
package remotetest

import (
	"bytes"
	"context"
	"io"
	"sync"

	"marketlab/internal/remote"
)

// Compile-time interface check.
var _ remote.ObjectStore = (*MemoryStore)(nil)

// MemoryStore is an in-process remote.ObjectStore. It can simulate denied
// keys, keys that disappear between listing and fetching, and hard failures.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	denied    map[string]bool
	vanishing map[string]bool
	failures  map[string]error

	ListCalls  int
	FetchCalls int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:   make(map[string][]byte),
		denied:    make(map[string]bool),
		vanishing: make(map[string]bool),
		failures:  make(map[string]error),
	}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

// Put stores data under bucket/key.
func (m *MemoryStore) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = data
}

// Deny makes every request for bucket/key come back AccessDenied.
func (m *MemoryStore) Deny(bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[memKey(bucket, key)] = true
}

// Vanish makes bucket/key visible to Exists but NotFound on Fetch.
func (m *MemoryStore) Vanish(bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanishing[memKey(bucket, key)] = true
}

// Fail makes every request for bucket/key return err.
func (m *MemoryStore) Fail(bucket, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[memKey(bucket, key)] = err
}

// Exists implements remote.ObjectStore.
func (m *MemoryStore) Exists(ctx context.Context, bucket, key string) (remote.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return remote.NotFound, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++

	k := memKey(bucket, key)
	if err := m.failures[k]; err != nil {
		return remote.NotFound, err
	}
	if m.denied[k] {
		return remote.AccessDenied, nil
	}
	if _, ok := m.objects[k]; ok || m.vanishing[k] {
		return remote.Found, nil
	}
	return remote.NotFound, nil
}

// Fetch implements remote.ObjectStore.
func (m *MemoryStore) Fetch(ctx context.Context, bucket, key string) (remote.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.FetchResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++

	k := memKey(bucket, key)
	if err := m.failures[k]; err != nil {
		return remote.FetchResult{}, err
	}
	if m.denied[k] {
		return remote.FetchResult{Outcome: remote.AccessDenied, Code: "AccessDenied"}, nil
	}
	if m.vanishing[k] {
		return remote.FetchResult{Outcome: remote.NotFound, Code: "NoSuchKey"}, nil
	}
	data, ok := m.objects[k]
	if !ok {
		return remote.FetchResult{Outcome: remote.NotFound, Code: "NoSuchKey"}, nil
	}
	return remote.FetchResult{Outcome: remote.Found, Body: io.NopCloser(bytes.NewReader(data))}, nil
}
