package storage

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
)

// MockBackend is an in-memory Backend for tests.
type MockBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	calls   MockCalls
	// ValidateErr is returned by Validate when set.
	ValidateErr error
}

// MockCalls tracks method invocations for test verification.
type MockCalls struct {
	Put    int
	Get    int
	Delete int
	Clean  int
}

// NewMockBackend creates an empty in-memory backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{objects: make(map[string][]byte)}
}

func (m *MockBackend) String() string  { return "mock" }
func (m *MockBackend) BaseURL() string { return "https://files.test" }

func (m *MockBackend) Validate(context.Context) error { return m.ValidateErr }

func (m *MockBackend) PutFile(ctx context.Context, key, localPath, _ string) (int64, error) {
	data, err := os.ReadFile(localPath) // #nosec G304 - test helper
	if err != nil {
		return 0, err
	}
	return int64(len(data)), m.Put(ctx, key, data)
}

func (m *MockBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MockBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Get++
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound{Key: key}
	}
	return append([]byte(nil), data...), nil
}

func (m *MockBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	delete(m.objects, key)
	return nil
}

func (m *MockBackend) CleanBefore(_ context.Context, prefix, cutoff string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Clean++
	removed := 0
	for key := range m.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		bucket, _, _ := strings.Cut(rest, "/")
		if bucket < cutoff {
			delete(m.objects, key)
			removed++
		}
	}
	return removed, nil
}

// Keys returns all stored keys, sorted.
func (m *MockBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns a snapshot of the call counters.
func (m *MockBackend) Calls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
