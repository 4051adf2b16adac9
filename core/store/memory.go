package store

import (
	"context"
	"math/bits"
	"sync"
)

// MemoryStore is an in-process StateStore used in tests.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	lists   map[string][]string
	bitmaps map[string][]byte

	// Err, when set, is returned by every operation.
	Err error
	// Reads counts Get calls per key.
	Reads map[string]int
	// Batches counts ListAllBatch round trips.
	Batches int
	closed  int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  map[string]string{},
		lists:   map[string][]string{},
		bitmaps: map[string][]byte{},
		Reads:   map[string]int{},
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	m.Reads[key]++
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.values[key] = value
	return nil
}

// Delete removes a string value.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// Push appends tokens to the list at key.
func (m *MemoryStore) Push(key string, tokens ...string) {
	m.mu.Lock()
	m.lists[key] = append(m.lists[key], tokens...)
	m.mu.Unlock()
}

// SetBits sets the first n bits of the bitmap at key.
func (m *MemoryStore) SetBits(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		buf[i/8] |= 0x80 >> (i % 8)
	}
	m.bitmaps[key] = buf
}

func (m *MemoryStore) ListAll(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.lists[key]...), nil
}

func (m *MemoryStore) ListAllBatch(_ context.Context, keys []string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Batches++
	out := make([][]string, len(keys))
	for i, k := range keys {
		out[i] = append([]string(nil), m.lists[k]...)
	}
	return out, nil
}

func (m *MemoryStore) BitCount(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int
	for _, b := range m.bitmaps[key] {
		n += bits.OnesCount8(b)
	}
	return int64(n), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

// Closed returns how many times Close was called.
func (m *MemoryStore) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
