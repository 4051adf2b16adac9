package channel

import (
	"context"
	"encoding/json"
	"sync"
)

// MemorySender records payloads in memory. It is used in tests.
type MemorySender struct {
	mu       sync.Mutex
	payloads []string
	closed   int

	// Fail, when set, is consulted before every send; a non-nil result
	// is returned instead of recording the payload.
	Fail func(payload string) error
}

// NewMemorySender returns an empty MemorySender.
func NewMemorySender() *MemorySender { return &MemorySender{} }

// Send records the JSON encoded payload.
func (m *MemorySender) Send(_ context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	m.mu.Lock()
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		if err := fail(s); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, s)
	m.mu.Unlock()
	return nil
}

// Payloads returns the recorded payloads, decoded to their string form.
func (m *MemorySender) Payloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.payloads...)
}

// Reset drops the recorded payloads.
func (m *MemorySender) Reset() {
	m.mu.Lock()
	m.payloads = nil
	m.mu.Unlock()
}

// Close counts close calls.
func (m *MemorySender) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

// Closed returns how many times Close was called.
func (m *MemorySender) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
