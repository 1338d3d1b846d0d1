package audit

import (
	"context"
	"sync"
)

// MockSink is an in-memory Sink for testing.
type MockSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

// NewMockSink creates a mock sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Append stores the record in memory.
func (m *MockSink) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

// Close is a no-op.
func (m *MockSink) Close() error { return nil }

// Records returns a copy of the appended records.
func (m *MockSink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// FailWith makes subsequent Append calls fail with err.
func (m *MockSink) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Ensure MockSink implements Sink
var _ Sink = (*MockSink)(nil)
