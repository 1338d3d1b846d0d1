package feed

import (
	"context"
	"sync"
)

// MockSource is a scripted instruction source for testing.
type MockSource struct {
	mu       sync.Mutex
	table    Table
	err      error
	fetches  int
}

// NewMockSource creates a mock source serving the given table.
func NewMockSource(table Table) *MockSource {
	return &MockSource{table: table}
}

// Fetch returns the scripted table or error.
func (m *MockSource) Fetch(_ context.Context) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return Table{}, m.err
	}
	return m.table, nil
}

// Name returns the source identifier.
func (m *MockSource) Name() string {
	return "mock"
}

// SetTable replaces the scripted table.
func (m *MockSource) SetTable(table Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = table
}

// SetError makes subsequent fetches fail with err.
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Fetches returns how many times Fetch was called.
func (m *MockSource) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}
