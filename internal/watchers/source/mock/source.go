// Package mock provides an in-memory raw source for testing
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/gazewatch/gaze/internal/core/interfaces"
)

// MockSource implements interfaces.Source without touching the OS. Tests
// push raw events through Emit.
type MockSource struct {
	handlers map[string]interfaces.RawHandler
	failures map[string]error
	watches  map[string]int
	closes   map[string]int
	backend  interfaces.Backend
	onError  func(error)
	settle   chan struct{}
	mu       sync.Mutex
}

// NewMockSource creates a new mock source reporting the native backend
func NewMockSource() *MockSource {
	return &MockSource{
		handlers: make(map[string]interfaces.RawHandler),
		failures: make(map[string]error),
		watches:  make(map[string]int),
		closes:   make(map[string]int),
		backend:  interfaces.BackendNative,
	}
}

// SetBackend changes the backend reported for watched paths
func (m *MockSource) SetBackend(b interfaces.Backend) {
	m.mu.Lock()
	m.backend = b
	m.mu.Unlock()
}

// FailWith makes the next Watch of path return err
func (m *MockSource) FailWith(path string, err error) {
	m.mu.Lock()
	m.failures[path] = err
	m.mu.Unlock()
}

// Watch records fn as the handler for path
func (m *MockSource) Watch(path string, fn interfaces.RawHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failures[path]; ok {
		delete(m.failures, path)
		return err
	}
	m.handlers[path] = fn
	m.watches[path]++
	return nil
}

// Close forgets path
func (m *MockSource) Close(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.handlers, path)
	m.closes[path]++
	return nil
}

// CloseAll forgets every path
func (m *MockSource) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path := range m.handlers {
		m.closes[path]++
	}
	m.handlers = make(map[string]interfaces.RawHandler)
	return nil
}

// WatchedPaths returns the watched paths in sorted order
func (m *MockSource) WatchedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.handlers))
	for path := range m.handlers {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Backend reports the configured backend for watched paths
func (m *MockSource) Backend(path string) interfaces.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handlers[path]; ok {
		return m.backend
	}
	return interfaces.BackendNone
}

// Settle returns immediately unless BlockSettle was called
func (m *MockSource) Settle(ctx context.Context) error {
	m.mu.Lock()
	gate := m.settle
	m.mu.Unlock()

	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockSettle makes Settle wait until ReleaseSettle
func (m *MockSource) BlockSettle() {
	m.mu.Lock()
	m.settle = make(chan struct{})
	m.mu.Unlock()
}

// ReleaseSettle unblocks every pending and future Settle
func (m *MockSource) ReleaseSettle() {
	m.mu.Lock()
	if m.settle != nil {
		close(m.settle)
		m.settle = nil
	}
	m.mu.Unlock()
}

// SetErrorHandler installs the asynchronous error callback
func (m *MockSource) SetErrorHandler(fn func(error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// ReportError delivers err through the installed error callback
func (m *MockSource) ReportError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Emit delivers ev to the handler of ev.Path and reports whether one existed
func (m *MockSource) Emit(ev interfaces.RawEvent) bool {
	m.mu.Lock()
	fn, ok := m.handlers[ev.Path]
	m.mu.Unlock()
	if !ok {
		return false
	}
	fn(ev)
	return true
}

// WatchCount returns how many times path was passed to Watch successfully
func (m *MockSource) WatchCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watches[path]
}

// CloseCount returns how many times path was closed
func (m *MockSource) CloseCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes[path]
}
