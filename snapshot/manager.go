// Package snapshot tracks evm_snapshot captures by monotonically
// increasing id. The capture payload is opaque to the manager; the
// backend decides what a snapshot of the world contains.
package snapshot

import (
	"sync"
)

// Manager stores captures keyed by snapshot id.
type Manager[T any] struct {
	mu    sync.Mutex
	next  uint64
	snaps map[uint64]T
}

func NewManager[T any]() *Manager[T] {
	return &Manager[T]{snaps: make(map[uint64]T)}
}

// Add stores a capture and returns its id. Ids count up from zero and
// never repeat, even across reverts.
func (m *Manager[T]) Add(capture T) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.snaps[id] = capture
	return id
}

// Revert returns the capture for id and discards it along with every
// younger snapshot. The second return is false when id is unknown, in which
// case nothing is discarded.
func (m *Manager[T]) Revert(id uint64) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	capture, ok := m.snaps[id]
	if !ok {
		var zero T
		return zero, false
	}
	for k := range m.snaps {
		if k >= id {
			delete(m.snaps, k)
		}
	}
	return capture, true
}

// Len returns the number of live snapshots.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

// Clear drops every capture without resetting the id counter.
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = make(map[uint64]T)
}
