package offsetstore

import (
	"context"
	"sync"
)

// Memory: Store в памяти процесса.
type Memory struct {
	mu      sync.Mutex
	offsets map[Key]uint64
}

func NewMemory() *Memory {
	return &Memory{offsets: make(map[Key]uint64)}
}

func (m *Memory) Load(_ context.Context, key Key) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, ok := m.offsets[key]
	return off, ok, nil
}

func (m *Memory) Save(_ context.Context, key Key, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[key] = offset
	return nil
}

func (m *Memory) Close() error { return nil }
