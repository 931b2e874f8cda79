package checkpoint

import (
	"context"
	"sync"
)

// MemoryManager is an in-memory Manager for tests and single-process use.
type MemoryManager struct {
	mu     sync.Mutex
	latest map[string]*Checkpoint // executionID → highest-sequence checkpoint
}

// NewMemoryManager creates an empty in-memory checkpoint manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		latest: make(map[string]*Checkpoint),
	}
}

func (m *MemoryManager) Save(ctx context.Context, executionID string, sequence int, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.latest[executionID]; ok && cur.Sequence >= sequence {
		return nil
	}
	m.latest[executionID] = &Checkpoint{
		ExecutionID: executionID,
		Sequence:    sequence,
		State:       state,
	}
	return nil
}

func (m *MemoryManager) Load(ctx context.Context, executionID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.latest[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp2 := *cp
	return &cp2, nil
}
