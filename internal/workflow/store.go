package workflow

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned for unknown workflow or execution ids.
	ErrNotFound = errors.New("workflow: not found")

	// ErrAlreadyExists is returned when creating a definition whose id is
	// already taken. Definitions are immutable; a new version is a new id.
	ErrAlreadyExists = errors.New("workflow: definition already exists")
)

// DefinitionStore holds immutable workflow definitions.
type DefinitionStore interface {
	Create(ctx context.Context, def *Definition) error
	Get(ctx context.Context, id string) (*Definition, error)
}

// ExecutionStore holds execution history. Executions are mutated by a single
// writer (the orchestration engine) keyed by execution id.
type ExecutionStore interface {
	Create(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, exec *Execution) error
}

// ─── In-memory implementations ───

// MemoryDefinitionStore is a mutex-guarded DefinitionStore.
type MemoryDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{defs: make(map[string]*Definition)}
}

func (s *MemoryDefinitionStore) Create(ctx context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.ID]; exists {
		return ErrAlreadyExists
	}
	s.defs[def.ID] = def
	return nil
}

func (s *MemoryDefinitionStore) Get(ctx context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

// MemoryExecutionStore is a mutex-guarded ExecutionStore.
type MemoryExecutionStore struct {
	mu    sync.RWMutex
	execs map[string]*Execution
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{execs: make(map[string]*Execution)}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[exec.ID]; exists {
		return ErrAlreadyExists
	}
	s.execs[exec.ID] = copyExecution(exec)
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(exec), nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return ErrNotFound
	}
	s.execs[exec.ID] = copyExecution(exec)
	return nil
}

// copyExecution clones the slices so the engine's working copy and the
// stored snapshot never alias.
func copyExecution(e *Execution) *Execution {
	cp := *e
	cp.TaskResults = append([]TaskResult(nil), e.TaskResults...)
	cp.CurrentTasks = append([]string(nil), e.CurrentTasks...)
	cp.CompletedTasks = append([]string(nil), e.CompletedTasks...)
	cp.FailedTasks = append([]string(nil), e.FailedTasks...)
	return &cp
}
