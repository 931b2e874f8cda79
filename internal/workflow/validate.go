package workflow

import (
	"errors"
	"fmt"
)

// ErrNoTasks is returned for a definition with an empty task list.
var ErrNoTasks = errors.New("workflow: definition has no tasks")

// CircularDependencyError is returned when the task graph contains a cycle,
// including a task depending on itself.
type CircularDependencyError struct {
	TaskID string
}

func (e *CircularDependencyError) Error() string {
	return "workflow: circular dependency involving task: " + e.TaskID
}

// UnknownDependencyError is returned when a task references a dependency id
// absent from the same definition.
type UnknownDependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("workflow: task %s depends on non-existent task: %s", e.TaskID, e.DependencyID)
}

// DuplicateTaskError is returned when two tasks share an id.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return "workflow: duplicate task id: " + e.TaskID
}

// DFS colors for cycle detection.
const (
	colorUnvisited = iota
	colorVisiting
	colorVisited
)

// Validate checks a definition at creation time, never at execution time.
// It rejects duplicate task ids, dependencies on task ids absent from the
// definition, and any dependency cycle. Cycles are found with a three-color
// depth-first traversal: an edge into a "visiting" node is a cycle.
func Validate(def *Definition) error {
	if len(def.Tasks) == 0 {
		return ErrNoTasks
	}

	tasks := make(map[string]*TaskDefinition, len(def.Tasks))
	for i := range def.Tasks {
		t := &def.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("workflow: task at index %d has no id", i)
		}
		if _, exists := tasks[t.ID]; exists {
			return &DuplicateTaskError{TaskID: t.ID}
		}
		tasks[t.ID] = t
	}

	for _, t := range def.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := tasks[dep]; !ok {
				return &UnknownDependencyError{TaskID: t.ID, DependencyID: dep}
			}
		}
	}

	colors := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case colorVisiting:
			return &CircularDependencyError{TaskID: id}
		case colorVisited:
			return nil
		}
		colors[id] = colorVisiting
		for _, dep := range tasks[id].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[id] = colorVisited
		return nil
	}

	for _, t := range def.Tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// IsValidationError reports whether err is one of the definition-level
// validation failures rejected at creation time.
func IsValidationError(err error) bool {
	var circular *CircularDependencyError
	var unknown *UnknownDependencyError
	var dup *DuplicateTaskError
	return errors.Is(err, ErrNoTasks) ||
		errors.As(err, &circular) ||
		errors.As(err, &unknown) ||
		errors.As(err, &dup)
}
