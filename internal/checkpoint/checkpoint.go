// Package checkpoint persists per-execution progress snapshots so that a
// redelivered job resumes from where the crashed worker left off instead of
// redoing completed task effects.
package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no checkpoint exists for the execution.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is one progress snapshot. Sequences are monotonic within an
// execution; Load always returns the highest sequence recorded.
type Checkpoint struct {
	ExecutionID string         `json:"execution_id"`
	Sequence    int            `json:"sequence"`
	State       map[string]any `json:"state"`
}

// Manager stores and retrieves execution checkpoints. Save with a sequence
// at or below the latest recorded one is ignored: a stale writer must not
// roll progress backwards.
type Manager interface {
	Save(ctx context.Context, executionID string, sequence int, state map[string]any) error
	Load(ctx context.Context, executionID string) (*Checkpoint, error)
}
