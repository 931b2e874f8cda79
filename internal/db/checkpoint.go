package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/patchflow/worker/internal/checkpoint"
)

// CheckpointManager is the PostgreSQL checkpoint.Manager. One row per
// execution holds the latest checkpoint; stale writers lose to the sequence
// guard and are silently ignored.
type CheckpointManager struct {
	client *Client
}

func NewCheckpointManager(client *Client) *CheckpointManager {
	return &CheckpointManager{client: client}
}

var _ checkpoint.Manager = (*CheckpointManager)(nil)

// ─── Checkpoint Queries ───

func (m *CheckpointManager) Save(ctx context.Context, executionID string, sequence int, state map[string]any) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}

	_, err = m.client.pool.Exec(ctx, `
		INSERT INTO checkpoints (execution_id, sequence, state, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (execution_id) DO UPDATE
		SET sequence = EXCLUDED.sequence, state = EXCLUDED.state, updated_at = now()
		WHERE checkpoints.sequence < EXCLUDED.sequence
	`, executionID, sequence, stateJSON)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (m *CheckpointManager) Load(ctx context.Context, executionID string) (*checkpoint.Checkpoint, error) {
	row := m.client.pool.QueryRow(ctx, `
		SELECT sequence, state FROM checkpoints WHERE execution_id = $1
	`, executionID)

	cp := checkpoint.Checkpoint{ExecutionID: executionID}
	var stateJSON []byte
	err := row.Scan(&cp.Sequence, &stateJSON)
	if err == pgx.ErrNoRows {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return &cp, nil
}
