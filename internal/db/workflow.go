package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/patchflow/worker/internal/workflow"
)

// DefinitionStore is the PostgreSQL workflow.DefinitionStore. Definitions
// are immutable, so the row is written once and only ever read back.
type DefinitionStore struct {
	client *Client
}

func NewDefinitionStore(client *Client) *DefinitionStore {
	return &DefinitionStore{client: client}
}

var _ workflow.DefinitionStore = (*DefinitionStore)(nil)

// ─── Workflow Definition Queries ───

func (s *DefinitionStore) Create(ctx context.Context, def *workflow.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	tag, err := s.client.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, data)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, def.ID, data)
	if err != nil {
		return fmt.Errorf("create definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrAlreadyExists
	}
	return nil
}

func (s *DefinitionStore) Get(ctx context.Context, id string) (*workflow.Definition, error) {
	var data []byte
	err := s.client.pool.QueryRow(ctx, `
		SELECT data FROM workflow_definitions WHERE id = $1
	`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	var def workflow.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}

// ExecutionStore is the PostgreSQL workflow.ExecutionStore. The full record
// lives in a JSONB column; status and workflow id are lifted out for
// querying.
type ExecutionStore struct {
	client *Client
}

func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

var _ workflow.ExecutionStore = (*ExecutionStore)(nil)

// ─── Execution Queries ───

func (s *ExecutionStore) Create(ctx context.Context, exec *workflow.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	tag, err := s.client.pool.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, status, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, exec.ID, exec.WorkflowID, exec.Status, data)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrAlreadyExists
	}
	return nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*workflow.Execution, error) {
	var data []byte
	err := s.client.pool.QueryRow(ctx, `
		SELECT data FROM executions WHERE id = $1
	`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var exec workflow.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &exec, nil
}

func (s *ExecutionStore) Update(ctx context.Context, exec *workflow.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	tag, err := s.client.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, data = $3, updated_at = now()
		WHERE id = $1
	`, exec.ID, exec.Status, data)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}
