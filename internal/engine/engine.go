package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patchflow/worker/internal/agent"
	"github.com/patchflow/worker/internal/checkpoint"
	"github.com/patchflow/worker/internal/event"
	"github.com/patchflow/worker/internal/workflow"
)

// DefaultMaxConcurrentTasks caps how many tasks of one execution may run at
// once when no explicit limit is configured.
const DefaultMaxConcurrentTasks = 4

// Engine validates workflow definitions and drives their executions against
// the agent registry. It is the single writer of Execution records.
type Engine struct {
	definitions workflow.DefinitionStore
	executions  workflow.ExecutionStore
	registry    *agent.Registry
	checkpoints checkpoint.Manager
	bus         *event.Bus
	logger      *zap.SugaredLogger

	strategy           agent.Strategy
	maxConcurrentTasks int

	mu   sync.Mutex
	runs map[string]*run // executionID → active run
}

// Options tunes engine behavior.
type Options struct {
	// Strategy picks among healthy agents when a task is not pinned.
	Strategy agent.Strategy
	// MaxConcurrentTasks caps parallel task dispatch within one execution.
	MaxConcurrentTasks int
}

// New creates an orchestration engine.
func New(
	definitions workflow.DefinitionStore,
	executions workflow.ExecutionStore,
	registry *agent.Registry,
	checkpoints checkpoint.Manager,
	bus *event.Bus,
	logger *zap.SugaredLogger,
	opts Options,
) *Engine {
	if opts.Strategy == "" {
		opts.Strategy = agent.StrategyRoundRobin
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	return &Engine{
		definitions:        definitions,
		executions:         executions,
		registry:           registry,
		checkpoints:        checkpoints,
		bus:                bus,
		logger:             logger,
		strategy:           opts.Strategy,
		maxConcurrentTasks: opts.MaxConcurrentTasks,
		runs:               make(map[string]*run),
	}
}

// CreateWorkflow validates and stores an immutable workflow definition.
// Malformed graphs (cycles, dangling dependency references) are rejected
// here, never at execution time.
func (e *Engine) CreateWorkflow(ctx context.Context, def *workflow.Definition) error {
	if err := workflow.Validate(def); err != nil {
		return err
	}
	if err := e.definitions.Create(ctx, def); err != nil {
		return fmt.Errorf("store definition: %w", err)
	}
	e.logger.Infow("Created workflow definition",
		"workflow_id", def.ID,
		"version", def.Version,
		"tasks", len(def.Tasks),
	)
	return nil
}

// GetExecution returns the execution record by id.
func (e *Engine) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	return e.executions.Get(ctx, id)
}

// CancelExecution requests cooperative cancellation of a running execution.
// In-flight task invocations are not interrupted; no new tasks are
// dispatched once the cancellation is recorded.
func (e *Engine) CancelExecution(ctx context.Context, id string) error {
	e.mu.Lock()
	active, ok := e.runs[id]
	e.mu.Unlock()

	if ok {
		active.cancel()
		e.logger.Infow("Cancellation requested", "execution_id", id)
		return nil
	}

	// No active run in this process, so only a stored-but-stale running
	// execution can still be cancelled.
	exec, err := e.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status != workflow.StatusRunning && exec.Status != workflow.StatusPending {
		return fmt.Errorf("cannot cancel execution in status: %s", exec.Status)
	}
	exec.Status = workflow.StatusCancelled
	now := time.Now()
	exec.EndTime = &now
	if err := e.executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	e.publishEvent(id, "", event.ExecutionCancelled, nil)
	return nil
}

// publishEvent is a helper to publish events through the event bus
func (e *Engine) publishEvent(executionID, taskID, eventType string, data map[string]any) {
	e.bus.Publish(&event.Event{
		Type:        eventType,
		ExecutionID: executionID,
		TaskID:      taskID,
		Data:        data,
	})
}

func (e *Engine) registerRun(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[r.exec.ID] = r
}

func (e *Engine) unregisterRun(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, id)
}
