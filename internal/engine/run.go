package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/patchflow/worker/internal/checkpoint"
	"github.com/patchflow/worker/internal/event"
	"github.com/patchflow/worker/internal/workflow"
)

// Per-run task states. Skipped tasks never ran because a transitive
// dependency failed; they get no TaskResult.
type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateCompleted
	stateFailed
	stateSkipped
)

// run is the in-memory state of one execution being driven by this process.
type run struct {
	engine    *Engine
	def       *workflow.Definition
	exec      *workflow.Execution
	state     map[string]taskState
	outputs   map[string]map[string]any // taskID → output, for input resolution
	sequence  int
	cancelled atomic.Bool
}

func (r *run) cancel() { r.cancelled.Store(true) }

// ExecOption tunes a single ExecuteWorkflow call.
type ExecOption func(*execConfig)

type execConfig struct {
	executionID string
}

// WithExecutionID pins the execution id instead of generating one. Callers
// that derive the id from an idempotency key get deterministic resume: a
// redelivered job finds the prior execution and continues from its latest
// checkpoint instead of redoing completed task effects.
func WithExecutionID(id string) ExecOption {
	return func(c *execConfig) { c.executionID = id }
}

// ExecuteWorkflow runs a workflow to a terminal state and returns the final
// execution record. The definition was validated at creation time; execution
// assumes a well-formed graph.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any, opts ...ExecOption) (*workflow.Execution, error) {
	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	def, err := e.definitions.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	exec, resumed, err := e.prepareExecution(ctx, def, input, cfg)
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		// Prior run already finished under this id, idempotent replay.
		return exec, nil
	}

	r := &run{
		engine:  e,
		def:     def,
		exec:    exec,
		state:   make(map[string]taskState, len(def.Tasks)),
		outputs: make(map[string]map[string]any),
	}
	if resumed {
		r.restore(ctx)
	}

	e.registerRun(r)
	defer e.unregisterRun(exec.ID)

	if def.Timeout > 0 {
		var cancelCtx context.CancelFunc
		ctx, cancelCtx = context.WithTimeout(ctx, def.Timeout)
		defer cancelCtx()
	}

	e.publishEvent(exec.ID, "", event.ExecutionStarted, map[string]any{
		"workflow_id": def.ID,
		"task_count":  len(def.Tasks),
		"resumed":     resumed,
	})

	return r.drive(ctx)
}

// prepareExecution creates the execution record, or loads an existing one
// when the caller pinned an id (terminal → replay, running → resume).
func (e *Engine) prepareExecution(ctx context.Context, def *workflow.Definition, input map[string]any, cfg execConfig) (*workflow.Execution, bool, error) {
	if cfg.executionID != "" {
		existing, err := e.executions.Get(ctx, cfg.executionID)
		if err == nil {
			if existing.Terminal() {
				return existing, false, nil
			}
			e.logger.Infow("Resuming execution",
				"execution_id", existing.ID,
				"workflow_id", def.ID,
			)
			return existing, true, nil
		}
	}

	id := cfg.executionID
	if id == "" {
		id = uuid.New().String()
	}
	exec := &workflow.Execution{
		ID:         id,
		WorkflowID: def.ID,
		Status:     workflow.StatusPending,
		Input:      input,
		StartTime:  time.Now(),
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, false, fmt.Errorf("create execution: %w", err)
	}

	exec.Status = workflow.StatusRunning
	if err := e.executions.Update(ctx, exec); err != nil {
		return nil, false, fmt.Errorf("update execution: %w", err)
	}
	return exec, false, nil
}

// restore rebuilds run state from the latest checkpoint so completed task
// effects are not redone after a crash and redelivery.
func (r *run) restore(ctx context.Context) {
	cp, err := r.engine.checkpoints.Load(ctx, r.exec.ID)
	if err != nil {
		if err != checkpoint.ErrNotFound {
			r.engine.logger.Warnw("Failed to load checkpoint", "execution_id", r.exec.ID, "error", err)
		}
		// No checkpoint; fall back to whatever the execution record holds.
		for _, id := range r.exec.CompletedTasks {
			r.state[id] = stateCompleted
		}
		for _, id := range r.exec.FailedTasks {
			r.state[id] = stateFailed
		}
		for i := range r.exec.TaskResults {
			res := &r.exec.TaskResults[i]
			if res.Output != nil {
				r.outputs[res.TaskID] = res.Output
			}
		}
		r.exec.CurrentTasks = nil
		return
	}

	r.sequence = cp.Sequence
	completed := toStringSlice(cp.State["completed"])
	failed := toStringSlice(cp.State["failed"])
	outputs := toOutputMap(cp.State["outputs"])

	r.exec.CompletedTasks = append([]string(nil), completed...)
	r.exec.FailedTasks = append([]string(nil), failed...)
	r.exec.CurrentTasks = nil

	for _, id := range completed {
		r.state[id] = stateCompleted
		if r.exec.Result(id) == nil {
			r.exec.TaskResults = append(r.exec.TaskResults, workflow.TaskResult{
				TaskID: id,
				Status: workflow.StatusCompleted,
				Output: outputs[id],
			})
		}
	}
	for _, id := range failed {
		r.state[id] = stateFailed
	}
	for id, out := range outputs {
		r.outputs[id] = out
	}

	r.engine.logger.Infow("Restored execution from checkpoint",
		"execution_id", r.exec.ID,
		"sequence", cp.Sequence,
		"completed_tasks", len(completed),
	)
}

// drive is the dispatch loop: launch every ready task up to the concurrency
// cap, wait for one outcome, apply it, repeat until no progress is possible.
func (r *run) drive(ctx context.Context) (*workflow.Execution, error) {
	e := r.engine
	outcomes := make(chan taskOutcome)
	inFlight := 0
	aborted := false // fail_fast tripped

	for {
		if !aborted && !r.cancelled.Load() && ctx.Err() == nil {
			for _, task := range r.readyTasks() {
				if inFlight >= e.maxConcurrentTasks {
					break
				}
				r.state[task.ID] = stateRunning
				r.exec.CurrentTasks = append(r.exec.CurrentTasks, task.ID)
				inFlight++

				e.publishEvent(r.exec.ID, task.ID, event.TaskStarted, nil)
				e.logger.Infow("Dispatching task",
					"execution_id", r.exec.ID,
					"task_id", task.ID,
					"capability", task.Capability,
				)

				// Inputs are resolved here, not in the goroutine: this
				// loop is the only writer of r.outputs, so reads must
				// not race with a sibling's outcome being applied.
				input := r.resolveInput(task)
				go func(t *workflow.TaskDefinition, input map[string]any) {
					outcomes <- r.runTask(ctx, t, input)
				}(task, input)
			}
		}

		if inFlight == 0 {
			break
		}

		out := <-outcomes
		inFlight--
		r.apply(ctx, out)

		if out.result.Status == workflow.StatusFailed {
			if r.def.FailurePolicy == workflow.FailFast {
				aborted = true
			} else {
				r.skipDescendants(out.taskID)
			}
		}

		if err := e.executions.Update(ctx, r.exec); err != nil {
			e.logger.Errorw("Failed to persist execution", "execution_id", r.exec.ID, "error", err)
		}
	}

	return r.finalize(ctx, aborted)
}

// readyTasks returns pending tasks whose dependencies are all completed, in
// declaration order. Sequential dependents of a shared predecessor are held
// back while an earlier sibling has not finished.
func (r *run) readyTasks() []*workflow.TaskDefinition {
	var ready []*workflow.TaskDefinition
	for i := range r.def.Tasks {
		task := &r.def.Tasks[i]
		if r.state[task.ID] != statePending {
			continue
		}
		if !r.depsCompleted(task) {
			continue
		}
		if task.DependencyType == workflow.DependencySequential && r.sequentialBlocked(task) {
			continue
		}
		ready = append(ready, task)
	}
	return ready
}

func (r *run) depsCompleted(task *workflow.TaskDefinition) bool {
	for _, dep := range task.Dependencies {
		if r.state[dep] != stateCompleted {
			return false
		}
	}
	return true
}

// sequentialBlocked holds a sequential task back while a sequential sibling
// sharing a predecessor is running, or an earlier-declared one is itself
// ready to run. A pending sibling whose own dependencies are not satisfied
// does not block: it may transitively depend on this task, and waiting on it
// would deadlock an acyclic definition.
func (r *run) sequentialBlocked(task *workflow.TaskDefinition) bool {
	for i := range r.def.Tasks {
		sibling := &r.def.Tasks[i]
		if sibling.ID == task.ID || sibling.DependencyType != workflow.DependencySequential {
			continue
		}
		if !sharesDependency(task, sibling) {
			continue
		}
		switch r.state[sibling.ID] {
		case stateRunning:
			return true
		case statePending:
			if r.depsCompleted(sibling) && declaredBefore(r.def, sibling.ID, task.ID) {
				return true
			}
		}
	}
	return false
}

func sharesDependency(a, b *workflow.TaskDefinition) bool {
	for _, da := range a.Dependencies {
		for _, db := range b.Dependencies {
			if da == db {
				return true
			}
		}
	}
	return false
}

func declaredBefore(def *workflow.Definition, a, b string) bool {
	for i := range def.Tasks {
		switch def.Tasks[i].ID {
		case a:
			return true
		case b:
			return false
		}
	}
	return false
}

// apply records one task outcome on the execution and checkpoints progress.
func (r *run) apply(ctx context.Context, out taskOutcome) {
	e := r.engine

	r.exec.CurrentTasks = removeString(r.exec.CurrentTasks, out.taskID)
	r.exec.TaskResults = append(r.exec.TaskResults, out.result)

	if out.result.Status == workflow.StatusCompleted {
		r.state[out.taskID] = stateCompleted
		r.exec.CompletedTasks = append(r.exec.CompletedTasks, out.taskID)
		if out.result.Output != nil {
			r.outputs[out.taskID] = out.result.Output
		}
		e.publishEvent(r.exec.ID, out.taskID, event.TaskCompleted, map[string]any{
			"attempts": out.result.Attempts,
		})
	} else {
		r.state[out.taskID] = stateFailed
		r.exec.FailedTasks = append(r.exec.FailedTasks, out.taskID)
		e.publishEvent(r.exec.ID, out.taskID, event.TaskFailed, map[string]any{
			"error":    out.result.Error,
			"attempts": out.result.Attempts,
		})
	}

	r.sequence++
	if err := e.checkpoints.Save(ctx, r.exec.ID, r.sequence, r.checkpointState()); err != nil {
		e.logger.Warnw("Failed to save checkpoint",
			"execution_id", r.exec.ID,
			"sequence", r.sequence,
			"error", err,
		)
	}
}

func (r *run) checkpointState() map[string]any {
	return map[string]any{
		"completed": append([]string(nil), r.exec.CompletedTasks...),
		"failed":    append([]string(nil), r.exec.FailedTasks...),
		"outputs":   r.outputs,
	}
}

// skipDescendants marks every not-yet-dispatched task downstream of a failed
// task as skipped so independent branches keep going under the continue
// policy. Passes repeat until no new task is marked, covering transitive
// dependents.
func (r *run) skipDescendants(failedID string) {
	for {
		changed := false
		for i := range r.def.Tasks {
			task := &r.def.Tasks[i]
			if r.state[task.ID] != statePending {
				continue
			}
			for _, dep := range task.Dependencies {
				if s := r.state[dep]; s == stateFailed || s == stateSkipped {
					r.state[task.ID] = stateSkipped
					r.engine.publishEvent(r.exec.ID, task.ID, event.TaskSkipped, map[string]any{
						"blocked_by": failedID,
					})
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

// finalize computes the terminal status once the dispatch loop drains.
//
// Rules: cancellation wins; fail_fast failure means failed; under continue,
// the execution is completed (failures recorded) as long as at least one
// task completed and every task actually ran; any task skipped behind a
// failed dependency means no further progress was possible → failed.
func (r *run) finalize(ctx context.Context, aborted bool) (*workflow.Execution, error) {
	e := r.engine

	var status string
	switch {
	case r.cancelled.Load():
		status = workflow.StatusCancelled
	case aborted:
		status = workflow.StatusFailed
	case ctx.Err() != nil:
		status = workflow.StatusFailed
	case len(r.exec.CompletedTasks) == 0 && len(r.exec.FailedTasks) > 0:
		status = workflow.StatusFailed
	case r.anyUnrun():
		status = workflow.StatusFailed
	default:
		status = workflow.StatusCompleted
	}

	r.exec.Status = status
	now := time.Now()
	r.exec.EndTime = &now
	if err := e.executions.Update(ctx, r.exec); err != nil {
		return nil, fmt.Errorf("persist final execution: %w", err)
	}

	eventType := event.ExecutionCompleted
	switch status {
	case workflow.StatusFailed:
		eventType = event.ExecutionFailed
	case workflow.StatusCancelled:
		eventType = event.ExecutionCancelled
	}
	e.publishEvent(r.exec.ID, "", eventType, map[string]any{
		"completed_tasks": len(r.exec.CompletedTasks),
		"failed_tasks":    len(r.exec.FailedTasks),
	})

	e.logger.Infow("Execution finished",
		"execution_id", r.exec.ID,
		"workflow_id", r.exec.WorkflowID,
		"status", status,
	)
	return r.exec, nil
}

// anyUnrun reports whether some task never reached a terminal run state
// (still pending or skipped when the loop drained).
func (r *run) anyUnrun() bool {
	for i := range r.def.Tasks {
		switch r.state[r.def.Tasks[i].ID] {
		case stateCompleted, stateFailed:
		default:
			return true
		}
	}
	return false
}

// Checkpoint state may come back from a JSON round trip, so slices and maps
// need loose coercion.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toOutputMap(v any) map[string]map[string]any {
	switch vv := v.(type) {
	case map[string]map[string]any:
		return vv
	case map[string]any:
		out := make(map[string]map[string]any, len(vv))
		for k, item := range vv {
			if m, ok := item.(map[string]any); ok {
				out[k] = m
			}
		}
		return out
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
