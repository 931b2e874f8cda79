package engine

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/patchflow/worker/internal/agent"
	"github.com/patchflow/worker/internal/workflow"
)

// DefaultRetryBackoff is the base delay between attempts when a task carries
// a retry policy without an explicit backoff.
const DefaultRetryBackoff = 500 * time.Millisecond

type taskOutcome struct {
	taskID string
	result workflow.TaskResult
}

// runTask invokes the task's agent with bounded retries and returns a single
// terminal result. Retries bump the attempt counter on the same result
// rather than producing one result per attempt. The input is resolved by the
// dispatch loop before the goroutine starts; runTask must not touch run
// state that the loop mutates.
func (r *run) runTask(ctx context.Context, task *workflow.TaskDefinition, input map[string]any) taskOutcome {
	e := r.engine
	start := time.Now()

	maxAttempts := 1
	backoffBase := DefaultRetryBackoff
	if task.Retry != nil {
		if task.Retry.MaxAttempts > 0 {
			maxAttempts = task.Retry.MaxAttempts
		}
		if task.Retry.Backoff > 0 {
			backoffBase = task.Retry.Backoff
		}
	}

	req := &agent.Request{
		ExecutionID: r.exec.ID,
		TaskID:      task.ID,
		Capability:  task.Capability,
		Input:       input,
	}

	var (
		attempts int
		agentID  string
		resp     *agent.Response
		lastErr  error
	)

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(backoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		a, err := r.resolveAgent(task)
		if err != nil {
			// Agent pools change between attempts, so unavailability
			// is worth retrying within the task's attempt limit.
			e.logger.Warnw("No agent available for task",
				"execution_id", r.exec.ID,
				"task_id", task.ID,
				"capability", task.Capability,
				"attempt", attempts,
			)
			lastErr = err
			return retry.RetryableError(err)
		}
		agentID = a.Descriptor().ID

		attemptCtx := ctx
		if task.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
			defer cancel()
		}

		resp, err = e.registry.Invoke(attemptCtx, a, req)
		if err != nil {
			e.logger.Warnw("Task attempt failed",
				"execution_id", r.exec.ID,
				"task_id", task.ID,
				"agent_id", agentID,
				"attempt", attempts,
				"error", err,
			)
			lastErr = err
			return retry.RetryableError(err)
		}
		return nil
	})

	end := time.Now()
	result := workflow.TaskResult{
		TaskID:     task.ID,
		StartTime:  start,
		EndTime:    end,
		DurationMs: end.Sub(start).Milliseconds(),
		Attempts:   attempts,
		AgentID:    agentID,
	}
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		result.Status = workflow.StatusFailed
		result.Error = err.Error()
	} else {
		result.Status = workflow.StatusCompleted
		result.Output = resp.Output
	}
	return taskOutcome{taskID: task.ID, result: result}
}

// resolveAgent honors a pinned agent id; otherwise it selects by capability
// under the engine's strategy.
func (r *run) resolveAgent(task *workflow.TaskDefinition) (agent.Agent, error) {
	if task.AgentID != "" {
		return r.engine.registry.Get(task.AgentID)
	}
	return r.engine.registry.Select(task.Capability, r.engine.strategy)
}

// resolveInput assembles a task's input: execution input first, then each
// dependency's output under the dependency's task id, then the task's own
// static input on top.
func (r *run) resolveInput(task *workflow.TaskDefinition) map[string]any {
	input := make(map[string]any, len(r.exec.Input)+len(task.Dependencies)+len(task.Input))
	for k, v := range r.exec.Input {
		input[k] = v
	}
	for _, dep := range task.Dependencies {
		if out, ok := r.outputs[dep]; ok {
			input[dep] = out
		}
	}
	for k, v := range task.Input {
		input[k] = v
	}
	return input
}
