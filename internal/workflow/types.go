package workflow

import "time"

// Execution status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// FailurePolicy governs whether one task's failure halts the whole execution.
type FailurePolicy string

const (
	FailFast        FailurePolicy = "fail_fast"
	ContinueOnError FailurePolicy = "continue"
)

// DependencyType governs whether sibling dependents may run concurrently
// once their shared dependency completes.
type DependencyType string

const (
	DependencySequential DependencyType = "sequential"
	DependencyParallel   DependencyType = "parallel"
)

// RetryPolicy bounds task retry attempts with backoff.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// TaskDefinition is one node of a workflow DAG. Tasks reference agents by
// capability name; AgentID pins the task to a specific agent instead.
type TaskDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Capability     string         `json:"capability"`
	AgentID        string         `json:"agent_id,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	DependencyType DependencyType `json:"dependency_type,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
	Retry          *RetryPolicy   `json:"retry,omitempty"`
}

// Definition is an immutable workflow definition. A new version is a new
// definition; the task graph is validated acyclic at creation time.
type Definition struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Version       string           `json:"version"`
	Tasks         []TaskDefinition `json:"tasks"`
	Timeout       time.Duration    `json:"timeout,omitempty"`
	FailurePolicy FailurePolicy    `json:"failure_policy"`
	Tags          []string         `json:"tags,omitempty"`
}

// Task returns the task definition by id, or nil.
func (d *Definition) Task(taskID string) *TaskDefinition {
	for i := range d.Tasks {
		if d.Tasks[i].ID == taskID {
			return &d.Tasks[i]
		}
	}
	return nil
}

// TaskResult records the terminal outcome of one task within an execution.
// Retries bump Attempts on the same result, they never append duplicates.
type TaskResult struct {
	TaskID     string         `json:"task_id"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs int64          `json:"duration_ms"`
	Attempts   int            `json:"attempts"`
	AgentID    string         `json:"agent_id,omitempty"`
}

// Execution is one run of a workflow. CurrentTasks, CompletedTasks and
// FailedTasks stay pairwise disjoint; their union never exceeds the task set
// of the definition. Mutated exclusively by the orchestration engine.
type Execution struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Status         string         `json:"status"`
	Input          map[string]any `json:"input,omitempty"`
	TaskResults    []TaskResult   `json:"task_results,omitempty"`
	CurrentTasks   []string       `json:"current_tasks,omitempty"`
	CompletedTasks []string       `json:"completed_tasks,omitempty"`
	FailedTasks    []string       `json:"failed_tasks,omitempty"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
}

// Terminal reports whether the execution has left the running state.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Result returns the task result for taskID, or nil.
func (e *Execution) Result(taskID string) *TaskResult {
	for i := range e.TaskResults {
		if e.TaskResults[i].TaskID == taskID {
			return &e.TaskResults[i]
		}
	}
	return nil
}
