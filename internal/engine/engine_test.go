package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patchflow/worker/internal/agent"
	"github.com/patchflow/worker/internal/checkpoint"
	"github.com/patchflow/worker/internal/event"
	"github.com/patchflow/worker/internal/workflow"
)

type testHarness struct {
	engine      *Engine
	registry    *agent.Registry
	checkpoints checkpoint.Manager
	executions  workflow.ExecutionStore
}

func newTestHarness(t *testing.T, agents ...agent.Agent) *testHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	registry := agent.NewRegistry(logger)
	for _, a := range agents {
		require.NoError(t, registry.Register(a))
	}
	checkpoints := checkpoint.NewMemoryManager()
	executions := workflow.NewMemoryExecutionStore()
	eng := New(
		workflow.NewMemoryDefinitionStore(),
		executions,
		registry,
		checkpoints,
		event.NewBus(logger),
		logger,
		Options{},
	)
	return &testHarness{engine: eng, registry: registry, checkpoints: checkpoints, executions: executions}
}

func chainDefinition(policy workflow.FailurePolicy) *workflow.Definition {
	return &workflow.Definition{
		ID:            "wf-chain",
		Name:          "chain",
		Version:       "1",
		FailurePolicy: policy,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
			{ID: "b", Capability: "analyze", Dependencies: []string{"a"}},
			{ID: "c", Capability: "analyze", Dependencies: []string{"b"}},
		},
	}
}

func TestExecuteWorkflowLinearChain(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		mu.Lock()
		order = append(order, req.TaskID)
		mu.Unlock()
		return &agent.Response{Output: map[string]any{"done": req.TaskID}}, nil
	}

	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", map[string]any{"repo": "demo"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.CompletedTasks)
	assert.Empty(t, exec.FailedTasks)
	assert.Empty(t, exec.CurrentTasks)
	require.NotNil(t, exec.EndTime)
	require.NotNil(t, exec.Result("c"))
	assert.Equal(t, workflow.StatusCompleted, exec.Result("c").Status)
}

func TestExecuteWorkflowDependencyOutputsFlowDownstream(t *testing.T) {
	var bInput map[string]any
	var mu sync.Mutex
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if req.TaskID == "b" {
			mu.Lock()
			bInput = req.Input
			mu.Unlock()
		}
		return &agent.Response{Output: map[string]any{"from": req.TaskID}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-io", Name: "io", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
			{ID: "b", Capability: "analyze", Dependencies: []string{"a"}, Input: map[string]any{"mode": "strict"}},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-io", map[string]any{"repo": "demo"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)

	require.NotNil(t, bInput)
	assert.Equal(t, "demo", bInput["repo"])
	assert.Equal(t, "strict", bInput["mode"])
	assert.Equal(t, map[string]any{"from": "a"}, bInput["a"])
}

func TestExecuteWorkflowFanOutSharesRootOutput(t *testing.T) {
	var rootOutputSeen atomic.Int32
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if req.TaskID != "root" {
			if out, ok := req.Input["root"].(map[string]any); ok && out["from"] == "root" {
				rootOutputSeen.Add(1)
			}
		}
		return &agent.Response{Output: map[string]any{"from": req.TaskID}}, nil
	}

	h := newTestHarness(t, mock)
	const fanOut = 64
	def := &workflow.Definition{
		ID: "wf-fanout", Name: "fanout", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks:         []workflow.TaskDefinition{{ID: "root", Capability: "analyze"}},
	}
	for i := 0; i < fanOut; i++ {
		def.Tasks = append(def.Tasks, workflow.TaskDefinition{
			ID:             fmt.Sprintf("leaf-%d", i),
			Capability:     "analyze",
			Dependencies:   []string{"root"},
			DependencyType: workflow.DependencyParallel,
		})
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-fanout", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Len(t, exec.CompletedTasks, fanOut+1)
	assert.Equal(t, int32(fanOut), rootOutputSeen.Load(), "every leaf must see the root's output")
}

func TestExecuteWorkflowFailFastSkipsDownstream(t *testing.T) {
	var invoked atomic.Int32
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		invoked.Add(1)
		if req.TaskID == "b" {
			return nil, errors.New("boom")
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, exec.Status)
	assert.Equal(t, []string{"a"}, exec.CompletedTasks)
	assert.Equal(t, []string{"b"}, exec.FailedTasks)
	assert.Nil(t, exec.Result("c"))
	assert.Equal(t, int32(2), invoked.Load())
}

func TestExecuteWorkflowContinueKeepsIndependentBranch(t *testing.T) {
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if req.TaskID == "a" {
			return nil, errors.New("boom")
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-branch", Name: "branch", Version: "1",
		FailurePolicy: workflow.ContinueOnError,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
			{ID: "a2", Capability: "analyze", Dependencies: []string{"a"}},
			{ID: "b", Capability: "analyze"},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-branch", nil)
	require.NoError(t, err)

	// a2 was skipped behind a's failure, so the execution cannot be
	// considered complete even though branch b finished.
	assert.Equal(t, workflow.StatusFailed, exec.Status)
	assert.Equal(t, []string{"b"}, exec.CompletedTasks)
	assert.Equal(t, []string{"a"}, exec.FailedTasks)
	assert.Nil(t, exec.Result("a2"))
}

func TestExecuteWorkflowContinueCompletesWhenAllTasksRan(t *testing.T) {
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if req.TaskID == "flaky" {
			return nil, errors.New("boom")
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-leaf", Name: "leaf", Version: "1",
		FailurePolicy: workflow.ContinueOnError,
		Tasks: []workflow.TaskDefinition{
			{ID: "steady", Capability: "analyze"},
			{ID: "flaky", Capability: "analyze"},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-leaf", nil)
	require.NoError(t, err)

	// Every task ran to a terminal result; the failed leaf is recorded
	// but the execution itself completed.
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"steady"}, exec.CompletedTasks)
	assert.Equal(t, []string{"flaky"}, exec.FailedTasks)
}

func TestExecuteWorkflowRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-retry", Name: "retry", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze", Retry: &workflow.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-retry", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, exec.Result("a"))
	assert.Equal(t, 3, exec.Result("a").Attempts)
	assert.Len(t, exec.TaskResults, 1)
}

func TestExecuteWorkflowRetriesExhausted(t *testing.T) {
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		return nil, errors.New("still broken")
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-retry-fail", Name: "retry-fail", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze", Retry: &workflow.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-retry-fail", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, exec.Status)
	require.NotNil(t, exec.Result("a"))
	assert.Equal(t, 2, exec.Result("a").Attempts)
	assert.Contains(t, exec.Result("a").Error, "still broken")
}

func TestExecuteWorkflowParallelSiblingsRunConcurrently(t *testing.T) {
	bStarted := make(chan struct{})
	cStarted := make(chan struct{})
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		switch req.TaskID {
		case "b":
			close(bStarted)
			select {
			case <-cStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		case "c":
			close(cStarted)
			select {
			case <-bStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New("sibling never started")
			}
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-par", Name: "par", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
			{ID: "b", Capability: "analyze", Dependencies: []string{"a"}, DependencyType: workflow.DependencyParallel},
			{ID: "c", Capability: "analyze", Dependencies: []string{"a"}, DependencyType: workflow.DependencyParallel},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-par", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
}

func TestExecuteWorkflowSequentialSiblingsRunInDeclarationOrder(t *testing.T) {
	var running atomic.Int32
	var overlapped atomic.Bool
	var order []string
	var mu sync.Mutex

	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		if req.TaskID != "a" {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			mu.Lock()
			order = append(order, req.TaskID)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-seq", Name: "seq", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
			{ID: "b", Capability: "analyze", Dependencies: []string{"a"}, DependencyType: workflow.DependencySequential},
			{ID: "c", Capability: "analyze", Dependencies: []string{"a"}, DependencyType: workflow.DependencySequential},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-seq", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.False(t, overlapped.Load(), "sequential siblings ran concurrently")
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestExecuteWorkflowSequentialSiblingWaitsOnlyWhenRunnable(t *testing.T) {
	// "a" is declared before "b" and shares predecessor "x" with it, but
	// also depends on "y", which in turn depends on "b". Holding "b" back
	// for the earlier-declared "a" would deadlock this acyclic graph.
	var order []string
	var mu sync.Mutex
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		mu.Lock()
		order = append(order, req.TaskID)
		mu.Unlock()
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-seq-chain", Name: "seq-chain", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "x", Capability: "analyze"},
			{ID: "a", Capability: "analyze", Dependencies: []string{"x", "y"}, DependencyType: workflow.DependencySequential},
			{ID: "b", Capability: "analyze", Dependencies: []string{"x"}, DependencyType: workflow.DependencySequential},
			{ID: "y", Capability: "analyze", Dependencies: []string{"b"}},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-seq-chain", nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.ElementsMatch(t, []string{"x", "a", "b", "y"}, exec.CompletedTasks)
	assert.Equal(t, []string{"x", "b", "y", "a"}, order)
}

func TestExecuteWorkflowReplayReturnsTerminalExecution(t *testing.T) {
	var calls atomic.Int32
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		calls.Add(1)
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	first, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", nil, WithExecutionID("exec-1"))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, first.Status)
	require.Equal(t, int32(3), calls.Load())

	second, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", nil, WithExecutionID("exec-1"))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, second.Status)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(3), calls.Load(), "terminal replay must not reinvoke agents")
}

func TestExecuteWorkflowResumesFromCheckpoint(t *testing.T) {
	var invoked []string
	var mu sync.Mutex
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		mu.Lock()
		invoked = append(invoked, req.TaskID)
		mu.Unlock()
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	// Simulate a crash after task a: a running execution record plus a
	// checkpoint that already covers a.
	ctx := context.Background()
	require.NoError(t, h.executions.Create(ctx, &workflow.Execution{
		ID:         "exec-resume",
		WorkflowID: "wf-chain",
		Status:     workflow.StatusRunning,
		StartTime:  time.Now(),
	}))
	require.NoError(t, h.checkpoints.Save(ctx, "exec-resume", 1, map[string]any{
		"completed": []string{"a"},
		"failed":    []string{},
		"outputs":   map[string]map[string]any{"a": {"from": "a"}},
	}))

	exec, err := h.engine.ExecuteWorkflow(ctx, "wf-chain", nil, WithExecutionID("exec-resume"))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, []string{"b", "c"}, invoked, "completed task must not rerun after resume")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.CompletedTasks)
}

func TestCancelExecutionStopsDispatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.InvokeFunc = func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &agent.Response{Output: map[string]any{}}, nil
	}

	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	done := make(chan *workflow.Execution, 1)
	go func() {
		exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", nil, WithExecutionID("exec-cancel"))
		if err == nil {
			done <- exec
		}
		close(done)
	}()

	<-started
	require.NoError(t, h.engine.CancelExecution(context.Background(), "exec-cancel"))
	close(release)

	select {
	case exec := <-done:
		require.NotNil(t, exec)
		assert.Equal(t, workflow.StatusCancelled, exec.Status)
		// Task a was already in flight and ran to completion; b and c
		// were never dispatched.
		assert.Equal(t, []string{"a"}, exec.CompletedTasks)
		assert.Nil(t, exec.Result("b"))
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after cancellation")
	}
}

func TestCancelExecutionRejectsTerminal(t *testing.T) {
	mock := agent.NewMockAgent("agent-1", "analyze")
	h := newTestHarness(t, mock)
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), chainDefinition(workflow.FailFast)))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-chain", nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, exec.Status)

	err = h.engine.CancelExecution(context.Background(), exec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cancel")
}

func TestExecuteWorkflowPinnedAgent(t *testing.T) {
	preferred := agent.NewMockAgent("agent-pin", "analyze")
	other := agent.NewMockAgent("agent-other", "analyze")

	h := newTestHarness(t, preferred, other)
	def := &workflow.Definition{
		ID: "wf-pin", Name: "pin", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze", AgentID: "agent-pin"},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-pin", nil)
	require.NoError(t, err)
	require.NotNil(t, exec.Result("a"))
	assert.Equal(t, "agent-pin", exec.Result("a").AgentID)
}

func TestCreateWorkflowRejectsCycle(t *testing.T) {
	h := newTestHarness(t, agent.NewMockAgent("agent-1", "analyze"))
	def := &workflow.Definition{
		ID: "wf-cycle", Name: "cycle", Version: "1",
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze", Dependencies: []string{"b"}},
			{ID: "b", Capability: "analyze", Dependencies: []string{"a"}},
		},
	}
	err := h.engine.CreateWorkflow(context.Background(), def)
	require.Error(t, err)
	var cycleErr *workflow.CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestExecuteWorkflowUnknownDefinition(t *testing.T) {
	h := newTestHarness(t, agent.NewMockAgent("agent-1", "analyze"))
	_, err := h.engine.ExecuteWorkflow(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestExecuteWorkflowNoAgentAvailable(t *testing.T) {
	h := newTestHarness(t, agent.NewMockAgent("agent-1", "analyze"))
	def := &workflow.Definition{
		ID: "wf-cap", Name: "cap", Version: "1",
		FailurePolicy: workflow.FailFast,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "translate"},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-cap", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, exec.Status)
	require.NotNil(t, exec.Result("a"))
	assert.Contains(t, exec.Result("a").Error, "translate")
}

func TestExecuteWorkflowDefinitionTimeout(t *testing.T) {
	mock := agent.NewMockAgent("agent-1", "analyze")
	mock.Delay = time.Second

	h := newTestHarness(t, mock)
	def := &workflow.Definition{
		ID: "wf-timeout", Name: "timeout", Version: "1",
		FailurePolicy: workflow.FailFast,
		Timeout:       50 * time.Millisecond,
		Tasks: []workflow.TaskDefinition{
			{ID: "a", Capability: "analyze"},
		},
	}
	require.NoError(t, h.engine.CreateWorkflow(context.Background(), def))

	start := time.Now()
	exec, err := h.engine.ExecuteWorkflow(context.Background(), "wf-timeout", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, exec.Status)
	assert.Less(t, time.Since(start), time.Second, fmt.Sprintf("timeout was not enforced, took %s", time.Since(start)))
}
