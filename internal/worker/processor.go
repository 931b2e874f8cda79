package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/patchflow/worker/internal/engine"
	"github.com/patchflow/worker/internal/event"
	"github.com/patchflow/worker/internal/idempotency"
	"github.com/patchflow/worker/internal/lock"
	"github.com/patchflow/worker/internal/workflow"
)

// Terminal outcomes reported to the broker caller. All of them mean "do not
// redeliver"; transient failures are reported as errors instead.
const (
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Result is the terminal outcome of processing one message.
type Result struct {
	Status string         `json:"status"`
	RunID  string         `json:"run_id,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Handler executes a non-workflow job type. Errors wrapped with Transient
// trigger redelivery; anything else is recorded as a terminal failure.
type Handler func(ctx context.Context, job *Job) (map[string]any, error)

// ProcessorOptions tunes the processing core.
type ProcessorOptions struct {
	// KeyTTL bounds how long an idempotency record absorbs duplicates.
	KeyTTL time.Duration
	// LockTTL must exceed the longest expected job so a live holder is
	// never preempted, yet stay small enough that a crashed holder's lock
	// is reclaimed quickly.
	LockTTL time.Duration
	// JobTimeout caps a single execution attempt.
	JobTimeout time.Duration
}

// Processor is the shared core of push and pull consumption. Process turns
// one at-least-once delivery into at-most-one execution side effect.
type Processor struct {
	store    idempotency.Store
	locks    lock.Manager
	engine   *engine.Engine
	bus      *event.Bus
	metrics  *Metrics
	logger   *zap.SugaredLogger
	handlers map[string]Handler

	keyTTL     time.Duration
	lockTTL    time.Duration
	jobTimeout time.Duration

	inFlight atomic.Int64
}

func NewProcessor(
	store idempotency.Store,
	locks lock.Manager,
	eng *engine.Engine,
	bus *event.Bus,
	metrics *Metrics,
	logger *zap.SugaredLogger,
	opts ProcessorOptions,
) *Processor {
	if opts.KeyTTL <= 0 {
		opts.KeyTTL = idempotency.DefaultTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = lock.DefaultTTL
	}
	return &Processor{
		store:      store,
		locks:      locks,
		engine:     eng,
		bus:        bus,
		metrics:    metrics,
		logger:     logger,
		handlers:   make(map[string]Handler),
		keyTTL:     opts.KeyTTL,
		lockTTL:    opts.LockTTL,
		jobTimeout: opts.JobTimeout,
	}
}

// RegisterHandler wires a handler for a custom job type. Workflow jobs are
// built in.
func (p *Processor) RegisterHandler(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// InFlight reports how many messages are currently being processed.
func (p *Processor) InFlight() int64 {
	return p.inFlight.Load()
}

// Process runs one message through the full path: idempotency check-and-set,
// distributed lock, execution, terminal record, in that order. A nil error
// means the outcome is terminal and the message must be acked; a non-nil
// error is always transient and the message must be redelivered.
func (p *Processor) Process(ctx context.Context, msg *Message) (*Result, error) {
	start := time.Now()
	p.inFlight.Add(1)
	p.metrics.jobsInFlight.Inc()
	defer func() {
		p.inFlight.Add(-1)
		p.metrics.jobsInFlight.Dec()
		p.metrics.jobDuration.Observe(time.Since(start).Seconds())
	}()

	job, err := DecodeJob(msg)
	if err != nil {
		return p.reject(msg, err), nil
	}
	key, err := job.IdempotencyKey()
	if err != nil {
		return p.reject(msg, err), nil
	}
	keyHash := idempotency.HashKey(key)
	payloadHash := idempotency.HashKey(string(msg.Data))

	rec, isNew, err := p.store.CheckAndSet(ctx, key, job.TenantID, p.keyTTL, payloadHash)
	if err != nil {
		if errors.Is(err, idempotency.ErrConflict) {
			p.logger.Warnw("Payload conflict for idempotency key",
				"message_id", msg.ID,
				"key", key,
			)
			return p.reject(msg, err), nil
		}
		return nil, Transient(fmt.Errorf("check and set: %w", err))
	}

	if !isNew && rec.Terminal() {
		return p.absorbed(msg, key, rec), nil
	}
	// A pending record with the lock still held is a live concurrent
	// attempt; with the lock free, the prior attempt died and this
	// delivery takes over and resumes.

	token, err := p.locks.Acquire(ctx, keyHash, p.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return nil, Transient(fmt.Errorf("job in flight: %s", key))
		}
		return nil, Transient(fmt.Errorf("acquire lock: %w", err))
	}
	stopRenewal := p.renewLock(keyHash, token)
	defer func() {
		stopRenewal()
		if rerr := p.locks.Release(context.WithoutCancel(ctx), keyHash, token); rerr != nil {
			// TTL expiry reclaims it.
			p.logger.Warnw("Failed to release lock", "key", key, "error", rerr)
		}
	}()

	// Re-read under the lock: the earlier holder may have reached a
	// terminal record between our check-and-set and our acquire.
	if !isNew {
		if cur, gerr := p.store.Get(ctx, key); gerr == nil && cur.Terminal() {
			return p.absorbed(msg, key, cur), nil
		}
	}

	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	output, runID, err := p.execute(jobCtx, job, keyHash)
	if err != nil {
		if IsTransient(err) {
			// Record stays pending; the next delivery resumes.
			p.logger.Warnw("Transient job failure",
				"message_id", msg.ID,
				"key", key,
				"error", err,
			)
			return nil, err
		}
		if ferr := p.store.Fail(ctx, keyHash, err.Error()); ferr != nil {
			if errors.Is(ferr, idempotency.ErrTerminal) {
				// Another attempt already settled this key; its outcome
				// stands.
				if cur, gerr := p.store.Get(ctx, key); gerr == nil {
					return p.absorbed(msg, key, cur), nil
				}
			}
			return nil, Transient(fmt.Errorf("record failure: %w", ferr))
		}
		p.metrics.jobsProcessed.WithLabelValues(OutcomeFailed).Inc()
		p.logger.Infow("Job failed terminally",
			"message_id", msg.ID,
			"key", key,
			"run_id", runID,
			"error", err,
		)
		return &Result{Status: OutcomeFailed, RunID: runID, Error: err.Error()}, nil
	}

	if cerr := p.store.Complete(ctx, keyHash, runID, output); cerr != nil {
		if errors.Is(cerr, idempotency.ErrTerminal) {
			if cur, gerr := p.store.Get(ctx, key); gerr == nil {
				return p.absorbed(msg, key, cur), nil
			}
		}
		// The side effect is done; a redelivery will replay the terminal
		// execution and retry this record transition.
		return nil, Transient(fmt.Errorf("record completion: %w", cerr))
	}

	p.metrics.jobsProcessed.WithLabelValues(OutcomeCompleted).Inc()
	p.logger.Infow("Job completed",
		"message_id", msg.ID,
		"key", key,
		"run_id", runID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Status: OutcomeCompleted, RunID: runID, Output: output}, nil
}

// execute dispatches the job to the engine or a registered handler.
func (p *Processor) execute(ctx context.Context, job *Job, keyHash string) (map[string]any, string, error) {
	if job.Type == JobTypeWorkflow {
		return p.executeWorkflow(ctx, job, keyHash)
	}
	h, ok := p.handlers[job.Type]
	if !ok {
		return nil, "", fmt.Errorf("unknown job type: %s", job.Type)
	}
	out, err := h(ctx, job)
	return out, "", err
}

// executeWorkflow runs the job's workflow under a deterministic execution id
// derived from the idempotency key, so redeliveries resume instead of
// starting over.
func (p *Processor) executeWorkflow(ctx context.Context, job *Job, keyHash string) (map[string]any, string, error) {
	if job.WorkflowID == "" {
		return nil, "", fmt.Errorf("workflow job missing workflow_id")
	}

	exec, err := p.engine.ExecuteWorkflow(ctx, job.WorkflowID, job.Input, engine.WithExecutionID(keyHash))
	if err != nil {
		if workflow.IsValidationError(err) || errors.Is(err, workflow.ErrNotFound) {
			return nil, "", err
		}
		return nil, "", Transient(err)
	}

	output := map[string]any{
		"execution_id":    exec.ID,
		"status":          exec.Status,
		"completed_tasks": exec.CompletedTasks,
		"failed_tasks":    exec.FailedTasks,
	}
	outputs := make(map[string]any)
	for i := range exec.TaskResults {
		res := &exec.TaskResults[i]
		if res.Output != nil {
			outputs[res.TaskID] = res.Output
		}
	}
	if len(outputs) > 0 {
		output["outputs"] = outputs
	}

	if exec.Status != workflow.StatusCompleted {
		return output, exec.ID, fmt.Errorf("execution %s ended %s", exec.ID, exec.Status)
	}
	return output, exec.ID, nil
}

// absorbed answers a redelivery from the stored terminal record without
// re-executing.
func (p *Processor) absorbed(msg *Message, key string, rec *idempotency.Record) *Result {
	p.metrics.duplicates.Inc()
	p.metrics.jobsProcessed.WithLabelValues(OutcomeDuplicate).Inc()
	p.logger.Infow("Duplicate delivery absorbed",
		"message_id", msg.ID,
		"key", key,
		"record_status", rec.Status,
	)
	p.bus.Publish(&event.Event{
		Type:        event.JobAbsorbed,
		ExecutionID: rec.RunID,
		Data:        map[string]any{"message_id": msg.ID, "key": key},
	})
	if rec.Status == idempotency.StatusFailed {
		return &Result{Status: OutcomeFailed, RunID: rec.RunID, Error: rec.Error}
	}
	return &Result{Status: OutcomeDuplicate, RunID: rec.RunID, Output: rec.Result}
}

func (p *Processor) reject(msg *Message, err error) *Result {
	p.metrics.jobsProcessed.WithLabelValues(OutcomeRejected).Inc()
	p.logger.Warnw("Rejected malformed job", "message_id", msg.ID, "error", err)
	return &Result{Status: OutcomeRejected, Error: err.Error()}
}

// renewLock keeps the lease alive for jobs that outlast the lock TTL. The
// returned stop function must be called before release.
func (p *Processor) renewLock(resource, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	interval := p.lockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				err := p.locks.Renew(ctx, resource, token, p.lockTTL)
				cancel()
				if err != nil {
					p.logger.Warnw("Lock renewal failed", "resource", resource, "error", err)
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}
