package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event represents an internal lifecycle event
type Event struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// Lifecycle event types published by the engine and worker.
const (
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ExecutionCancelled = "execution.cancelled"
	TaskStarted        = "task.started"
	TaskCompleted      = "task.completed"
	TaskFailed         = "task.failed"
	TaskSkipped        = "task.skipped"
	JobAbsorbed        = "job.absorbed"
)

// Subscriber is a function that receives events
type Subscriber func(event *Event)

// Bus is an in-memory event bus publishing lifecycle events to an ordered
// list of subscribers. One failing subscriber must not abort the others, so
// each callback runs behind a recover.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber // channel → subscribers
	logger      *zap.SugaredLogger
}

// NewBus creates a new event bus
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for a channel.
// channel can be "*" for all events, or "execution:{id}" for one execution.
func (b *Bus) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
}

// Unsubscribe removes all subscribers for a channel
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channel)
}

// Publish sends an event to all matching subscribers in registration order
func (b *Bus) Publish(evt *Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.logger.Debugw("Publishing event",
		"type", evt.Type,
		"execution_id", evt.ExecutionID,
		"task_id", evt.TaskID,
	)

	for _, sub := range b.subscribers["*"] {
		b.deliver(sub, evt)
	}

	if evt.ExecutionID != "" {
		channel := "execution:" + evt.ExecutionID
		for _, sub := range b.subscribers[channel] {
			b.deliver(sub, evt)
		}
	}
}

// deliver invokes one subscriber, isolating panics so the remaining
// subscribers still run.
func (b *Bus) deliver(sub Subscriber, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Event subscriber panicked",
				"type", evt.Type,
				"panic", r,
			)
		}
	}()
	sub(evt)
}
