package worker

import (
	"context"
	"fmt"
	"sync"
)

// Broker is the pull-mode message source. Pull blocks until at least one
// message is available or the context ends. A message stays outstanding
// until it is acked (done) or nacked (requeued for redelivery).
type Broker interface {
	Pull(ctx context.Context, max int) ([]*Message, error)
	Ack(ctx context.Context, messageID string) error
	Nack(ctx context.Context, messageID string) error
}

// MemoryBroker is an in-process queue with at-least-once semantics for tests
// and local development. Nacked messages are redelivered.
type MemoryBroker struct {
	mu      sync.Mutex
	queue   chan *Message
	pending map[string]*Message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queue:   make(chan *Message, 1024),
		pending: make(map[string]*Message),
	}
}

// Publish enqueues a message for delivery.
func (b *MemoryBroker) Publish(msg *Message) {
	b.queue <- msg
}

func (b *MemoryBroker) Pull(ctx context.Context, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}

	var first *Message
	select {
	case first = <-b.queue:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	msgs := []*Message{first}
	for len(msgs) < max {
		select {
		case m := <-b.queue:
			msgs = append(msgs, m)
		default:
			b.track(msgs)
			return msgs, nil
		}
	}
	b.track(msgs)
	return msgs, nil
}

func (b *MemoryBroker) track(msgs []*Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.pending[m.ID] = m
	}
}

func (b *MemoryBroker) Ack(_ context.Context, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[messageID]; !ok {
		return fmt.Errorf("ack unknown message: %s", messageID)
	}
	delete(b.pending, messageID)
	return nil
}

func (b *MemoryBroker) Nack(_ context.Context, messageID string) error {
	b.mu.Lock()
	msg, ok := b.pending[messageID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("nack unknown message: %s", messageID)
	}
	delete(b.pending, messageID)
	b.mu.Unlock()

	b.queue <- msg
	return nil
}

// Outstanding reports how many pulled messages are neither acked nor nacked.
func (b *MemoryBroker) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
