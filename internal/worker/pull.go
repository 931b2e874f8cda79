package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// pullBackoff is the pause after a broker pull error before polling again.
const pullBackoff = 2 * time.Second

// Puller polls the broker and runs messages through the processing core with
// bounded concurrency. Acks terminal outcomes, nacks transient failures.
type Puller struct {
	broker    Broker
	processor *Processor
	logger    *zap.SugaredLogger

	maxConcurrent int64
	sem           *semaphore.Weighted
}

func NewPuller(broker Broker, processor *Processor, logger *zap.SugaredLogger, maxConcurrent int) *Puller {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Puller{
		broker:        broker,
		processor:     processor,
		logger:        logger,
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Run consumes until ctx is cancelled, then drains in-flight messages.
func (p *Puller) Run(ctx context.Context) error {
	p.logger.Infow("Pull consumer started", "max_concurrent", p.maxConcurrent)

	for ctx.Err() == nil {
		msgs, err := p.broker.Pull(ctx, int(p.maxConcurrent))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warnw("Broker pull failed", "error", err)
			select {
			case <-time.After(pullBackoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range msgs {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				// Shutting down; put the message back.
				p.nack(msg)
				continue
			}
			go func(msg *Message) {
				defer p.sem.Release(1)
				p.handle(ctx, msg)
			}(msg)
		}
	}

	// Wait for in-flight handlers regardless of ctx state.
	if err := p.sem.Acquire(context.Background(), p.maxConcurrent); err != nil {
		return err
	}
	p.sem.Release(p.maxConcurrent)
	p.logger.Infow("Pull consumer stopped")
	return nil
}

func (p *Puller) handle(ctx context.Context, msg *Message) {
	_, err := p.processor.Process(ctx, msg)
	if err != nil {
		p.nack(msg)
		return
	}
	if aerr := p.broker.Ack(context.Background(), msg.ID); aerr != nil {
		p.logger.Warnw("Ack failed", "message_id", msg.ID, "error", aerr)
	}
}

func (p *Puller) nack(msg *Message) {
	if nerr := p.broker.Nack(context.Background(), msg.ID); nerr != nil {
		p.logger.Warnw("Nack failed", "message_id", msg.ID, "error", nerr)
	}
}
