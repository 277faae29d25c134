package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/congrega/flows/pkg/queue"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	dequeueRetryDelay       = time.Second
	defaultRetryInterval    = time.Second
	defaultMaxRetryInterval = 5 * time.Minute
)

// Processor advances the execution a job belongs to.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Pool drains the queue with a fixed number of worker slots. Each slot handles one job
// at a time; actions of one execution therefore never run in parallel. A job whose
// processing fails is released back to the queue with exponential backoff.
type Pool struct {
	logger           *slog.Logger
	queue            queue.Queue
	processor        Processor
	size             int
	clock            clockwork.Clock
	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRetryBackoff bounds the delay before a failed job is delivered again.
func WithRetryBackoff(initial, maxInterval time.Duration) PoolOption {
	return func(p *Pool) {
		p.retryInterval = initial
		p.maxRetryInterval = maxInterval
	}
}

func NewPool(logger *slog.Logger, q queue.Queue, processor Processor, size int, opts ...PoolOption) *Pool {
	p := &Pool{
		logger:           logger.With("module", "worker_pool"),
		queue:            q,
		processor:        processor,
		size:             max(size, 1),
		clock:            clockwork.NewRealClock(),
		retryInterval:    defaultRetryInterval,
		maxRetryInterval: defaultMaxRetryInterval,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run blocks until ctx is done or the queue is closed. A job in flight when ctx ends is
// finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting workers", "slots", p.size)

	g, ctx := errgroup.WithContext(ctx)

	for slot := range p.size {
		g.Go(func() error {
			return p.work(ctx, slot)
		})
	}

	err := g.Wait()

	p.logger.InfoContext(ctx, "Workers stopped")

	return err
}

func (p *Pool) work(ctx context.Context, slot int) error {
	logger := p.logger.With("slot", slot)

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}

			logger.ErrorContext(ctx, "Failed to dequeue job", "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-p.clock.After(dequeueRetryDelay):
			}

			continue
		}

		jobCtx := context.WithoutCancel(ctx)

		if err := p.processor.Process(jobCtx, job); err != nil {
			delay := p.retryDelay(job.Redeliveries)

			logger.ErrorContext(jobCtx, "Failed to process job, releasing it for redelivery",
				"job_id", job.ID, "execution_id", job.ExecutionID, "redeliveries", job.Redeliveries,
				"retry_in", delay, "error", err)

			if err := p.queue.Release(jobCtx, job, p.clock.Now().Add(delay)); err != nil {
				logger.ErrorContext(jobCtx, "Failed to release job", "job_id", job.ID, "error", err)
			}

			continue
		}

		if err := p.queue.Ack(jobCtx, job); err != nil {
			logger.ErrorContext(jobCtx, "Failed to acknowledge job", "job_id", job.ID, "error", err)
		}
	}
}

// retryDelay is the backoff interval for a job released redeliveries times before.
func (p *Pool) retryDelay(redeliveries int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	b.MaxInterval = p.maxRetryInterval

	delay := b.NextBackOff()
	for range redeliveries {
		delay = b.NextBackOff()
	}

	return delay
}
