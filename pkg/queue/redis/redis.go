// Package redis provides a durable job queue on Redis.
//
// Layout under a key prefix:
//
//	<prefix>:jobs        hash   job id -> job JSON
//	<prefix>:executions  hash   execution id -> queued job id
//	<prefix>:delayed     zset   job id scored by run time (unix ms)
//	<prefix>:ready       list   job ids due for delivery
//	<prefix>:processing  list   job ids delivered but not acknowledged
//	<prefix>:leases      zset   delivered job id scored by lease deadline (unix ms)
//
// A delivered job belongs to its consumer until the lease deadline passes; only then
// does recovery hand it to another consumer.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/congrega/flows/pkg/queue"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix       = "flows:queue"
	defaultPollInterval = time.Second
	defaultLeaseTimeout = 5 * time.Minute
	promoteBatch        = 100
)

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #due
`)

var removeScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], ARGV[1])
if not id then
	return 0
end
local removed = redis.call('ZREM', KEYS[2], id) + redis.call('LREM', KEYS[3], 0, id)
redis.call('HDEL', KEYS[1], ARGV[1])
if removed > 0 then
	redis.call('HDEL', KEYS[4], id)
end
return removed
`)

// recoverScript moves processing jobs whose lease has passed back to the ready list. A
// processing job without a lease was popped by a consumer that has not leased it yet,
// so it gets a fresh lease instead.
var recoverScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local moved = 0
for _, id in ipairs(ids) do
	local deadline = redis.call('ZSCORE', KEYS[2], id)
	if not deadline then
		redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), id)
	elseif tonumber(deadline) <= now then
		redis.call('LREM', KEYS[1], 1, id)
		redis.call('ZREM', KEYS[2], id)
		redis.call('LPUSH', KEYS[3], id)
		moved = moved + 1
	end
end
return moved
`)

var releaseScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('HSETNX', KEYS[5], ARGV[4], ARGV[1])
return 1
`)

// Queue implements queue.Queue with at-least-once delivery.
type Queue struct {
	client      redis.UniversalClient
	logger      *slog.Logger
	poll        time.Duration
	lease       time.Duration
	closed      atomic.Bool
	lastRecover atomic.Int64

	jobsKey       string
	executionsKey string
	delayedKey    string
	readyKey      string
	processingKey string
	leasesKey     string
}

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix namespaces the queue keys.
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.setKeys(prefix) }
}

// WithPollInterval bounds how late a delayed job may be promoted.
func WithPollInterval(interval time.Duration) Option {
	return func(q *Queue) { q.poll = interval }
}

// WithLeaseTimeout sets how long a delivered job stays with its consumer before it is
// handed to another one. Processing a job must finish well within it.
func WithLeaseTimeout(timeout time.Duration) Option {
	return func(q *Queue) { q.lease = timeout }
}

// NewQueue connects to the Redis URL and requeues jobs whose lease expired in a previous run.
func NewQueue(ctx context.Context, logger *slog.Logger, url string, opts ...Option) (*Queue, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewQueueWithClient(ctx, logger, redis.NewClient(options), opts...)
}

// NewQueueWithClient wraps an existing client.
func NewQueueWithClient(ctx context.Context, logger *slog.Logger, client redis.UniversalClient, opts ...Option) (*Queue, error) {
	q := &Queue{
		client: client,
		logger: logger.With("module", "redis_queue"),
		poll:   defaultPollInterval,
		lease:  defaultLeaseTimeout,
	}
	q.setKeys(DefaultPrefix)

	for _, opt := range opts {
		opt(q)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if _, err := q.recover(ctx, time.Now()); err != nil {
		return nil, err
	}

	return q, nil
}

func (q *Queue) setKeys(prefix string) {
	q.jobsKey = prefix + ":jobs"
	q.executionsKey = prefix + ":executions"
	q.delayedKey = prefix + ":delayed"
	q.readyKey = prefix + ":ready"
	q.processingKey = prefix + ":processing"
	q.leasesKey = prefix + ":leases"
}

func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if q.closed.Load() {
		return queue.ErrClosed
	}

	stored := *job
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = time.Now().UTC()
	}

	if stored.RunAt.IsZero() {
		stored.RunAt = stored.EnqueuedAt
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobsKey, stored.ID, data)
		pipe.HSet(ctx, q.executionsKey, stored.ExecutionID, stored.ID)
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(stored.RunAt.UnixMilli()), Member: stored.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// Dequeue promotes due delayed jobs and moves the oldest ready job to processing.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		if q.closed.Load() {
			return nil, queue.ErrClosed
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now()

		if q.recoverDue(now) {
			if _, err := q.recover(ctx, now); err != nil {
				return nil, err
			}
		}

		if _, err := q.promote(ctx, now); err != nil {
			return nil, err
		}

		id, err := q.client.BLMove(ctx, q.readyKey, q.processingKey, "RIGHT", "LEFT", q.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		deadline := time.Now().Add(q.lease).UnixMilli()
		if err := q.client.ZAdd(ctx, q.leasesKey, redis.Z{Score: float64(deadline), Member: id}).Err(); err != nil {
			return nil, fmt.Errorf("failed to lease job: %w", err)
		}

		job, err := q.load(ctx, id)
		if err != nil {
			return nil, err
		}

		if job == nil {
			q.logger.DebugContext(ctx, "Dropping job without payload", "job_id", id)

			_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, q.processingKey, 1, id)
				pipe.ZRem(ctx, q.leasesKey, id)

				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to drop job: %w", err)
			}

			continue
		}

		return job, nil
	}
}

func (q *Queue) promote(ctx context.Context, now time.Time) (int, error) {
	promoted, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.readyKey},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}

	return promoted, nil
}

func (q *Queue) load(ctx context.Context, id string) (*queue.Job, error) {
	data, err := q.client.HGet(ctx, q.jobsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}

	return &job, nil
}

// Ack removes a delivered job for good.
func (q *Queue) Ack(ctx context.Context, job *queue.Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, job.ID)
		pipe.ZRem(ctx, q.leasesKey, job.ID)
		pipe.HDel(ctx, q.jobsKey, job.ID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}

	// Only clear the execution index if a continuation has not replaced it.
	current, err := q.client.HGet(ctx, q.executionsKey, job.ExecutionID).Result()
	if err == nil && current == job.ID {
		q.client.HDel(ctx, q.executionsKey, job.ExecutionID)
	}

	return nil
}

// Release moves a delivered job back to the delayed set at runAt. A job whose lease was
// already recovered is left alone.
func (q *Queue) Release(ctx context.Context, job *queue.Job, runAt time.Time) error {
	released := *job
	released.RunAt = runAt
	released.Redeliveries++

	data, err := json.Marshal(&released)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = releaseScript.Run(ctx, q.client,
		[]string{q.processingKey, q.leasesKey, q.jobsKey, q.delayedKey, q.executionsKey},
		job.ID, data, strconv.FormatInt(runAt.UnixMilli(), 10), job.ExecutionID,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	return nil
}

func (q *Queue) Remove(ctx context.Context, executionID string) (bool, error) {
	removed, err := removeScript.Run(ctx, q.client,
		[]string{q.executionsKey, q.delayedKey, q.readyKey, q.jobsKey},
		executionID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove job: %w", err)
	}

	return removed > 0, nil
}

// Recover moves every job whose lease has expired back to the ready list.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	return q.recover(ctx, time.Now())
}

func (q *Queue) recover(ctx context.Context, now time.Time) (int, error) {
	q.lastRecover.Store(now.UnixMilli())

	recovered, err := recoverScript.Run(ctx, q.client,
		[]string{q.processingKey, q.leasesKey, q.readyKey},
		strconv.FormatInt(now.UnixMilli(), 10), q.lease.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}

	if recovered > 0 {
		q.logger.WarnContext(ctx, "Requeued jobs with expired leases", "count", recovered)
	}

	return recovered, nil
}

// recoverDue throttles lease recovery to a few passes per lease period.
func (q *Queue) recoverDue(now time.Time) bool {
	interval := max(q.lease/4, q.poll)

	return now.Sub(time.UnixMilli(q.lastRecover.Load())) >= interval
}

// Close stops further deliveries and closes the client.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}

	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
