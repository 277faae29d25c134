// Package memory provides an in-process job queue ordered by run time.
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/congrega/flows/pkg/queue"
	"github.com/jonboulle/clockwork"
)

// Queue is a delay-aware in-memory queue. Jobs are lost when the process exits.
type Queue struct {
	clock clockwork.Clock

	mu       sync.Mutex
	pending  jobHeap
	inflight map[string]*queue.Job
	seq      int64
	wake     chan struct{}
	closed   chan struct{}
	isClosed bool
}

// NewQueue creates a queue reading time from clock; nil means the real clock.
func NewQueue(clock clockwork.Clock) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Queue{
		clock:    clock,
		inflight: map[string]*queue.Job{},
		wake:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (q *Queue) Enqueue(_ context.Context, job *queue.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed {
		return queue.ErrClosed
	}

	stored := *job
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = q.clock.Now().UTC()
	}

	if stored.RunAt.IsZero() {
		stored.RunAt = stored.EnqueuedAt
	}

	q.seq++
	heap.Push(&q.pending, &entry{job: &stored, seq: q.seq})
	q.signal()

	return nil
}

// signal wakes every blocked Dequeue. Callers hold q.mu.
func (q *Queue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		q.mu.Lock()

		if q.isClosed {
			q.mu.Unlock()

			return nil, queue.ErrClosed
		}

		wake := q.wake

		var timer <-chan time.Time

		if q.pending.Len() > 0 {
			next := q.pending[0].job
			wait := next.RunAt.Sub(q.clock.Now())

			if wait <= 0 {
				heap.Pop(&q.pending)
				q.inflight[next.ID] = next
				q.mu.Unlock()

				job := *next

				return &job, nil
			}

			timer = q.clock.After(wait)
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, queue.ErrClosed
		case <-wake:
		case <-timer:
		}
	}
}

func (q *Queue) Ack(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, job.ID)

	return nil
}

func (q *Queue) Release(_ context.Context, job *queue.Job, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delivered, ok := q.inflight[job.ID]
	if !ok {
		return nil
	}

	delete(q.inflight, job.ID)

	if q.isClosed {
		return queue.ErrClosed
	}

	released := *delivered
	released.RunAt = runAt
	released.Redeliveries++

	q.seq++
	heap.Push(&q.pending, &entry{job: &released, seq: q.seq})
	q.signal()

	return nil
}

func (q *Queue) Remove(_ context.Context, executionID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false

	for i := 0; i < q.pending.Len(); {
		if q.pending[i].job.ExecutionID == executionID {
			heap.Remove(&q.pending, i)

			removed = true

			continue
		}

		i++
	}

	if removed {
		q.signal()
	}

	return removed, nil
}

// Requeue puts every unacknowledged job back, as a restart of a durable backend would.
func (q *Queue) Requeue() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := len(q.inflight)

	for id, job := range q.inflight {
		q.seq++
		heap.Push(&q.pending, &entry{job: job, seq: q.seq})
		delete(q.inflight, id)
	}

	if count > 0 {
		q.signal()
	}

	return count
}

// Len returns the number of jobs not yet dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Len()
}

// Jobs returns copies of the jobs not yet dequeued, in delivery order.
func (q *Queue) Jobs() []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := make(jobHeap, len(q.pending))
	copy(ordered, q.pending)

	jobs := make([]*queue.Job, 0, len(ordered))
	for ordered.Len() > 0 {
		job := *heap.Pop(&ordered).(*entry).job
		jobs = append(jobs, &job)
	}

	return jobs
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isClosed {
		q.isClosed = true
		close(q.closed)
	}

	return nil
}

type entry struct {
	job *queue.Job
	seq int64
}

type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].seq < h[j].seq
	}

	return h[i].job.RunAt.Before(h[j].job.RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
