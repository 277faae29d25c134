package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/congrega/flows/pkg/queue"
	queuememory "github.com/congrega/flows/pkg/queue/memory"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFunc func(ctx context.Context, job *queue.Job) error

func (f processorFunc) Process(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

func TestPool_ProcessesAndAcknowledgesJobs(t *testing.T) {
	q := queuememory.NewQueue(clockwork.NewRealClock())

	var (
		mu   sync.Mutex
		seen []string
	)

	done := make(chan struct{})

	pool := workflow.NewPool(testutil.Logger(), q, processorFunc(func(_ context.Context, job *queue.Job) error {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, job.ExecutionID)
		if len(seen) == 3 {
			close(done)
		}

		return nil
	}), 2)

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Enqueue(context.Background(), &queue.Job{ID: "job-" + id, ExecutionID: id, FromStep: 1, RunAt: time.Now()}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() { result <- pool.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not processed")
	}

	cancel()
	require.NoError(t, <-result)

	mu.Lock()
	defer mu.Unlock()

	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, seen)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Requeue())
}

func TestPool_FailedJobIsRedelivered(t *testing.T) {
	q := queuememory.NewQueue(clockwork.NewRealClock())
	done := make(chan struct{})

	var (
		mu       sync.Mutex
		attempts []int
	)

	pool := workflow.NewPool(testutil.Logger(), q, processorFunc(func(_ context.Context, job *queue.Job) error {
		mu.Lock()
		defer mu.Unlock()

		attempts = append(attempts, job.Redeliveries)
		if len(attempts) == 1 {
			return errors.New("database unavailable")
		}

		close(done)

		return nil
	}), 1, workflow.WithRetryBackoff(10*time.Millisecond, 50*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), &queue.Job{ID: "job-1", ExecutionID: "e1", FromStep: 1, RunAt: time.Now()}))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() { result <- pool.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("failed job was not delivered again")
	}

	cancel()
	require.NoError(t, <-result)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []int{0, 1}, attempts)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Requeue())
}

func TestPool_RetryDelayGrowsUpToTheCap(t *testing.T) {
	q := queuememory.NewQueue(clockwork.NewRealClock())
	released := make(chan struct{})

	var once sync.Once

	pool := workflow.NewPool(testutil.Logger(), q, processorFunc(func(context.Context, *queue.Job) error {
		once.Do(func() { close(released) })

		return errors.New("database unavailable")
	}), 1, workflow.WithRetryBackoff(time.Hour, 2*time.Hour))

	enqueuedAt := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), &queue.Job{
		ID: "job-1", ExecutionID: "e1", FromStep: 1, RunAt: enqueuedAt, Redeliveries: 5,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() { result <- pool.Run(ctx) }()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not attempted")
	}

	require.Eventually(t, func() bool { return q.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-result)

	job := q.Jobs()[0]
	assert.Equal(t, 6, job.Redeliveries)
	assert.True(t, job.RunAt.After(enqueuedAt.Add(time.Hour)))
	assert.False(t, job.RunAt.After(time.Now().Add(3*time.Hour)))
}

func TestPool_StopsWhenQueueCloses(t *testing.T) {
	q := queuememory.NewQueue(clockwork.NewRealClock())
	pool := workflow.NewPool(testutil.Logger(), q, processorFunc(func(context.Context, *queue.Job) error {
		return nil
	}), 3)

	result := make(chan error, 1)

	go func() { result <- pool.Run(context.Background()) }()

	require.NoError(t, q.Close())

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}
