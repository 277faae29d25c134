// Package queue defines the at-least-once, delay-capable job queue that carries execution
// work from the orchestrator to workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/congrega/flows/pkg/models"
)

var (
	// ErrClosed is returned by Dequeue after Close.
	ErrClosed = errors.New("queue closed")
	// ErrInvalidJob is returned when a job lacks an id or execution id.
	ErrInvalidJob = errors.New("invalid job")
)

// Job asks a worker to advance one execution starting at FromStep.
// Actions is the ordered snapshot taken when the execution was created. Redeliveries
// counts how often the job was released after a failed delivery.
type Job struct {
	ID           string               `json:"id"`
	ExecutionID  string               `json:"execution_id"`
	TemplateID   string               `json:"template_id"`
	TemplateName string               `json:"template_name,omitempty"`
	TenantID     string               `json:"tenant_id"`
	SubTenantID  string               `json:"sub_tenant_id,omitempty"`
	Actions      []*models.ActionSpec `json:"actions"`
	FromStep     int                  `json:"from_step"`
	DelayElapsed bool                 `json:"delay_elapsed,omitempty"`
	RunAt        time.Time            `json:"run_at"`
	Attempt      int                  `json:"attempt"`
	Redeliveries int                  `json:"redeliveries,omitempty"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
}

// Validate checks the fields every backend relies on.
func (j *Job) Validate() error {
	if j == nil || j.ID == "" || j.ExecutionID == "" {
		return ErrInvalidJob
	}

	return nil
}

// Scope returns the tenant scope the job runs in.
func (j *Job) Scope() models.Scope {
	return models.Scope{TenantID: j.TenantID, SubTenantID: j.SubTenantID}
}

// Continuation builds the follow-up job resuming at step fromStep at runAt.
func (j *Job) Continuation(id string, fromStep int, delayElapsed bool, runAt time.Time) *Job {
	next := *j
	next.ID = id
	next.FromStep = fromStep
	next.DelayElapsed = delayElapsed
	next.RunAt = runAt
	next.Redeliveries = 0
	next.EnqueuedAt = time.Time{}

	return &next
}

// Queue delivers each job at least once, no earlier than its RunAt.
// A dequeued job that is neither acknowledged nor released is delivered again once its
// consumer is gone.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue blocks until a job is due, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Release hands a delivered job back for another delivery at runAt and counts the
	// redelivery. Releasing a job that is no longer in flight does nothing.
	Release(ctx context.Context, job *Job, runAt time.Time) error
	// Remove drops the not yet dequeued job of an execution and reports whether one existed.
	Remove(ctx context.Context, executionID string) (bool, error)
	Close() error
}
