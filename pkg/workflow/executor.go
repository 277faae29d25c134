package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/condition"
	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/otelhelper"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/queue"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ActionSource returns the handler of an action type.
type ActionSource interface {
	Action(actionType models.ActionType) (protocol.Action, error)
}

type stepOutcome int

const (
	stepDone      stepOutcome = iota // Continue with the next step
	stepSuspended                    // A continuation job owns the execution now
	stepStopped                      // Failed, cancelled or superseded
)

// Executor advances one execution per job. Delays and waits never block: the executor
// enqueues a continuation job and hands the execution over to it.
type Executor struct {
	options

	logger      *slog.Logger
	persistence persistence.Persistence
	queue       queue.Queue
	actions     ActionSource
	store       records.Store
	evaluator   *condition.Evaluator
}

func NewExecutor(
	logger *slog.Logger,
	persistence persistence.Persistence,
	q queue.Queue,
	actions ActionSource,
	store records.Store,
	evaluator *condition.Evaluator,
	opts ...Option,
) *Executor {
	return &Executor{
		options:     newOptions(opts),
		logger:      logger.With("module", "executor"),
		persistence: persistence,
		queue:       q,
		actions:     actions,
		store:       store,
		evaluator:   evaluator,
	}
}

// Process runs the steps of job. Jobs that no longer own their execution are dropped.
// Failures of actions are recorded on the execution; the returned error reports only
// infrastructure problems, after which the job should not be acknowledged.
func (e *Executor) Process(ctx context.Context, job *queue.Job) error {
	logger := e.logger.With("execution_id", job.ExecutionID, "job_id", job.ID, "from_step", job.FromStep)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.process",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.TemplateIDKey, job.TemplateID),
		attribute.String(otelhelper.TenantIDKey, job.TenantID),
	)
	defer span.End()

	execution, err := e.persistence.Executions().GetByID(ctx, job.ExecutionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.WarnContext(ctx, "Dropping job of unknown execution")

			return nil
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load execution: %w", err)
	}

	if !e.owns(execution, job) {
		logger.InfoContext(ctx, "Dropping stale job", "status", execution.Status, "current_job_id", execution.CurrentJobID)

		return nil
	}

	if execution.Status == models.ExecutionStatusPending {
		started, err := e.start(ctx, logger, execution)
		if err != nil || !started {
			return err
		}
	}

	for _, spec := range job.Actions {
		if spec.Step < job.FromStep {
			continue
		}

		delayElapsed := job.DelayElapsed && spec.Step == job.FromStep

		outcome, err := e.runStep(ctx, logger, job, execution, spec, delayElapsed)
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		if outcome != stepDone {
			return nil
		}
	}

	return e.complete(ctx, logger, execution)
}

func (e *Executor) owns(execution *models.WorkflowExecution, job *queue.Job) bool {
	return execution.Status.IsActive() && execution.CurrentJobID == job.ID
}

func (e *Executor) start(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) (bool, error) {
	now := e.clock.Now().UTC()
	execution.Status = models.ExecutionStatusRunning

	if execution.StartedAt == nil {
		execution.StartedAt = &now
	}

	if err := e.persistence.Executions().Update(ctx, execution, models.ExecutionStatusPending); err != nil {
		if persistence.IsStatusConflict(err) {
			logger.InfoContext(ctx, "Execution changed before start, dropping job")

			return false, nil
		}

		return false, fmt.Errorf("failed to start execution: %w", err)
	}

	logger.InfoContext(ctx, "Execution started", "attempt", execution.Attempt)
	e.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionStartedEvent, execution))

	return true, nil
}

func (e *Executor) runStep(
	ctx context.Context,
	logger *slog.Logger,
	job *queue.Job,
	execution *models.WorkflowExecution,
	spec *models.ActionSpec,
	delayElapsed bool,
) (stepOutcome, error) {
	logger = logger.With("step", spec.Step, "action_id", spec.ID, "action_type", spec.Type)

	current, err := e.persistence.Executions().GetByID(ctx, execution.ID)
	if err != nil {
		return stepStopped, fmt.Errorf("failed to reload execution: %w", err)
	}

	if current.Status != models.ExecutionStatusRunning || current.CurrentJobID != job.ID {
		logger.InfoContext(ctx, "Execution no longer runnable, stopping", "status", current.Status)

		return stepStopped, nil
	}

	*execution = *current

	action, err := e.actionExecution(ctx, execution.ID, spec)
	if err != nil {
		return stepStopped, err
	}

	if action.Status == models.ExecutionStatusCompleted {
		logger.DebugContext(ctx, "Step already completed, skipping")

		return stepDone, nil
	}

	now := e.clock.Now().UTC()

	if spec.DelayBeforeMinutes > 0 && !delayElapsed {
		runAt := now.Add(spec.Delay())
		action.Result = map[string]any{"deferred_until": runAt.Format(time.RFC3339)}

		if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
			return stepStopped, fmt.Errorf("failed to save action execution: %w", err)
		}

		logger.InfoContext(ctx, "Deferring step", "run_at", runAt)

		return e.handOver(ctx, logger, job, execution, spec.Step, true, runAt)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.action",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.ActionIDKey, spec.ID),
		attribute.String(otelhelper.ActionTypeKey, string(spec.Type)),
		attribute.Int(otelhelper.StepKey, spec.Step),
	)
	defer span.End()

	target, err := records.LoadTarget(ctx, e.store, execution.Scope(), execution.TargetRecordID,
		execution.TargetEventID, targetPayload(execution))
	if err != nil {
		return e.fail(ctx, logger, span, execution, spec, action, err)
	}

	ok, err := e.evaluator.Evaluate(ctx, spec.Condition, target.Attributes(now))
	if err != nil {
		return e.fail(ctx, logger, span, execution, spec, action, fmt.Errorf("failed to evaluate condition: %w", err))
	}

	if !ok {
		action.Status = models.ExecutionStatusCompleted
		action.StartedAt = &now
		action.CompletedAt = &now
		action.Result = map[string]any{"skipped": true}

		if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
			return stepStopped, fmt.Errorf("failed to save action execution: %w", err)
		}

		logger.InfoContext(ctx, "Condition not met, step skipped")
		e.publish(ctx, logger, execution.ID, events.NewActionEvent(execution.Scope(), spec, action))

		return stepDone, nil
	}

	action.Status = models.ExecutionStatusRunning
	action.StartedAt = &now

	if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
		return stepStopped, fmt.Errorf("failed to save action execution: %w", err)
	}

	outcome, err := e.invoke(ctx, logger, &models.ExecutionContext{
		Execution:    execution,
		WorkflowName: job.TemplateName,
		Action:       spec,
		Target:       target,
		Now:          now,
	})
	if err != nil {
		return e.fail(ctx, logger, span, execution, spec, action, err)
	}

	completed := e.clock.Now().UTC()
	action.Status = models.ExecutionStatusCompleted
	action.CompletedAt = &completed
	action.Result = outcome.Result

	if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
		return stepStopped, fmt.Errorf("failed to save action execution: %w", err)
	}

	logger.InfoContext(ctx, "Step completed", "duration", completed.Sub(now))
	e.publish(ctx, logger, execution.ID, events.NewActionEvent(execution.Scope(), spec, action))

	if outcome.Defer > 0 {
		return e.handOver(ctx, logger, job, execution, spec.Step+1, false, completed.Add(outcome.Defer))
	}

	return stepDone, nil
}

// actionExecution returns the record of spec within the execution, creating it PENDING.
func (e *Executor) actionExecution(ctx context.Context, executionID string, spec *models.ActionSpec) (*models.ActionExecution, error) {
	action, err := e.persistence.Executions().ActionExecution(ctx, executionID, spec.ID)
	if err == nil {
		return action, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load action execution: %w", err)
	}

	action = &models.ActionExecution{
		ID:          newID(),
		ExecutionID: executionID,
		ActionID:    spec.ID,
		Step:        spec.Step,
		Status:      models.ExecutionStatusPending,
	}

	if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to create action execution: %w", err)
	}

	return action, nil
}

// invoke calls the handler with the configured timeout. A panicking handler fails its step.
func (e *Executor) invoke(ctx context.Context, logger *slog.Logger, execCtx *models.ExecutionContext) (outcome *protocol.Outcome, err error) {
	handler, err := e.actions.Action(execCtx.Action.Type)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("action handler panicked: %v", r)
		}
	}()

	outcome, err = handler.Execute(ctx, execCtx, logger)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("action timed out after %s: %w", e.handlerTimeout, err)
		}

		return nil, err
	}

	if outcome == nil {
		outcome = &protocol.Outcome{}
	}

	return outcome, nil
}

// handOver enqueues the continuation starting at fromStep and makes it the only job
// allowed to advance the execution. The continuation is enqueued first: if the hand over
// is lost, the continuation is dropped as stale and this job runs again.
func (e *Executor) handOver(
	ctx context.Context,
	logger *slog.Logger,
	job *queue.Job,
	execution *models.WorkflowExecution,
	fromStep int,
	delayElapsed bool,
	runAt time.Time,
) (stepOutcome, error) {
	next := job.Continuation(newID(), fromStep, delayElapsed, runAt)

	if err := e.queue.Enqueue(ctx, next); err != nil {
		return stepStopped, fmt.Errorf("failed to enqueue continuation: %w", err)
	}

	execution.CurrentJobID = next.ID

	if err := e.persistence.Executions().Update(ctx, execution, models.ExecutionStatusRunning); err != nil {
		if persistence.IsStatusConflict(err) {
			logger.InfoContext(ctx, "Execution changed while deferring, continuation will be dropped")

			return stepStopped, nil
		}

		return stepStopped, fmt.Errorf("failed to hand over execution: %w", err)
	}

	logger.DebugContext(ctx, "Continuation enqueued", "next_job_id", next.ID, "next_step", fromStep, "run_at", runAt)

	return stepSuspended, nil
}

// fail records the failed step and stops the execution.
func (e *Executor) fail(
	ctx context.Context,
	logger *slog.Logger,
	span trace.Span,
	execution *models.WorkflowExecution,
	spec *models.ActionSpec,
	action *models.ActionExecution,
	cause error,
) (stepOutcome, error) {
	cause = fmt.Errorf("%w: %w", services.ErrHandlerFailure, cause)
	otelhelper.SetError(span, cause)

	now := e.clock.Now().UTC()
	if action.StartedAt == nil {
		action.StartedAt = &now
	}

	action.Status = models.ExecutionStatusFailed
	action.CompletedAt = &now
	action.ErrorMessage = cause.Error()

	if err := e.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
		return stepStopped, fmt.Errorf("failed to save action execution: %w", err)
	}

	e.publish(ctx, logger, execution.ID, events.NewActionEvent(execution.Scope(), spec, action))

	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.ErrorMessage = fmt.Sprintf("step %d (%s) failed: %s", spec.Step, spec.Type, cause)
	execution.CurrentJobID = ""

	if err := e.persistence.Executions().Update(ctx, execution, models.ExecutionStatusRunning); err != nil {
		if persistence.IsStatusConflict(err) {
			logger.InfoContext(ctx, "Execution changed while failing step", "error", cause)

			return stepStopped, nil
		}

		return stepStopped, fmt.Errorf("failed to mark execution failed: %w", err)
	}

	logger.ErrorContext(ctx, "Step failed, execution stopped", "error", cause)
	e.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionFailedEvent, execution))

	return stepStopped, nil
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) error {
	now := e.clock.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.CurrentJobID = ""

	if err := e.persistence.Executions().Update(ctx, execution, models.ExecutionStatusRunning); err != nil {
		if persistence.IsStatusConflict(err) {
			logger.InfoContext(ctx, "Execution changed before completion")

			return nil
		}

		return fmt.Errorf("failed to complete execution: %w", err)
	}

	logger.InfoContext(ctx, "Execution completed")
	e.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionCompletedEvent, execution))

	return nil
}

// targetPayload merges the trigger payload under the explicit target payload.
func targetPayload(execution *models.WorkflowExecution) map[string]any {
	if len(execution.TriggerPayload) == 0 {
		return execution.TargetPayload
	}

	payload := make(map[string]any, len(execution.TriggerPayload)+len(execution.TargetPayload))

	for key, value := range execution.TriggerPayload {
		payload[key] = value
	}

	for key, value := range execution.TargetPayload {
		payload[key] = value
	}

	return payload
}
