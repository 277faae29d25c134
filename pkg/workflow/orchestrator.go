package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/queue"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/services"
)

// TriggerRequest asks for one execution of a template against a target.
type TriggerRequest struct {
	TemplateID  string           `json:"template_id"`
	Target      models.TargetRef `json:"target"`
	Payload     map[string]any   `json:"payload,omitempty"`
	TriggeredBy string           `json:"triggered_by,omitempty"`
}

// ExecutionFilter narrows execution listings within a scope.
type ExecutionFilter struct {
	TemplateID string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionDetails is an execution together with its per-action records.
type ExecutionDetails struct {
	*models.WorkflowExecution

	Actions []*models.ActionExecution `json:"actions"`
}

// Stats summarises the templates and executions of a scope.
type Stats struct {
	Templates       map[models.TemplateStatus]int  `json:"templates"`
	TotalTemplates  int                            `json:"total_templates"`
	Executions      map[models.ExecutionStatus]int `json:"executions"`
	TotalExecutions int                            `json:"total_executions"`
	// SuccessRate is the percentage of finished executions that completed, ignoring
	// cancelled ones.
	SuccessRate   float64 `json:"success_rate"`
	ActiveRecords *int    `json:"active_records,omitempty"`
}

// Orchestrator owns the WorkflowExecution lifecycle: creation, enqueueing, cancellation
// and retry. Every operation is confined to the caller's scope; executions of other
// tenants are reported as not found.
type Orchestrator struct {
	options

	logger      *slog.Logger
	persistence persistence.Persistence
	queue       queue.Queue
}

func NewOrchestrator(logger *slog.Logger, persistence persistence.Persistence, q queue.Queue, opts ...Option) *Orchestrator {
	return &Orchestrator{
		options:     newOptions(opts),
		logger:      logger.With("module", "orchestrator"),
		persistence: persistence,
		queue:       q,
	}
}

// Trigger creates a PENDING execution of an ACTIVE template and enqueues its first job.
func (o *Orchestrator) Trigger(ctx context.Context, scope models.Scope, req TriggerRequest) (*models.WorkflowExecution, error) {
	template, err := o.persistence.Templates().GetByID(ctx, req.TemplateID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, services.NewNotFoundError("trigger", "template not found", err)
		}

		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if !scope.Owns(template.TenantID, template.SubTenantID) {
		return nil, services.NewNotFoundError("trigger", "template not found", persistence.ErrTemplateNotFound)
	}

	if template.Status != models.TemplateStatusActive {
		return nil, services.NewNotFoundError("trigger", "template is not active", services.ErrTemplateNotActive)
	}

	now := o.clock.Now().UTC()

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = TriggeredByManual
	}

	execution := &models.WorkflowExecution{
		ID:             newID(),
		TemplateID:     template.ID,
		Status:         models.ExecutionStatusPending,
		TriggeredBy:    triggeredBy,
		TriggerPayload: req.Payload,
		TargetRecordID: req.Target.RecordID,
		TargetEventID:  req.Target.EventID,
		TargetPayload:  req.Target.Payload,
		TenantID:       template.TenantID,
		SubTenantID:    template.SubTenantID,
		CurrentJobID:   newID(),
		Attempt:        1,
		CreatedAt:      now,
	}

	logger := o.logger.With("execution_id", execution.ID, "template_id", template.ID, "tenant_id", execution.TenantID)

	if err := o.persistence.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if err := o.enqueue(ctx, execution, template, now); err != nil {
		o.abandon(ctx, logger, execution, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Execution created", "triggered_by", triggeredBy, "actions", len(template.Actions))
	o.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionCreatedEvent, execution))

	return execution, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, execution *models.WorkflowExecution, template *models.WorkflowTemplate, now time.Time) error {
	actions := make([]*models.ActionSpec, len(template.Actions))
	copy(actions, template.Actions)

	job := &queue.Job{
		ID:           execution.CurrentJobID,
		ExecutionID:  execution.ID,
		TemplateID:   template.ID,
		TemplateName: template.Name,
		TenantID:     execution.TenantID,
		SubTenantID:  execution.SubTenantID,
		Actions:      actions,
		FromStep:     1,
		RunAt:        now,
		Attempt:      execution.Attempt,
	}

	if err := o.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue execution: %w", err)
	}

	return nil
}

// abandon marks an execution whose job could not be enqueued as FAILED so it can be retried.
func (o *Orchestrator) abandon(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, cause error) {
	now := o.clock.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = cause.Error()
	execution.CompletedAt = &now
	execution.CurrentJobID = ""

	if err := o.persistence.Executions().Update(ctx, execution, models.ExecutionStatusPending); err != nil {
		logger.ErrorContext(ctx, "Failed to mark unqueued execution as failed", "error", err)
	}
}

// Get returns an execution of scope with its action executions.
func (o *Orchestrator) Get(ctx context.Context, scope models.Scope, id string) (*ExecutionDetails, error) {
	execution, err := o.load(ctx, "get", scope, id)
	if err != nil {
		return nil, err
	}

	actions, err := o.persistence.Executions().ActionExecutions(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load action executions: %w", err)
	}

	return &ExecutionDetails{WorkflowExecution: execution, Actions: actions}, nil
}

// List returns the executions of scope matching filter, newest first.
func (o *Orchestrator) List(ctx context.Context, scope models.Scope, filter ExecutionFilter) ([]*models.WorkflowExecution, error) {
	executions, err := o.persistence.Executions().List(ctx, persistence.ExecutionFilter{
		Scope:      scope,
		TemplateID: filter.TemplateID,
		Status:     filter.Status,
		Limit:      persistence.NormalizeLimit(filter.Limit),
		Offset:     max(filter.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Cancel moves a PENDING or RUNNING execution to CANCELLED. Work already inside a handler
// finishes; no further action starts. From any other status it returns false and an
// illegal transition error.
func (o *Orchestrator) Cancel(ctx context.Context, scope models.Scope, id string) (bool, error) {
	execution, err := o.load(ctx, "cancel", scope, id)
	if err != nil {
		return false, err
	}

	if !models.CanTransition(execution.Status, models.ExecutionStatusCancelled) {
		return false, services.NewTransitionError("cancel", execution.Status, models.ExecutionStatusCancelled)
	}

	logger := o.logger.With("execution_id", execution.ID, "from", execution.Status)

	now := o.clock.Now().UTC()
	from := execution.Status
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now
	execution.CurrentJobID = ""

	if err := o.persistence.Executions().Update(ctx, execution, models.ExecutionStatusPending, models.ExecutionStatusRunning); err != nil {
		if persistence.IsStatusConflict(err) {
			return false, services.NewTransitionError("cancel", from, models.ExecutionStatusCancelled)
		}

		return false, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if err := o.cancelPendingActions(ctx, execution.ID, now); err != nil {
		logger.WarnContext(ctx, "Failed to cancel pending actions", "error", err)
	}

	removed, err := o.queue.Remove(ctx, execution.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to remove queued job", "error", err)
	}

	logger.InfoContext(ctx, "Execution cancelled", "job_removed", removed)
	o.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionCancelledEvent, execution))

	return true, nil
}

func (o *Orchestrator) cancelPendingActions(ctx context.Context, executionID string, now time.Time) error {
	actions, err := o.persistence.Executions().ActionExecutions(ctx, executionID)
	if err != nil {
		return err
	}

	var errs []error

	for _, action := range actions {
		if action.Status != models.ExecutionStatusPending {
			continue
		}

		action.Status = models.ExecutionStatusCancelled
		action.CompletedAt = &now

		if err := o.persistence.Executions().SaveActionExecution(ctx, action); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Retry starts a new attempt of a FAILED execution from its first step. Prior action
// executions are discarded and the template's current actions are used.
func (o *Orchestrator) Retry(ctx context.Context, scope models.Scope, id string) (*models.WorkflowExecution, error) {
	execution, err := o.load(ctx, "retry", scope, id)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(execution.Status, models.ExecutionStatusPending) {
		return nil, services.NewTransitionError("retry", execution.Status, models.ExecutionStatusPending)
	}

	template, err := o.persistence.Templates().GetByID(ctx, execution.TemplateID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, services.NewNotFoundError("retry", "template not found", err)
		}

		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if template.Status == models.TemplateStatusDeleted {
		return nil, services.NewNotFoundError("retry", "template was deleted", persistence.ErrTemplateNotFound)
	}

	if err := o.persistence.Executions().DeleteActionExecutions(ctx, execution.ID); err != nil {
		return nil, fmt.Errorf("failed to delete action executions: %w", err)
	}

	logger := o.logger.With("execution_id", execution.ID, "template_id", template.ID)

	execution.Status = models.ExecutionStatusPending
	execution.StartedAt = nil
	execution.CompletedAt = nil
	execution.ErrorMessage = ""
	execution.Attempt++
	execution.CurrentJobID = newID()

	if err := o.persistence.Executions().Update(ctx, execution, models.ExecutionStatusFailed); err != nil {
		if persistence.IsStatusConflict(err) {
			return nil, services.NewTransitionError("retry", models.ExecutionStatusFailed, models.ExecutionStatusPending)
		}

		return nil, fmt.Errorf("failed to reset execution: %w", err)
	}

	if err := o.enqueue(ctx, execution, template, o.clock.Now().UTC()); err != nil {
		o.abandon(ctx, logger, execution, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Execution retried", "attempt", execution.Attempt)
	o.publish(ctx, logger, execution.ID, events.NewExecutionEvent(events.ExecutionRetriedEvent, execution))

	return execution, nil
}

// Stats counts the templates and executions of scope.
func (o *Orchestrator) Stats(ctx context.Context, scope models.Scope) (*Stats, error) {
	templates, err := o.persistence.Templates().CountByStatus(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}

	executions, err := o.persistence.Executions().CountByStatus(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	stats := &Stats{
		Templates:  maps.Clone(templates),
		Executions: maps.Clone(executions),
	}

	delete(stats.Templates, models.TemplateStatusDeleted)

	for _, count := range stats.Templates {
		stats.TotalTemplates += count
	}

	for _, count := range stats.Executions {
		stats.TotalExecutions += count
	}

	completed := executions[models.ExecutionStatusCompleted]
	if finished := completed + executions[models.ExecutionStatusFailed]; finished > 0 {
		stats.SuccessRate = math.Round(float64(completed)/float64(finished)*10000) / 100
	}

	if o.records != nil {
		count, err := o.records.CountRecords(ctx, scope, records.StatusActive)
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to count active records", "tenant_id", scope.TenantID, "error", err)
		} else {
			stats.ActiveRecords = &count
		}
	}

	return stats, nil
}

// load returns the execution when it exists and is visible from scope.
func (o *Orchestrator) load(ctx context.Context, op string, scope models.Scope, id string) (*models.WorkflowExecution, error) {
	execution, err := o.persistence.Executions().GetByID(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, services.NewNotFoundError(op, "execution not found", err)
		}

		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if !scope.Owns(execution.TenantID, execution.SubTenantID) {
		return nil, services.NewNotFoundError(op, "execution not found", persistence.ErrExecutionNotFound)
	}

	return execution, nil
}
