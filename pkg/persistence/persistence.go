// Package persistence provides the data storage abstraction for workflow templates,
// their executions and standing schedule triggers.
package persistence

import (
	"context"
	"time"

	"github.com/congrega/flows/pkg/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	Templates() TemplateRepository
	Executions() ExecutionRepository
	Triggers() TriggerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateFilter narrows template listings. Zero values match everything except
// DELETED templates, which are only returned when Status asks for them.
type TemplateFilter struct {
	Scope         models.Scope
	LifecycleType models.LifecycleType
	Status        models.TemplateStatus
	TriggerKind   models.TriggerKind
	Search        string
	Limit         int
	Offset        int
}

// TemplateRepository stores templates together with their ordered actions.
type TemplateRepository interface {
	// Save inserts or replaces a template; its action set is replaced wholesale.
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context, filter TemplateFilter) ([]*models.WorkflowTemplate, error)
	// ActiveByTrigger returns ACTIVE templates of the kind that apply to a target in scope:
	// same tenant, and either tenant-wide or bound to the scope's sub-tenant.
	ActiveByTrigger(ctx context.Context, scope models.Scope, kind models.TriggerKind) ([]*models.WorkflowTemplate, error)
	CountByStatus(ctx context.Context, scope models.Scope) (map[models.TemplateStatus]int, error)
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	Scope      models.Scope
	TemplateID string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionRepository stores workflow executions and their per-action records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)
	// Update persists execution when its stored status is one of expected (any status when
	// expected is empty). A mismatch returns ErrStatusConflict and writes nothing.
	Update(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error
	CountByStatus(ctx context.Context, scope models.Scope) (map[models.ExecutionStatus]int, error)

	SaveActionExecution(ctx context.Context, action *models.ActionExecution) error
	ActionExecution(ctx context.Context, executionID, actionID string) (*models.ActionExecution, error)
	// ActionExecutions returns the action records of an execution ordered by step.
	ActionExecutions(ctx context.Context, executionID string) ([]*models.ActionExecution, error)
	DeleteActionExecutions(ctx context.Context, executionID string) error
}

// TriggerRepository stores the standing schedule registrations of templates.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.WorkflowTrigger) error
	ByTemplate(ctx context.Context, templateID string) (*models.WorkflowTrigger, error)
	// Due returns active triggers whose next run is at or before now.
	Due(ctx context.Context, now time.Time) ([]*models.WorkflowTrigger, error)
	DeactivateByTemplate(ctx context.Context, templateID string) error
}

// NormalizeLimit clamps a page size to the supported range.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	if limit > MaxListLimit {
		return MaxListLimit
	}

	return limit
}

// StatusExpected reports whether status satisfies a compare-and-set expectation list.
func StatusExpected(status models.ExecutionStatus, expected []models.ExecutionStatus) bool {
	if len(expected) == 0 {
		return true
	}

	for _, candidate := range expected {
		if candidate == status {
			return true
		}
	}

	return false
}
