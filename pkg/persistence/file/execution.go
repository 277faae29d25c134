package file

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) executionPath(id string) string {
	return r.store.path(executionsDir, id+".json")
}

// Create writes a new execution document.
func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := validateID(execution.ID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return writeJSON(r.executionPath(execution.ID), execution)
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.read(id)
}

func (r *ExecutionRepository) read(id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	if err := readJSON(r.executionPath(id), &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

// Update overwrites the execution when the stored status is expected.
func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, err := r.read(execution.ID)
	if err != nil {
		return err
	}

	if !persistence.StatusExpected(current.Status, expected) {
		return persistence.NewExecutionError("Update", execution.ID,
			fmt.Errorf("%w: stored status is %s", persistence.ErrStatusConflict, current.Status))
	}

	execution.UpdatedAt = time.Now().UTC()

	return writeJSON(r.executionPath(execution.ID), execution)
}

func (r *ExecutionRepository) all() ([]*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := readDir[models.WorkflowExecution](r.store.path(executionsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return executions, nil
}

// List returns executions matching filter, newest first.
func (r *ExecutionRepository) List(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	executions, err := r.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowExecution, 0, len(executions))

	for _, execution := range executions {
		if !filter.Scope.Owns(execution.TenantID, execution.SubTenantID) {
			continue
		}

		if filter.TemplateID != "" && execution.TemplateID != filter.TemplateID {
			continue
		}

		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}

		matched = append(matched, execution)
	}

	return page(matched, filter.Limit, filter.Offset), nil
}

// CountByStatus counts the executions visible from scope per status.
func (r *ExecutionRepository) CountByStatus(_ context.Context, scope models.Scope) (map[models.ExecutionStatus]int, error) {
	executions, err := r.all()
	if err != nil {
		return nil, err
	}

	counts := map[models.ExecutionStatus]int{}

	for _, execution := range executions {
		if scope.Owns(execution.TenantID, execution.SubTenantID) {
			counts[execution.Status]++
		}
	}

	return counts, nil
}

// SaveActionExecution writes the action record keyed by execution and action.
func (r *ExecutionRepository) SaveActionExecution(_ context.Context, action *models.ActionExecution) error {
	if err := validateID(action.ExecutionID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	if err := validateID(action.ActionID); err != nil {
		return fmt.Errorf("invalid action ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return writeJSON(r.store.path(actionExecutionsDir, action.ExecutionID, action.ActionID+".json"), action)
}

// ActionExecution returns the record of one action within an execution.
func (r *ExecutionRepository) ActionExecution(_ context.Context, executionID, actionID string) (*models.ActionExecution, error) {
	if validateID(executionID) != nil || validateID(actionID) != nil {
		return nil, persistence.ErrActionExecutionNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var action models.ActionExecution

	err := readJSON(r.store.path(actionExecutionsDir, executionID, actionID+".json"), &action, persistence.ErrActionExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &action, nil
}

// ActionExecutions returns the action records of an execution ordered by step.
func (r *ExecutionRepository) ActionExecutions(_ context.Context, executionID string) ([]*models.ActionExecution, error) {
	if err := validateID(executionID); err != nil {
		return []*models.ActionExecution{}, nil
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	actions, err := readDir[models.ActionExecution](r.store.path(actionExecutionsDir, executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list action executions: %w", err)
	}

	slices.SortFunc(actions, func(a, b *models.ActionExecution) int {
		return a.Step - b.Step
	})

	return actions, nil
}

// DeleteActionExecutions removes every action record of an execution.
func (r *ExecutionRepository) DeleteActionExecutions(_ context.Context, executionID string) error {
	if err := validateID(executionID); err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := os.RemoveAll(r.store.path(actionExecutionsDir, executionID)); err != nil {
		return fmt.Errorf("failed to delete action executions of %s: %w", executionID, err)
	}

	return nil
}
