package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , template_id
  , status
  , triggered_by
  , trigger_payload
  , target_record_id
  , target_event_id
  , target_payload
  , started_at
  , completed_at
  , error_message
  , tenant_id
  , sub_tenant_id
  , current_job_id
  , attempt
  , created_at
  , updated_at
`

// Create inserts a new execution.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	triggerPayload, err := jsonb(execution.TriggerPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	targetPayload, err := jsonb(execution.TargetPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal target payload: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, template_id, status, triggered_by, trigger_payload,
			target_record_id, target_event_id, target_payload, started_at, completed_at, error_message,
			tenant_id, sub_tenant_id, current_job_id, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.TemplateID,
		execution.Status,
		execution.TriggeredBy,
		triggerPayload,
		execution.TargetRecordID,
		execution.TargetEventID,
		targetPayload,
		execution.StartedAt,
		execution.CompletedAt,
		execution.ErrorMessage,
		execution.TenantID,
		execution.SubTenantID,
		execution.CurrentJobID,
		execution.Attempt,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM workflow_executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Update writes the mutable execution fields guarded by the expected stored status.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_executions SET
			status = $2,
			started_at = $3,
			completed_at = $4,
			error_message = $5,
			current_job_id = $6,
			attempt = $7,
			updated_at = $8
		WHERE id = $1
	`

	args := []any{
		execution.ID,
		execution.Status,
		execution.StartedAt,
		execution.CompletedAt,
		execution.ErrorMessage,
		execution.CurrentJobID,
		execution.Attempt,
		execution.UpdatedAt,
	}

	if len(expected) > 0 {
		statuses := make([]string, len(expected))
		for i, status := range expected {
			statuses[i] = string(status)
		}

		query += " AND status = ANY($9)"

		args = append(args, pq.Array(statuses))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, execution.ID)
	if err != nil {
		return err
	}

	return persistence.NewExecutionError("Update", execution.ID,
		fmt.Errorf("%w: stored status is %s", persistence.ErrStatusConflict, current.Status))
}

// List returns executions matching filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	where, args := scopeClause(filter.Scope)

	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		where = append(where, "template_id = $"+strconv.Itoa(len(args)))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	args = append(args, persistence.NormalizeLimit(filter.Limit), normalizeOffset(filter.Offset))
	query := "SELECT " + executionColumns + " FROM workflow_executions WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// CountByStatus counts the executions visible from scope per status.
func (r *ExecutionRepository) CountByStatus(ctx context.Context, scope models.Scope) (map[models.ExecutionStatus]int, error) {
	where, args := scopeClause(scope)

	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM workflow_executions WHERE "+strings.Join(where, " AND ")+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	counts := map[models.ExecutionStatus]int{}

	for rows.Next() {
		var (
			status models.ExecutionStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

// SaveActionExecution upserts the record of one action within an execution.
func (r *ExecutionRepository) SaveActionExecution(ctx context.Context, action *models.ActionExecution) error {
	result, err := jsonb(action.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal action result: %w", err)
	}

	query := `
		INSERT INTO action_executions (id, execution_id, action_id, step, status, started_at, completed_at, error_message, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id, action_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message,
			result = EXCLUDED.result
	`

	_, err = r.db.ExecContext(ctx, query,
		action.ID,
		action.ExecutionID,
		action.ActionID,
		action.Step,
		action.Status,
		action.StartedAt,
		action.CompletedAt,
		action.ErrorMessage,
		result,
	)
	if err != nil {
		return fmt.Errorf("failed to save action execution: %w", err)
	}

	return nil
}

const actionExecutionColumns = `id, execution_id, action_id, step, status, started_at, completed_at, error_message, result`

// ActionExecution returns the record of one action within an execution.
func (r *ExecutionRepository) ActionExecution(ctx context.Context, executionID, actionID string) (*models.ActionExecution, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+actionExecutionColumns+" FROM action_executions WHERE execution_id = $1 AND action_id = $2",
		executionID, actionID)

	action, err := scanActionExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrActionExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan action execution: %w", err)
	}

	return action, nil
}

// ActionExecutions returns the action records of an execution ordered by step.
func (r *ExecutionRepository) ActionExecutions(ctx context.Context, executionID string) ([]*models.ActionExecution, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+actionExecutionColumns+" FROM action_executions WHERE execution_id = $1 ORDER BY step", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	actions := make([]*models.ActionExecution, 0)

	for rows.Next() {
		action, err := scanActionExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action execution: %w", err)
		}

		actions = append(actions, action)
	}

	return actions, rows.Err()
}

// DeleteActionExecutions removes every action record of an execution.
func (r *ExecutionRepository) DeleteActionExecutions(ctx context.Context, executionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM action_executions WHERE execution_id = $1", executionID)
	if err != nil {
		return fmt.Errorf("failed to delete action executions: %w", err)
	}

	return nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution                     models.WorkflowExecution
		triggerPayload, targetPayload []byte
		startedAt, completedAt        sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.TemplateID,
		&execution.Status,
		&execution.TriggeredBy,
		&triggerPayload,
		&execution.TargetRecordID,
		&execution.TargetEventID,
		&targetPayload,
		&startedAt,
		&completedAt,
		&execution.ErrorMessage,
		&execution.TenantID,
		&execution.SubTenantID,
		&execution.CurrentJobID,
		&execution.Attempt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(triggerPayload, &execution.TriggerPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}

	if err := unmarshalJSONB(targetPayload, &execution.TargetPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target payload: %w", err)
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

func scanActionExecution(row scanner) (*models.ActionExecution, error) {
	var (
		action                 models.ActionExecution
		result                 []byte
		startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&action.ID,
		&action.ExecutionID,
		&action.ActionID,
		&action.Step,
		&action.Status,
		&startedAt,
		&completedAt,
		&action.ErrorMessage,
		&result,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(result, &action.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action result: %w", err)
	}

	if startedAt.Valid {
		action.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		action.CompletedAt = &completedAt.Time
	}

	return &action, nil
}
