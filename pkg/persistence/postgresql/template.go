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
)

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const templateColumns = `
	id
  , name
  , description
  , lifecycle_type
  , trigger_kind
  , trigger_config
  , status
  , tenant_id
  , sub_tenant_id
  , created_at
  , updated_at
  , deleted_at
`

// Save upserts the template and replaces its actions in one transaction.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) (err error) {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	triggerConfig, err := jsonb(template.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO workflow_templates (id, name, description, lifecycle_type, trigger_kind, trigger_config,
			status, tenant_id, sub_tenant_id, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			lifecycle_type = EXCLUDED.lifecycle_type,
			trigger_kind = EXCLUDED.trigger_kind,
			trigger_config = EXCLUDED.trigger_config,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		template.LifecycleType,
		template.TriggerKind,
		triggerConfig,
		template.Status,
		template.TenantID,
		template.SubTenantID,
		template.CreatedAt,
		template.UpdatedAt,
		template.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_actions WHERE template_id = $1", template.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing actions: %w", err)
	}

	if err = r.saveActions(ctx, tx, template); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *TemplateRepository) saveActions(ctx context.Context, tx *sql.Tx, template *models.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_actions (id, template_id, step, action_type, config, delay_before_minutes, condition)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, action := range template.Actions {
		config, err := jsonb(action.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal action config: %w", err)
		}

		if config == nil {
			config = []byte("{}")
		}

		condition, err := jsonb(action.Condition)
		if err != nil {
			return fmt.Errorf("failed to marshal action condition: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			action.ID,
			template.ID,
			action.Step,
			action.Type,
			config,
			action.DelayBeforeMinutes,
			condition,
		)
		if err != nil {
			return fmt.Errorf("failed to save action %d: %w", action.Step, err)
		}
	}

	return nil
}

// GetByID returns the template, including soft-deleted ones.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM workflow_templates WHERE id = $1", id)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	if err := r.loadActions(ctx, []*models.WorkflowTemplate{template}); err != nil {
		return nil, err
	}

	return template, nil
}

// List returns templates matching filter, newest first.
func (r *TemplateRepository) List(ctx context.Context, filter persistence.TemplateFilter) ([]*models.WorkflowTemplate, error) {
	where, args := scopeClause(filter.Scope)

	if filter.Status == "" {
		where = append(where, "status <> 'DELETED'")
	} else {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	if filter.LifecycleType != "" {
		args = append(args, filter.LifecycleType)
		where = append(where, "lifecycle_type = $"+strconv.Itoa(len(args)))
	}

	if filter.TriggerKind != "" {
		args = append(args, filter.TriggerKind)
		where = append(where, "trigger_kind = $"+strconv.Itoa(len(args)))
	}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(name ILIKE $"+n+" OR description ILIKE $"+n+")")
	}

	args = append(args, persistence.NormalizeLimit(filter.Limit), normalizeOffset(filter.Offset))
	query := "SELECT " + templateColumns + " FROM workflow_templates WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	return r.query(ctx, query, args...)
}

// ActiveByTrigger returns ACTIVE templates of kind that apply to a target in scope.
func (r *TemplateRepository) ActiveByTrigger(ctx context.Context, scope models.Scope, kind models.TriggerKind) ([]*models.WorkflowTemplate, error) {
	args := []any{scope.TenantID, scope.SubTenantID, kind}
	where := []string{
		"tenant_id = $1",
		"(sub_tenant_id = '' OR sub_tenant_id = $2)",
		"status = 'ACTIVE'",
		"trigger_kind = $3",
	}

	query := "SELECT " + templateColumns + " FROM workflow_templates WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at"

	return r.query(ctx, query, args...)
}

// CountByStatus counts the templates visible from scope per status.
func (r *TemplateRepository) CountByStatus(ctx context.Context, scope models.Scope) (map[models.TemplateStatus]int, error) {
	where, args := scopeClause(scope)

	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM workflow_templates WHERE "+strings.Join(where, " AND ")+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	counts := map[models.TemplateStatus]int{}

	for rows.Next() {
		var (
			status models.TemplateStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan template count: %w", err)
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

func (r *TemplateRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	if err := r.loadActions(ctx, templates); err != nil {
		return nil, err
	}

	return templates, nil
}

func (r *TemplateRepository) loadActions(ctx context.Context, templates []*models.WorkflowTemplate) error {
	for _, template := range templates {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, step, action_type, config, delay_before_minutes, condition
			FROM workflow_actions
			WHERE template_id = $1
			ORDER BY step
		`, template.ID)
		if err != nil {
			return fmt.Errorf("failed to query actions: %w", err)
		}

		actions, err := scanActions(rows, template.ID)
		closeRows(ctx, r.logger, rows)

		if err != nil {
			return err
		}

		template.Actions = actions
	}

	return nil
}

func scanActions(rows *sql.Rows, templateID string) ([]*models.ActionSpec, error) {
	actions := make([]*models.ActionSpec, 0)

	for rows.Next() {
		var (
			action                models.ActionSpec
			configJSON, condition []byte
		)

		err := rows.Scan(&action.ID, &action.Step, &action.Type, &configJSON, &action.DelayBeforeMinutes, &condition)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		action.TemplateID = templateID

		action.Config, err = models.DecodeActionConfig(action.Type, configJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode action %s config: %w", action.ID, err)
		}

		if len(condition) > 0 {
			action.Condition = &models.Condition{}
			if err := unmarshalJSONB(condition, action.Condition); err != nil {
				return nil, fmt.Errorf("failed to unmarshal action condition: %w", err)
			}
		}

		actions = append(actions, &action)
	}

	return actions, rows.Err()
}

func scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var (
		template      models.WorkflowTemplate
		triggerConfig []byte
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.LifecycleType,
		&template.TriggerKind,
		&triggerConfig,
		&template.Status,
		&template.TenantID,
		&template.SubTenantID,
		&template.CreatedAt,
		&template.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConfig) > 0 {
		template.TriggerConfig = &models.TriggerConfig{}
		if err := unmarshalJSONB(triggerConfig, template.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if deletedAt.Valid {
		template.DeletedAt = &deletedAt.Time
	}

	return &template, nil
}

// scopeClause returns WHERE fragments restricting rows to scope, numbered from $1.
func scopeClause(scope models.Scope) ([]string, []any) {
	where := []string{"tenant_id = $1"}
	args := []any{scope.TenantID}

	if scope.SubTenantID != "" {
		args = append(args, scope.SubTenantID)
		where = append(where, "sub_tenant_id = $2")
	}

	return where, args
}
