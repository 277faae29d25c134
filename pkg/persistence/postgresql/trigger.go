package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
)

// TriggerRepository handles standing trigger database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const triggerColumns = `
	id
  , template_id
  , kind
  , config
  , cron_expression
  , next_run_at
  , is_active
  , last_triggered_at
  , tenant_id
  , sub_tenant_id
  , created_at
  , updated_at
`

// Save upserts the trigger of a template.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.WorkflowTrigger) error {
	config, err := jsonb(trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	query := `
		INSERT INTO workflow_triggers (id, template_id, kind, config, cron_expression, next_run_at, is_active,
			last_triggered_at, tenant_id, sub_tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (template_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			config = EXCLUDED.config,
			cron_expression = EXCLUDED.cron_expression,
			next_run_at = EXCLUDED.next_run_at,
			is_active = EXCLUDED.is_active,
			last_triggered_at = EXCLUDED.last_triggered_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.TemplateID,
		trigger.Kind,
		config,
		trigger.CronExpression,
		trigger.NextRunAt,
		trigger.IsActive,
		trigger.LastTriggeredAt,
		trigger.TenantID,
		trigger.SubTenantID,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

// ByTemplate returns the standing trigger of a template.
func (r *TriggerRepository) ByTemplate(ctx context.Context, templateID string) (*models.WorkflowTrigger, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+triggerColumns+" FROM workflow_triggers WHERE template_id = $1", templateID)

	trigger, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTriggerError("ByTemplate", templateID, persistence.ErrTriggerNotFound)
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

// Due returns active triggers whose next run is at or before now.
func (r *TriggerRepository) Due(ctx context.Context, now time.Time) ([]*models.WorkflowTrigger, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+triggerColumns+" FROM workflow_triggers WHERE is_active AND next_run_at <= $1 ORDER BY next_run_at", now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due triggers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.WorkflowTrigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	return triggers, rows.Err()
}

// DeactivateByTemplate marks the template's trigger inactive.
func (r *TriggerRepository) DeactivateByTemplate(ctx context.Context, templateID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE workflow_triggers SET is_active = false, updated_at = NOW() WHERE template_id = $1", templateID)
	if err != nil {
		return fmt.Errorf("failed to deactivate trigger: %w", err)
	}

	return nil
}

func scanTrigger(row scanner) (*models.WorkflowTrigger, error) {
	var (
		trigger       models.WorkflowTrigger
		config        []byte
		lastTriggered sql.NullTime
	)

	err := row.Scan(
		&trigger.ID,
		&trigger.TemplateID,
		&trigger.Kind,
		&config,
		&trigger.CronExpression,
		&trigger.NextRunAt,
		&trigger.IsActive,
		&lastTriggered,
		&trigger.TenantID,
		&trigger.SubTenantID,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(config) > 0 {
		trigger.Config = &models.TriggerConfig{}
		if err := unmarshalJSONB(config, trigger.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if lastTriggered.Valid {
		trigger.LastTriggeredAt = &lastTriggered.Time
	}

	return &trigger, nil
}
