package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/congrega/flows/pkg/condition"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// TemplateFilter narrows template listings within a scope.
type TemplateFilter struct {
	LifecycleType models.LifecycleType
	Status        models.TemplateStatus
	TriggerKind   models.TriggerKind
	Search        string
	Limit         int
	Offset        int
}

// Templates is the template store. Templates are validated and normalised on every
// save, and schedule-oriented templates keep their standing trigger in sync.
type Templates struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	evaluator   *condition.Evaluator
	clock       clockwork.Clock
}

// NewTemplates creates a template store. A nil clock means the real clock.
func NewTemplates(logger *slog.Logger, persistence persistence.Persistence, evaluator *condition.Evaluator, clock clockwork.Clock) *Templates {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Templates{
		logger:      logger.With("module", "template_store"),
		persistence: persistence,
		evaluator:   evaluator,
		clock:       clock,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Templates) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create stores a new template owned by scope. Status defaults to ACTIVE.
func (s *Templates) Create(ctx context.Context, scope models.Scope, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	if strings.TrimSpace(scope.TenantID) == "" {
		return nil, ErrEmptyTenantID
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate template id: %w", err)
	}

	now := s.clock.Now().UTC()

	template.ID = id.String()
	template.TenantID = scope.TenantID
	template.SubTenantID = scope.SubTenantID
	template.CreatedAt = now
	template.UpdatedAt = now
	template.DeletedAt = nil

	if template.Status == "" {
		template.Status = models.TemplateStatusActive
	}

	if err := s.prepare("create", template); err != nil {
		return nil, err
	}

	if err := s.persistence.Templates().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.logger.InfoContext(ctx, "Template created", "template_id", template.ID, "tenant_id", template.TenantID,
		"trigger_kind", template.TriggerKind, "actions", len(template.Actions))

	if err := s.syncTrigger(ctx, template, now); err != nil {
		return nil, err
	}

	return template, nil
}

// Get returns a template of scope. DELETED templates are not found.
func (s *Templates) Get(ctx context.Context, scope models.Scope, id string) (*models.WorkflowTemplate, error) {
	template, err := s.persistence.Templates().GetByID(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, NewNotFoundError("get", "template not found", err)
		}

		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if !scope.Owns(template.TenantID, template.SubTenantID) || template.Status == models.TemplateStatusDeleted {
		return nil, NewNotFoundError("get", "template not found", persistence.ErrTemplateNotFound)
	}

	return template, nil
}

// List returns the templates of scope matching filter, newest first.
func (s *Templates) List(ctx context.Context, scope models.Scope, filter TemplateFilter) ([]*models.WorkflowTemplate, error) {
	templates, err := s.persistence.Templates().List(ctx, persistence.TemplateFilter{
		Scope:         scope,
		LifecycleType: filter.LifecycleType,
		Status:        filter.Status,
		TriggerKind:   filter.TriggerKind,
		Search:        strings.TrimSpace(filter.Search),
		Limit:         persistence.NormalizeLimit(filter.Limit),
		Offset:        max(filter.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// Update replaces the mutable fields of a template with those of input. A nil action
// list keeps the current actions; otherwise the action set is recreated from input.
// An empty status keeps the current one.
func (s *Templates) Update(ctx context.Context, scope models.Scope, id string, input *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if input == nil {
		return nil, ErrTemplateNil
	}

	existing, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	if input.Status == models.TemplateStatusDeleted {
		return nil, NewValidationError("update", CodeInvalidRequest, "use delete to remove a template", ErrInvalidRequest)
	}

	now := s.clock.Now().UTC()

	updated := *existing
	updated.Name = input.Name
	updated.Description = input.Description
	updated.LifecycleType = input.LifecycleType
	updated.TriggerKind = input.TriggerKind
	updated.TriggerConfig = input.TriggerConfig
	updated.UpdatedAt = now

	if input.Status != "" {
		updated.Status = input.Status
	}

	if input.Actions != nil {
		updated.Actions = input.Actions

		for _, action := range updated.Actions {
			action.ID = ""
		}
	}

	if err := s.prepare("update", &updated); err != nil {
		return nil, err
	}

	if err := s.persistence.Templates().Save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	s.logger.InfoContext(ctx, "Template updated", "template_id", updated.ID, "status", updated.Status,
		"actions_replaced", input.Actions != nil)

	if err := s.syncTrigger(ctx, &updated, now); err != nil {
		return nil, err
	}

	return &updated, nil
}

// Delete soft-deletes a template and deactivates its standing trigger. Executions keep
// referring to it.
func (s *Templates) Delete(ctx context.Context, scope models.Scope, id string) error {
	template, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	template.Status = models.TemplateStatusDeleted
	template.DeletedAt = &now
	template.UpdatedAt = now

	if err := s.persistence.Templates().Save(ctx, template); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	if err := s.persistence.Triggers().DeactivateByTemplate(ctx, template.ID); err != nil {
		return fmt.Errorf("failed to deactivate trigger: %w", err)
	}

	s.logger.InfoContext(ctx, "Template deleted", "template_id", template.ID)

	return nil
}

// prepare assigns action ids, normalises step order and validates the template.
func (s *Templates) prepare(op string, template *models.WorkflowTemplate) error {
	for _, action := range template.Actions {
		if action == nil {
			return NewValidationError(op, CodeInvalidConfiguration, "action cannot be null", ErrInvalidConfiguration)
		}

		if action.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate action id: %w", err)
			}

			action.ID = id.String()
		}
	}

	template.NormalizeSteps()

	if template.Status == models.TemplateStatusDeleted {
		return NewValidationError(op, CodeInvalidRequest, "template cannot be created deleted", ErrInvalidRequest)
	}

	if err := models.ValidateTemplate(template); err != nil {
		return NewValidationError(op, CodeInvalidConfiguration, err.Error(), err)
	}

	if s.evaluator == nil {
		return nil
	}

	if err := s.evaluator.Compile(template.TriggerConfig.TriggerCondition()); err != nil {
		return NewValidationError(op, CodeInvalidConfiguration, "trigger "+err.Error(), err)
	}

	for _, action := range template.Actions {
		if err := s.evaluator.Compile(action.Condition); err != nil {
			return NewValidationError(op, CodeInvalidConfiguration, fmt.Sprintf("step %d: %v", action.Step, err), err)
		}
	}

	return nil
}

// syncTrigger creates or refreshes the standing trigger of a schedule-oriented template
// and deactivates it when the template stops being schedulable.
func (s *Templates) syncTrigger(ctx context.Context, template *models.WorkflowTemplate, now time.Time) error {
	triggers := s.persistence.Triggers()

	existing, err := triggers.ByTemplate(ctx, template.ID)
	if err != nil && !persistence.IsNotFound(err) {
		return fmt.Errorf("failed to load trigger: %w", err)
	}

	if !template.TriggerKind.IsScheduled() || template.Status != models.TemplateStatusActive {
		if existing == nil {
			return nil
		}

		if err := triggers.DeactivateByTemplate(ctx, template.ID); err != nil {
			return fmt.Errorf("failed to deactivate trigger: %w", err)
		}

		return nil
	}

	id := ""
	if existing != nil {
		id = existing.ID
	} else {
		generated, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate trigger id: %w", err)
		}

		id = generated.String()
	}

	trigger, err := models.NewWorkflowTrigger(id, template, now)
	if err != nil {
		return NewValidationError("sync trigger", CodeInvalidConfiguration, err.Error(), fmt.Errorf("%w: %w", ErrInvalidConfiguration, err))
	}

	if existing != nil {
		trigger.CreatedAt = existing.CreatedAt
		trigger.LastTriggeredAt = existing.LastTriggeredAt

		if existing.IsActive && existing.CronExpression == trigger.CronExpression {
			trigger.NextRunAt = existing.NextRunAt
		}
	}

	if err := triggers.Save(ctx, trigger); err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	s.logger.DebugContext(ctx, "Standing trigger synced", "template_id", template.ID, "trigger_id", trigger.ID,
		"next_run_at", trigger.NextRunAt)

	return nil
}
