package file

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
)

// TemplateRepository handles template-related file operations.
type TemplateRepository struct {
	store *Persistence
}

// Save writes the template document, actions included.
func (r *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	if err := validateID(template.ID); err != nil {
		return fmt.Errorf("invalid template ID: %w", err)
	}

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return writeJSON(r.store.path(templatesDir, template.ID+".json"), template)
}

// GetByID returns the template, including soft-deleted ones.
func (r *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var template models.WorkflowTemplate
	if err := readJSON(r.store.path(templatesDir, id+".json"), &template, persistence.ErrTemplateNotFound); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	return &template, nil
}

func (r *TemplateRepository) all() ([]*models.WorkflowTemplate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	templates, err := readDir[models.WorkflowTemplate](r.store.path(templatesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	slices.SortFunc(templates, func(a, b *models.WorkflowTemplate) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return templates, nil
}

// List returns templates matching filter, newest first.
func (r *TemplateRepository) List(_ context.Context, filter persistence.TemplateFilter) ([]*models.WorkflowTemplate, error) {
	templates, err := r.all()
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	matched := make([]*models.WorkflowTemplate, 0, len(templates))

	for _, template := range templates {
		if !filter.Scope.Owns(template.TenantID, template.SubTenantID) {
			continue
		}

		if filter.Status == "" && template.Status == models.TemplateStatusDeleted {
			continue
		}

		if filter.Status != "" && template.Status != filter.Status {
			continue
		}

		if filter.LifecycleType != "" && template.LifecycleType != filter.LifecycleType {
			continue
		}

		if filter.TriggerKind != "" && template.TriggerKind != filter.TriggerKind {
			continue
		}

		if search != "" && !strings.Contains(strings.ToLower(template.Name), search) &&
			!strings.Contains(strings.ToLower(template.Description), search) {
			continue
		}

		matched = append(matched, template)
	}

	return page(matched, filter.Limit, filter.Offset), nil
}

// ActiveByTrigger returns ACTIVE templates of kind that apply to a target in scope.
func (r *TemplateRepository) ActiveByTrigger(_ context.Context, scope models.Scope, kind models.TriggerKind) ([]*models.WorkflowTemplate, error) {
	templates, err := r.all()
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowTemplate, 0)

	for _, template := range templates {
		if template.Status == models.TemplateStatusActive && template.TriggerKind == kind &&
			template.Scope().Owns(scope.TenantID, scope.SubTenantID) {
			active = append(active, template)
		}
	}

	return active, nil
}

// CountByStatus counts the templates visible from scope per status.
func (r *TemplateRepository) CountByStatus(_ context.Context, scope models.Scope) (map[models.TemplateStatus]int, error) {
	templates, err := r.all()
	if err != nil {
		return nil, err
	}

	counts := map[models.TemplateStatus]int{}

	for _, template := range templates {
		if scope.Owns(template.TenantID, template.SubTenantID) {
			counts[template.Status]++
		}
	}

	return counts, nil
}
