package file

import (
	"context"
	"fmt"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
)

// TriggerRepository stores standing triggers, one document per template.
type TriggerRepository struct {
	store *Persistence
}

// Save writes the trigger under its template's ID, replacing any previous one.
func (r *TriggerRepository) Save(_ context.Context, trigger *models.WorkflowTrigger) error {
	if err := validateID(trigger.TemplateID); err != nil {
		return fmt.Errorf("invalid template ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return writeJSON(r.store.path(triggersDir, trigger.TemplateID+".json"), trigger)
}

// ByTemplate returns the standing trigger of a template.
func (r *TriggerRepository) ByTemplate(_ context.Context, templateID string) (*models.WorkflowTrigger, error) {
	if err := validateID(templateID); err != nil {
		return nil, persistence.NewTriggerError("ByTemplate", templateID, persistence.ErrTriggerNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var trigger models.WorkflowTrigger
	if err := readJSON(r.store.path(triggersDir, templateID+".json"), &trigger, persistence.ErrTriggerNotFound); err != nil {
		return nil, persistence.NewTriggerError("ByTemplate", templateID, err)
	}

	return &trigger, nil
}

// Due returns active triggers whose next run is at or before now.
func (r *TriggerRepository) Due(_ context.Context, now time.Time) ([]*models.WorkflowTrigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	triggers, err := readDir[models.WorkflowTrigger](r.store.path(triggersDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	due := make([]*models.WorkflowTrigger, 0)

	for _, trigger := range triggers {
		if trigger.IsDue(now) {
			due = append(due, trigger)
		}
	}

	return due, nil
}

// DeactivateByTemplate marks the template's trigger inactive. A missing trigger is not an error.
func (r *TriggerRepository) DeactivateByTemplate(ctx context.Context, templateID string) error {
	trigger, err := r.ByTemplate(ctx, templateID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil
		}

		return err
	}

	if !trigger.IsActive {
		return nil
	}

	trigger.IsActive = false
	trigger.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, trigger)
}
