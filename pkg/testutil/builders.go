// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/google/uuid"
)

// Logger returns a logger that discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// CreateTestTemplate creates an ACTIVE record-created template for tenant t1 with one
// send-email action. Overrides run in order.
func CreateTestTemplate(overrides ...func(*models.WorkflowTemplate)) *models.WorkflowTemplate {
	template := &models.WorkflowTemplate{
		ID:            uuid.NewString(),
		Name:          "Welcome series",
		Description:   "Greets new members",
		LifecycleType: models.LifecycleFollowUp,
		TriggerKind:   models.TriggerRecordCreated,
		Status:        models.TemplateStatusActive,
		TenantID:      "t1",
	}

	template.Actions = []*models.ActionSpec{EmailAction(1, "Welcome {{member.firstName}}")}

	for _, override := range overrides {
		override(template)
	}

	for _, action := range template.Actions {
		action.TemplateID = template.ID
	}

	return template
}

// WithActions replaces the template's actions.
func WithActions(actions ...*models.ActionSpec) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		t.Actions = actions
	}
}

// WithTrigger sets the trigger kind and configuration.
func WithTrigger(kind models.TriggerKind, config *models.TriggerConfig) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		t.TriggerKind = kind
		t.TriggerConfig = config
	}
}

// WithTenant sets the owning scope.
func WithTenant(tenantID, subTenantID string) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		t.TenantID = tenantID
		t.SubTenantID = subTenantID
	}
}

// WithStatus sets the template status.
func WithStatus(status models.TemplateStatus) func(*models.WorkflowTemplate) {
	return func(t *models.WorkflowTemplate) {
		t.Status = status
	}
}

// EmailAction builds a send-email step addressed to the target.
func EmailAction(step int, subject string) *models.ActionSpec {
	return &models.ActionSpec{
		ID:   uuid.NewString(),
		Step: step,
		Type: models.ActionSendEmail,
		Config: &models.ActionConfig{Email: &models.EmailConfig{
			Subject:    subject,
			Text:       "Hello {{member.fullName}}",
			Recipients: models.RecipientDescriptor{Type: models.RecipientTarget},
		}},
	}
}

// SMSAction builds a send-sms step addressed to the target.
func SMSAction(step int, message string) *models.ActionSpec {
	return &models.ActionSpec{
		ID:   uuid.NewString(),
		Step: step,
		Type: models.ActionSendSMS,
		Config: &models.ActionConfig{SMS: &models.SMSConfig{
			Message:    message,
			Recipients: models.RecipientDescriptor{Type: models.RecipientTarget},
		}},
	}
}

// StatusAction builds an update-target-status step.
func StatusAction(step int, value string) *models.ActionSpec {
	return &models.ActionSpec{
		ID:     uuid.NewString(),
		Step:   step,
		Type:   models.ActionUpdateStatus,
		Config: &models.ActionConfig{Status: &models.StatusUpdateConfig{Value: value, Reason: "set by {{workflow.name}}"}},
	}
}

// WaitAction builds a wait step.
func WaitAction(step, minutes int) *models.ActionSpec {
	return &models.ActionSpec{
		ID:     uuid.NewString(),
		Step:   step,
		Type:   models.ActionWait,
		Config: &models.ActionConfig{Wait: &models.WaitConfig{Minutes: minutes}},
	}
}

// WithDelay sets the step's delay.
func WithDelay(action *models.ActionSpec, minutes int) *models.ActionSpec {
	action.DelayBeforeMinutes = minutes

	return action
}

// WithCondition sets the step's condition.
func WithCondition(action *models.ActionSpec, condition *models.Condition) *models.ActionSpec {
	action.Condition = condition

	return action
}

// CreateTestRecord creates an ACTIVE member of tenant t1.
func CreateTestRecord(overrides ...func(*models.Record)) *models.Record {
	dob := time.Date(1990, 7, 4, 0, 0, 0, 0, time.UTC)

	record := &models.Record{
		ID:          uuid.NewString(),
		TenantID:    "t1",
		FirstName:   "Maria",
		LastName:    "Okafor",
		Email:       "maria@example.org",
		Phone:       "+15550100",
		DateOfBirth: &dob,
		Status:      "ACTIVE",
	}

	for _, override := range overrides {
		override(record)
	}

	return record
}

// ExecutionContext builds a handler context for action running against record.
func ExecutionContext(action *models.ActionSpec, record *models.Record) *models.ExecutionContext {
	tenantID := "t1"
	recordID := ""

	if record != nil {
		tenantID = record.TenantID
		recordID = record.ID
	}

	return &models.ExecutionContext{
		Execution: &models.WorkflowExecution{
			ID:             uuid.NewString(),
			Status:         models.ExecutionStatusRunning,
			TargetRecordID: recordID,
			TenantID:       tenantID,
		},
		WorkflowName: "Welcome series",
		Action:       action,
		Target: &models.Target{
			Record:       record,
			Organisation: &models.Organisation{ID: tenantID, Name: "St. Brigid's"},
		},
		Now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}
