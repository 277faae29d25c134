// Package web provides the HTTP API of the template store and the execution orchestrator.
package web

import (
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/workflow"
)

// Tenant scope headers. X-Tenant-ID is required on every scoped route.
const (
	HeaderTenantID    = "X-Tenant-ID"
	HeaderSubTenantID = "X-Sub-Tenant-ID"
)

// TemplateRequest is the body of template creation and full replacement. On update a
// missing actions list keeps the current actions.
type TemplateRequest struct {
	Name          string                `json:"name"                     validate:"required,min=3"`
	Description   string                `json:"description"`
	LifecycleType models.LifecycleType  `json:"lifecycle_type,omitempty" validate:"omitempty,oneof=follow-up event-reminder renewal acknowledgment"`
	TriggerKind   models.TriggerKind    `json:"trigger_kind"             validate:"required"`
	TriggerConfig *models.TriggerConfig `json:"trigger_config,omitempty"`
	Status        models.TemplateStatus `json:"status,omitempty"         validate:"omitempty,oneof=ACTIVE INACTIVE PAUSED"`
	Actions       []*models.ActionSpec  `json:"actions"`
}

// Template converts the request into a template model.
func (r *TemplateRequest) Template() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		Name:          r.Name,
		Description:   r.Description,
		LifecycleType: r.LifecycleType,
		TriggerKind:   r.TriggerKind,
		TriggerConfig: r.TriggerConfig,
		Status:        r.Status,
		Actions:       r.Actions,
	}
}

// TriggerRequest is the body of a manual trigger.
type TriggerRequest struct {
	RecordID      string         `json:"record_id,omitempty"`
	EventID       string         `json:"event_id,omitempty"`
	TargetPayload map[string]any `json:"target_payload,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	TriggeredBy   string         `json:"triggered_by,omitempty" validate:"omitempty,max=64"`
}

// Request converts the body into an orchestrator trigger request for templateID.
func (r *TriggerRequest) Request(templateID string) workflow.TriggerRequest {
	return workflow.TriggerRequest{
		TemplateID: templateID,
		Target: models.TargetRef{
			RecordID: r.RecordID,
			EventID:  r.EventID,
			Payload:  r.TargetPayload,
		},
		Payload:     r.Payload,
		TriggeredBy: r.TriggeredBy,
	}
}

// ListResponse wraps a page of results with its pagination parameters.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// DomainEventRequest is a happening reported by the surrounding system.
type DomainEventRequest struct {
	Type     string         `json:"type"      validate:"required"`
	TargetID string         `json:"target_id" validate:"required"`
	Payload  map[string]any `json:"payload"`
}
