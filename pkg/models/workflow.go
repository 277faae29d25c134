// Package models defines the core domain models for workflow automation: templates,
// their ordered actions, executions and standing schedule triggers.
package models

import (
	"sort"
	"time"
)

// TemplateStatus represents the lifecycle state of a workflow template.
type TemplateStatus string

const (
	TemplateStatusActive   TemplateStatus = "ACTIVE"
	TemplateStatusInactive TemplateStatus = "INACTIVE"
	TemplateStatusPaused   TemplateStatus = "PAUSED"
	TemplateStatusDeleted  TemplateStatus = "DELETED" // Soft marker, row kept for audit
)

// LifecycleType is a categorical tag used for grouping templates in the UI.
type LifecycleType string

const (
	LifecycleFollowUp       LifecycleType = "follow-up"
	LifecycleEventReminder  LifecycleType = "event-reminder"
	LifecycleRenewal        LifecycleType = "renewal"
	LifecycleAcknowledgment LifecycleType = "acknowledgment"
)

// TriggerKind is the category of domain happening or schedule that starts an execution.
type TriggerKind string

const (
	TriggerRecordCreated      TriggerKind = "record-created"
	TriggerRecordUpdated      TriggerKind = "record-updated"
	TriggerEventCreated       TriggerKind = "event-created"
	TriggerEventApproaching   TriggerKind = "event-approaching"
	TriggerPaymentReceived    TriggerKind = "payment-received"
	TriggerMembershipExpiring TriggerKind = "membership-expiring"
	TriggerAttendanceRecorded TriggerKind = "attendance-recorded"
	TriggerCustomSchedule     TriggerKind = "custom-schedule"
)

// IsScheduled reports whether templates of this kind get a standing WorkflowTrigger.
func (k TriggerKind) IsScheduled() bool {
	switch k {
	case TriggerMembershipExpiring, TriggerEventApproaching, TriggerCustomSchedule:
		return true
	default:
		return false
	}
}

// Valid reports whether k is one of the known trigger kinds.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerRecordCreated, TriggerRecordUpdated, TriggerEventCreated, TriggerEventApproaching,
		TriggerPaymentReceived, TriggerMembershipExpiring, TriggerAttendanceRecorded, TriggerCustomSchedule:
		return true
	default:
		return false
	}
}

// Scope identifies the tenant (and optional sub-tenant) that owns a row.
type Scope struct {
	TenantID    string `json:"tenant_id"               validate:"required"`
	SubTenantID string `json:"sub_tenant_id,omitempty"`
}

// Owns reports whether a row with the given tenant ids is visible from this scope.
func (s Scope) Owns(tenantID, subTenantID string) bool {
	if s.TenantID != tenantID {
		return false
	}

	return s.SubTenantID == "" || s.SubTenantID == subTenantID
}

// WorkflowTemplate is a reusable, ordered definition of automation steps tied to a trigger kind.
type WorkflowTemplate struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"                     validate:"required,min=3"`
	Description   string         `json:"description"`
	LifecycleType LifecycleType  `json:"lifecycle_type"           validate:"omitempty,oneof=follow-up event-reminder renewal acknowledgment"`
	TriggerKind   TriggerKind    `json:"trigger_kind"             validate:"required"`
	TriggerConfig *TriggerConfig `json:"trigger_config,omitempty"`
	Status        TemplateStatus `json:"status"                   validate:"required,oneof=ACTIVE INACTIVE PAUSED DELETED"`
	TenantID      string         `json:"tenant_id"                validate:"required"`
	SubTenantID   string         `json:"sub_tenant_id,omitempty"`
	Actions       []*ActionSpec  `json:"actions"                  validate:"dive"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// Scope returns the tenant scope owning the template.
func (t *WorkflowTemplate) Scope() Scope {
	return Scope{TenantID: t.TenantID, SubTenantID: t.SubTenantID}
}

// NormalizeSteps orders actions by their supplied step number (input order breaks ties)
// and renumbers them densely from 1.
func (t *WorkflowTemplate) NormalizeSteps() {
	sort.SliceStable(t.Actions, func(i, j int) bool {
		return t.Actions[i].Step < t.Actions[j].Step
	})

	for i, action := range t.Actions {
		action.Step = i + 1
		action.TemplateID = t.ID
	}
}

// ActionSpec is one step of a template.
type ActionSpec struct {
	ID                 string        `json:"id"`
	TemplateID         string        `json:"template_id"`
	Step               int           `json:"step"`
	Type               ActionType    `json:"type"                     validate:"required"`
	Config             *ActionConfig `json:"config,omitempty"         validate:"-"`
	DelayBeforeMinutes int           `json:"delay_before_minutes"     validate:"min=0"`
	Condition          *Condition    `json:"condition,omitempty"      validate:"-"`
}

// Delay returns the configured pre-execution delay.
func (a *ActionSpec) Delay() time.Duration {
	return time.Duration(a.DelayBeforeMinutes) * time.Minute
}
