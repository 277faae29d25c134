package models

import "time"

// ExecutionStatus is the state of a workflow execution or of one of its action executions.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible within one attempt.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// IsActive reports whether a worker may still advance an execution in this status.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRunning
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled},
	ExecutionStatusFailed:  {ExecutionStatusPending}, // retry
}

// CanTransition reports whether the execution state machine allows from -> to.
func CanTransition(from, to ExecutionStatus) bool {
	for _, allowed := range executionTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// WorkflowExecution is one runtime instance of a template run against a concrete context.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	TemplateID     string          `json:"template_id"`
	Status         ExecutionStatus `json:"status"`
	TriggeredBy    string          `json:"triggered_by"`
	TriggerPayload map[string]any  `json:"trigger_payload,omitempty"`
	TargetRecordID string          `json:"target_record_id,omitempty"`
	TargetEventID  string          `json:"target_event_id,omitempty"`
	TargetPayload  map[string]any  `json:"target_payload,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	TenantID       string          `json:"tenant_id"`
	SubTenantID    string          `json:"sub_tenant_id,omitempty"`

	// CurrentJobID is the only queue job allowed to advance this execution.
	CurrentJobID string    `json:"current_job_id,omitempty"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Scope returns the tenant scope owning the execution.
func (e *WorkflowExecution) Scope() Scope {
	return Scope{TenantID: e.TenantID, SubTenantID: e.SubTenantID}
}

// TargetRef returns the execution's target identifiers.
func (e *WorkflowExecution) TargetRef() TargetRef {
	return TargetRef{RecordID: e.TargetRecordID, EventID: e.TargetEventID, Payload: e.TargetPayload}
}

// ActionExecution is one recorded attempt of one ActionSpec within one WorkflowExecution.
type ActionExecution struct {
	ID           string          `json:"id"`
	ExecutionID  string          `json:"execution_id"`
	ActionID     string          `json:"action_id"`
	Step         int             `json:"step"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       map[string]any  `json:"result,omitempty"`
}

// Skipped reports whether the action was bypassed by its condition.
func (a *ActionExecution) Skipped() bool {
	skipped, _ := a.Result["skipped"].(bool)

	return skipped
}

// TargetRef points an execution at the record and/or event it acts upon.
type TargetRef struct {
	RecordID string         `json:"record_id,omitempty"`
	EventID  string         `json:"event_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// ExecutionContext is what an action handler sees of the running execution.
type ExecutionContext struct {
	Execution    *WorkflowExecution
	WorkflowName string
	Action       *ActionSpec
	Target       *Target
	Now          time.Time
}

// Scope returns the tenant scope the execution runs in.
func (c *ExecutionContext) Scope() Scope {
	return c.Execution.Scope()
}

// TargetRecord returns the target record or nil.
func (c *ExecutionContext) TargetRecord() *Record {
	if c.Target == nil {
		return nil
	}

	return c.Target.Record
}
