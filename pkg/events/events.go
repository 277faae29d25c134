// Package events defines the messages carried by the event bus: domain happenings that
// start executions and lifecycle notifications about executions and their actions.
package events

import (
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	DomainTopic    = "flows.domain"    // Happenings in the surrounding system
	LifecycleTopic = "flows.lifecycle" // Execution and action lifecycle
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionCreatedEvent   EventType = "execution.created"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionRetriedEvent   EventType = "execution.retried"

	// Action lifecycle events.
	ActionCompletedEvent EventType = "action.completed"
	ActionFailedEvent    EventType = "action.failed"
)

// TopicFor returns the topic events of the given type travel on.
func TopicFor(eventType EventType) string {
	if _, ok := domainKinds[eventType]; ok {
		return DomainTopic
	}

	return LifecycleTopic
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	TenantID    string    `json:"tenant_id"`
	SubTenantID string    `json:"sub_tenant_id,omitempty"`
}

func NewBaseEvent(eventType EventType, scope models.Scope) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		TenantID:    scope.TenantID,
		SubTenantID: scope.SubTenantID,
	}
}

// Scope returns the tenant scope the event belongs to.
func (b BaseEvent) Scope() models.Scope {
	return models.Scope{TenantID: b.TenantID, SubTenantID: b.SubTenantID}
}

// ExecutionEvent reports a status change of a workflow execution.
type ExecutionEvent struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	TemplateID  string                 `json:"template_id"`
	Status      models.ExecutionStatus `json:"status"`
	Attempt     int                    `json:"attempt"`
	Error       string                 `json:"error,omitempty"`
}

func (e ExecutionEvent) GetType() EventType {
	return e.Type
}

// NewExecutionEvent snapshots execution into a lifecycle event of the given type.
func NewExecutionEvent(eventType EventType, execution *models.WorkflowExecution) ExecutionEvent {
	return ExecutionEvent{
		BaseEvent:   NewBaseEvent(eventType, execution.Scope()),
		ExecutionID: execution.ID,
		TemplateID:  execution.TemplateID,
		Status:      execution.Status,
		Attempt:     execution.Attempt,
		Error:       execution.ErrorMessage,
	}
}

// ActionEvent reports the outcome of one action execution.
type ActionEvent struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	ActionID    string                 `json:"action_id"`
	ActionType  models.ActionType      `json:"action_type"`
	Step        int                    `json:"step"`
	Status      models.ExecutionStatus `json:"status"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (a ActionEvent) GetType() EventType {
	return a.Type
}

// NewActionEvent snapshots an action execution into a lifecycle event.
func NewActionEvent(scope models.Scope, spec *models.ActionSpec, action *models.ActionExecution) ActionEvent {
	eventType := ActionCompletedEvent
	if action.Status == models.ExecutionStatusFailed {
		eventType = ActionFailedEvent
	}

	event := ActionEvent{
		BaseEvent:   NewBaseEvent(eventType, scope),
		ExecutionID: action.ExecutionID,
		ActionID:    action.ActionID,
		ActionType:  spec.Type,
		Step:        action.Step,
		Status:      action.Status,
		Result:      action.Result,
		Error:       action.ErrorMessage,
	}

	if action.StartedAt != nil && action.CompletedAt != nil {
		event.DurationMs = action.CompletedAt.Sub(*action.StartedAt).Milliseconds()
	}

	return event
}

// New returns an empty event value to decode a message of the given type into.
func New(eventType EventType) (any, bool) {
	if _, ok := domainKinds[eventType]; ok {
		return &DomainEvent{}, true
	}

	switch eventType {
	case ExecutionCreatedEvent, ExecutionStartedEvent, ExecutionCompletedEvent,
		ExecutionFailedEvent, ExecutionCancelledEvent, ExecutionRetriedEvent:
		return &ExecutionEvent{}, true
	case ActionCompletedEvent, ActionFailedEvent:
		return &ActionEvent{}, true
	default:
		return nil, false
	}
}
