package events

import (
	"errors"

	"github.com/congrega/flows/pkg/models"
)

// Domain happenings published by the surrounding system.
const (
	RecordCreatedEvent      EventType = "record.created"
	RecordUpdatedEvent      EventType = "record.updated"
	EventCreatedEvent       EventType = "event.created"
	EventApproachingEvent   EventType = "event.approaching"
	PaymentReceivedEvent    EventType = "payment.received"
	MembershipExpiringEvent EventType = "membership.expiring"
	AttendanceRecordedEvent EventType = "attendance.recorded"
)

var domainKinds = map[EventType]models.TriggerKind{
	RecordCreatedEvent:      models.TriggerRecordCreated,
	RecordUpdatedEvent:      models.TriggerRecordUpdated,
	EventCreatedEvent:       models.TriggerEventCreated,
	EventApproachingEvent:   models.TriggerEventApproaching,
	PaymentReceivedEvent:    models.TriggerPaymentReceived,
	MembershipExpiringEvent: models.TriggerMembershipExpiring,
	AttendanceRecordedEvent: models.TriggerAttendanceRecorded,
}

// DomainEventTypes lists every domain happening type.
var DomainEventTypes = []EventType{
	RecordCreatedEvent, RecordUpdatedEvent, EventCreatedEvent, EventApproachingEvent,
	PaymentReceivedEvent, MembershipExpiringEvent, AttendanceRecordedEvent,
}

// TriggerKindFor maps a domain happening to the trigger kind it fires.
func TriggerKindFor(eventType EventType) (models.TriggerKind, bool) {
	kind, ok := domainKinds[eventType]

	return kind, ok
}

// DomainEvent is something that happened to a record or event of a tenant.
// TargetID is the record id, or the event id for event-* happenings.
type DomainEvent struct {
	BaseEvent

	TargetID string         `json:"target_id"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (d DomainEvent) GetType() EventType {
	return d.Type
}

// NewDomainEvent creates a domain happening for targetID within scope.
func NewDomainEvent(eventType EventType, scope models.Scope, targetID string, payload map[string]any) DomainEvent {
	return DomainEvent{
		BaseEvent: NewBaseEvent(eventType, scope),
		TargetID:  targetID,
		Payload:   payload,
	}
}

// Validate performs basic validation on the domain event structure.
func (d *DomainEvent) Validate() error {
	if _, ok := domainKinds[d.Type]; !ok {
		return errors.New("unknown domain event type")
	}

	if d.TenantID == "" {
		return errors.New("tenant_id is required")
	}

	if d.TargetID == "" {
		return errors.New("target_id is required")
	}

	return nil
}
