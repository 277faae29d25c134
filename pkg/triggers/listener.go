package triggers

import (
	"context"
	"fmt"

	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/persistence"
)

// Subscriber registers event handlers; satisfied by eventbus.EventSubscriber.
type Subscriber interface {
	Handle(eventType events.EventType, handler eventbus.EventHandler) error
}

// Listen routes every domain event type on bus to Dispatch.
func (s *Service) Listen(bus Subscriber) error {
	for _, eventType := range events.DomainEventTypes {
		if err := bus.Handle(eventType, s.HandleDomainEvent); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return nil
}

// HandleDomainEvent dispatches one decoded domain event. Malformed events and happenings
// whose target is gone are dropped. An error is returned only when nothing fired and the
// failure may be transient, so the message is redelivered without duplicating executions.
func (s *Service) HandleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		s.logger.WarnContext(ctx, "Ignoring non-domain event", "event", fmt.Sprintf("%T", event))

		return nil
	}

	logger := s.logger.With("event_id", domainEvent.ID, "event_type", domainEvent.Type)

	if err := domainEvent.Validate(); err != nil {
		logger.WarnContext(ctx, "Dropping invalid domain event", "error", err)

		return nil
	}

	kind, _ := events.TriggerKindFor(domainEvent.Type)

	executions, err := s.Dispatch(ctx, kind, Happening{
		TargetID:    domainEvent.TargetID,
		TenantID:    domainEvent.TenantID,
		SubTenantID: domainEvent.SubTenantID,
		Payload:     domainEvent.Payload,
	})
	if err == nil {
		return nil
	}

	if len(executions) == 0 && !persistence.IsNotFound(err) {
		return err
	}

	logger.ErrorContext(ctx, "Domain event partially dispatched", "executions", len(executions), "error", err)

	return nil
}
