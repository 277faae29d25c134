// Package triggers turns domain happenings into executions of the matching templates.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congrega/flows/pkg/condition"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

// Payload keys read by the service.
const (
	AmountKey  = "amount"
	EventIDKey = "event_id"
)

// Executions creates executions; satisfied by *workflow.Orchestrator.
type Executions interface {
	Trigger(ctx context.Context, scope models.Scope, req workflow.TriggerRequest) (*models.WorkflowExecution, error)
}

// Happening is the minimal context of a domain happening.
type Happening struct {
	TargetID    string         `json:"target_id"`
	TenantID    string         `json:"tenant_id"`
	SubTenantID string         `json:"sub_tenant_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (h Happening) Scope() models.Scope {
	return models.Scope{TenantID: h.TenantID, SubTenantID: h.SubTenantID}
}

// Service matches happenings against the ACTIVE templates of their scope. A template
// that fails to fire is logged and never prevents the others from firing.
type Service struct {
	logger     *slog.Logger
	templates  persistence.TemplateRepository
	store      records.Store
	evaluator  *condition.Evaluator
	executions Executions
	clock      clockwork.Clock
}

func NewService(
	logger *slog.Logger,
	templates persistence.TemplateRepository,
	store records.Store,
	evaluator *condition.Evaluator,
	executions Executions,
	clock clockwork.Clock,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		logger:     logger.With("module", "trigger_service"),
		templates:  templates,
		store:      store,
		evaluator:  evaluator,
		executions: executions,
		clock:      clock,
	}
}

func (s *Service) OnRecordCreated(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerRecordCreated, h)
}

func (s *Service) OnRecordUpdated(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerRecordUpdated, h)
}

func (s *Service) OnEventCreated(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerEventCreated, h)
}

func (s *Service) OnEventApproaching(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerEventApproaching, h)
}

// OnPaymentReceived fires payment templates; a template's min_amount is compared with
// the "amount" payload key.
func (s *Service) OnPaymentReceived(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerPaymentReceived, h)
}

func (s *Service) OnMembershipExpiring(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerMembershipExpiring, h)
}

// OnAttendanceRecorded targets the attending record; an "event_id" payload key adds the event.
func (s *Service) OnAttendanceRecorded(ctx context.Context, h Happening) ([]*models.WorkflowExecution, error) {
	return s.Dispatch(ctx, models.TriggerAttendanceRecorded, h)
}

// Dispatch fires every ACTIVE template of kind that applies to the happening's target
// and whose trigger configuration matches a fresh snapshot of it. A template applies when
// it is tenant-wide or scoped to the target's own sub-tenant.
func (s *Service) Dispatch(ctx context.Context, kind models.TriggerKind, h Happening) ([]*models.WorkflowExecution, error) {
	logger := s.logger.With("trigger_kind", kind, "tenant_id", h.TenantID, "target_id", h.TargetID)

	ref := targetFor(kind, h)

	target, err := records.LoadTarget(ctx, s.store, h.Scope(), ref.RecordID, ref.EventID, h.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to load target: %w", err)
	}

	scope := targetScope(h, target)

	templates, err := s.templates.ActiveByTrigger(ctx, scope, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to find templates: %w", err)
	}

	if len(templates) == 0 {
		logger.DebugContext(ctx, "No active templates for happening", "sub_tenant_id", scope.SubTenantID)

		return nil, nil
	}

	attributes := target.Attributes(s.clock.Now().UTC())

	var (
		executions []*models.WorkflowExecution
		errs       []error
	)

	for _, template := range templates {
		execution, err := s.fire(ctx, logger, template, kind, h, ref, attributes)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if execution != nil {
			executions = append(executions, execution)
		}
	}

	logger.InfoContext(ctx, "Happening dispatched", "templates", len(templates), "executions", len(executions))

	return executions, errors.Join(errs...)
}

// Fire matches one template against the happening and starts an execution when it
// passes. A nil execution with a nil error means the template did not match.
func (s *Service) Fire(ctx context.Context, template *models.WorkflowTemplate, h Happening) (*models.WorkflowExecution, error) {
	kind := template.TriggerKind
	logger := s.logger.With("trigger_kind", kind, "tenant_id", h.TenantID, "target_id", h.TargetID)
	ref := targetFor(kind, h)

	target, err := records.LoadTarget(ctx, s.store, h.Scope(), ref.RecordID, ref.EventID, h.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to load target: %w", err)
	}

	return s.fire(ctx, logger, template, kind, h, ref, target.Attributes(s.clock.Now().UTC()))
}

func (s *Service) fire(
	ctx context.Context,
	logger *slog.Logger,
	template *models.WorkflowTemplate,
	kind models.TriggerKind,
	h Happening,
	ref models.TargetRef,
	attributes map[string]any,
) (*models.WorkflowExecution, error) {
	logger = logger.With("template_id", template.ID)

	if !meetsMinAmount(template.TriggerConfig, h.Payload) {
		logger.DebugContext(ctx, "Payment below minimum amount, template skipped")

		return nil, nil
	}

	ok, err := s.evaluator.Evaluate(ctx, template.TriggerConfig.TriggerCondition(), attributes)
	if err != nil {
		logger.WarnContext(ctx, "Failed to evaluate trigger condition, template skipped", "error", err)

		return nil, nil
	}

	if !ok {
		logger.DebugContext(ctx, "Trigger condition not met")

		return nil, nil
	}

	execution, err := s.executions.Trigger(ctx, template.Scope(), workflow.TriggerRequest{
		TemplateID:  template.ID,
		Target:      ref,
		Payload:     h.Payload,
		TriggeredBy: string(kind),
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to trigger template", "error", err)

		return nil, fmt.Errorf("template %s: %w", template.ID, err)
	}

	return execution, nil
}

// targetScope is the scope of the loaded target itself; the happening may carry only
// the tenant.
func targetScope(h Happening, target *models.Target) models.Scope {
	scope := models.Scope{TenantID: h.TenantID, SubTenantID: h.SubTenantID}

	switch {
	case target.Record != nil:
		scope.SubTenantID = target.Record.SubTenantID
	case target.Event != nil:
		scope.SubTenantID = target.Event.SubTenantID
	}

	return scope
}

func targetFor(kind models.TriggerKind, h Happening) models.TargetRef {
	switch kind {
	case models.TriggerEventCreated, models.TriggerEventApproaching:
		return models.TargetRef{EventID: h.TargetID}
	case models.TriggerAttendanceRecorded:
		eventID, _ := h.Payload[EventIDKey].(string)

		return models.TargetRef{RecordID: h.TargetID, EventID: eventID}
	default:
		return models.TargetRef{RecordID: h.TargetID}
	}
}

func meetsMinAmount(config *models.TriggerConfig, payload map[string]any) bool {
	if config == nil || config.MinAmount == nil {
		return true
	}

	amount, ok := models.ToFloat(payload[AmountKey])

	return ok && amount >= *config.MinAmount
}
