package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/registry"
	"github.com/congrega/flows/pkg/services"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
)

const scopeKey = "scope"

type APIHandlers struct {
	templates    *services.Templates
	orchestrator *workflow.Orchestrator
	validator    *validator.Validate
	registry     *registry.Registry
	clock        clockwork.Clock
	publisher    eventbus.EventPublisher
}

func NewAPIHandlers(
	templates *services.Templates,
	orchestrator *workflow.Orchestrator,
	validator *validator.Validate,
	registry *registry.Registry,
	clock clockwork.Clock,
) *APIHandlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &APIHandlers{
		templates:    templates,
		orchestrator: orchestrator,
		validator:    validator,
		registry:     registry,
		clock:        clock,
	}
}

// WithPublisher enables POST /events, which forwards domain happenings to publisher.
func (h *APIHandlers) WithPublisher(publisher eventbus.EventPublisher) *APIHandlers {
	h.publisher = publisher

	return h
}

// RequireScope reads the tenant scope headers and stores the scope for the handlers.
func (h *APIHandlers) RequireScope(c fiber.Ctx) error {
	scope := models.Scope{
		TenantID:    strings.TrimSpace(c.Get(HeaderTenantID)),
		SubTenantID: strings.TrimSpace(c.Get(HeaderSubTenantID)),
	}

	if scope.TenantID == "" {
		return badRequest(c, HeaderTenantID+" header is required")
	}

	c.Locals(scopeKey, scope)

	return c.Next()
}

func scopeOf(c fiber.Ctx) models.Scope {
	scope, _ := c.Locals(scopeKey).(models.Scope)

	return scope
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	templates, err := h.templates.List(c.Context(), scopeOf(c), services.TemplateFilter{
		LifecycleType: models.LifecycleType(c.Query("lifecycle_type")),
		Status:        models.TemplateStatus(c.Query("status")),
		TriggerKind:   models.TriggerKind(c.Query("trigger_kind")),
		Search:        c.Query("search"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListResponse[*models.WorkflowTemplate]{
		Items:  templates,
		Count:  len(templates),
		Limit:  persistence.NormalizeLimit(limit),
		Offset: offset,
	})
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templates.Create(c.Context(), scopeOf(c), req.Template())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.Get(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.templates.Update(c.Context(), scopeOf(c), c.Params("id"), req.Template())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	if err := h.templates.Delete(c.Context(), scopeOf(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerTemplate(c fiber.Ctx) error {
	var req TriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON: "+err.Error())
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.orchestrator.Trigger(c.Context(), scopeOf(c), req.Request(c.Params("id")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// PublishEvent reports a domain happening of the caller's tenant to the trigger service.
func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	if h.publisher == nil {
		return problem(c, fiber.StatusServiceUnavailable, services.CodeInternal, "Event bus is not configured")
	}

	var req DomainEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.NewDomainEvent(events.EventType(req.Type), scopeOf(c), req.TargetID, req.Payload)
	if err := event.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.publisher.Publish(c.Context(), event.TargetID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": event.ID})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.orchestrator.List(c.Context(), scopeOf(c), workflow.ExecutionFilter{
		TemplateID: c.Query("template_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListResponse[*models.WorkflowExecution]{
		Items:  executions,
		Count:  len(executions),
		Limit:  persistence.NormalizeLimit(limit),
		Offset: offset,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	details, err := h.orchestrator.Get(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(details)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	cancelled, err := h.orchestrator.Cancel(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CancelResponse{ID: c.Params("id"), Cancelled: cancelled})
}

func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	execution, err := h.orchestrator.Retry(c.Context(), scopeOf(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	stats, err := h.orchestrator.Stats(c.Context(), scopeOf(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// ListActions describes the registered action types and their configuration schemas.
func (h *APIHandlers) ListActions(c fiber.Ctx) error {
	return c.JSON(h.registry.Components())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.templates.HealthCheck(c.Context())

	registryCheck, regOk := "All action types registered", true
	if missing := h.registry.Missing(); len(missing) > 0 {
		registryCheck, regOk = "Missing action handlers: "+joinTypes(missing), false
	}

	status := "unhealthy"
	message := "Flows API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Flows API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

func pagination(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = max(parsed, 0)
	}

	return limit, offset, nil
}

func joinTypes(types []models.ActionType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	return strings.Join(names, ", ")
}
