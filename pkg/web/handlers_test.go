package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/congrega/flows/pkg/actions/email"
	"github.com/congrega/flows/pkg/actions/inapp"
	"github.com/congrega/flows/pkg/actions/sms"
	"github.com/congrega/flows/pkg/actions/status"
	"github.com/congrega/flows/pkg/actions/task"
	"github.com/congrega/flows/pkg/actions/wait"
	"github.com/congrega/flows/pkg/condition"
	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/events"
	logGateway "github.com/congrega/flows/pkg/gateway/log"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence/file"
	"github.com/congrega/flows/pkg/protocol"
	queuememory "github.com/congrega/flows/pkg/queue/memory"
	"github.com/congrega/flows/pkg/recipients"
	recordsmemory "github.com/congrega/flows/pkg/records/memory"
	"github.com/congrega/flows/pkg/registry"
	"github.com/congrega/flows/pkg/services"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/congrega/flows/pkg/web"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

type testAPI struct {
	app       *fiber.App
	published *capturePublisher
	queue     *queuememory.Queue
	records   *recordsmemory.Store
	executor  *workflow.Executor
}

func setupTestApp(t *testing.T, factories ...protocol.ActionFactory) *testAPI {
	t.Helper()

	logger := testutil.Logger()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	persistence := file.NewPersistence(t.TempDir())
	records := recordsmemory.NewStore()
	q := queuememory.NewQueue(clock)
	evaluator := condition.NewEvaluator(logger, condition.FailOpen)

	records.PutOrganisation(&models.Organisation{ID: "t1", Name: "St. Brigid's"})

	reg := registry.NewRegistry(logger, protocol.Dependencies{
		Records:    records,
		Gateway:    logGateway.NewGateway(logger),
		Recipients: recipients.NewResolver(logger, records),
		Clock:      clock,
	})

	if len(factories) == 0 {
		factories = []protocol.ActionFactory{
			email.NewActionFactory(), sms.NewActionFactory(), inapp.NewActionFactory(),
			status.NewActionFactory(), task.NewActionFactory(), wait.NewActionFactory(),
		}
	}

	for _, factory := range factories {
		require.NoError(t, reg.RegisterAction(context.Background(), factory))
	}

	opts := []workflow.Option{workflow.WithClock(clock), workflow.WithRecords(records)}

	handlers := web.NewAPIHandlers(
		services.NewTemplates(logger, persistence, evaluator, clock),
		workflow.NewOrchestrator(logger, persistence, q, opts...),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
		clock,
	)

	published := &capturePublisher{}
	handlers.WithPublisher(published)

	return &testAPI{
		app:       web.NewApp(handlers),
		published: published,
		queue:     q,
		records:   records,
		executor:  workflow.NewExecutor(logger, persistence, q, reg, records, evaluator, opts...),
	}
}

// do sends a request as tenant (no tenant header when empty) and returns status and body.
func (a *testAPI) do(t *testing.T, method, path, tenant string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			encoded, err := json.Marshal(body)
			require.NoError(t, err)

			raw = string(encoded)
		}

		reader = bytes.NewBufferString(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if tenant != "" {
		req.Header.Set(web.HeaderTenantID, tenant)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

// runQueued processes every job that is due.
func (a *testAPI) runQueued(t *testing.T) {
	t.Helper()

	for a.queue.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		job, err := a.queue.Dequeue(ctx)
		cancel()
		require.NoError(t, err)

		require.NoError(t, a.executor.Process(context.Background(), job))
		require.NoError(t, a.queue.Ack(context.Background(), job))
	}
}

type problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))

	return v
}

const welcomeTemplate = `{
	"name": "Welcome series",
	"lifecycle_type": "follow-up",
	"trigger_kind": "record-created",
	"actions": [
		{"step": 2, "type": "update-target-status", "config": {"value": "CONTACTED"}},
		{"step": 1, "type": "send-email", "config": {
			"subject": "Welcome {{member.firstName}}",
			"text": "Glad you joined {{organisation.name}}",
			"recipients": {"type": "target"}
		}}
	]
}`

func (a *testAPI) createTemplate(t *testing.T) *models.WorkflowTemplate {
	t.Helper()

	code, body := a.do(t, http.MethodPost, "/templates", "t1", welcomeTemplate)
	require.Equal(t, http.StatusCreated, code, string(body))

	return decode[*models.WorkflowTemplate](t, body)
}

func TestAPIHandlers_TenantHeaderIsRequired(t *testing.T) {
	api := setupTestApp(t)

	for _, path := range []string{"/templates", "/executions", "/stats"} {
		code, body := api.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, code, path)

		p := decode[problem](t, body)
		assert.Equal(t, services.CodeInvalidRequest, p.Type)
		assert.Contains(t, p.Detail, web.HeaderTenantID)
	}
}

func TestAPIHandlers_CreateTemplate(t *testing.T) {
	api := setupTestApp(t)

	template := api.createTemplate(t)
	assert.NotEmpty(t, template.ID)
	assert.Equal(t, "t1", template.TenantID)
	assert.Equal(t, models.TemplateStatusActive, template.Status)
	require.Len(t, template.Actions, 2)
	assert.Equal(t, models.ActionSendEmail, template.Actions[0].Type)
	assert.Equal(t, 1, template.Actions[0].Step)
	assert.Equal(t, "Welcome {{member.firstName}}", template.Actions[0].Config.Email.Subject)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed json", body: `{"name":`, code: services.CodeInvalidRequest},
		{name: "short name", body: `{"name":"W","trigger_kind":"record-created"}`, code: services.CodeInvalidRequest},
		{name: "missing trigger kind", body: `{"name":"Welcome"}`, code: services.CodeInvalidRequest},
		{name: "deleted status", body: `{"name":"Welcome","trigger_kind":"record-created","status":"DELETED"}`, code: services.CodeInvalidRequest},
		{name: "unknown trigger kind", body: `{"name":"Welcome","trigger_kind":"birthday"}`, code: services.CodeInvalidConfiguration},
		{
			name: "email without subject",
			body: `{"name":"Welcome","trigger_kind":"record-created","actions":[{"type":"send-email","config":{"text":"Hi","recipients":{"type":"target"}}}]}`,
			code: services.CodeInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := api.do(t, http.MethodPost, "/templates", "t1", tt.body)
			assert.Equal(t, http.StatusBadRequest, code, string(body))
			assert.Equal(t, tt.code, decode[problem](t, body).Type)
		})
	}
}

func TestAPIHandlers_TemplateLifecycle(t *testing.T) {
	api := setupTestApp(t)
	created := api.createTemplate(t)
	path := "/templates/" + created.ID

	code, body := api.do(t, http.MethodGet, path, "t1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Welcome series", decode[*models.WorkflowTemplate](t, body).Name)

	code, body = api.do(t, http.MethodGet, path, "t2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, services.CodeNotFound, decode[problem](t, body).Type)

	code, body = api.do(t, http.MethodPut, path, "t1", web.TemplateRequest{
		Name:        "Welcome series v2",
		TriggerKind: models.TriggerRecordCreated,
		Status:      models.TemplateStatusPaused,
	})
	require.Equal(t, http.StatusOK, code, string(body))

	updated := decode[*models.WorkflowTemplate](t, body)
	assert.Equal(t, "Welcome series v2", updated.Name)
	assert.Equal(t, models.TemplateStatusPaused, updated.Status)
	assert.Len(t, updated.Actions, 2)

	code, body = api.do(t, http.MethodGet, "/templates?status=PAUSED", "t1", nil)
	require.Equal(t, http.StatusOK, code)

	list := decode[web.ListResponse[*models.WorkflowTemplate]](t, body)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 50, list.Limit)

	code, _ = api.do(t, http.MethodDelete, path, "t1", nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = api.do(t, http.MethodGet, path, "t1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodDelete, path, "t1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIHandlers_TriggerAndInspectExecution(t *testing.T) {
	api := setupTestApp(t)
	record := testutil.CreateTestRecord()
	api.records.PutRecord(record)
	template := api.createTemplate(t)

	code, body := api.do(t, http.MethodPost, "/templates/"+template.ID+"/trigger", "t1", web.TriggerRequest{
		RecordID: record.ID,
		Payload:  map[string]any{"source": "front-desk"},
	})
	require.Equal(t, http.StatusAccepted, code, string(body))

	execution := decode[*models.WorkflowExecution](t, body)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, workflow.TriggeredByManual, execution.TriggeredBy)
	assert.Equal(t, record.ID, execution.TargetRecordID)

	api.runQueued(t)

	code, body = api.do(t, http.MethodGet, "/executions/"+execution.ID, "t1", nil)
	require.Equal(t, http.StatusOK, code)

	details := decode[workflow.ExecutionDetails](t, body)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Status)
	require.Len(t, details.Actions, 2)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[0].Status)
	require.Len(t, api.records.Changes(), 1)
	assert.Equal(t, "CONTACTED", api.records.Changes()[0].Value)

	code, body = api.do(t, http.MethodGet, "/executions?status=COMPLETED&template_id="+template.ID, "t1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[web.ListResponse[*models.WorkflowExecution]](t, body).Count)

	code, body = api.do(t, http.MethodGet, "/executions/"+execution.ID, "t2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, services.CodeNotFound, decode[problem](t, body).Type)

	code, body = api.do(t, http.MethodPost, "/executions/"+execution.ID+"/cancel", "t1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, services.CodeIllegalTransition, decode[problem](t, body).Type)

	code, _ = api.do(t, http.MethodPost, "/executions/"+execution.ID+"/retry", "t1", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = api.do(t, http.MethodGet, "/stats", "t1", nil)
	require.Equal(t, http.StatusOK, code)

	stats := decode[workflow.Stats](t, body)
	assert.Equal(t, 1, stats.TotalTemplates)
	assert.Equal(t, 1, stats.TotalExecutions)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
}

func TestAPIHandlers_CancelPendingExecution(t *testing.T) {
	api := setupTestApp(t)
	template := api.createTemplate(t)

	code, body := api.do(t, http.MethodPost, "/templates/"+template.ID+"/trigger", "t1", nil)
	require.Equal(t, http.StatusAccepted, code, string(body))

	execution := decode[*models.WorkflowExecution](t, body)

	code, body = api.do(t, http.MethodPost, "/executions/"+execution.ID+"/cancel", "t1", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, web.CancelResponse{ID: execution.ID, Cancelled: true}, decode[web.CancelResponse](t, body))
	assert.Equal(t, 0, api.queue.Len())
}

func TestAPIHandlers_TriggerUnknownTemplate(t *testing.T) {
	api := setupTestApp(t)

	code, body := api.do(t, http.MethodPost, "/templates/missing/trigger", "t1", web.TriggerRequest{})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, services.CodeNotFound, decode[problem](t, body).Type)
}

func TestAPIHandlers_InvalidPagination(t *testing.T) {
	api := setupTestApp(t)

	code, _ := api.do(t, http.MethodGet, "/executions?limit=ten", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	code, body := setupTestApp(t).do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])

	code, body = setupTestApp(t, email.NewActionFactory()).do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	health := decode[map[string]any](t, body)
	assert.Equal(t, "unhealthy", health["status"])
	assert.Contains(t, health["checkers"].(map[string]any)["registry"], "send-sms")
}

func TestAPIHandlers_ListActions(t *testing.T) {
	code, body := setupTestApp(t).do(t, http.MethodGet, "/actions", "", nil)
	require.Equal(t, http.StatusOK, code)

	components := decode[[]registry.ComponentInfo](t, body)
	assert.Len(t, components, len(models.ActionTypes))
}

func TestAPIHandlers_PublishEvent(t *testing.T) {
	api := setupTestApp(t)

	code, body := api.do(t, http.MethodPost, "/events", "t1", map[string]any{
		"type":      "payment.received",
		"target_id": "rec-1",
		"payload":   map[string]any{"amount": 50},
	})
	require.Equal(t, http.StatusAccepted, code, string(body))

	require.Len(t, api.published.events, 1)

	event, ok := api.published.events[0].(events.DomainEvent)
	require.True(t, ok)
	assert.Equal(t, events.PaymentReceivedEvent, event.Type)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, "rec-1", event.TargetID)
	assert.Contains(t, string(body), event.ID)

	for name, payload := range map[string]any{
		"unknown type":   map[string]any{"type": "record.deleted", "target_id": "rec-1"},
		"missing target": map[string]any{"type": "record.created"},
		"malformed":      "{",
	} {
		code, body := api.do(t, http.MethodPost, "/events", "t1", payload)
		assert.Equal(t, http.StatusBadRequest, code, name+": "+string(body))
	}

	assert.Len(t, api.published.events, 1)
}
