package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/congrega/flows/pkg/events"
	"github.com/congrega/flows/pkg/gateway"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func subjectIs(subject string) any {
	return mock.MatchedBy(func(email gateway.Email) bool { return email.Subject == subject })
}

func TestExecutor_SendsPersonalizedEmail(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	h.gateway.On("SendEmail", mock.Anything, subjectIs("Welcome Maria")).Return(true, nil).Once()

	execution := h.trigger(t, template, record)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	assert.Equal(t, 1, h.runDue(t))

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Status)
	assert.NotNil(t, details.StartedAt)
	assert.NotNil(t, details.CompletedAt)
	assert.Empty(t, details.CurrentJobID)
	require.Len(t, details.Actions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[0].Status)
	assert.Equal(t, true, details.Actions[0].Result["accepted"])
	assert.EqualValues(t, 1, details.Actions[0].Result["recipient_count"])

	h.gateway.AssertNumberOfCalls(t, "SendEmail", 1)
	h.gateway.AssertExpectations(t)

	assert.Equal(t, []events.EventType{
		events.ExecutionCreatedEvent,
		events.ExecutionStartedEvent,
		events.ActionCompletedEvent,
		events.ExecutionCompletedEvent,
	}, h.publisher.Types())
}

func TestExecutor_DelayedStepWithFalseConditionIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate(testutil.WithActions(
		testutil.EmailAction(1, "Hello {{member.firstName}}"),
		testutil.WithCondition(testutil.WithDelay(testutil.SMSAction(2, "Still there?"), 60),
			&models.Condition{Type: models.PredicateEquals, Field: "status", Value: "INACTIVE"}),
	)))

	h.gateway.On("SendEmail", mock.Anything, subjectIs("Hello Maria")).Return(true, nil).Once()

	execution := h.trigger(t, template, record)
	assert.Equal(t, 1, h.runDue(t))

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, details.Status)
	require.Len(t, details.Actions, 2)
	assert.Equal(t, models.ExecutionStatusPending, details.Actions[1].Status)
	assert.Equal(t, "2026-03-10T10:00:00Z", details.Actions[1].Result["deferred_until"])

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].FromStep)
	assert.True(t, jobs[0].DelayElapsed)
	assert.Equal(t, details.CurrentJobID, jobs[0].ID)

	h.clock.Advance(59 * time.Minute)
	assert.Equal(t, 0, h.runDue(t))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.runDue(t))

	details = h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Status)
	require.Len(t, details.Actions, 2)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[0].Status)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[1].Status)
	assert.True(t, details.Actions[1].Skipped())

	h.gateway.AssertNumberOfCalls(t, "SendEmail", 1)
	h.gateway.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything)
}

func TestExecutor_HandlerFailureStopsExecution(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate(testutil.WithActions(
		testutil.EmailAction(1, "Welcome"),
		testutil.StatusAction(2, "CONTACTED"),
	)))

	h.gateway.On("SendEmail", mock.Anything, mock.Anything).Return(false, errors.New("smtp down")).Once()

	execution := h.trigger(t, template, record)
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, details.Status)
	assert.Contains(t, details.ErrorMessage, "step 1 (send-email) failed")
	assert.Contains(t, details.ErrorMessage, "smtp down")
	assert.NotNil(t, details.CompletedAt)

	require.Len(t, details.Actions, 1)
	assert.Equal(t, models.ExecutionStatusFailed, details.Actions[0].Status)
	assert.Contains(t, details.Actions[0].ErrorMessage, "smtp down")

	assert.Empty(t, h.records.Changes())
	assert.Zero(t, h.queue.Len())
	assert.Contains(t, h.publisher.Types(), events.ActionFailedEvent)
	assert.Contains(t, h.publisher.Types(), events.ExecutionFailedEvent)
}

func TestExecutor_GatewayRejectionIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	h.gateway.On("SendEmail", mock.Anything, mock.Anything).Return(false, nil).Once()

	execution := h.trigger(t, template, record)
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Status)
	require.Len(t, details.Actions, 1)
	assert.Equal(t, true, details.Actions[0].Result["rejected"])
	assert.Equal(t, false, details.Actions[0].Result["accepted"])
}

func TestExecutor_WaitDefersFollowingSteps(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate(testutil.WithActions(
		testutil.WaitAction(1, 30),
		testutil.StatusAction(2, "INACTIVE"),
	)))

	execution := h.trigger(t, template, record)
	assert.Equal(t, 1, h.runDue(t))

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, details.Status)
	require.Len(t, details.Actions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[0].Status)
	assert.EqualValues(t, 30, details.Actions[0].Result["waited_minutes"])
	assert.Empty(t, h.records.Changes())

	h.clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, h.runDue(t))

	details = h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Status)

	changes := h.records.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, "INACTIVE", changes[0].Value)
	assert.Equal(t, "set by Welcome series", changes[0].Reason)
	assert.Equal(t, execution.ID, changes[0].ExecutionID)
}

func TestExecutor_RedeliveredJobIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	h.gateway.On("SendEmail", mock.Anything, mock.Anything).Return(true, nil).Once()

	h.trigger(t, template, record)

	job := h.dequeue(t)
	require.NoError(t, h.executor.Process(context.Background(), job))
	require.NoError(t, h.executor.Process(context.Background(), job))

	h.gateway.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestExecutor_CancelledBeforePickupDoesNothing(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	execution := h.trigger(t, template, record)
	job := h.dequeue(t)

	cancelled, err := h.orchestrator.Cancel(context.Background(), scope, execution.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, h.executor.Process(context.Background(), job))

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, details.Status)
	assert.Nil(t, details.StartedAt)
	assert.Empty(t, details.Actions)
	h.gateway.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestExecutor_CancelStopsBeforeNextStep(t *testing.T) {
	h := newHarness(t, nil)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate(testutil.WithActions(
		testutil.EmailAction(1, "First"),
		testutil.EmailAction(2, "Second"),
	)))

	var execution *models.WorkflowExecution

	h.gateway.On("SendEmail", mock.Anything, subjectIs("First")).Return(true, nil).Once().
		Run(func(mock.Arguments) {
			cancelled, err := h.orchestrator.Cancel(context.Background(), scope, execution.ID)
			assert.NoError(t, err)
			assert.True(t, cancelled)
		})

	execution = h.trigger(t, template, record)
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, details.Status)
	require.Len(t, details.Actions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, details.Actions[0].Status)
	h.gateway.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestExecutor_MissingTargetFailsStep(t *testing.T) {
	h := newHarness(t, nil)
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	execution := h.trigger(t, template, &models.Record{ID: "gone"})
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, details.Status)
	assert.Contains(t, details.ErrorMessage, "not found")
}

type actionFunc func(ctx context.Context, execCtx *models.ExecutionContext) (*protocol.Outcome, error)

func (f actionFunc) Action(models.ActionType) (protocol.Action, error) {
	return f, nil
}

func (f actionFunc) Execute(ctx context.Context, execCtx *models.ExecutionContext, _ *slog.Logger) (*protocol.Outcome, error) {
	return f(ctx, execCtx)
}

func TestExecutor_HandlerTimeout(t *testing.T) {
	slow := actionFunc(func(ctx context.Context, _ *models.ExecutionContext) (*protocol.Outcome, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	})

	h := newHarness(t, slow, workflow.WithHandlerTimeout(20*time.Millisecond))
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	execution := h.trigger(t, template, record)
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, details.Status)
	assert.Contains(t, details.ErrorMessage, "timed out after 20ms")
}

func TestExecutor_HandlerPanicFailsStep(t *testing.T) {
	broken := actionFunc(func(context.Context, *models.ExecutionContext) (*protocol.Outcome, error) {
		panic("nil config")
	})

	h := newHarness(t, broken)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	execution := h.trigger(t, template, record)
	h.runDue(t)

	details := h.details(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, details.Status)
	assert.Contains(t, details.ErrorMessage, "panicked: nil config")
}

func TestExecutor_ContextCarriesWorkflowAndTarget(t *testing.T) {
	var seen *models.ExecutionContext

	capture := actionFunc(func(_ context.Context, execCtx *models.ExecutionContext) (*protocol.Outcome, error) {
		seen = execCtx

		return &protocol.Outcome{Result: map[string]any{"ok": true}}, nil
	})

	h := newHarness(t, capture)
	record := h.saveRecord(testutil.CreateTestRecord())
	template := h.saveTemplate(t, testutil.CreateTestTemplate())

	execution, err := h.orchestrator.Trigger(context.Background(), scope, workflow.TriggerRequest{
		TemplateID: template.ID,
		Target:     models.TargetRef{RecordID: record.ID},
		Payload:    map[string]any{"amount": 120.5},
	})
	require.NoError(t, err)
	h.runDue(t)

	require.NotNil(t, seen)
	assert.Equal(t, "Welcome series", seen.WorkflowName)
	assert.Equal(t, record.ID, seen.TargetRecord().ID)
	assert.Equal(t, "St. Brigid's", seen.Target.Organisation.Name)
	assert.InDelta(t, 120.5, seen.Target.Payload["amount"], 0.001)
	assert.Equal(t, workflow.TriggeredByManual, h.details(t, execution.ID).TriggeredBy)
}
