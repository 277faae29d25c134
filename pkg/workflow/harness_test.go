package workflow_test

import (
	"context"
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
	"github.com/congrega/flows/pkg/mocks"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence/file"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/queue"
	queuememory "github.com/congrega/flows/pkg/queue/memory"
	"github.com/congrega/flows/pkg/recipients"
	recordsmemory "github.com/congrega/flows/pkg/records/memory"
	"github.com/congrega/flows/pkg/registry"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var scope = models.Scope{TenantID: "t1"}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type harness struct {
	clock        *clockwork.FakeClock
	persistence  *file.Persistence
	queue        *queuememory.Queue
	records      *recordsmemory.Store
	gateway      *mocks.MockGateway
	publisher    *recordingPublisher
	orchestrator *workflow.Orchestrator
	executor     *workflow.Executor
}

// newHarness wires the engine on file persistence, the in-memory queue and record store,
// and a mocked gateway. A nil source registers every built-in action.
func newHarness(t *testing.T, source workflow.ActionSource, opts ...workflow.Option) *harness {
	t.Helper()

	logger := testutil.Logger()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	h := &harness{
		clock:       clock,
		persistence: file.NewPersistence(t.TempDir()),
		queue:       queuememory.NewQueue(clock),
		records:     recordsmemory.NewStore(),
		gateway:     &mocks.MockGateway{},
		publisher:   &recordingPublisher{},
	}

	h.records.PutOrganisation(&models.Organisation{ID: "t1", Name: "St. Brigid's"})

	if source == nil {
		reg := registry.NewRegistry(logger, protocol.Dependencies{
			Logger:     logger,
			Records:    h.records,
			Gateway:    h.gateway,
			Recipients: recipients.NewResolver(logger, h.records),
			Clock:      clock,
		})

		for _, factory := range []protocol.ActionFactory{
			email.NewActionFactory(), sms.NewActionFactory(), inapp.NewActionFactory(),
			status.NewActionFactory(), task.NewActionFactory(), wait.NewActionFactory(),
		} {
			require.NoError(t, reg.RegisterAction(context.Background(), factory))
		}

		source = reg
	}

	common := append([]workflow.Option{workflow.WithClock(clock), workflow.WithPublisher(h.publisher)}, opts...)

	h.orchestrator = workflow.NewOrchestrator(logger, h.persistence, h.queue,
		append(common, workflow.WithRecords(h.records))...)
	h.executor = workflow.NewExecutor(logger, h.persistence, h.queue, source, h.records,
		condition.NewEvaluator(logger, condition.FailOpen), common...)

	return h
}

func (h *harness) saveTemplate(t *testing.T, template *models.WorkflowTemplate) *models.WorkflowTemplate {
	t.Helper()

	require.NoError(t, h.persistence.Templates().Save(context.Background(), template))

	return template
}

func (h *harness) saveRecord(record *models.Record) *models.Record {
	h.records.PutRecord(record)

	return record
}

func (h *harness) trigger(t *testing.T, template *models.WorkflowTemplate, record *models.Record) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.orchestrator.Trigger(context.Background(), scope, workflow.TriggerRequest{
		TemplateID:  template.ID,
		Target:      models.TargetRef{RecordID: record.ID},
		TriggeredBy: "test",
	})
	require.NoError(t, err)

	return execution
}

// dequeue returns the next job, which must already be due.
func (h *harness) dequeue(t *testing.T) *queue.Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	job, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)

	return job
}

// runDue processes jobs until none is due at the current fake time.
func (h *harness) runDue(t *testing.T) int {
	t.Helper()

	processed := 0

	for {
		jobs := h.queue.Jobs()
		if len(jobs) == 0 || jobs[0].RunAt.After(h.clock.Now()) {
			return processed
		}

		job := h.dequeue(t)
		require.NoError(t, h.executor.Process(context.Background(), job))
		require.NoError(t, h.queue.Ack(context.Background(), job))

		processed++
	}
}

func (h *harness) details(t *testing.T, id string) *workflow.ExecutionDetails {
	t.Helper()

	details, err := h.orchestrator.Get(context.Background(), scope, id)
	require.NoError(t, err)

	return details
}
