package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congrega/flows/pkg/condition"
	"github.com/congrega/flows/pkg/config"
	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/otelhelper"
	"github.com/congrega/flows/pkg/persistence"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/queue"
	"github.com/congrega/flows/pkg/recipients"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/registry"
	"github.com/congrega/flows/pkg/services"
	"github.com/congrega/flows/pkg/triggers"
	"github.com/congrega/flows/pkg/triggers/schedule"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

// Engine holds the components shared by the binaries, built from one configuration.
type Engine struct {
	Settings     config.File
	Persistence  persistence.Persistence
	Queue        queue.Queue
	Records      records.Store
	Bus          eventbus.EventBus
	Registry     *registry.Registry
	Evaluator    *condition.Evaluator
	Templates    *services.Templates
	Orchestrator *workflow.Orchestrator

	logger  *slog.Logger
	clock   clockwork.Clock
	options []workflow.Option
	closers []func() error
}

// NewEngine connects every backing service named by settings. On error the services
// already connected are closed.
func NewEngine(ctx context.Context, logger *slog.Logger, settings config.File, serviceName string) (_ *Engine, err error) {
	e := &Engine{Settings: settings, logger: logger, clock: clockwork.NewRealClock()}

	defer func() {
		if err != nil {
			e.Close(ctx)
		}
	}()

	e.Persistence, err = NewPersistence(ctx, logger, settings.DatabaseURL)
	if err != nil {
		return nil, err
	}

	e.closers = append(e.closers, func() error { return e.Persistence.Close(ctx) })

	e.Queue, err = NewQueue(ctx, logger, settings.QueueURL)
	if err != nil {
		return nil, err
	}

	e.closers = append(e.closers, e.Queue.Close)

	var closeRecords func() error

	e.Records, closeRecords, err = NewRecordStore(ctx, logger, settings.RecordsURL)
	if err != nil {
		return nil, err
	}

	e.closers = append(e.closers, closeRecords)

	e.Bus, err = NewEventBus(logger, settings.EventBus.Provider, settings.EventBus.Brokers, serviceName)
	if err != nil {
		return nil, err
	}

	e.closers = append(e.closers, e.Bus.Close)

	policy, err := settings.Worker.Policy()
	if err != nil {
		return nil, err
	}

	e.Evaluator = condition.NewEvaluator(logger, policy)

	e.Registry, err = NewRegistry(ctx, logger, protocol.Dependencies{
		Logger:     logger,
		Records:    e.Records,
		Gateway:    NewGateway(logger, settings.Gateway.URL, settings.Gateway.Token, settings.Gateway.Attempts),
		Recipients: recipients.NewResolver(logger, e.Records),
		Clock:      e.clock,
	})
	if err != nil {
		return nil, err
	}

	tracing := NewTracing(ctx, logger, settings.Tracing.Enabled, serviceName)
	e.closers = append(e.closers, func() error { return tracing.Shutdown(ctx) })

	e.options = []workflow.Option{
		workflow.WithClock(e.clock),
		workflow.WithPublisher(e.Bus),
		workflow.WithRecords(e.Records),
		workflow.WithTracer(tracing.Tracer()),
		workflow.WithHandlerTimeout(settings.Worker.HandlerTimeout),
	}

	e.Templates = services.NewTemplates(logger, e.Persistence, e.Evaluator, e.clock)
	e.Orchestrator = workflow.NewOrchestrator(logger, e.Persistence, e.Queue, e.options...)

	return e, nil
}

// Executor builds the action processor.
func (e *Engine) Executor() *workflow.Executor {
	return workflow.NewExecutor(e.logger, e.Persistence, e.Queue, e.Registry, e.Records, e.Evaluator, e.options...)
}

// Pool builds a worker pool draining the queue into a new executor.
func (e *Engine) Pool() *workflow.Pool {
	return workflow.NewPool(e.logger, e.Queue, e.Executor(), e.Settings.Worker.Concurrency)
}

// Triggers builds the trigger service starting executions through the orchestrator.
func (e *Engine) Triggers() *triggers.Service {
	return triggers.NewService(e.logger, e.Persistence.Templates(), e.Records, e.Evaluator, e.Orchestrator, e.clock)
}

// Sweeper builds the schedule sweeper firing through service.
func (e *Engine) Sweeper(service *triggers.Service) *schedule.Sweeper {
	return schedule.NewSweeper(e.logger, e.Persistence, e.Records, service,
		schedule.WithSpec(e.Settings.Trigger.SweepSpec), schedule.WithClock(e.clock))
}

// Close releases the backing services in reverse order of connection.
func (e *Engine) Close(ctx context.Context) {
	var errs []error

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close engine", "error", err)
	}
}

// NewTracing exports spans over OTLP/HTTP when enabled and records nothing otherwise.
func NewTracing(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) *otelhelper.Provider {
	if !enabled {
		return otelhelper.NoopProvider()
	}

	provider, err := otelhelper.NewProvider(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return otelhelper.NoopProvider()
	}

	return provider
}
