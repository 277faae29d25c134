// Package workflow runs template executions: the orchestrator owns their lifecycle, the
// executor advances them one queue job at a time and the pool drains the queue.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/eventbus"
	"github.com/congrega/flows/pkg/otelhelper"
	"github.com/congrega/flows/pkg/records"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHandlerTimeout bounds a single action handler call.
const DefaultHandlerTimeout = 2 * time.Minute

// TriggeredByManual is recorded when a caller does not say who triggered an execution.
const TriggeredByManual = "manual"

type options struct {
	publisher      eventbus.EventPublisher
	clock          clockwork.Clock
	tracer         trace.Tracer
	records        records.Store
	handlerTimeout time.Duration
}

// Option configures an Orchestrator or an Executor.
type Option func(*options)

// WithPublisher publishes lifecycle events on publisher.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithTracer records spans on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithRecords gives the orchestrator the record store used for statistics.
func WithRecords(store records.Store) Option {
	return func(o *options) { o.records = store }
}

// WithHandlerTimeout bounds each action handler call.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(o *options) { o.handlerTimeout = timeout }
}

func newOptions(opts []Option) options {
	o := options{handlerTimeout: DefaultHandlerTimeout}

	for _, opt := range opts {
		opt(&o)
	}

	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	if o.tracer == nil {
		o.tracer = otelhelper.NoopTracer()
	}

	if o.handlerTimeout <= 0 {
		o.handlerTimeout = DefaultHandlerTimeout
	}

	return o
}

// publish sends a lifecycle event when a publisher is configured. Failures are logged
// and never affect the execution.
func (o *options) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	if err := o.publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
