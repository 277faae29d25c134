// Package protocol defines the contract between the executor and action handlers.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/gateway"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrGatewayRejected is returned by messaging handlers configured to fail on rejection.
	ErrGatewayRejected = errors.New("notification gateway rejected the message")
	// ErrNoTarget is returned by handlers that need a target record the execution lacks.
	ErrNoTarget = errors.New("execution has no target record")
)

// Outcome is what a handler reports back. A positive Defer asks the executor to resume
// with the next step after that duration instead of continuing immediately.
type Outcome struct {
	Result map[string]any
	Defer  time.Duration
}

// Action executes one action type. Its configuration is read from the ExecutionContext.
type Action interface {
	Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*Outcome, error)
}

// RecipientResolver turns a descriptor into concrete recipients.
type RecipientResolver interface {
	Resolve(ctx context.Context, descriptor models.RecipientDescriptor, execCtx *models.ExecutionContext) ([]models.Recipient, error)
}

// Dependencies are handed to every factory when the registry builds its handlers.
type Dependencies struct {
	Logger     *slog.Logger
	Records    records.Store
	Gateway    gateway.Gateway
	Recipients RecipientResolver
	Clock      clockwork.Clock
}

// ActionFactory builds the handler of one action type.
type ActionFactory interface {
	ID() models.ActionType
	Name() string
	Description() string
	Create(ctx context.Context, deps Dependencies) (Action, error)
}
