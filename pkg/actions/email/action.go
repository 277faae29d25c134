// Package email provides the send-email action.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congrega/flows/pkg/actions"
	"github.com/congrega/flows/pkg/gateway"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/template"
)

// ActionFactory creates send-email handlers.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType { return models.ActionSendEmail }

func (*ActionFactory) Name() string { return "Send email" }

func (*ActionFactory) Description() string {
	return "Personalises subject and body, then submits one email to the resolved recipients."
}

func (*ActionFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Action, error) {
	return &Action{gateway: deps.Gateway, recipients: deps.Recipients}, nil
}

// Action sends a personalised email through the notification gateway.
type Action struct {
	gateway    gateway.Gateway
	recipients protocol.RecipientResolver
}

func (a *Action) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.Outcome, error) {
	logger = logger.With("action_type", models.ActionSendEmail)

	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.EmailConfig { return c.Email })
	if err != nil {
		return nil, err
	}

	recipients, err := a.recipients.Resolve(ctx, config.Recipients, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	if len(recipients) == 0 {
		logger.InfoContext(ctx, "No recipients, email not sent")

		return &protocol.Outcome{Result: actions.NoRecipients()}, nil
	}

	renderCtx := actions.RenderContext(execCtx)

	accepted, err := a.gateway.SendEmail(ctx, gateway.Email{
		TenantID:       execCtx.Execution.TenantID,
		Recipients:     recipients,
		Subject:        template.Render(config.Subject, renderCtx),
		HTML:           template.Render(config.HTML, renderCtx),
		Text:           template.Render(config.Text, renderCtx),
		IdempotencyKey: actions.IdempotencyKey(execCtx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	logger.InfoContext(ctx, "Email submitted", "recipients", len(recipients), "accepted", accepted)

	if !accepted && config.FailOnReject {
		return nil, protocol.ErrGatewayRejected
	}

	return &protocol.Outcome{Result: actions.DeliveryResult(accepted, recipients)}, nil
}
