// Package sms provides the send-sms action.
package sms

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

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType { return models.ActionSendSMS }

func (*ActionFactory) Name() string { return "Send SMS" }

func (*ActionFactory) Description() string {
	return "Personalises a text message and submits it to recipients that have a phone number."
}

func (*ActionFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Action, error) {
	return &Action{gateway: deps.Gateway, recipients: deps.Recipients}, nil
}

type Action struct {
	gateway    gateway.Gateway
	recipients protocol.RecipientResolver
}

func (a *Action) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.Outcome, error) {
	logger = logger.With("action_type", models.ActionSendSMS)

	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.SMSConfig { return c.SMS })
	if err != nil {
		return nil, err
	}

	resolved, err := a.recipients.Resolve(ctx, config.Recipients, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	recipients := make([]models.Recipient, 0, len(resolved))
	for _, r := range resolved {
		if r.Phone != "" {
			recipients = append(recipients, r)
		}
	}

	if len(recipients) == 0 {
		logger.InfoContext(ctx, "No recipients with a phone number, SMS not sent", "resolved", len(resolved))

		return &protocol.Outcome{Result: actions.NoRecipients()}, nil
	}

	accepted, err := a.gateway.SendSMS(ctx, gateway.SMS{
		TenantID:       execCtx.Execution.TenantID,
		Recipients:     recipients,
		Message:        template.Render(config.Message, actions.RenderContext(execCtx)),
		IdempotencyKey: actions.IdempotencyKey(execCtx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send sms: %w", err)
	}

	logger.InfoContext(ctx, "SMS submitted", "recipients", len(recipients), "accepted", accepted)

	if !accepted && config.FailOnReject {
		return nil, protocol.ErrGatewayRejected
	}

	result := actions.DeliveryResult(accepted, recipients)
	if skipped := len(resolved) - len(recipients); skipped > 0 {
		result["skipped_without_phone"] = skipped
	}

	return &protocol.Outcome{Result: result}, nil
}
