// Package inapp provides the send-in-app-notification action.
package inapp

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

func (*ActionFactory) ID() models.ActionType { return models.ActionSendInApp }

func (*ActionFactory) Name() string { return "Send in-app notification" }

func (*ActionFactory) Description() string {
	return "Creates one in-app notification per resolved recipient."
}

func (*ActionFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Action, error) {
	return &Action{gateway: deps.Gateway, recipients: deps.Recipients}, nil
}

type Action struct {
	gateway    gateway.Gateway
	recipients protocol.RecipientResolver
}

func (a *Action) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.Outcome, error) {
	logger = logger.With("action_type", models.ActionSendInApp)

	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.InAppConfig { return c.InApp })
	if err != nil {
		return nil, err
	}

	recipients, err := a.recipients.Resolve(ctx, config.Recipients, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	if len(recipients) == 0 {
		return &protocol.Outcome{Result: actions.NoRecipients()}, nil
	}

	renderCtx := actions.RenderContext(execCtx)
	title := template.Render(config.Title, renderCtx)
	message := template.Render(config.Message, renderCtx)
	link := template.Render(config.Link, renderCtx)

	ids := make([]string, 0, len(recipients))

	for _, recipient := range recipients {
		notification, err := a.gateway.CreateInAppNotification(ctx, gateway.InAppNotification{
			TenantID:       execCtx.Execution.TenantID,
			UserID:         recipient.ID,
			Title:          title,
			Message:        message,
			Link:           link,
			IdempotencyKey: actions.IdempotencyKey(execCtx, recipient.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create notification for %s: %w", recipient.ID, err)
		}

		if notification == nil {
			return nil, fmt.Errorf("%w: no notification returned for %s", gateway.ErrEmptyResponse, recipient.ID)
		}

		ids = append(ids, notification.ID)
	}

	logger.InfoContext(ctx, "In-app notifications created", "count", len(ids))

	result := actions.DeliveryResult(true, recipients)
	result["notification_ids"] = ids

	return &protocol.Outcome{Result: result}, nil
}
