// Package log provides a gateway that only logs messages, for development.
package log

import (
	"context"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/gateway"
	"github.com/google/uuid"
)

// Gateway accepts every message and writes it to the logger.
type Gateway struct {
	logger *slog.Logger
}

func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{logger: logger.With("module", "log_gateway")}
}

func (g *Gateway) SendEmail(ctx context.Context, email gateway.Email) (bool, error) {
	g.logger.InfoContext(ctx, "Email accepted",
		"tenant_id", email.TenantID,
		"recipients", len(email.Recipients),
		"subject", email.Subject,
	)

	return true, nil
}

func (g *Gateway) SendSMS(ctx context.Context, sms gateway.SMS) (bool, error) {
	g.logger.InfoContext(ctx, "SMS accepted",
		"tenant_id", sms.TenantID,
		"recipients", len(sms.Recipients),
		"length", len(sms.Message),
	)

	return true, nil
}

func (g *Gateway) CreateInAppNotification(ctx context.Context, notification gateway.InAppNotification) (*gateway.Notification, error) {
	created := &gateway.Notification{
		ID:        uuid.NewString(),
		UserID:    notification.UserID,
		CreatedAt: time.Now().UTC(),
	}

	g.logger.InfoContext(ctx, "In-app notification created",
		"tenant_id", notification.TenantID,
		"user_id", notification.UserID,
		"notification_id", created.ID,
		"title", notification.Title,
	)

	return created, nil
}
