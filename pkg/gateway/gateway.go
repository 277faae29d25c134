// Package gateway defines the notification gateway the engine submits messages to.
// Delivery is the gateway's concern; the engine records only the accept/reject outcome.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/congrega/flows/pkg/models"
)

var (
	// ErrGatewayUnavailable is returned when the gateway could not be reached at all.
	ErrGatewayUnavailable = errors.New("notification gateway unavailable")
	// ErrEmptyResponse is returned when the gateway answered without the created resource.
	ErrEmptyResponse = errors.New("empty notification gateway response")
)

// Email, SMS and InAppNotification carry an IdempotencyKey that stays the same for every
// submission of one action attempt, so the gateway can drop duplicates.
type Email struct {
	TenantID       string             `json:"tenant_id"`
	Recipients     []models.Recipient `json:"recipients"`
	Subject        string             `json:"subject"`
	HTML           string             `json:"html,omitempty"`
	Text           string             `json:"text,omitempty"`
	IdempotencyKey string             `json:"-"`
}

type SMS struct {
	TenantID       string             `json:"tenant_id"`
	Recipients     []models.Recipient `json:"recipients"`
	Message        string             `json:"message"`
	IdempotencyKey string             `json:"-"`
}

type InAppNotification struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Link           string `json:"link,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Notification is the record the gateway returns for a created in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway submits messages. SendEmail and SendSMS report whether the gateway accepted them.
type Gateway interface {
	SendEmail(ctx context.Context, email Email) (bool, error)
	SendSMS(ctx context.Context, sms SMS) (bool, error)
	CreateInAppNotification(ctx context.Context, notification InAppNotification) (*Notification, error)
}
