// Package http submits messages to a notification service over JSON/HTTP.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/congrega/flows/pkg/gateway"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
)

// ErrServerError is returned for 5xx responses once retries are exhausted.
var ErrServerError = errors.New("server error from notification service")

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithAttempts sets how many times a request is tried on transport or 5xx errors.
func WithAttempts(attempts uint) Option {
	return func(g *Gateway) { g.attempts = attempts }
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(g *Gateway) { g.token = token }
}

// Gateway posts messages to <base>/emails, <base>/sms and <base>/notifications.
// A 2xx response carries {"accepted": bool}; 409 and 422 mean the message was rejected.
type Gateway struct {
	baseURL  string
	token    string
	attempts uint
	client   *http.Client
	logger   *slog.Logger
}

func NewGateway(logger *slog.Logger, baseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: defaultAttempts,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("module", "http_gateway"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

type acceptance struct {
	Accepted bool `json:"accepted"`
}

func (g *Gateway) SendEmail(ctx context.Context, email gateway.Email) (bool, error) {
	var response acceptance

	rejected, err := g.post(ctx, "/emails", email.IdempotencyKey, email, &response)
	if err != nil {
		return false, err
	}

	return !rejected && response.Accepted, nil
}

func (g *Gateway) SendSMS(ctx context.Context, sms gateway.SMS) (bool, error) {
	var response acceptance

	rejected, err := g.post(ctx, "/sms", sms.IdempotencyKey, sms, &response)
	if err != nil {
		return false, err
	}

	return !rejected && response.Accepted, nil
}

func (g *Gateway) CreateInAppNotification(ctx context.Context, notification gateway.InAppNotification) (*gateway.Notification, error) {
	var created gateway.Notification

	rejected, err := g.post(ctx, "/notifications", notification.IdempotencyKey, notification, &created)
	if err != nil {
		return nil, err
	}

	if rejected {
		return nil, fmt.Errorf("notification for user %s was rejected", notification.UserID)
	}

	if created.ID == "" {
		return nil, fmt.Errorf("%w: notification for user %s has no id", gateway.ErrEmptyResponse, notification.UserID)
	}

	return &created, nil
}

// post sends body and decodes a 2xx response into out. It reports rejected=true for 409/422.
// Every try carries the same Idempotency-Key header when key is set.
func (g *Gateway) post(ctx context.Context, path, key string, body, out any) (bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	operation := func() (bool, error) {
		return g.do(ctx, path, key, payload, out)
	}

	rejected, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.WarnContext(ctx, "Notification service request failed, retrying",
				"path", path, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", gateway.ErrGatewayUnavailable, err)
	}

	return rejected, nil
}

func (g *Gateway) do(ctx context.Context, path, key string, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("%w (status %d)", ErrServerError, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		g.logger.InfoContext(ctx, "Notification service rejected message", "path", path, "status", resp.StatusCode)

		return true, nil
	case resp.StatusCode >= 400:
		return false, backoff.Permanent(fmt.Errorf("notification service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return false, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return false, nil
}
