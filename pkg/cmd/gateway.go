package cmd

import (
	"log/slog"

	"github.com/congrega/flows/pkg/gateway"
	httpgateway "github.com/congrega/flows/pkg/gateway/http"
	loggateway "github.com/congrega/flows/pkg/gateway/log"
)

// NewGateway returns the HTTP notification gateway for a base URL, or a gateway that only
// logs messages when the URL is empty.
func NewGateway(logger *slog.Logger, baseURL, token string, attempts uint) gateway.Gateway {
	if baseURL == "" {
		logger.Warn("No notification gateway configured, messages are only logged")

		return loggateway.NewGateway(logger)
	}

	opts := []httpgateway.Option{httpgateway.WithToken(token)}
	if attempts > 0 {
		opts = append(opts, httpgateway.WithAttempts(attempts))
	}

	return httpgateway.NewGateway(logger, baseURL, opts...)
}
