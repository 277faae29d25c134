package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/congrega/flows/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	// DefaultPort is where the HTTP API listens unless told otherwise.
	DefaultPort = 9091

	shutdownTimeout = 30 * time.Second
)

// API builds the HTTP application over the engine's services.
func (e *Engine) API() *fiber.App {
	handlers := web.NewAPIHandlers(
		e.Templates,
		e.Orchestrator,
		validator.New(validator.WithRequiredStructEnabled()),
		e.Registry,
		e.clock,
	).WithPublisher(e.Bus)

	return web.NewApp(handlers)
}

// Serve listens on port until ctx is done, then shuts the application down.
func Serve(ctx context.Context, logger *slog.Logger, app *fiber.App, port int) error {
	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("failed to serve API: %w", err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API: %w", err)
	}

	return nil
}

// RunTriggers listens for domain events and sweeps schedule triggers until ctx is done.
func (e *Engine) RunTriggers(ctx context.Context) error {
	service := e.Triggers()

	if err := service.Listen(e.Bus); err != nil {
		return err
	}

	if err := e.Bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	sweeper := e.Sweeper(service)

	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return sweeper.Stop(stopCtx)
}

// RunWorkers processes queued jobs until ctx is done.
func (e *Engine) RunWorkers(ctx context.Context) error {
	return e.Pool().Run(ctx)
}
