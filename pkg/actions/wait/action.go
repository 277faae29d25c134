// Package wait provides the wait action. It never blocks: it asks the executor to resume
// the execution with the next step once the wait has elapsed.
package wait

import (
	"context"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/actions"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType { return models.ActionWait }

func (*ActionFactory) Name() string { return "Wait" }

func (*ActionFactory) Description() string {
	return "Pauses the execution for a number of minutes before the next step."
}

func (*ActionFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Action, error) {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Action{clock: clock}, nil
}

type Action struct {
	clock clockwork.Clock
}

func (a *Action) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.Outcome, error) {
	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.WaitConfig { return c.Wait })
	if err != nil {
		return nil, err
	}

	wait := time.Duration(config.Minutes) * time.Minute
	resumeAt := a.clock.Now().UTC().Add(wait)

	logger.DebugContext(ctx, "Deferring execution", "action_type", models.ActionWait, "minutes", config.Minutes)

	return &protocol.Outcome{
		Result: map[string]any{
			"waited_minutes": config.Minutes,
			"resume_at":      resumeAt.Format(time.RFC3339),
		},
		Defer: wait,
	}, nil
}
