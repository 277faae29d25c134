// Package task provides the create-task action. Tasks are logged and recorded on the
// action result; no task system is written to.
package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/actions"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/template"
	"github.com/jonboulle/clockwork"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType { return models.ActionCreateTask }

func (*ActionFactory) Name() string { return "Create task" }

func (*ActionFactory) Description() string {
	return "Records a follow-up task for a staff member."
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
	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.TaskConfig { return c.Task })
	if err != nil {
		return nil, err
	}

	renderCtx := actions.RenderContext(execCtx)
	result := map[string]any{
		"title":        template.Render(config.Title, renderCtx),
		"description":  template.Render(config.Description, renderCtx),
		"assignee_id":  config.AssigneeID,
		"materialized": false,
	}

	if record := execCtx.TargetRecord(); record != nil {
		result["record_id"] = record.ID
	}

	if config.DueInDays > 0 {
		result["due_at"] = a.clock.Now().UTC().AddDate(0, 0, config.DueInDays).Format(time.RFC3339)
	}

	logger.InfoContext(ctx, "Task recorded",
		"action_type", models.ActionCreateTask,
		"execution_id", execCtx.Execution.ID,
		"title", result["title"],
		"assignee_id", config.AssigneeID,
	)

	return &protocol.Outcome{Result: result}, nil
}
