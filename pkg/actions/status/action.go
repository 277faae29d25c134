// Package status provides the update-target-status action.
package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congrega/flows/pkg/actions"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/template"
	"github.com/jonboulle/clockwork"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() models.ActionType { return models.ActionUpdateStatus }

func (*ActionFactory) Name() string { return "Update target status" }

func (*ActionFactory) Description() string {
	return "Sets a status field on the target record and records the reason for audit."
}

func (*ActionFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Action, error) {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Action{records: deps.Records, clock: clock}, nil
}

type Action struct {
	records records.Store
	clock   clockwork.Clock
}

func (a *Action) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.Outcome, error) {
	config, err := actions.Config(execCtx, func(c *models.ActionConfig) *models.StatusUpdateConfig { return c.Status })
	if err != nil {
		return nil, err
	}

	record := execCtx.TargetRecord()
	if record == nil {
		return nil, protocol.ErrNoTarget
	}

	reason := template.Render(config.Reason, actions.RenderContext(execCtx))

	previous, err := a.records.UpdateRecordStatus(ctx, execCtx.Scope(), records.StatusChange{
		RecordID:    record.ID,
		Field:       config.Field,
		Value:       config.Value,
		Reason:      reason,
		ExecutionID: execCtx.Execution.ID,
		ChangedAt:   a.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update record status: %w", err)
	}

	field, _ := records.NormalizeStatusField(config.Field)

	logger.InfoContext(ctx, "Record status updated",
		"action_type", models.ActionUpdateStatus,
		"record_id", record.ID, "field", field, "from", previous, "to", config.Value)

	return &protocol.Outcome{Result: map[string]any{
		"record_id": record.ID,
		"field":     field,
		"previous":  previous,
		"value":     config.Value,
		"reason":    reason,
	}}, nil
}
