package cmd

import (
	"context"
	"log/slog"

	"github.com/congrega/flows/pkg/actions/email"
	"github.com/congrega/flows/pkg/actions/inapp"
	"github.com/congrega/flows/pkg/actions/sms"
	"github.com/congrega/flows/pkg/actions/status"
	"github.com/congrega/flows/pkg/actions/task"
	"github.com/congrega/flows/pkg/actions/wait"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/registry"
)

func nativeActions() []protocol.ActionFactory {
	return []protocol.ActionFactory{
		email.NewActionFactory(),
		sms.NewActionFactory(),
		inapp.NewActionFactory(),
		status.NewActionFactory(),
		task.NewActionFactory(),
		wait.NewActionFactory(),
	}
}

// NewRegistry builds a registry with every native action handler.
func NewRegistry(ctx context.Context, log *slog.Logger, deps protocol.Dependencies) (*registry.Registry, error) {
	reg := registry.NewRegistry(log, deps)

	for _, factory := range nativeActions() {
		if err := reg.RegisterAction(ctx, factory); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
