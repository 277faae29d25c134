package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/congrega/flows/pkg/actions/email"
	"github.com/congrega/flows/pkg/actions/wait"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/registry"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenFactory struct{}

func (brokenFactory) ID() models.ActionType { return models.ActionCreateTask }

func (brokenFactory) Name() string { return "Broken" }

func (brokenFactory) Description() string { return "" }

func (brokenFactory) Create(context.Context, protocol.Dependencies) (protocol.Action, error) {
	return nil, errors.New("task service unreachable")
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := registry.NewRegistry(testutil.Logger(), protocol.Dependencies{})

	require.NoError(t, r.RegisterAction(t.Context(), wait.NewActionFactory()))
	require.NoError(t, r.RegisterAction(t.Context(), email.NewActionFactory()))

	action, err := r.Action(models.ActionWait)
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = r.Action(models.ActionSendSMS)
	require.ErrorIs(t, err, registry.ErrActionNotRegistered)
	assert.Contains(t, err.Error(), "send-sms")
}

func TestRegistry_FactoryErrorIsNotRegistered(t *testing.T) {
	r := registry.NewRegistry(testutil.Logger(), protocol.Dependencies{})

	err := r.RegisterAction(t.Context(), brokenFactory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task service unreachable")

	_, err = r.Action(models.ActionCreateTask)
	assert.ErrorIs(t, err, registry.ErrActionNotRegistered)
}

func TestRegistry_ComponentsAndMissing(t *testing.T) {
	r := registry.NewRegistry(testutil.Logger(), protocol.Dependencies{})

	require.NoError(t, r.RegisterAction(t.Context(), wait.NewActionFactory()))
	require.NoError(t, r.RegisterAction(t.Context(), email.NewActionFactory()))

	components := r.Components()
	require.Len(t, components, 2)
	assert.Equal(t, models.ActionSendEmail, components[0].Type)
	assert.Equal(t, "Send email", components[0].Name)
	assert.NotNil(t, components[0].Schema)
	assert.Equal(t, models.ActionWait, components[1].Type)

	assert.ElementsMatch(t, []models.ActionType{
		models.ActionSendSMS, models.ActionSendInApp, models.ActionUpdateStatus, models.ActionCreateTask,
	}, r.Missing())
}
