// Package registry maps action types to the handlers that execute them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
)

// ErrActionNotRegistered is returned for action types without a handler.
var ErrActionNotRegistered = errors.New("action type not registered")

// ComponentInfo describes a registered action for API listings.
type ComponentInfo struct {
	Type        models.ActionType  `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Schema      *models.JSONSchema `json:"schema,omitempty"`
}

// Registry holds one handler per action type, built from its factory with shared dependencies.
type Registry struct {
	logger *slog.Logger
	deps   protocol.Dependencies

	mu        sync.RWMutex
	factories map[models.ActionType]protocol.ActionFactory
	actions   map[models.ActionType]protocol.Action
}

func NewRegistry(logger *slog.Logger, deps protocol.Dependencies) *Registry {
	if deps.Logger == nil {
		deps.Logger = logger
	}

	return &Registry{
		logger:    logger.With("module", "registry"),
		deps:      deps,
		factories: make(map[models.ActionType]protocol.ActionFactory),
		actions:   make(map[models.ActionType]protocol.Action),
	}
}

// RegisterAction builds the factory's handler. A later registration for the same type wins.
func (r *Registry) RegisterAction(ctx context.Context, factory protocol.ActionFactory) error {
	action, err := factory.Create(ctx, r.deps)
	if err != nil {
		return fmt.Errorf("failed to create %s action: %w", factory.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	r.actions[factory.ID()] = action

	r.logger.DebugContext(ctx, "Registered action", "type", factory.ID())

	return nil
}

// Action returns the handler registered for actionType.
func (r *Registry) Action(actionType models.ActionType) (protocol.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, actionType)
	}

	return action, nil
}

// Components lists the registered actions sorted by type.
func (r *Registry) Components() []ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]ComponentInfo, 0, len(r.factories))

	for actionType, factory := range r.factories {
		schema, _ := models.ActionSchema(actionType)
		components = append(components, ComponentInfo{
			Type:        actionType,
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      schema,
		})
	}

	slices.SortFunc(components, func(a, b ComponentInfo) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		default:
			return 0
		}
	})

	return components
}

// Missing returns the known action types that have no handler.
func (r *Registry) Missing() []models.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []models.ActionType

	for _, actionType := range models.ActionTypes {
		if _, ok := r.actions[actionType]; !ok {
			missing = append(missing, actionType)
		}
	}

	return missing
}
