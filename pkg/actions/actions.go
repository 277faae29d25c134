// Package actions holds helpers shared by the action handlers in its subpackages.
package actions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/template"
)

// Config returns the variant pick selects from the action's configuration.
func Config[T any](execCtx *models.ExecutionContext, pick func(*models.ActionConfig) *T) (*T, error) {
	if execCtx.Action == nil || execCtx.Action.Config == nil {
		return nil, fmt.Errorf("%w: action has no configuration", models.ErrInvalidConfiguration)
	}

	config := pick(execCtx.Action.Config)
	if config == nil {
		return nil, fmt.Errorf("%w: configuration does not match action type %s",
			models.ErrInvalidConfiguration, execCtx.Action.Type)
	}

	return config, nil
}

// RenderContext builds the personalisation context of an execution.
func RenderContext(execCtx *models.ExecutionContext) template.Context {
	return template.NewContext(execCtx.Target, execCtx.WorkflowName)
}

// IdempotencyKey identifies one attempt of one action of an execution. Redelivering the
// same job yields the same key; a manual retry starts a new attempt and a new key.
func IdempotencyKey(execCtx *models.ExecutionContext, parts ...string) string {
	key := []string{execCtx.Execution.ID}
	if execCtx.Action != nil {
		key = append(key, execCtx.Action.ID)
	}

	key = append(key, strconv.Itoa(execCtx.Execution.Attempt))

	return strings.Join(append(key, parts...), ":")
}

// RecipientIDs returns the ids of recipients in order.
func RecipientIDs(recipients []models.Recipient) []string {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
	}

	return ids
}

// DeliveryResult is the result payload of a messaging action.
func DeliveryResult(accepted bool, recipients []models.Recipient) map[string]any {
	result := map[string]any{
		"accepted":        accepted,
		"recipient_count": len(recipients),
		"recipients":      RecipientIDs(recipients),
	}

	if !accepted {
		result["rejected"] = true
	}

	return result
}

// NoRecipients is the result payload when a descriptor resolved to nobody.
func NoRecipients() map[string]any {
	return map[string]any{"recipient_count": 0}
}
