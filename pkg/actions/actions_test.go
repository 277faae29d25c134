package actions

import (
	"testing"

	"github.com/congrega/flows/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Execution: &models.WorkflowExecution{ID: "exec-1", Attempt: 1},
		Action:    &models.ActionSpec{ID: "act-1"},
	}

	assert.Equal(t, "exec-1:act-1:1", IdempotencyKey(execCtx))
	assert.Equal(t, IdempotencyKey(execCtx), IdempotencyKey(execCtx))
	assert.Equal(t, "exec-1:act-1:1:r1", IdempotencyKey(execCtx, "r1"))

	execCtx.Execution.Attempt = 2
	assert.Equal(t, "exec-1:act-1:2", IdempotencyKey(execCtx))

	execCtx.Action = nil
	assert.Equal(t, "exec-1:2", IdempotencyKey(execCtx))
}
