package status

import (
	"testing"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/records/memory"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_UpdatesTargetStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	record := testutil.CreateTestRecord()

	store := memory.NewStore()
	store.PutRecord(record)

	action, err := NewActionFactory().Create(t.Context(), protocol.Dependencies{
		Records: store,
		Clock:   clockwork.NewFakeClockAt(now),
	})
	require.NoError(t, err)

	execCtx := testutil.ExecutionContext(testutil.StatusAction(1, "LAPSED"), record)

	outcome, err := action.Execute(t.Context(), execCtx, testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", outcome.Result["previous"])
	assert.Equal(t, "LAPSED", outcome.Result["value"])
	assert.Equal(t, "status", outcome.Result["field"])
	assert.Equal(t, "set by Welcome series", outcome.Result["reason"])

	stored, err := store.Record(t.Context(), models.Scope{TenantID: "t1"}, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "LAPSED", stored.Status)

	changes := store.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, execCtx.Execution.ID, changes[0].ExecutionID)
	assert.Equal(t, now, changes[0].ChangedAt)
}

func TestAction_Failures(t *testing.T) {
	action, err := NewActionFactory().Create(t.Context(), protocol.Dependencies{Records: memory.NewStore()})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), testutil.ExecutionContext(testutil.StatusAction(1, "X"), nil), testutil.Logger())
	assert.ErrorIs(t, err, protocol.ErrNoTarget)

	_, err = action.Execute(t.Context(), testutil.ExecutionContext(testutil.StatusAction(1, "X"), testutil.CreateTestRecord()), testutil.Logger())
	assert.ErrorIs(t, err, records.ErrRecordNotFound)
}
