package wait

import (
	"testing"
	"time"

	"github.com/congrega/flows/pkg/protocol"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Defers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	action, err := NewActionFactory().Create(t.Context(), protocol.Dependencies{Clock: clock})
	require.NoError(t, err)

	outcome, err := action.Execute(t.Context(), testutil.ExecutionContext(testutil.WaitAction(2, 90), nil), testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, outcome.Defer)
	assert.Equal(t, 90, outcome.Result["waited_minutes"])
	assert.Equal(t, "2026-03-10T10:30:00Z", outcome.Result["resume_at"])
}
