package recipients

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/congrega/flows/pkg/mocks"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore() *memory.Store {
	store := memory.NewStore()
	store.PutRecord(&models.Record{ID: "r1", TenantID: "t1", FirstName: "Ada", Email: "ada@example.org",
		Status: "ACTIVE", GroupIDs: []string{"choir"}})
	store.PutRecord(&models.Record{ID: "r2", TenantID: "t1", FirstName: "Ben", Status: "ACTIVE", GroupIDs: []string{"choir"}})
	store.PutRecord(&models.Record{ID: "r3", TenantID: "t1", FirstName: "Cy", Status: "INACTIVE"})
	store.PutRecord(&models.Record{ID: "r4", TenantID: "t2", FirstName: "Di", Status: "ACTIVE"})

	return store
}

func execContext(target *models.Record) *models.ExecutionContext {
	return &models.ExecutionContext{
		Execution: &models.WorkflowExecution{ID: "e1", TenantID: "t1"},
		Target:    &models.Target{Record: target},
	}
}

func ids(list []models.Recipient) []string {
	result := make([]string, 0, len(list))
	for _, r := range list {
		result = append(result, r.ID)
	}

	return result
}

func TestResolver_Resolve(t *testing.T) {
	resolver := NewResolver(newLogger(), newStore())
	target := &models.Record{ID: "r1", TenantID: "t1", FirstName: "Ada", LastName: "King", Email: "ada@example.org"}

	tests := []struct {
		name       string
		descriptor models.RecipientDescriptor
		target     *models.Record
		want       []string
	}{
		{"target", models.RecipientDescriptor{Type: models.RecipientTarget}, target, []string{"r1"}},
		{"target without record", models.RecipientDescriptor{Type: models.RecipientTarget}, nil, []string{}},
		{"explicit ids deduplicated", models.RecipientDescriptor{Type: models.RecipientIDs, IDs: []string{"r2", "r1", "r2"}}, nil, []string{"r2", "r1"}},
		{"explicit ids skip unknown and foreign", models.RecipientDescriptor{Type: models.RecipientIDs, IDs: []string{"missing", "r4", "r3"}}, nil, []string{"r3"}},
		{"group", models.RecipientDescriptor{Type: models.RecipientGroup, GroupID: "choir"}, nil, []string{"r1", "r2"}},
		{"empty group", models.RecipientDescriptor{Type: models.RecipientGroup, GroupID: "none"}, nil, []string{}},
		{"all active in tenant", models.RecipientDescriptor{Type: models.RecipientAllActive}, nil, []string{"r1", "r2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(t.Context(), tt.descriptor, execContext(tt.target))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestResolver_TargetRecipientDetails(t *testing.T) {
	resolver := NewResolver(newLogger(), newStore())
	target := &models.Record{ID: "r1", FirstName: "Ada", LastName: "King", Email: "ada@example.org", Phone: "+1"}

	got, err := resolver.Resolve(t.Context(), models.RecipientDescriptor{Type: models.RecipientTarget}, execContext(target))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Recipient{ID: "r1", Name: "Ada King", Email: "ada@example.org", Phone: "+1"}, got[0])
}

func TestResolver_Errors(t *testing.T) {
	store := &mocks.MockRecordStore{}
	store.On("GroupMembers", mock.Anything, models.Scope{TenantID: "t1"}, "choir").Return(nil, errors.New("connection reset"))
	store.On("Record", mock.Anything, models.Scope{TenantID: "t1"}, "r1").Return(nil, errors.New("timeout"))

	resolver := NewResolver(newLogger(), store)

	_, err := resolver.Resolve(t.Context(), models.RecipientDescriptor{Type: models.RecipientGroup, GroupID: "choir"}, execContext(nil))
	assert.ErrorContains(t, err, "connection reset")

	_, err = resolver.Resolve(t.Context(), models.RecipientDescriptor{Type: models.RecipientIDs, IDs: []string{"r1"}}, execContext(nil))
	assert.ErrorContains(t, err, "timeout")

	_, err = resolver.Resolve(t.Context(), models.RecipientDescriptor{Type: "everyone"}, execContext(nil))
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	store.AssertExpectations(t)
}
