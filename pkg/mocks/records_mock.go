package mocks

import (
	"context"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records"
	"github.com/stretchr/testify/mock"
)

// MockRecordStore is a mock implementation of records.Store.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Record(ctx context.Context, scope models.Scope, id string) (*models.Record, error) {
	args := m.Called(ctx, scope, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Record), args.Error(1)
}

func (m *MockRecordStore) Event(ctx context.Context, scope models.Scope, id string) (*models.Event, error) {
	args := m.Called(ctx, scope, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockRecordStore) Organisation(ctx context.Context, tenantID string) (*models.Organisation, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Organisation), args.Error(1)
}

func (m *MockRecordStore) UpdateRecordStatus(ctx context.Context, scope models.Scope, change records.StatusChange) (string, error) {
	args := m.Called(ctx, scope, change)

	return args.String(0), args.Error(1)
}

func (m *MockRecordStore) GroupMembers(ctx context.Context, scope models.Scope, groupID string) ([]*models.Record, error) {
	args := m.Called(ctx, scope, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Record), args.Error(1)
}

func (m *MockRecordStore) ActiveRecords(ctx context.Context, scope models.Scope) ([]*models.Record, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Record), args.Error(1)
}

func (m *MockRecordStore) CountRecords(ctx context.Context, scope models.Scope, status string) (int, error) {
	args := m.Called(ctx, scope, status)

	return args.Int(0), args.Error(1)
}

func (m *MockRecordStore) ExpiringMemberships(ctx context.Context, from, to time.Time) ([]*models.Record, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Record), args.Error(1)
}

func (m *MockRecordStore) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Event), args.Error(1)
}
