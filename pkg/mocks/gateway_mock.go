package mocks

import (
	"context"

	"github.com/congrega/flows/pkg/gateway"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of gateway.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) SendEmail(ctx context.Context, email gateway.Email) (bool, error) {
	args := m.Called(ctx, email)

	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) SendSMS(ctx context.Context, sms gateway.SMS) (bool, error) {
	args := m.Called(ctx, sms)

	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) CreateInAppNotification(ctx context.Context, notification gateway.InAppNotification) (*gateway.Notification, error) {
	args := m.Called(ctx, notification)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*gateway.Notification), args.Error(1)
}
