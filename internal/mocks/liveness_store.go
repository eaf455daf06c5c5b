package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/viyulabs/presence-server/pkg/liveness"
)

// LivenessStore is a mock implementation of liveness.Store.
type LivenessStore struct {
	mock.Mock
}

func (m *LivenessStore) Refresh(ctx context.Context, deviceID string, ttl time.Duration) error {
	args := m.Called(ctx, deviceID, ttl)
	return args.Error(0)
}

func (m *LivenessStore) IsAlive(ctx context.Context, deviceID string) (bool, error) {
	args := m.Called(ctx, deviceID)
	return args.Bool(0), args.Error(1)
}

func (m *LivenessStore) SubscribeExpired(ctx context.Context) (liveness.ExpirySubscription, error) {
	args := m.Called(ctx)
	if sub, ok := args.Get(0).(liveness.ExpirySubscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *LivenessStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *LivenessStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
