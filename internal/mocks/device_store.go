package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/viyulabs/presence-server/internal/models"
)

// DeviceStore is a mock implementation of devicestore.Store.
type DeviceStore struct {
	mock.Mock
}

func (m *DeviceStore) FindByID(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if device, ok := args.Get(0).(*models.Device); ok {
		return device, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DeviceStore) FindAll(ctx context.Context) ([]models.Device, error) {
	args := m.Called(ctx)
	if devices, ok := args.Get(0).([]models.Device); ok {
		return devices, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DeviceStore) FindAllWithStatus(ctx context.Context, status models.DeviceStatus) ([]models.Device, error) {
	args := m.Called(ctx, status)
	if devices, ok := args.Get(0).([]models.Device); ok {
		return devices, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DeviceStore) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat, seenAt time.Time) error {
	args := m.Called(ctx, hb, seenAt)
	return args.Error(0)
}

func (m *DeviceStore) UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	args := m.Called(ctx, deviceID, status)
	return args.Error(0)
}
