package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/viyulabs/presence-server/internal/models"
)

// Broadcaster is a mock implementation of services.Broadcaster.
type Broadcaster struct {
	mock.Mock
}

func (m *Broadcaster) Publish(event models.PresenceEvent) {
	m.Called(event)
}

// HeartbeatHandler is a mock implementation of services.HeartbeatHandler.
type HeartbeatHandler struct {
	mock.Mock
}

func (m *HeartbeatHandler) HandleHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	args := m.Called(ctx, hb)
	return args.Error(0)
}
