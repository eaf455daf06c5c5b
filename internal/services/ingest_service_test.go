package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/viyulabs/presence-server/internal/mocks"
	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/internal/services"
	"github.com/viyulabs/presence-server/internal/utils"
)

const testSecret = "test-secret"

func newIngestService(livenessStore *mocks.LivenessStore, deviceStore *mocks.DeviceStore,
	broadcaster *mocks.Broadcaster, pool *utils.WorkerPool) *services.IngestService {

	return services.NewIngestService(
		testSecret,
		65*time.Second,
		livenessStore,
		deviceStore,
		broadcaster,
		pool,
		zerolog.Nop(),
	)
}

// TestIngestService_HandleHeartbeat_Success tests the full accept path: the
// liveness entry is refreshed, an Online event is broadcast and the durable
// upsert runs on the pool.
func TestIngestService_HandleHeartbeat_Success(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	mockLiveness.On("Refresh", mock.Anything, "LAB1-PC01", 65*time.Second).Return(nil)
	mockDevices.On("UpsertHeartbeat", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockBroadcaster.On("Publish", mock.MatchedBy(func(event models.PresenceEvent) bool {
		return event.DeviceID == "LAB1-PC01" &&
			event.Status == models.StatusOnline &&
			event.RoomNo == "LAB-1" &&
			event.Timestamp > 0
	})).Return()

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{
		DeviceID: "LAB1-PC01",
		RoomNo:   "LAB-1",
		Type:     models.DeviceTypePC,
		Token:    testSecret,
	})

	// Assert
	assert.NoError(t, err)

	// Flush the detached upsert before checking the store expectations.
	pool.Shutdown()

	mockLiveness.AssertExpectations(t)
	mockDevices.AssertExpectations(t)
	mockBroadcaster.AssertExpectations(t)
}

// TestIngestService_HandleHeartbeat_InvalidToken tests that a bad token is
// rejected without any state change.
func TestIngestService_HandleHeartbeat_InvalidToken(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{
		DeviceID: "LAB1-PC01",
		Token:    "wrong-secret",
	})

	// Assert
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	pool.Shutdown()

	mockLiveness.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
	mockDevices.AssertNotCalled(t, "UpsertHeartbeat", mock.Anything, mock.Anything, mock.Anything)
	mockBroadcaster.AssertNotCalled(t, "Publish", mock.Anything)
}

// TestIngestService_HandleHeartbeat_MissingToken tests that an absent token
// is rejected like a wrong one.
func TestIngestService_HandleHeartbeat_MissingToken(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{DeviceID: "LAB1-PC01"})

	// Assert
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	pool.Shutdown()

	mockLiveness.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
	mockBroadcaster.AssertNotCalled(t, "Publish", mock.Anything)
}

// TestIngestService_HandleHeartbeat_MissingDeviceID tests the validation
// error for a heartbeat without a device identifier.
func TestIngestService_HandleHeartbeat_MissingDeviceID(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{Token: testSecret})

	// Assert
	assert.ErrorIs(t, err, services.ErrMissingDeviceID)

	pool.Shutdown()

	mockLiveness.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
	mockBroadcaster.AssertNotCalled(t, "Publish", mock.Anything)
}

// TestIngestService_HandleHeartbeat_LivenessError tests that a failed
// liveness refresh fails the heartbeat and suppresses the broadcast and the
// durable write.
func TestIngestService_HandleHeartbeat_LivenessError(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	mockLiveness.On("Refresh", mock.Anything, "LAB1-PC01", 65*time.Second).
		Return(errors.New("connection refused"))

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{
		DeviceID: "LAB1-PC01",
		Token:    testSecret,
	})

	// Assert
	assert.Error(t, err)

	pool.Shutdown()

	mockLiveness.AssertExpectations(t)
	mockDevices.AssertNotCalled(t, "UpsertHeartbeat", mock.Anything, mock.Anything, mock.Anything)
	mockBroadcaster.AssertNotCalled(t, "Publish", mock.Anything)
}

// TestIngestService_HandleHeartbeat_UpsertErrorDoesNotFail tests that a
// failing durable write never propagates to the heartbeat response.
func TestIngestService_HandleHeartbeat_UpsertErrorDoesNotFail(t *testing.T) {
	// Setup
	mockLiveness := new(mocks.LivenessStore)
	mockDevices := new(mocks.DeviceStore)
	mockBroadcaster := new(mocks.Broadcaster)
	pool := utils.NewWorkerPool(1, 4)

	mockLiveness.On("Refresh", mock.Anything, "LAB1-PC01", 65*time.Second).Return(nil)
	mockDevices.On("UpsertHeartbeat", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("write concern failed"))
	mockBroadcaster.On("Publish", mock.Anything).Return()

	s := newIngestService(mockLiveness, mockDevices, mockBroadcaster, pool)

	// Execute
	err := s.HandleHeartbeat(context.Background(), models.Heartbeat{
		DeviceID: "LAB1-PC01",
		Token:    testSecret,
	})

	// Assert
	assert.NoError(t, err)

	pool.Shutdown()
	mockDevices.AssertExpectations(t)
}
