package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/internal/utils"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/liveness"
)

// Broadcaster is the presence-event fan-out used by the services.
type Broadcaster interface {
	Publish(event models.PresenceEvent)
}

// HeartbeatHandler accepts device heartbeats from any ingress transport.
type HeartbeatHandler interface {
	HandleHeartbeat(ctx context.Context, hb models.Heartbeat) error
}

const upsertTimeout = 10 * time.Second

// IngestService validates device heartbeats and turns each accepted one
// into a liveness refresh, an Online broadcast and a detached durable
// upsert. Only the liveness refresh is on the response path.
type IngestService struct {
	DeviceSecret string
	TTL          time.Duration
	Liveness     liveness.Store
	Devices      devicestore.Store
	Broadcaster  Broadcaster
	UpsertPool   *utils.WorkerPool
	Logger       zerolog.Logger
}

// NewIngestService initializes a new IngestService.
func NewIngestService(deviceSecret string, ttl time.Duration, livenessStore liveness.Store,
	devices devicestore.Store, broadcaster Broadcaster, upsertPool *utils.WorkerPool, logger zerolog.Logger) *IngestService {

	return &IngestService{
		DeviceSecret: deviceSecret,
		TTL:          ttl,
		Liveness:     livenessStore,
		Devices:      devices,
		Broadcaster:  broadcaster,
		UpsertPool:   upsertPool,
		Logger:       logger.With().Str("component", "ingest").Logger(),
	}
}

// HandleHeartbeat processes one heartbeat. A rejected heartbeat changes no
// state. On acceptance the liveness refresh must succeed before the call
// returns; the broadcast is fire-and-forget and the durable write runs on
// the bounded pool, where a failure is logged and left for the next
// heartbeat to heal.
func (s *IngestService) HandleHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	if hb.Token == "" || subtle.ConstantTimeCompare([]byte(hb.Token), []byte(s.DeviceSecret)) != 1 {
		s.Logger.Warn().Str("device_id", hb.DeviceID).Msg("Rejected heartbeat with invalid device token")
		return ErrUnauthorized
	}
	if hb.DeviceID == "" {
		return ErrMissingDeviceID
	}

	now := time.Now()

	if err := s.Liveness.Refresh(ctx, hb.DeviceID, s.TTL); err != nil {
		s.Logger.Error().Err(err).Str("device_id", hb.DeviceID).Msg("Failed to refresh liveness entry")
		return fmt.Errorf("liveness refresh: %w", err)
	}

	s.Broadcaster.Publish(models.PresenceEvent{
		DeviceID:  hb.DeviceID,
		Status:    models.StatusOnline,
		Timestamp: now.UnixMilli(),
		RoomNo:    hb.RoomNo,
		Metrics:   hb.Metrics,
	})

	s.scheduleUpsert(hb, now)

	return nil
}

// scheduleUpsert detaches the durable write from the response path. A full
// queue drops the write: the device's next heartbeat carries the same data.
func (s *IngestService) scheduleUpsert(hb models.Heartbeat, seenAt time.Time) {
	submitted := s.UpsertPool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
		defer cancel()

		if err := s.Devices.UpsertHeartbeat(ctx, hb, seenAt); err != nil {
			s.Logger.Error().Err(err).Str("device_id", hb.DeviceID).Msg("Durable device upsert failed")
		}
	})

	if !submitted {
		s.Logger.Warn().Str("device_id", hb.DeviceID).Msg("Upsert queue full, dropping durable write")
	}
}
