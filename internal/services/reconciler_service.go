package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/liveness"
)

const (
	initialResubscribeBackoff = time.Second
	maxResubscribeBackoff     = 30 * time.Second
	offlineUpdateTimeout      = 10 * time.Second
)

// ReconcilerService converts liveness-entry expiries into authoritative
// Offline transitions: one broadcast plus a durable status downgrade per
// expiry. Re-announcing Offline for an already-offline device is harmless,
// so duplicate notifications need no dedup state.
type ReconcilerService struct {
	Liveness    liveness.Store
	Devices     devicestore.Store
	Broadcaster Broadcaster
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconcilerService initializes a new ReconcilerService.
func NewReconcilerService(livenessStore liveness.Store, devices devicestore.Store,
	broadcaster Broadcaster, logger zerolog.Logger) *ReconcilerService {

	return &ReconcilerService{
		Liveness:    livenessStore,
		Devices:     devices,
		Broadcaster: broadcaster,
		Logger:      logger.With().Str("component", "reconciler").Logger(),
	}
}

// Start launches the expiry subscription loop in a separate goroutine.
func (r *ReconcilerService) Start() error {
	if r.ctx != nil {
		r.Logger.Warn().Msg("ReconcilerService is already running")
		return errors.New("reconciler service is already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runReconcileLoop()
	}()

	r.Logger.Info().Msg("ReconcilerService started successfully")
	return nil
}

// Stop closes the expiry subscription and waits for the loop to exit.
func (r *ReconcilerService) Stop() error {
	if r.ctx == nil {
		r.Logger.Warn().Msg("ReconcilerService is not running")
		return errors.New("reconciler service is not running")
	}

	r.cancel()
	r.wg.Wait()

	r.ctx = nil
	r.cancel = nil

	r.Logger.Info().Msg("ReconcilerService stopped successfully")
	return nil
}

// runReconcileLoop keeps a subscription alive for the service's lifetime.
// A lost notification channel degrades offline detection to sweep
// granularity until the resubscribe succeeds, so losses are logged loudly.
func (r *ReconcilerService) runReconcileLoop() {
	backoff := initialResubscribeBackoff

	for {
		sub, err := r.Liveness.SubscribeExpired(r.ctx)
		if err != nil {
			r.Logger.Error().Err(err).Dur("retry_in", backoff).Msg("Failed to subscribe to expiry notifications")

			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxResubscribeBackoff {
					backoff = maxResubscribeBackoff
				}
				continue
			case <-r.ctx.Done():
				return
			}
		}

		r.Logger.Info().Msg("Subscribed to liveness expiry notifications")
		backoff = initialResubscribeBackoff

		if !r.consume(sub) {
			return
		}

		r.Logger.Warn().Msg("Expiry notification channel lost, resubscribing")
	}
}

// consume drains one subscription. It returns true when the channel was
// lost and the loop should resubscribe, false on shutdown.
func (r *ReconcilerService) consume(sub liveness.ExpirySubscription) bool {
	defer sub.Close()

	for {
		select {
		case key, ok := <-sub.Keys():
			if !ok {
				return true
			}
			r.handleExpiredKey(key)
		case <-r.ctx.Done():
			return false
		}
	}
}

// handleExpiredKey decodes one expired key and announces the transition.
// Keys outside the presence namespace are dropped, never fatal.
func (r *ReconcilerService) handleExpiredKey(key string) {
	deviceID, ok := liveness.DeviceIDFromKey(key)
	if !ok {
		r.Logger.Debug().Str("key", key).Msg("Ignoring expired key outside the presence namespace")
		return
	}

	r.Logger.Info().Str("device_id", deviceID).Msg("Device went offline (liveness entry expired)")

	r.Broadcaster.Publish(models.PresenceEvent{
		DeviceID:  deviceID,
		Status:    models.StatusOffline,
		Timestamp: time.Now().UnixMilli(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), offlineUpdateTimeout)
	defer cancel()

	if err := r.Devices.UpdateStatus(ctx, deviceID, models.StatusOffline); err != nil {
		if errors.Is(err, devicestore.ErrNotFound) {
			r.Logger.Warn().Str("device_id", deviceID).Msg("Expired device has no durable record")
			return
		}
		// The sweep is the backstop for a missed downgrade.
		r.Logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to downgrade durable status")
	}
}
