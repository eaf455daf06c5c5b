package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/liveness"
)

const (
	livenessProbeTimeout = 2 * time.Second
	initialProbeBackoff  = time.Second
	maxProbeBackoff      = 15 * time.Second
)

// SweepResult summarizes one reconciliation sweep over durable records.
type SweepResult struct {
	Checked   int
	Corrected int
	Skipped   int
}

// SweepService repairs zombie records: durable rows still claiming Online
// with no live liveness entry, typically left behind by a crash. It runs
// once at startup and optionally on a low-frequency timer as defense in
// depth. Heartbeat ingest keeps running while a sweep is in progress.
type SweepService struct {
	Liveness    liveness.Store
	Devices     devicestore.Store
	Broadcaster Broadcaster
	RunOnStart  bool
	Interval    time.Duration // 0 disables the periodic sweep
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweepService initializes a new SweepService.
func NewSweepService(livenessStore liveness.Store, devices devicestore.Store, broadcaster Broadcaster,
	runOnStart bool, interval time.Duration, logger zerolog.Logger) *SweepService {

	return &SweepService{
		Liveness:    livenessStore,
		Devices:     devices,
		Broadcaster: broadcaster,
		RunOnStart:  runOnStart,
		Interval:    interval,
		Logger:      logger.With().Str("component", "sweep").Logger(),
	}
}

// Start launches the sweep loop in a separate goroutine so process startup
// is never blocked on a slow store.
func (s *SweepService) Start() error {
	if s.ctx != nil {
		s.Logger.Warn().Msg("SweepService is already running")
		return errors.New("sweep service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.Logger.Info().Msg("SweepService started successfully")
	return nil
}

// Stop cancels any in-flight sweep and waits for the loop to exit.
func (s *SweepService) Stop() error {
	if s.ctx == nil {
		s.Logger.Warn().Msg("SweepService is not running")
		return errors.New("sweep service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.Logger.Info().Msg("SweepService stopped successfully")
	return nil
}

func (s *SweepService) run() {
	if s.RunOnStart {
		if !s.waitForLiveness() {
			return
		}
		if _, err := s.Sweep(s.ctx); err != nil {
			s.Logger.Error().Err(err).Msg("Startup sweep failed")
		}
	}

	if s.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(s.ctx); err != nil {
				s.Logger.Error().Err(err).Msg("Periodic sweep failed")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// waitForLiveness polls the liveness store until it answers a ping. The
// store may still be coming up when the process boots; crashing here would
// defeat the sweep's purpose as the startup repair path.
func (s *SweepService) waitForLiveness() bool {
	backoff := initialProbeBackoff

	for {
		probeCtx, cancel := context.WithTimeout(s.ctx, livenessProbeTimeout)
		err := s.Liveness.Ping(probeCtx)
		cancel()

		if err == nil {
			return true
		}

		s.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Liveness store not ready, delaying sweep")

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxProbeBackoff {
				backoff = maxProbeBackoff
			}
		case <-s.ctx.Done():
			return false
		}
	}
}

// Sweep checks every durable Online record against the liveness store and
// flips zombies to Offline, broadcasting one Offline event per correction.
// Per-device failures are counted as skipped and never abort the sweep.
func (s *SweepService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	s.Logger.Info().Msg("Running zombie device sweep")

	devices, err := s.Devices.FindAllWithStatus(ctx, models.StatusOnline)
	if err != nil {
		return result, fmt.Errorf("list online devices: %w", err)
	}

	for _, device := range devices {
		result.Checked++

		alive, err := s.Liveness.IsAlive(ctx, device.DeviceID)
		if err != nil {
			result.Skipped++
			s.Logger.Error().Err(err).Str("device_id", device.DeviceID).Msg("Liveness check failed, skipping device")
			continue
		}
		if alive {
			continue
		}

		if err := s.Devices.UpdateStatus(ctx, device.DeviceID, models.StatusOffline); err != nil {
			result.Skipped++
			s.Logger.Error().Err(err).Str("device_id", device.DeviceID).Msg("Failed to mark zombie device Offline, skipping")
			continue
		}

		result.Corrected++
		s.Logger.Info().Str("device_id", device.DeviceID).Msg("Zombie device marked Offline")

		s.Broadcaster.Publish(models.PresenceEvent{
			DeviceID:  device.DeviceID,
			Status:    models.StatusOffline,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	s.Logger.Info().
		Int("checked", result.Checked).
		Int("corrected", result.Corrected).
		Int("skipped", result.Skipped).
		Msg("Zombie device sweep complete")

	return result, nil
}
