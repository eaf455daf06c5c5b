package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/agentmetrics"
	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/pkg/identity"
)

const sampleTimeout = 3 * time.Second

// HeartbeatSender periodically posts this device's heartbeat to the
// presence backend. Send failures are logged and retried on the next tick;
// the backend treats each heartbeat as self-healing.
type HeartbeatSender struct {
	ServerURL  string
	Interval   time.Duration
	Token      string
	DeviceInfo identity.DeviceInfoInterface
	HTTPClient *http.Client
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatSender initializes a new HeartbeatSender.
func NewHeartbeatSender(serverURL string, interval time.Duration, token string,
	deviceInfo identity.DeviceInfoInterface, httpClient *http.Client, logger zerolog.Logger) *HeartbeatSender {

	return &HeartbeatSender{
		ServerURL:  serverURL,
		Interval:   interval,
		Token:      token,
		DeviceInfo: deviceInfo,
		HTTPClient: httpClient,
		Logger:     logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatSender) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatSender is already running")
		return errors.New("heartbeat sender is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("server", h.ServerURL).Msg("HeartbeatSender started successfully")
	return nil
}

// Stop gracefully stops the heartbeat sender.
func (h *HeartbeatSender) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatSender is not running")
		return errors.New("heartbeat sender is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatSender stopped successfully")
	return nil
}

// runHeartbeatLoop sends one heartbeat immediately so the device shows up
// without waiting a full interval, then continues on the ticker.
func (h *HeartbeatSender) runHeartbeatLoop() {
	h.sendHeartbeat()

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sendHeartbeat()
		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatSender stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatSender) sendHeartbeat() {
	sampleCtx, cancel := context.WithTimeout(h.ctx, sampleTimeout)
	metrics := agentmetrics.Sample(sampleCtx, h.Logger)
	cancel()

	id := h.DeviceInfo.GetIdentity()
	heartbeat := models.Heartbeat{
		DeviceID: id.DeviceID,
		RoomNo:   id.RoomNo,
		Type:     models.DeviceType(id.Type),
		Metrics:  metrics,
	}

	payload, err := json.Marshal(heartbeat)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
		return
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost,
		h.ServerURL+"/api/heartbeat", bytes.NewReader(payload))
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to build heartbeat request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Token", h.Token)

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to send heartbeat")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.Logger.Error().Str("status", resp.Status).Msg("Server rejected heartbeat")
		return
	}

	h.Logger.Debug().Msg("Heartbeat sent successfully")
}
