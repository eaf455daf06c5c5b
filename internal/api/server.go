package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/internal/services"
	"github.com/viyulabs/presence-server/pkg/broadcast"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/liveness"
)

// deviceTokenHeader carries the shared heartbeat secret on the HTTP ingress.
const deviceTokenHeader = "X-Device-Token"

const shutdownTimeout = 5 * time.Second

// Server exposes the HTTP surface: heartbeat ingress, device reads and the
// dashboard WebSocket.
type Server struct {
	Address  string
	Ingest   services.HeartbeatHandler
	Devices  devicestore.Store
	Liveness liveness.Store
	Hub      *broadcast.Hub
	Logger   zerolog.Logger

	httpServer *http.Server
}

// NewServer initializes a new Server.
func NewServer(address string, ingest services.HeartbeatHandler, devices devicestore.Store,
	livenessStore liveness.Store, hub *broadcast.Hub, logger zerolog.Logger) *Server {

	return &Server{
		Address:  address,
		Ingest:   ingest,
		Devices:  devices,
		Liveness: livenessStore,
		Hub:      hub,
		Logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the route table. Split out so handler tests can drive it
// without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/api/devices", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{deviceId}", s.handleGetDevice).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.Hub.ServeWS)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if s.httpServer != nil {
		s.Logger.Warn().Msg("API server is already running")
		return errors.New("api server is already running")
	}

	s.httpServer = &http.Server{
		Addr:              s.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server terminated unexpectedly")
		}
	}()

	s.Logger.Info().Str("address", s.Address).Msg("API server started successfully")
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		s.Logger.Warn().Msg("API server is not running")
		return errors.New("api server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil

	s.Logger.Info().Msg("API server stopped successfully")
	return err
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}

	if token := r.Header.Get(deviceTokenHeader); token != "" {
		hb.Token = token
	}

	err := s.Ingest.HandleHeartbeat(r.Context(), hb)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Heartbeat received"})
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, "unauthorized", http.StatusForbidden)
	case errors.Is(err, services.ErrMissingDeviceID):
		writeError(w, "missing_device_id", http.StatusBadRequest)
	default:
		s.Logger.Error().Err(err).Str("device_id", hb.DeviceID).Msg("Heartbeat processing failed")
		writeError(w, "internal_error", http.StatusInternalServerError)
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Devices.FindAll(r.Context())
	if err != nil {
		s.Logger.Error().Err(err).Msg("Failed to list devices")
		writeError(w, "internal_error", http.StatusInternalServerError)
		return
	}

	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]

	device, err := s.Devices.FindByID(r.Context(), deviceID)
	if errors.Is(err, devicestore.ErrNotFound) {
		writeError(w, "not_found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to fetch device")
		writeError(w, "internal_error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Liveness.Ping(r.Context()); err != nil {
		writeError(w, "liveness_store_unreachable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code string, status int) {
	writeJSON(w, status, map[string]string{"error": code})
}
