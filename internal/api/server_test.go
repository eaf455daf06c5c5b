package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/viyulabs/presence-server/internal/api"
	"github.com/viyulabs/presence-server/internal/mocks"
	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/internal/services"
	"github.com/viyulabs/presence-server/pkg/broadcast"
	"github.com/viyulabs/presence-server/pkg/devicestore"
)

type serverFixture struct {
	ingest   *mocks.HeartbeatHandler
	devices  *mocks.DeviceStore
	liveness *mocks.LivenessStore
	router   http.Handler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		ingest:   new(mocks.HeartbeatHandler),
		devices:  new(mocks.DeviceStore),
		liveness: new(mocks.LivenessStore),
	}

	hub := broadcast.NewHub(zerolog.Nop())
	t.Cleanup(hub.CloseAll)

	s := api.NewServer(":0", f.ingest, f.devices, f.liveness, hub, zerolog.Nop())
	f.router = s.Router()
	return f
}

func postHeartbeat(t *testing.T, router http.Handler, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("X-Device-Token", token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestServer_Heartbeat_Accepted tests the happy path and that the shared
// secret is lifted off the request header into the heartbeat.
func TestServer_Heartbeat_Accepted(t *testing.T) {
	// Setup
	f := newServerFixture(t)

	f.ingest.On("HandleHeartbeat", mock.Anything, mock.MatchedBy(func(hb models.Heartbeat) bool {
		return hb.DeviceID == "LAB1-PC01" && hb.Token == "lab-secret"
	})).Return(nil)

	// Execute
	rec := postHeartbeat(t, f.router, models.Heartbeat{DeviceID: "LAB1-PC01"}, "lab-secret")

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Heartbeat received"}`, rec.Body.String())
	f.ingest.AssertExpectations(t)
}

// TestServer_Heartbeat_TokenInBody tests that a token carried in the payload
// still reaches the handler when no header is present.
func TestServer_Heartbeat_TokenInBody(t *testing.T) {
	// Setup
	f := newServerFixture(t)

	f.ingest.On("HandleHeartbeat", mock.Anything, mock.MatchedBy(func(hb models.Heartbeat) bool {
		return hb.Token == "body-secret"
	})).Return(nil)

	// Execute
	rec := postHeartbeat(t, f.router, models.Heartbeat{DeviceID: "LAB1-PC01", Token: "body-secret"}, "")

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	f.ingest.AssertExpectations(t)
}

// TestServer_Heartbeat_ErrorMapping tests the handler error to status code
// translation.
func TestServer_Heartbeat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		wantStatus int
		wantCode   string
	}{
		{name: "unauthorized", handlerErr: services.ErrUnauthorized, wantStatus: http.StatusForbidden, wantCode: "unauthorized"},
		{name: "missing device id", handlerErr: services.ErrMissingDeviceID, wantStatus: http.StatusBadRequest, wantCode: "missing_device_id"},
		{name: "internal failure", handlerErr: errors.New("redis down"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.ingest.On("HandleHeartbeat", mock.Anything, mock.Anything).Return(tt.handlerErr)

			rec := postHeartbeat(t, f.router, models.Heartbeat{DeviceID: "LAB1-PC01"}, "lab-secret")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.wantCode+`"}`, rec.Body.String())
		})
	}
}

// TestServer_Heartbeat_InvalidPayload tests that malformed JSON is rejected
// before it reaches the handler.
func TestServer_Heartbeat_InvalidPayload(t *testing.T) {
	// Setup
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_payload"}`, rec.Body.String())
	f.ingest.AssertNotCalled(t, "HandleHeartbeat", mock.Anything, mock.Anything)
}

// TestServer_ListDevices tests the collection read, including the empty
// store returning [] rather than null.
func TestServer_ListDevices(t *testing.T) {
	// Setup
	f := newServerFixture(t)

	devices := []models.Device{
		{DeviceID: "LAB1-PC01", Status: models.StatusOnline},
		{DeviceID: "LAB1-PC02", Status: models.StatusOffline},
	}
	f.devices.On("FindAll", mock.Anything).Return(devices, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
	assert.Equal(t, "LAB1-PC01", got[0].DeviceID)
}

func TestServer_ListDevices_Empty(t *testing.T) {
	// Setup
	f := newServerFixture(t)
	f.devices.On("FindAll", mock.Anything).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// TestServer_GetDevice tests the single-device read and its not-found
// mapping.
func TestServer_GetDevice(t *testing.T) {
	// Setup
	f := newServerFixture(t)

	f.devices.On("FindByID", mock.Anything, "LAB1-PC01").
		Return(&models.Device{DeviceID: "LAB1-PC01", Status: models.StatusOnline}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/LAB1-PC01", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)

	var got models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "LAB1-PC01", got.DeviceID)
	assert.Equal(t, models.StatusOnline, got.Status)
}

func TestServer_GetDevice_NotFound(t *testing.T) {
	// Setup
	f := newServerFixture(t)
	f.devices.On("FindByID", mock.Anything, "GHOST-01").Return(nil, devicestore.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/GHOST-01", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())
}

// TestServer_Health tests the readiness probe against the liveness store.
func TestServer_Health(t *testing.T) {
	// Setup
	f := newServerFixture(t)
	f.liveness.On("Ping", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Health_LivenessStoreDown(t *testing.T) {
	// Setup
	f := newServerFixture(t)
	f.liveness.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	// Execute
	f.router.ServeHTTP(rec, req)

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"liveness_store_unreachable"}`, rec.Body.String())
}
