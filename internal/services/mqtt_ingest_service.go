package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
	"github.com/viyulabs/presence-server/pkg/mqtt"
)

const mqttHandleTimeout = 5 * time.Second

// MQTTIngestService accepts heartbeats that devices publish over MQTT and
// feeds them into the same ingest core as the HTTP ingress. The shared
// secret travels inside the payload since MQTT has no request headers.
type MQTTIngestService struct {
	Topic      string
	QOS        int
	MqttClient mqtt.MQTTClient
	Handler    HeartbeatHandler
	Logger     zerolog.Logger

	subscribed bool
}

// NewMQTTIngestService initializes a new MQTTIngestService.
func NewMQTTIngestService(topic string, qos int, mqttClient mqtt.MQTTClient,
	handler HeartbeatHandler, logger zerolog.Logger) *MQTTIngestService {

	return &MQTTIngestService{
		Topic:      topic,
		QOS:        qos,
		MqttClient: mqttClient,
		Handler:    handler,
		Logger:     logger.With().Str("component", "mqtt_ingest").Logger(),
	}
}

// Start subscribes to the heartbeat topic.
func (m *MQTTIngestService) Start() error {
	if m.subscribed {
		m.Logger.Warn().Msg("MQTTIngestService is already running")
		return errors.New("mqtt ingest service is already running")
	}

	token := m.MqttClient.Subscribe(m.Topic, byte(m.QOS), m.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		m.Logger.Error().Err(err).Str("topic", m.Topic).Msg("Failed to subscribe to heartbeat topic")
		return err
	}

	m.subscribed = true
	m.Logger.Info().Str("topic", m.Topic).Msg("MQTTIngestService started successfully")
	return nil
}

// Stop unsubscribes from the heartbeat topic.
func (m *MQTTIngestService) Stop() error {
	if !m.subscribed {
		m.Logger.Warn().Msg("MQTTIngestService is not running")
		return errors.New("mqtt ingest service is not running")
	}

	token := m.MqttClient.Unsubscribe(m.Topic)
	token.Wait()
	if err := token.Error(); err != nil {
		m.Logger.Error().Err(err).Str("topic", m.Topic).Msg("Failed to unsubscribe from heartbeat topic")
		return err
	}

	m.subscribed = false
	m.Logger.Info().Msg("MQTTIngestService stopped successfully")
	return nil
}

// onMessage decodes one published heartbeat. Rejections are logged at warn;
// a broken payload never takes the subscription down.
func (m *MQTTIngestService) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	var hb models.Heartbeat
	if err := json.Unmarshal(msg.Payload(), &hb); err != nil {
		m.Logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed heartbeat payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttHandleTimeout)
	defer cancel()

	err := m.Handler.HandleHeartbeat(ctx, hb)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMissingDeviceID):
		m.Logger.Warn().Err(err).Str("device_id", hb.DeviceID).Msg("Rejected MQTT heartbeat")
	default:
		m.Logger.Error().Err(err).Str("device_id", hb.DeviceID).Msg("Failed to process MQTT heartbeat")
	}
}
