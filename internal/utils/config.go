package utils

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/viyulabs/presence-server/pkg/file"
)

// Config represents the structure of the server configuration file.
// Durations are plain seconds in the YAML; consumers scale them with
// time.Second.
type Config struct {
	Server struct {
		Address string `yaml:"address"` // HTTP listen address
	} `yaml:"server"`

	Redis struct {
		Address  string `yaml:"address"`  // Redis host:port
		Password string `yaml:"password"` // Redis password, empty for none
		DB       int    `yaml:"db"`       // Redis database index
	} `yaml:"redis"`

	Mongo struct {
		URI        string `yaml:"uri"`        // MongoDB connection URI
		Database   string `yaml:"database"`   // Database name
		Collection string `yaml:"collection"` // Device-record collection
	} `yaml:"mongo"`

	Presence struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // Expected device heartbeat cadence (seconds)
		TTLMargin         time.Duration `yaml:"ttl_margin"`         // Slack added on top of 2x the interval (seconds)
		UpsertWorkers     int           `yaml:"upsert_workers"`     // Workers draining detached durable writes
		UpsertQueueSize   int           `yaml:"upsert_queue_size"`  // Pending durable writes before drops
		SweepOnStart      bool          `yaml:"sweep_on_start"`     // Run the zombie-record sweep at boot
		SweepInterval     time.Duration `yaml:"sweep_interval"`     // Periodic sweep cadence (seconds), 0 disables
	} `yaml:"presence"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Enable the MQTT heartbeat ingress
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		Topic         string `yaml:"topic"`          // Topic devices publish heartbeats on
		QOS           int    `yaml:"qos"`            // MQTT QoS level for heartbeat messages
		Username      string `yaml:"username"`       // Broker username, empty for none
		Password      string `yaml:"password"`       // Broker password
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
	} `yaml:"mqtt"`

	Security struct {
		DeviceSecretFile string `yaml:"device_secret_file"` // Path to the shared heartbeat secret
	} `yaml:"security"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for anything left unset.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.Server.Address == "" {
		config.Server.Address = ":5000"
	}
	if config.Redis.Address == "" {
		config.Redis.Address = "localhost:6379"
	}
	if config.Mongo.URI == "" {
		config.Mongo.URI = "mongodb://localhost:27017"
	}
	if config.Mongo.Database == "" {
		config.Mongo.Database = "viyu"
	}
	if config.Mongo.Collection == "" {
		config.Mongo.Collection = "devices"
	}
	if config.Presence.HeartbeatInterval <= 0 {
		config.Presence.HeartbeatInterval = 30
	}
	if config.Presence.TTLMargin <= 0 {
		config.Presence.TTLMargin = 5
	}
	if config.Presence.UpsertWorkers <= 0 {
		config.Presence.UpsertWorkers = 4
	}
	if config.Presence.UpsertQueueSize <= 0 {
		config.Presence.UpsertQueueSize = 256
	}
	if config.MQTT.Topic == "" {
		config.MQTT.Topic = "devices/heartbeat"
	}

	return &config, nil
}

// LivenessTTL derives the liveness-entry TTL from the heartbeat cadence:
// twice the interval plus a fixed margin, so one missed heartbeat never
// flips a device offline. Defaults work out to 30s -> 65s.
func (c *Config) LivenessTTL() time.Duration {
	interval := time.Duration(c.Presence.HeartbeatInterval) * time.Second
	margin := time.Duration(c.Presence.TTLMargin) * time.Second
	return 2*interval + margin
}

// LoadDeviceSecret resolves the shared heartbeat secret: the
// PRESENCE_DEVICE_SECRET environment variable wins, otherwise the configured
// secret file is read.
func LoadDeviceSecret(secretFile string, fileClient file.FileOperations) (string, error) {
	if secret := os.Getenv("PRESENCE_DEVICE_SECRET"); secret != "" {
		return secret, nil
	}

	if secretFile == "" {
		return "", errors.New("no device secret configured")
	}

	secret, err := fileClient.ReadFile(secretFile)
	if err != nil {
		return "", err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("device secret file is empty")
	}
	return secret, nil
}
