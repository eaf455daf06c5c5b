package utils

import (
	"time"

	"github.com/viyulabs/presence-server/pkg/file"
)

// AgentConfig represents the structure of the device agent's configuration
// file. Durations are plain seconds in the YAML.
type AgentConfig struct {
	Server struct {
		URL     string        `yaml:"url"`     // Presence backend base URL
		Timeout time.Duration `yaml:"timeout"` // HTTP request timeout (seconds)
	} `yaml:"server"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Heartbeat struct {
		Interval time.Duration `yaml:"interval"` // Interval between heartbeats (seconds)
	} `yaml:"heartbeat"`

	Security struct {
		DeviceSecretFile string `yaml:"device_secret_file"` // Path to the shared heartbeat secret
	} `yaml:"security"`
}

// LoadAgentConfig loads the YAML agent configuration from the specified
// file and fills in defaults.
func LoadAgentConfig(filename string, fileClient file.FileOperations) (*AgentConfig, error) {
	var config AgentConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.Server.URL == "" {
		config.Server.URL = "http://localhost:5000"
	}
	if config.Server.Timeout <= 0 {
		config.Server.Timeout = 5
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat.Interval = 30
	}

	return &config, nil
}
