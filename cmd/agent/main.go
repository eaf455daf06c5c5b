package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/agent"
	"github.com/viyulabs/presence-server/internal/utils"
	"github.com/viyulabs/presence-server/pkg/file"
	"github.com/viyulabs/presence-server/pkg/identity"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	configPath := os.Getenv("PRESENCE_AGENT_CONFIG")
	if configPath == "" {
		configPath = "configs/agent.yaml"
	}

	fileClient := file.NewFileService()
	config, err := utils.LoadAgentConfig(configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	deviceSecret, err := utils.LoadDeviceSecret(config.Security.DeviceSecretFile, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device secret")
	}

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device information")
	}
	logger.Info().Str("device_id", deviceInfo.GetDeviceID()).Str("server", config.Server.URL).Msg("Starting presence agent")

	sender := agent.NewHeartbeatSender(
		config.Server.URL,
		time.Duration(config.Heartbeat.Interval)*time.Second,
		deviceSecret,
		deviceInfo,
		&http.Client{Timeout: time.Duration(config.Server.Timeout) * time.Second},
		logger,
	)

	if err := sender.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start heartbeat sender")
	}

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	_ = sender.Stop()
}
