package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/service_registry"
	"github.com/viyulabs/presence-server/internal/services"
	"github.com/viyulabs/presence-server/internal/utils"
	"github.com/viyulabs/presence-server/pkg/broadcast"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/file"
	"github.com/viyulabs/presence-server/pkg/liveness"
	"github.com/viyulabs/presence-server/pkg/mqtt"
)

const (
	mongoConnectTimeout = 15 * time.Second
	mongoTeardownWait   = 5 * time.Second
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	configPath := os.Getenv("PRESENCE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration from file
	fileClient := file.NewFileService()
	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	deviceSecret, err := utils.LoadDeviceSecret(config.Security.DeviceSecretFile, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device secret")
	}

	// Liveness store connects lazily; the sweep service polls for readiness,
	// so a Redis that is still coming up is not fatal here.
	livenessStore := liveness.NewRedisStore(config.Redis.Address, config.Redis.Password, config.Redis.DB)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := livenessStore.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("address", config.Redis.Address).Msg("Liveness store not reachable yet")
	} else {
		logger.Info().Str("address", config.Redis.Address).Msg("Connected to liveness store")
	}
	cancelPing()

	mongoCtx, cancelMongo := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoClient, err := devicestore.Connect(mongoCtx, config.Mongo.URI)
	cancelMongo()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to device record store")
	}
	logger.Info().Str("database", config.Mongo.Database).Msg("Connected to device record store")

	deviceStore := devicestore.NewMongoStore(mongoClient, config.Mongo.Database, config.Mongo.Collection)
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 10*time.Second)
	if err := deviceStore.EnsureIndexes(indexCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to ensure device indexes")
	}
	cancelIndex()

	hub := broadcast.NewHub(logger)
	upsertPool := utils.NewWorkerPool(config.Presence.UpsertWorkers, config.Presence.UpsertQueueSize)

	ingest := services.NewIngestService(
		deviceSecret,
		config.LivenessTTL(),
		livenessStore,
		deviceStore,
		hub,
		upsertPool,
		logger,
	)

	// Initialize the shared MQTT connection when the MQTT ingress is enabled
	var mqttClient mqtt.MQTTClient
	if config.MQTT.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Msgf("Using MQTT Client ID: %s", config.MQTT.ClientID)

		mqttService := mqtt.NewMqttService(fileClient)
		err = mqttService.Initialize(mqtt.Options{
			Broker:     config.MQTT.Broker,
			ClientID:   config.MQTT.ClientID,
			Username:   config.MQTT.Username,
			Password:   config.MQTT.Password,
			CACertFile: config.MQTT.CACertificate,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(logger)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, service_registry.Dependencies{
		Liveness:   livenessStore,
		Devices:    deviceStore,
		Hub:        hub,
		Ingest:     ingest,
		MqttClient: mqttClient,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	_ = serviceRegistry.StopServices()
	hub.CloseAll()
	upsertPool.Shutdown()

	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
	if err := livenessStore.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close liveness store")
	}

	teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), mongoTeardownWait)
	if err := mongoClient.Disconnect(teardownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to disconnect device record store")
	}
	cancelTeardown()
}
