package service_registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/api"
	"github.com/viyulabs/presence-server/internal/registry"
	"github.com/viyulabs/presence-server/internal/services"
	"github.com/viyulabs/presence-server/internal/utils"
	"github.com/viyulabs/presence-server/pkg/broadcast"
	"github.com/viyulabs/presence-server/pkg/devicestore"
	"github.com/viyulabs/presence-server/pkg/liveness"
	"github.com/viyulabs/presence-server/pkg/mqtt"
)

// Dependencies are the shared clients the services are built from. They are
// constructed once at process start and passed in explicitly; there are no
// ambient singletons.
type Dependencies struct {
	Liveness   liveness.Store
	Devices    devicestore.Store
	Hub        *broadcast.Hub
	Ingest     *services.IngestService
	MqttClient mqtt.MQTTClient // nil unless the MQTT ingress is enabled
}

// ServiceRegistry manages the lifecycle of the presence services.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on
// configuration. The reconciler comes up before the API so no expiry window
// opens while heartbeats are already being accepted; the API starts last.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) error {
	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "reconciler",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return services.NewReconcilerService(
					deps.Liveness,
					deps.Devices,
					deps.Hub,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "sweep",
			enabled: config.Presence.SweepOnStart || config.Presence.SweepInterval > 0,
			constructor: func() (registry.Service, error) {
				return services.NewSweepService(
					deps.Liveness,
					deps.Devices,
					deps.Hub,
					config.Presence.SweepOnStart,
					time.Duration(config.Presence.SweepInterval)*time.Second,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "mqtt_ingest",
			enabled: config.MQTT.Enabled,
			constructor: func() (registry.Service, error) {
				if deps.MqttClient == nil {
					return nil, errors.New("mqtt ingress enabled but no mqtt client provided")
				}
				return services.NewMQTTIngestService(
					config.MQTT.Topic,
					config.MQTT.QOS,
					deps.MqttClient,
					deps.Ingest,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "api",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return api.NewServer(
					config.Server.Address,
					deps.Ingest,
					deps.Devices,
					deps.Liveness,
					deps.Hub,
					sr.Logger,
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
