//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/d2ha/d2ha/cmd/d2ha/api"
	"github.com/d2ha/d2ha/cmd/d2ha/config"
	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/discovery"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/mqtt"
	"github.com/d2ha/d2ha/lib/network"
	"github.com/d2ha/d2ha/lib/otel"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/providers"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/d2ha/d2ha/lib/volumes"
	"github.com/google/wire"
)

// application struct to hold initialized components
type application struct {
	Ctx              context.Context
	Logger           *slog.Logger
	LogConfig        logger.Config
	Config           *config.Config
	Otel             *otel.Provider
	FleetManager     fleet.Manager
	UpdateManager    updates.Manager
	ImageManager     images.Manager
	NetworkManager   network.Manager
	VolumeManager    volumes.Manager
	Executor         actions.Executor
	Preferences      preferences.Store
	MQTTClient       *mqtt.Client
	DiscoveryManager discovery.Manager
	ApiService       *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideLogConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideEngine,
		providers.ProvideFleetManager,
		providers.ProvideImageManager,
		providers.ProvideNetworkManager,
		providers.ProvideVolumeManager,
		providers.ProvideReleasesClient,
		providers.ProvideResolver,
		providers.ProvideUpdatesManager,
		providers.ProvidePreferenceStore,
		providers.ProvideExecutor,
		providers.ProvideMQTTClient,
		wire.Bind(new(mqtt.Transport), new(*mqtt.Client)),
		providers.ProvideDiscoveryManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
