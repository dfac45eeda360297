// Package providers constructs the services of the bridge for dependency
// injection.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/d2ha/d2ha/cmd/d2ha/config"
	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/discovery"
	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/mqtt"
	"github.com/d2ha/d2ha/lib/network"
	"github.com/d2ha/d2ha/lib/otel"
	"github.com/d2ha/d2ha/lib/paths"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/releases"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/d2ha/d2ha/lib/volumes"
)

// Version is set at build time.
var Version = "dev"

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the application configuration
func ProvideConfig() (*config.Config, error) {
	return config.Load()
}

// ProvideLogConfig provides the log levels, with the configured level as the
// default for every subsystem without an override.
func ProvideLogConfig(cfg *config.Config) logger.Config {
	logCfg := logger.NewConfig()
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		logCfg.DefaultLevel = lvl
	}
	return logCfg
}

// ProvideOtel provides the telemetry SDK, disabled unless configured.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*otel.Provider, func(), error) {
	p, err := otel.Init(ctx, otel.Config{
		Enabled:        cfg.OtelEnabled,
		Endpoint:       cfg.OtelEndpoint,
		ServiceName:    cfg.OtelServiceName,
		ServiceVersion: Version,
		Insecure:       cfg.OtelInsecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init otel: %w", err)
	}
	if meter := p.Meter("service"); meter != nil {
		if _, err := otel.NewServiceMetrics(meter, Version, time.Now()); err != nil {
			return nil, nil, fmt.Errorf("create service metrics: %w", err)
		}
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}
	return p, cleanup, nil
}

// ProvideLogger provides the API logger, also installed as the default
// logger.
func ProvideLogger(logCfg logger.Config, p *otel.Provider) *slog.Logger {
	log := subsystemLogger(logger.SubsystemAPI, logCfg, p)
	slog.SetDefault(log)
	return log
}

func subsystemLogger(s logger.Subsystem, logCfg logger.Config, p *otel.Provider) *slog.Logger {
	return logger.NewSubsystemLogger(s, logCfg, p.LogHandler(string(s)))
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideEngine provides the Docker engine client
func ProvideEngine(cfg *config.Config) (docker.Engine, func(), error) {
	c, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		return nil, nil, fmt.Errorf("create docker client: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

// ProvideFleetManager provides the fleet state cache
func ProvideFleetManager(engine docker.Engine, logCfg logger.Config, p *otel.Provider) (fleet.Manager, error) {
	return fleet.NewManager(engine, subsystemLogger(logger.SubsystemFleet, logCfg, p), p.Meter("fleet"))
}

// ProvideImageManager provides the image manager
func ProvideImageManager(engine docker.Engine, logCfg logger.Config, p *otel.Provider) (images.Manager, error) {
	return images.NewManager(engine, subsystemLogger(logger.SubsystemImages, logCfg, p), p.Meter("images"))
}

// ProvideNetworkManager provides the network manager
func ProvideNetworkManager(engine docker.Engine) network.Manager {
	return network.NewManager(engine)
}

// ProvideVolumeManager provides the volume manager
func ProvideVolumeManager(engine docker.Engine) volumes.Manager {
	return volumes.NewManager(engine)
}

// ProvideReleasesClient provides the GitHub release notes client
func ProvideReleasesClient(cfg *config.Config, logCfg logger.Config, p *otel.Provider) (releases.Client, error) {
	return releases.NewClient(releases.Config{
		Token:   cfg.GitHubToken,
		MaxBody: cfg.ReleaseNotesMaxBody,
	}, subsystemLogger(logger.SubsystemReleases, logCfg, p), p.Meter("releases"))
}

// ProvideResolver provides the remote digest resolver selected by config
func ProvideResolver(cfg *config.Config, engine docker.Engine) (updates.Resolver, error) {
	return updates.NewResolver(cfg.RegistryResolver, engine, cfg.RegistryInsecure)
}

// ProvideUpdatesManager provides the remote image classifier
func ProvideUpdatesManager(engine docker.Engine, resolver updates.Resolver, rel releases.Client, logCfg logger.Config, p *otel.Provider) (updates.Manager, error) {
	return updates.NewManager(engine, resolver, subsystemLogger(logger.SubsystemUpdates, logCfg, p), p.Meter("updates"),
		updates.WithReleases(rel))
}

// ProvidePreferenceStore provides the discovery preference store
func ProvidePreferenceStore(pp *paths.Paths, logCfg logger.Config, p *otel.Provider) preferences.Store {
	return preferences.NewStore(pp.Preferences(), subsystemLogger(logger.SubsystemPreferences, logCfg, p))
}

// ProvideExecutor provides the container action executor
func ProvideExecutor(engine docker.Engine, imgs images.Manager, logCfg logger.Config, p *otel.Provider) (actions.Executor, error) {
	return actions.NewExecutor(engine, imgs, subsystemLogger(logger.SubsystemActions, logCfg, p), p.Meter("actions"), p.Tracer("actions"))
}

// ProvideMQTTClient provides the broker client. It is not connected yet.
func ProvideMQTTClient(cfg *config.Config, logCfg logger.Config, p *otel.Provider) (*mqtt.Client, func(), error) {
	log := subsystemLogger(logger.SubsystemMQTT, logCfg, p)
	mqtt.RouteLibraryLogs(log)
	c, err := mqtt.NewClient(mqtt.Config{
		Broker:   cfg.MQTTBroker,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID,
	}, log, p.Meter("mqtt"))
	if err != nil {
		return nil, nil, fmt.Errorf("create mqtt client: %w", err)
	}
	return c, func() { c.Disconnect(250 * time.Millisecond) }, nil
}

// ProvideDiscoveryManager provides the Home Assistant synchronizer
func ProvideDiscoveryManager(
	cfg *config.Config,
	transport mqtt.Transport,
	fleetMgr fleet.Manager,
	updatesMgr updates.Manager,
	imgs images.Manager,
	executor actions.Executor,
	prefs preferences.Store,
	logCfg logger.Config,
	p *otel.Provider,
) (discovery.Manager, error) {
	return discovery.NewManager(discovery.Config{
		BaseTopic:       cfg.MQTTBaseTopic,
		DiscoveryPrefix: cfg.MQTTDiscoveryPrefix,
		NodeID:          cfg.MQTTNodeID,
		StateInterval:   cfg.StateInterval(),
	}, transport, fleetMgr, updatesMgr, imgs, executor, prefs,
		subsystemLogger(logger.SubsystemDiscovery, logCfg, p), p.Meter("discovery"), p.Tracer("discovery"))
}
