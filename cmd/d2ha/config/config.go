package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port       string `json:"port"`
	DataDir    string `json:"data_dir"`
	DockerHost string `json:"docker_host"`
	JwtSecret  string `json:"jwt_secret"`

	MQTTBroker          string `json:"mqtt_broker"`
	MQTTPort            int    `json:"mqtt_port"`
	MQTTUsername        string `json:"mqtt_username"`
	MQTTPassword        string `json:"mqtt_password"`
	MQTTClientID        string `json:"mqtt_client_id"`
	MQTTBaseTopic       string `json:"mqtt_base_topic"`
	MQTTDiscoveryPrefix string `json:"mqtt_discovery_prefix"`
	MQTTNodeID          string `json:"mqtt_node_id"`
	// MQTTStateInterval is in seconds.
	MQTTStateInterval int `json:"mqtt_state_interval"`

	// OverviewRefreshInterval is in seconds.
	OverviewRefreshInterval int    `json:"overview_refresh_interval"`
	RegistryResolver        string `json:"registry_resolver"`
	RegistryInsecure        bool   `json:"registry_insecure"`

	GitHubToken         string            `json:"github_token"`
	ReleaseNotesMaxBody datasize.ByteSize `json:"release_notes_max_body"`

	OtelEnabled     bool   `json:"otel_enabled"`
	OtelEndpoint    string `json:"otel_endpoint"`
	OtelServiceName string `json:"otel_service_name"`
	OtelInsecure    bool   `json:"otel_insecure"`

	LogLevel string `json:"log_level"`
}

// Load reads configuration from the environment, after loading a .env file
// when present. When D2HA_CONFIG names a YAML file its keys override the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		DataDir:                 getEnv("DATA_DIR", "/data"),
		DockerHost:              getEnv("DOCKER_HOST", ""),
		JwtSecret:               getEnv("JWT_SECRET", ""),
		MQTTBroker:              getEnv("MQTT_BROKER", ""),
		MQTTPort:                getEnvInt("MQTT_PORT", 1883),
		MQTTUsername:            getEnv("MQTT_USERNAME", ""),
		MQTTPassword:            getEnv("MQTT_PASSWORD", ""),
		MQTTClientID:            getEnv("MQTT_CLIENT_ID", ""),
		MQTTBaseTopic:           getEnv("MQTT_BASE_TOPIC", "d2ha_server"),
		MQTTDiscoveryPrefix:     getEnv("MQTT_DISCOVERY_PREFIX", "homeassistant"),
		MQTTNodeID:              getEnv("MQTT_NODE_ID", "d2ha_server"),
		MQTTStateInterval:       getEnvInt("MQTT_STATE_INTERVAL", 5),
		OverviewRefreshInterval: getEnvInt("OVERVIEW_REFRESH_INTERVAL", 5),
		RegistryResolver:        getEnv("REGISTRY_RESOLVER", "engine"),
		RegistryInsecure:        getEnvBool("REGISTRY_INSECURE", false),
		GitHubToken:             getEnv("GITHUB_TOKEN", ""),
		ReleaseNotesMaxBody:     datasize.MB,
		OtelEnabled:             getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:            getEnv("OTEL_ENDPOINT", ""),
		OtelServiceName:         getEnv("OTEL_SERVICE_NAME", "d2ha"),
		OtelInsecure:            getEnvBool("OTEL_INSECURE", true),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}

	if v := os.Getenv("RELEASE_NOTES_MAX_BODY"); v != "" {
		if err := cfg.ReleaseNotesMaxBody.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("parse RELEASE_NOTES_MAX_BODY: %w", err)
		}
	}

	if path := os.Getenv("D2HA_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay decodes the YAML file at path over cfg.
func (c *Config) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("invalid MQTT port %d", c.MQTTPort)
	}
	if c.MQTTStateInterval <= 0 {
		return fmt.Errorf("MQTT state interval must be positive, got %d", c.MQTTStateInterval)
	}
	if c.OverviewRefreshInterval <= 0 {
		return fmt.Errorf("overview refresh interval must be positive, got %d", c.OverviewRefreshInterval)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	return nil
}

// StateInterval is MQTTStateInterval as a duration.
func (c *Config) StateInterval() time.Duration {
	return time.Duration(c.MQTTStateInterval) * time.Second
}

// RefreshInterval is OverviewRefreshInterval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.OverviewRefreshInterval) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
