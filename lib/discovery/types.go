// Package discovery publishes the container fleet to Home Assistant through
// MQTT discovery and routes inbound button commands to container actions.
package discovery

import "time"

// Defaults for Config.
const (
	DefaultBaseTopic       = "d2ha_server"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultNodeID          = "d2ha_server"
	DefaultStateInterval   = 5 * time.Second
	HistorySize            = 200
)

// Config names the topic namespaces.
type Config struct {
	BaseTopic       string
	DiscoveryPrefix string
	NodeID          string
	StateInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseTopic == "" {
		c.BaseTopic = DefaultBaseTopic
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.NodeID == "" {
		c.NodeID = DefaultNodeID
	}
	if c.StateInterval <= 0 {
		c.StateInterval = DefaultStateInterval
	}
}

// PublishRecord is one publish attempt.
type PublishRecord struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	QoS       byte      `json:"qos"`
	Retain    bool      `json:"retain"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Device groups every entity under one Home Assistant device.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DefaultDevice is the device every entity belongs to.
func DefaultDevice() Device {
	return Device{
		Identifiers:  []string{"d2ha_server"},
		Name:         "d2ha_server",
		Manufacturer: "d2ha_server",
		Model:        "Docker stack monitor",
	}
}

// Component kinds.
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
	ComponentButton       = "button"
)

// fleetSlug is the reserved slug of fleet-wide entities.
const fleetSlug = "docker"

// Fleet-wide commands on the reserved slug.
const (
	CommandDeleteUnusedImages = "delete_unused_images"
	CommandFullUpdateAll      = "full_update_all"
)

// sensorConfig is the discovery payload of a sensor or binary sensor.
type sensorConfig struct {
	Name                string `json:"name"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	// JSONAttrT is the abbreviated attributes topic key.
	JSONAttrT   string `json:"json_attr_t,omitempty"`
	UniqueID    string `json:"unique_id"`
	Device      Device `json:"device"`
	Icon        string `json:"icon,omitempty"`
	PayloadOn   string `json:"payload_on,omitempty"`
	PayloadOff  string `json:"payload_off,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
}

type buttonConfig struct {
	Name         string `json:"name"`
	CommandTopic string `json:"command_topic"`
	UniqueID     string `json:"unique_id"`
	Device       Device `json:"device"`
	Icon         string `json:"icon,omitempty"`
}

type fleetAttributes struct {
	ActiveContainers   int `json:"active_containers"`
	InactiveContainers int `json:"inactive_containers"`
	TotalContainers    int `json:"total_containers"`
	UpdatesPending     int `json:"updates_pending"`
	UnusedImages       int `json:"unused_images"`
}

type updatesAttributes struct {
	Containers     []string `json:"containers"`
	UpdatesPending int      `json:"updates_pending"`
}
