package fleet

import (
	"time"

	"github.com/d2ha/d2ha/lib/docker"
)

// NetworkAttachment is a network a container is connected to.
type NetworkAttachment struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// Container is a point-in-time snapshot of one container.
type Container struct {
	ID            string              `json:"id"`
	ShortID       string              `json:"short_id"`
	Name          string              `json:"name"`
	Stack         string              `json:"stack"`
	Image         string              `json:"image"`
	Status        string              `json:"status"`
	Uptime        string              `json:"uptime"`
	CPUPercent    float64             `json:"cpu_percent"`
	MemUsage      string              `json:"mem_usage"`
	MemUsageBytes uint64              `json:"mem_usage_bytes"`
	MemPercent    float64             `json:"mem_percent"`
	Restarts      int                 `json:"restarts"`
	Networks      []NetworkAttachment `json:"networks"`
	Ports         docker.Ports        `json:"ports"`
	NetRxBytes    uint64              `json:"net_rx_bytes"`
	NetTxBytes    uint64              `json:"net_tx_bytes"`
}

// StableID is the identity of the container that survives recreation.
func (c Container) StableID() string {
	return StableID(c.Stack, c.Name)
}

// Slug is the topic segment for the container.
func (c Container) Slug() string {
	return Slug(c.Name, c.ShortID)
}

// Stack groups containers sharing a compose project.
type Stack struct {
	Name       string      `json:"name"`
	Containers []Container `json:"containers"`
}

// Stats is a resource usage sample for one container.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsage   uint64  `json:"mem_usage"`
	MemLimit   uint64  `json:"mem_limit"`
	MemPercent float64 `json:"mem_percent"`
	NetRx      uint64  `json:"net_rx"`
	NetTx      uint64  `json:"net_tx"`
}

// Mount is a filesystem mount of a container.
type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	Type        string `json:"type"`
}

// KeyValue is one environment variable or label.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Detail is the full description of a single container.
type Detail struct {
	ID            string              `json:"id"`
	ShortID       string              `json:"short_id"`
	Name          string              `json:"name"`
	Stack         string              `json:"stack"`
	Image         string              `json:"image"`
	Status        string              `json:"status"`
	Created       string              `json:"created"`
	Uptime        string              `json:"uptime"`
	Command       string              `json:"command"`
	RestartPolicy string              `json:"restart_policy"`
	Ports         docker.Ports        `json:"ports"`
	Networks      []NetworkAttachment `json:"networks"`
	Mounts        []Mount             `json:"mounts"`
	Env           []KeyValue          `json:"env"`
	Labels        []KeyValue          `json:"labels"`
}

// Severity classifies engine events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is an engine event formatted for display.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Detail    string    `json:"detail"`
	Host      string    `json:"host"`
	Source    string    `json:"source"`
}

// LogOptions controls a log stream.
type LogOptions struct {
	// Tail is the number of trailing lines, all lines when <= 0.
	Tail   int
	Follow bool
	// Timeout bounds the whole stream. Zero means DefaultLogTimeout,
	// negative disables the bound.
	Timeout time.Duration
}

// Flatten returns every container of stacks in display order.
func Flatten(stacks []Stack) []Container {
	var out []Container
	for _, s := range stacks {
		out = append(out, s.Containers...)
	}
	return out
}
