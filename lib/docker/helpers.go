package docker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
)

// StackLabel is the compose project label used to group containers.
const StackLabel = "com.docker.compose.project"

// NoStack groups containers without a compose project.
const NoStack = "_no_stack"

// IsNotFound reports whether err is an engine "not found" error.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// ShortID truncates an engine id (optionally "sha256:" prefixed) to 12 chars.
func ShortID(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		id = id[i+1:]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ContainerName strips the leading slash the engine puts on names.
func ContainerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// StackName returns the compose project of a container or NoStack.
func StackName(labels map[string]string) string {
	if s := labels[StackLabel]; s != "" {
		return s
	}
	return NoStack
}

// Ports describes a container's network mode and published ports.
type Ports struct {
	Mode     string   `json:"mode"`
	Bindings []string `json:"bindings"`
}

// FormatPorts renders a port map as "hostIP:hostPort->port/proto" entries,
// sorted by container port. Unpublished ports appear as "port/proto".
func FormatPorts(mode string, pm nat.PortMap) Ports {
	keys := make([]string, 0, len(pm))
	byKey := make(map[string]nat.Port, len(pm))
	for p := range pm {
		keys = append(keys, string(p))
		byKey[string(p)] = p
	}
	sort.Strings(keys)

	bindings := make([]string, 0, len(keys))
	for _, k := range keys {
		mappings := pm[byKey[k]]
		if len(mappings) == 0 {
			bindings = append(bindings, k)
			continue
		}
		for _, m := range mappings {
			hostIP := m.HostIP
			if hostIP == "" || hostIP == "0.0.0.0" {
				hostIP = "*"
			}
			if m.HostPort != "" {
				bindings = append(bindings, fmt.Sprintf("%s:%s->%s", hostIP, m.HostPort, k))
			} else {
				bindings = append(bindings, fmt.Sprintf("%s->%s", hostIP, k))
			}
		}
	}
	return Ports{Mode: mode, Bindings: bindings}
}
