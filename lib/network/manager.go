package network

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/docker/docker/api/types/network"
)

// Manager defines the interface for engine network management
type Manager interface {
	// Network CRUD (bridge, host and none cannot be deleted)
	CreateNetwork(ctx context.Context, req CreateNetworkRequest) (*Detail, error)
	GetNetwork(ctx context.Context, id string) (*Detail, error)
	ListNetworks(ctx context.Context) ([]Network, error)
	DeleteNetwork(ctx context.Context, id string) error

	// Container attachment
	ConnectContainer(ctx context.Context, networkID, containerID string) error
	DisconnectContainer(ctx context.Context, networkID, containerID string, force bool) error
}

var protectedNetworks = map[string]bool{"bridge": true, "host": true, "none": true}

// IsProtected reports whether name is one of the engine's system networks.
func IsProtected(name string) bool {
	return protectedNetworks[strings.ToLower(name)]
}

type manager struct {
	engine docker.Engine
}

// NewManager creates a new network manager
func NewManager(engine docker.Engine) Manager {
	return &manager{engine: engine}
}

// CreateNetwork creates a new network
func (m *manager) CreateNetwork(ctx context.Context, req CreateNetworkRequest) (*Detail, error) {
	log := logger.FromContext(ctx)

	// 1. Validate network name
	if err := validateNetworkName(req.Name); err != nil {
		return nil, err
	}

	// 2. Check if network already exists
	if _, err := m.engine.NetworkInspect(ctx, req.Name, network.InspectOptions{}); err == nil {
		return nil, fmt.Errorf("%w: network '%s' already exists", ErrAlreadyExists, req.Name)
	}

	// 3. Validate address pool
	opts := network.CreateOptions{
		Driver:     req.Driver,
		Internal:   req.Internal,
		Attachable: req.Attachable,
		Labels:     req.Labels,
	}
	if opts.Driver == "" {
		opts.Driver = "bridge"
	}
	if req.Subnet != "" || req.Gateway != "" {
		if req.Subnet != "" {
			if _, _, err := net.ParseCIDR(req.Subnet); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSubnet, err)
			}
		}
		if req.Gateway != "" && net.ParseIP(req.Gateway) == nil {
			return nil, fmt.Errorf("%w: gateway %q is not an IP address", ErrInvalidSubnet, req.Gateway)
		}
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: req.Subnet, Gateway: req.Gateway}},
		}
	}

	// 4. Create
	log.InfoContext(ctx, "creating network", "name", req.Name, "driver", opts.Driver)
	resp, err := m.engine.NetworkCreate(ctx, req.Name, opts)
	if err != nil {
		return nil, fmt.Errorf("create network %s: %w", req.Name, err)
	}
	if resp.Warning != "" {
		log.WarnContext(ctx, "network created with warning", "name", req.Name, "warning", resp.Warning)
	}

	detail, err := m.GetNetwork(ctx, resp.ID)
	if err != nil {
		return &Detail{ID: resp.ID, Name: req.Name}, nil
	}
	return detail, nil
}

// GetNetwork inspects a network by id or name, including attached containers
func (m *manager) GetNetwork(ctx context.Context, id string) (*Detail, error) {
	inspect, err := m.engine.NetworkInspect(ctx, id, network.InspectOptions{})
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("inspect network %s: %w", id, err)
	}

	detail := &Detail{
		ID:         inspect.ID,
		Name:       inspect.Name,
		Driver:     inspect.Driver,
		Scope:      inspect.Scope,
		Internal:   inspect.Internal,
		Attachable: inspect.Attachable,
		Labels:     nonNilLabels(inspect.Labels),
		IPAM:       make([]IPAMConfig, 0, len(inspect.IPAM.Config)),
		Containers: make([]Endpoint, 0, len(inspect.Containers)),
	}
	for _, c := range inspect.IPAM.Config {
		detail.IPAM = append(detail.IPAM, IPAMConfig{Subnet: c.Subnet, Gateway: c.Gateway, IPRange: c.IPRange})
	}

	for containerID, ep := range inspect.Containers {
		name := ep.Name
		if name == "" {
			name = containerID
		}
		status := "unknown"
		if c, err := m.engine.ContainerInspect(ctx, containerID); err == nil && c.State != nil {
			status = string(c.State.Status)
		}
		detail.Containers = append(detail.Containers, Endpoint{
			ID:     containerID,
			Name:   name,
			IP:     strings.SplitN(ep.IPv4Address, "/", 2)[0],
			Status: status,
		})
	}
	sort.Slice(detail.Containers, func(i, j int) bool {
		return strings.ToLower(detail.Containers[i].Name) < strings.ToLower(detail.Containers[j].Name)
	})

	return detail, nil
}

// ListNetworks lists all networks sorted by name
func (m *manager) ListNetworks(ctx context.Context) ([]Network, error) {
	log := logger.FromContext(ctx)

	summaries, err := m.engine.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	networks := make([]Network, 0, len(summaries))
	for _, s := range summaries {
		// List results omit attached containers, inspect for an accurate count
		full, err := m.engine.NetworkInspect(ctx, s.ID, network.InspectOptions{})
		if err != nil {
			log.WarnContext(ctx, "unable to inspect network", "name", s.Name, "error", err)
			full = s
		}
		n := Network{
			ID:             full.ID,
			Name:           full.Name,
			Driver:         full.Driver,
			Scope:          full.Scope,
			Internal:       full.Internal,
			Attachable:     full.Attachable,
			ContainerCount: len(full.Containers),
			Deletable:      !IsProtected(full.Name),
			Labels:         nonNilLabels(full.Labels),
		}
		if len(full.IPAM.Config) > 0 {
			n.Subnet = full.IPAM.Config[0].Subnet
			n.Gateway = full.IPAM.Config[0].Gateway
		}
		networks = append(networks, n)
	}

	sort.Slice(networks, func(i, j int) bool {
		return strings.ToLower(networks[i].Name) < strings.ToLower(networks[j].Name)
	})
	return networks, nil
}

// DeleteNetwork deletes a network
func (m *manager) DeleteNetwork(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	inspect, err := m.engine.NetworkInspect(ctx, id, network.InspectOptions{})
	if err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("inspect network %s: %w", id, err)
	}

	name := inspect.Name
	if name == "" {
		name = id
	}
	if IsProtected(name) {
		return fmt.Errorf("%w: %s", ErrProtectedNetwork, name)
	}

	log.InfoContext(ctx, "removing network", "name", name)
	if err := m.engine.NetworkRemove(ctx, inspect.ID); err != nil {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

func (m *manager) ConnectContainer(ctx context.Context, networkID, containerID string) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "connecting container to network", "container", containerID, "network", networkID)
	if err := m.engine.NetworkConnect(ctx, networkID, containerID, nil); err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, networkID)
		}
		return fmt.Errorf("connect %s to %s: %w", containerID, networkID, err)
	}
	return nil
}

func (m *manager) DisconnectContainer(ctx context.Context, networkID, containerID string, force bool) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "disconnecting container from network", "container", containerID, "network", networkID, "force", force)
	if err := m.engine.NetworkDisconnect(ctx, networkID, containerID, force); err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, networkID)
		}
		return fmt.Errorf("disconnect %s from %s: %w", containerID, networkID, err)
	}
	return nil
}

var networkNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// validateNetworkName validates network name
func validateNetworkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if !networkNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must start with a letter or digit and contain only letters, digits, '_', '.' and '-'", ErrInvalidName)
	}
	return nil
}

func nonNilLabels(l map[string]string) map[string]string {
	if l == nil {
		return map[string]string{}
	}
	return l
}
