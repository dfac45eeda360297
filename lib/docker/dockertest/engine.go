// Package dockertest provides an in-memory docker.Engine for tests.
package dockertest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Container bundles what the fake returns for one container.
type Container struct {
	Summary container.Summary
	Inspect container.InspectResponse
	// StatsJSON is the raw one-shot stats document.
	StatsJSON string
	Logs      string
}

// Engine is a mutex-guarded fake engine. Zero value is usable.
type Engine struct {
	mu sync.Mutex

	Containers    map[string]*Container
	Images        map[string]image.InspectResponse
	Distributions map[string]registry.DistributionInspect
	Networks      map[string]network.Inspect
	Volumes       map[string]*volume.Volume
	EventLog      []events.Message
	HostInfo      system.Info
	Usage         types.DiskUsage

	// PullOutput is streamed back from ImagePull, keyed by reference.
	PullOutput map[string]string

	PingErr   error
	ListErr   error
	ErrByCall map[string]error

	// Calls records every mutating call as "Method:arg".
	Calls []string

	nextID int
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		Containers:    map[string]*Container{},
		Images:        map[string]image.InspectResponse{},
		Distributions: map[string]registry.DistributionInspect{},
		Networks:      map[string]network.Inspect{},
		Volumes:       map[string]*volume.Volume{},
		PullOutput:    map[string]string{},
		ErrByCall:     map[string]error{},
	}
}

// AddContainer registers a container and keeps Summary and Inspect consistent.
func (e *Engine) AddContainer(c *Container) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.Inspect.ContainerJSONBase == nil {
		c.Inspect.ContainerJSONBase = &container.ContainerJSONBase{}
	}
	if c.Inspect.ID == "" {
		c.Inspect.ID = c.Summary.ID
	}
	if c.Inspect.Name == "" && len(c.Summary.Names) > 0 {
		c.Inspect.Name = c.Summary.Names[0]
	}
	if c.Inspect.Image == "" {
		c.Inspect.Image = c.Summary.ImageID
	}
	if c.Inspect.State == nil {
		c.Inspect.State = &container.State{Status: container.ContainerState(c.Summary.State)}
	}
	if c.Inspect.Config == nil {
		c.Inspect.Config = &container.Config{Image: c.Summary.Image, Labels: c.Summary.Labels}
	}
	if c.Inspect.HostConfig == nil {
		c.Inspect.HostConfig = &container.HostConfig{}
	}
	if c.Inspect.NetworkSettings == nil {
		c.Inspect.NetworkSettings = &container.NetworkSettings{}
	}
	e.Containers[c.Summary.ID] = c
}

// RemoveContainerEntry drops a container without recording a call.
func (e *Engine) RemoveContainerEntry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.Containers, id)
}

// CallLog returns a copy of the recorded calls.
func (e *Engine) CallLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Calls...)
}

func (e *Engine) record(method, arg string) error {
	e.Calls = append(e.Calls, method+":"+arg)
	if err, ok := e.ErrByCall[method]; ok {
		return err
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, cerrdefs.ErrNotFound)
}

func (e *Engine) lookup(id string) (*Container, bool) {
	if c, ok := e.Containers[id]; ok {
		return c, true
	}
	for _, c := range e.Containers {
		if strings.HasPrefix(c.Summary.ID, id) {
			return c, true
		}
		for _, n := range c.Summary.Names {
			if strings.TrimPrefix(n, "/") == id {
				return c, true
			}
		}
	}
	return nil, false
}

func (e *Engine) Ping(ctx context.Context) (types.Ping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.Ping{APIVersion: "1.51"}, e.PingErr
}

func (e *Engine) Info(ctx context.Context) (system.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.HostInfo, nil
}

func (e *Engine) DiskUsage(ctx context.Context, options types.DiskUsageOptions) (types.DiskUsage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Usage, nil
}

func (e *Engine) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	e.mu.Lock()
	msgs := append([]events.Message(nil), e.EventLog...)
	e.mu.Unlock()

	out := make(chan events.Message, len(msgs))
	errs := make(chan error, 1)
	for _, m := range msgs {
		out <- m
	}
	errs <- io.EOF
	return out, errs
}

func (e *Engine) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ListErr != nil {
		return nil, e.ListErr
	}
	out := make([]container.Summary, 0, len(e.Containers))
	for _, c := range e.Containers {
		if !options.All && c.Summary.State != "running" {
			continue
		}
		out = append(out, c.Summary)
	}
	return out, nil
}

func (e *Engine) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.lookup(containerID)
	if !ok {
		return container.InspectResponse{}, notFound("container", containerID)
	}
	return c.Inspect, nil
}

func (e *Engine) ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.lookup(containerID)
	if !ok {
		return container.StatsResponseReader{}, notFound("container", containerID)
	}
	body := c.StatsJSON
	if body == "" {
		body = "{}"
	}
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(body)), OSType: "linux"}, nil
}

func (e *Engine) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.lookup(containerID)
	if !ok {
		return nil, notFound("container", containerID)
	}
	return io.NopCloser(strings.NewReader(c.Logs)), nil
}

func (e *Engine) setState(containerID, method, state string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(method, containerID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container", containerID)
	}
	c.Summary.State = container.ContainerState(state)
	c.Inspect.State.Status = container.ContainerState(state)
	return nil
}

func (e *Engine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return e.setState(containerID, "ContainerStart", "running")
}

func (e *Engine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return e.setState(containerID, "ContainerStop", "exited")
}

func (e *Engine) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	return e.setState(containerID, "ContainerRestart", "running")
}

func (e *Engine) ContainerPause(ctx context.Context, containerID string) error {
	return e.setState(containerID, "ContainerPause", "paused")
}

func (e *Engine) ContainerUnpause(ctx context.Context, containerID string) error {
	return e.setState(containerID, "ContainerUnpause", "running")
}

func (e *Engine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ContainerRemove", containerID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container", containerID)
	}
	delete(e.Containers, c.Summary.ID)
	return nil
}

func (e *Engine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ContainerCreate", containerName); err != nil {
		return container.CreateResponse{}, err
	}
	e.nextID++
	id := fmt.Sprintf("%064x", e.nextID)
	imageID := config.Image
	if img, ok := e.Images[config.Image]; ok {
		imageID = img.ID
	}
	c := &Container{
		Summary: container.Summary{
			ID:      id,
			Names:   []string{"/" + containerName},
			Image:   config.Image,
			ImageID: imageID,
			Labels:  config.Labels,
			State:   "created",
		},
		Inspect: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{
				ID:         id,
				Name:       "/" + containerName,
				Image:      imageID,
				State:      &container.State{Status: "created"},
				HostConfig: hostConfig,
			},
			Config:          config,
			NetworkSettings: &container.NetworkSettings{},
		},
	}
	if networkingConfig != nil {
		c.Inspect.NetworkSettings.Networks = networkingConfig.EndpointsConfig
	}
	e.Containers[id] = c
	return container.CreateResponse{ID: id}, nil
}

func (e *Engine) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := map[string]bool{}
	var out []image.Summary
	for _, img := range e.Images {
		if seen[img.ID] {
			continue
		}
		seen[img.ID] = true
		out = append(out, image.Summary{
			ID:          img.ID,
			RepoTags:    img.RepoTags,
			RepoDigests: img.RepoDigests,
			Size:        img.Size,
		})
	}
	return out, nil
}

func (e *Engine) ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if img, ok := e.Images[imageID]; ok {
		return img, nil
	}
	for _, img := range e.Images {
		if img.ID == imageID {
			return img, nil
		}
	}
	return image.InspectResponse{}, notFound("image", imageID)
}

func (e *Engine) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ImageRemove", imageID); err != nil {
		return nil, err
	}
	removed := false
	for key, img := range e.Images {
		if key == imageID || img.ID == imageID {
			delete(e.Images, key)
			removed = true
		}
	}
	if !removed {
		return nil, notFound("image", imageID)
	}
	return []image.DeleteResponse{{Untagged: imageID}}, nil
}

func (e *Engine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ImagePull", refStr); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(e.PullOutput[refStr])), nil
}

func (e *Engine) DistributionInspect(ctx context.Context, imageRef, encodedRegistryAuth string) (registry.DistributionInspect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, "DistributionInspect:"+imageRef)
	d, ok := e.Distributions[imageRef]
	if !ok {
		return registry.DistributionInspect{}, notFound("manifest", imageRef)
	}
	return d, nil
}

func (e *Engine) NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]network.Summary, 0, len(e.Networks))
	for _, n := range e.Networks {
		out = append(out, n)
	}
	return out, nil
}

func (e *Engine) findNetwork(id string) (network.Inspect, bool) {
	if n, ok := e.Networks[id]; ok {
		return n, true
	}
	for _, n := range e.Networks {
		if n.Name == id {
			return n, true
		}
	}
	return network.Inspect{}, false
}

func (e *Engine) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.findNetwork(networkID)
	if !ok {
		return network.Inspect{}, notFound("network", networkID)
	}
	return n, nil
}

func (e *Engine) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("NetworkCreate", name); err != nil {
		return network.CreateResponse{}, err
	}
	e.nextID++
	id := fmt.Sprintf("net%061x", e.nextID)
	n := network.Inspect{
		Name:       name,
		ID:         id,
		Driver:     options.Driver,
		Scope:      "local",
		Internal:   options.Internal,
		Attachable: options.Attachable,
		Labels:     options.Labels,
	}
	if options.IPAM != nil {
		n.IPAM = *options.IPAM
	}
	e.Networks[id] = n
	return network.CreateResponse{ID: id}, nil
}

func (e *Engine) NetworkRemove(ctx context.Context, networkID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("NetworkRemove", networkID); err != nil {
		return err
	}
	n, ok := e.findNetwork(networkID)
	if !ok {
		return notFound("network", networkID)
	}
	delete(e.Networks, n.ID)
	return nil
}

func (e *Engine) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("NetworkConnect", networkID+"/"+containerID)
}

func (e *Engine) NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("NetworkDisconnect", networkID+"/"+containerID)
}

func (e *Engine) VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out volume.ListResponse
	for _, v := range e.Volumes {
		out.Volumes = append(out.Volumes, v)
	}
	return out, nil
}

func (e *Engine) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("VolumeRemove", volumeID); err != nil {
		return err
	}
	if _, ok := e.Volumes[volumeID]; !ok {
		return notFound("volume", volumeID)
	}
	delete(e.Volumes, volumeID)
	return nil
}
