package fleet

import (
	"context"
	"sort"
	"strings"

	"github.com/d2ha/d2ha/lib/docker"
)

// ContainerDetail returns configuration and runtime details of one container.
func (m *manager) ContainerDetail(ctx context.Context, id string) (*Detail, error) {
	c, err := m.inspect(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &Detail{
		ID:            c.ID,
		ShortID:       docker.ShortID(c.ID),
		Name:          strings.TrimPrefix(c.Name, "/"),
		Image:         docker.ShortID(c.Image),
		Created:       c.Created,
		Uptime:        "-",
		Command:       "-",
		RestartPolicy: "-",
		Ports:         PortsOf(c),
		Networks:      networksOf(c.NetworkSettings),
		Mounts:        make([]Mount, 0, len(c.Mounts)),
		Env:           []KeyValue{},
		Labels:        []KeyValue{},
	}
	if img, err := m.engine.ImageInspect(ctx, c.Image); err == nil && len(img.RepoTags) > 0 {
		d.Image = img.RepoTags[0]
	}
	if c.State != nil {
		d.Status = string(c.State.Status)
		d.Uptime = Uptime(c.State, m.now())
	}
	if c.HostConfig != nil && c.HostConfig.RestartPolicy.Name != "" {
		d.RestartPolicy = string(c.HostConfig.RestartPolicy.Name)
	}

	labels := map[string]string{}
	if c.Config != nil {
		if len(c.Config.Cmd) > 0 {
			d.Command = strings.Join(c.Config.Cmd, " ")
		}
		for _, e := range c.Config.Env {
			key, val, _ := strings.Cut(e, "=")
			d.Env = append(d.Env, KeyValue{Key: key, Value: val})
		}
		labels = c.Config.Labels
	}
	d.Stack = docker.StackName(labels)
	for k, v := range labels {
		d.Labels = append(d.Labels, KeyValue{Key: k, Value: v})
	}
	sort.Slice(d.Labels, func(i, j int) bool { return d.Labels[i].Key < d.Labels[j].Key })

	for _, mp := range c.Mounts {
		d.Mounts = append(d.Mounts, Mount{
			Source:      mp.Source,
			Destination: mp.Destination,
			Mode:        mp.Mode,
			Type:        string(mp.Type),
		})
	}
	return d, nil
}
