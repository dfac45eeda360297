package volumes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
)

// Manager provides named volume and bind mount inventory
type Manager interface {
	ListVolumes(ctx context.Context) ([]Volume, error)
	ListUnusedVolumes(ctx context.Context) ([]Volume, error)
	RemoveVolume(ctx context.Context, name string) error
	RemoveUnusedVolumes(ctx context.Context) (*RemovalResult, error)
}

type manager struct {
	engine docker.Engine
}

// NewManager creates a new volume manager
func NewManager(engine docker.Engine) Manager {
	return &manager{engine: engine}
}

type usage struct {
	named map[string][]string
	binds map[string][]string
}

func (m *manager) usage(ctx context.Context) (*usage, error) {
	containers, err := m.engine.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	u := &usage{named: map[string][]string{}, binds: map[string][]string{}}
	for _, c := range containers {
		name := docker.ContainerName(c.Names)
		for _, mp := range c.Mounts {
			switch mp.Type {
			case mount.TypeVolume:
				u.named[mp.Name] = append(u.named[mp.Name], name)
			case mount.TypeBind:
				u.binds[mp.Source] = append(u.binds[mp.Source], name)
			}
		}
	}
	return u, nil
}

// ListVolumes returns named volumes and bind mounts, sorted by type then name
func (m *manager) ListVolumes(ctx context.Context) ([]Volume, error) {
	u, err := m.usage(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.engine.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}

	out := make([]Volume, 0, len(resp.Volumes)+len(u.binds))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		labels := v.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		out = append(out, Volume{
			Name:       v.Name,
			Type:       TypeVolume,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
			Scope:      v.Scope,
			CreatedAt:  v.CreatedAt,
			Labels:     labels,
			UsedBy:     sortedNames(u.named[v.Name]),
		})
	}
	for source, users := range u.binds {
		out = append(out, Volume{
			Name:       source,
			Type:       TypeBind,
			Mountpoint: source,
			Labels:     map[string]string{},
			UsedBy:     sortedNames(users),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// ListUnusedVolumes returns named volumes no container mounts
func (m *manager) ListUnusedVolumes(ctx context.Context) ([]Volume, error) {
	all, err := m.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	unused := make([]Volume, 0)
	for _, v := range all {
		if v.Deletable() {
			unused = append(unused, v)
		}
	}
	return unused, nil
}

// RemoveVolume removes a named volume. Volumes still mounted are refused.
func (m *manager) RemoveVolume(ctx context.Context, name string) error {
	log := logger.FromContext(ctx)

	all, err := m.ListVolumes(ctx)
	if err != nil {
		return err
	}
	var found *Volume
	for i := range all {
		if all[i].Name == name {
			found = &all[i]
			if found.Type == TypeVolume {
				break
			}
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if found.Type == TypeBind {
		return fmt.Errorf("%w: %s", ErrBindMount, name)
	}
	if found.InUse() {
		return fmt.Errorf("%w: %s used by %s", ErrInUse, name, strings.Join(found.UsedBy, ", "))
	}

	log.InfoContext(ctx, "removing volume", "name", name)
	if err := m.engine.VolumeRemove(ctx, name, false); err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

// RemoveUnusedVolumes removes every unused named volume, collecting failures
func (m *manager) RemoveUnusedVolumes(ctx context.Context) (*RemovalResult, error) {
	log := logger.FromContext(ctx)

	unused, err := m.ListUnusedVolumes(ctx)
	if err != nil {
		return nil, err
	}

	result := &RemovalResult{Removed: []string{}, Errors: []RemovalError{}}
	for _, v := range unused {
		if err := m.engine.VolumeRemove(ctx, v.Name, false); err != nil {
			log.WarnContext(ctx, "failed to remove unused volume", "name", v.Name, "error", err)
			result.Errors = append(result.Errors, RemovalError{Name: v.Name, Error: err.Error()})
			continue
		}
		result.Removed = append(result.Removed, v.Name)
	}
	log.InfoContext(ctx, "removed unused volumes", "removed", len(result.Removed), "failed", len(result.Errors))
	return result, nil
}

func sortedNames(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}
