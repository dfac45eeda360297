package volumes

import (
	"context"
	"errors"
	"testing"

	"github.com/d2ha/d2ha/lib/docker/dockertest"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (Manager, *dockertest.Engine) {
	engine := dockertest.New()
	engine.Volumes["data"] = &volume.Volume{Name: "data", Driver: "local", Mountpoint: "/var/lib/docker/volumes/data/_data"}
	engine.Volumes["orphan"] = &volume.Volume{Name: "orphan", Driver: "local"}
	engine.Volumes["Backup"] = &volume.Volume{Name: "Backup", Driver: "local"}
	engine.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID:    "c1",
		Names: []string{"/db"},
		State: "running",
		Mounts: []container.MountPoint{
			{Type: mount.TypeVolume, Name: "data", Destination: "/var/lib/postgresql"},
			{Type: mount.TypeBind, Source: "/srv/config", Destination: "/config"},
		},
	}})
	engine.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID:     "c2",
		Names:  []string{"/app"},
		State:  "exited",
		Mounts: []container.MountPoint{{Type: mount.TypeBind, Source: "/srv/config", Destination: "/etc/app"}},
	}})
	return NewManager(engine), engine
}

func TestListVolumes(t *testing.T) {
	mgr, _ := newTestManager(t)

	vols, err := mgr.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, vols, 4)

	// bind sorts before volume, names compared case-insensitively
	assert.Equal(t, TypeBind, vols[0].Type)
	assert.Equal(t, "/srv/config", vols[0].Name)
	assert.Equal(t, []string{"app", "db"}, vols[0].UsedBy)
	assert.False(t, vols[0].Deletable())

	assert.Equal(t, []string{"Backup", "data", "orphan"}, []string{vols[1].Name, vols[2].Name, vols[3].Name})
	assert.Equal(t, []string{"db"}, vols[2].UsedBy)
	assert.True(t, vols[3].Deletable())
}

func TestListUnusedVolumes(t *testing.T) {
	mgr, _ := newTestManager(t)

	unused, err := mgr.ListUnusedVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, unused, 2)
	assert.Equal(t, "Backup", unused[0].Name)
	assert.Equal(t, "orphan", unused[1].Name)
}

func TestRemoveVolume(t *testing.T) {
	mgr, engine := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		vol  string
		want error
	}{
		{"in use", "data", ErrInUse},
		{"bind mount", "/srv/config", ErrBindMount},
		{"missing", "nope", ErrNotFound},
		{"unused", "orphan", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.RemoveVolume(ctx, tt.vol)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, []string{"VolumeRemove:orphan"}, engine.CallLog())
}

func TestRemoveUnusedVolumesCollectsErrors(t *testing.T) {
	mgr, engine := newTestManager(t)
	engine.ErrByCall["VolumeRemove"] = errors.New("device busy")

	result, err := mgr.RemoveUnusedVolumes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "device busy", result.Errors[0].Error)
}

func TestRemoveUnusedVolumes(t *testing.T) {
	mgr, engine := newTestManager(t)

	result, err := mgr.RemoveUnusedVolumes(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Backup", "orphan"}, result.Removed)
	assert.Contains(t, engine.Volumes, "data")
	assert.NotContains(t, engine.Volumes, "orphan")
}
