package updates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/docker/dockertest"
	"github.com/d2ha/d2ha/lib/releases"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/registry"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotes struct {
	mu      sync.Mutex
	info    releases.Info
	lookups []string
}

func (f *fakeNotes) Lookup(ctx context.Context, repo releases.Repo, version string) releases.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, repo.String()+"@"+version)
	return f.info
}

func (f *fakeNotes) Releases(ctx context.Context, repo releases.Repo) ([]releases.Release, error) {
	return nil, nil
}

const (
	webImageID = "sha256:2222222222222222222222222222222222222222222222222222222222222222"
	appImageID = "sha256:3333333333333333333333333333333333333333333333333333333333333333"
	devImageID = "sha256:4444444444444444444444444444444444444444444444444444444444444444"
)

// newFleet registers three containers:
//   - web (stack "site", nginx:1.25) whose upstream digest matches
//   - app (stack "site", ghcr.io/acme/app:latest) with a newer upstream digest
//   - dev (no stack, local build) that no registry knows
func newFleet(t *testing.T) *dockertest.Engine {
	t.Helper()
	e := dockertest.New()

	e.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID: "web0000000000000000", Names: []string{"/web"}, Image: "nginx:1.25", ImageID: webImageID,
		State: "running", Labels: map[string]string{docker.StackLabel: "site"},
	}})
	e.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID: "app0000000000000000", Names: []string{"/App"}, Image: "ghcr.io/acme/app:latest", ImageID: appImageID,
		State: "exited", Labels: map[string]string{docker.StackLabel: "site"},
	}})
	e.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID: "dev0000000000000000", Names: []string{"/dev"}, Image: "local/dev", ImageID: devImageID,
		State: "running",
	}})

	web := imageWithLabels([]string{"nginx:1.25"}, []string{"nginx@" + digestA}, nil)
	web.ID = webImageID
	app := imageWithLabels([]string{"ghcr.io/acme/app:latest"}, []string{"ghcr.io/acme/app@" + digestB},
		map[string]string{"org.opencontainers.image.version": "1.0.0"})
	app.ID = appImageID
	dev := imageWithLabels([]string{"local/dev:latest"}, nil, nil)
	dev.ID = devImageID
	e.Images[webImageID] = web
	e.Images[appImageID] = app
	e.Images[devImageID] = dev

	e.Distributions["nginx:1.25"] = registry.DistributionInspect{Descriptor: ocispec.Descriptor{
		Digest:      digest.Digest(digestA),
		Annotations: map[string]string{"org.opencontainers.image.version": "1.25.3"},
	}}
	e.Distributions["ghcr.io/acme/app:latest"] = registry.DistributionInspect{Descriptor: ocispec.Descriptor{
		Digest: digest.Digest(digestC),
		Annotations: map[string]string{
			"org.opencontainers.image.source":    "https://github.com/acme/app",
			"org.opencontainers.image.changelog": "https://github.com/acme/app/releases",
		},
	}}
	return e
}

func newTestManager(t *testing.T, e *dockertest.Engine, opts ...Option) (Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: testNow}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := NewManager(e, NewEngineResolver(e), nil, nil, opts...)
	require.NoError(t, err)
	return m, clock
}

func countCalls(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func byName(updates []ContainerUpdate) map[string]ContainerUpdate {
	out := make(map[string]ContainerUpdate, len(updates))
	for _, u := range updates {
		out[u.Name] = u
	}
	return out
}

func TestCollectContainersInfoForUpdates(t *testing.T) {
	e := newFleet(t)
	notes := &fakeNotes{info: releases.Info{
		Changelog:       "## What's new\nfaster",
		ChangelogURL:    "https://github.com/acme/app/releases/tag/v1.1.0",
		BreakingChanges: "config renamed",
		ReleaseDate:     "2026-02-20",
		ReleaseName:     "v1.1.0",
	}}
	m, _ := newTestManager(t, e, WithReleases(notes))

	updates, err := m.CollectContainersInfoForUpdates(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 3)

	// "_no_stack" sorts before lowercase stack names
	assert.Equal(t, []string{"dev", "App", "web"}, []string{updates[0].Name, updates[1].Name, updates[2].Name})

	got := byName(updates)

	web := got["web"]
	assert.Equal(t, StateUpToDate, web.State)
	assert.Equal(t, "site", web.Stack)
	assert.Equal(t, "site_web", web.StableID)
	assert.Equal(t, "nginx:1.25", web.Image)
	assert.Equal(t, "aaaaaaaaaaaa", web.InstalledIDShort)
	assert.Equal(t, "V. 1.25", web.InstalledDisplayVersion)
	assert.Equal(t, "1.25.3", web.RemoteVersion)
	assert.Equal(t, "V. 1.25.3", web.RemoteDisplayVersion)
	assert.Equal(t, DefaultFrequency, web.FrequencyMinutes)
	assert.False(t, web.Degraded)

	app := got["App"]
	assert.Equal(t, StateUpdateAvailable, app.State)
	assert.Equal(t, "exited", app.Status)
	assert.Equal(t, "-", app.Uptime)
	assert.Equal(t, "cccccccccccc", app.RemoteIDShort)
	assert.Equal(t, "v1.1.0", app.RemoteVersion)
	assert.Equal(t, "V. 1.1.0", app.RemoteDisplayVersion)
	assert.Equal(t, "V. 1.0.0", app.InstalledDisplayVersion)
	assert.Equal(t, "## What's new\nfaster", app.Changelog)
	assert.Equal(t, "https://github.com/acme/app/releases/tag/v1.1.0", app.ChangelogURL)
	assert.Equal(t, "config renamed", app.BreakingChanges)
	assert.Equal(t, "2026-02-20", app.ReleaseDate)
	assert.Equal(t, []string{"acme/app@latest"}, notes.lookups)

	dev := got["dev"]
	assert.Equal(t, "_no_stack", dev.Stack)
	assert.Equal(t, StateUnknown, dev.State)
	assert.True(t, dev.Degraded)
	assert.NotEmpty(t, dev.Cause)
}

func TestLocalChangelogURLIsNotBody(t *testing.T) {
	e := newFleet(t)
	dev := imageWithLabels([]string{"local/dev:latest"}, nil,
		map[string]string{"org.opencontainers.image.changelog": "https://example.com/dev/changes"})
	dev.ID = devImageID
	e.Images[devImageID] = dev
	m, _ := newTestManager(t, e)

	list, err := m.CollectContainersInfoForUpdates(context.Background())
	require.NoError(t, err)

	got := byName(list)["dev"]
	assert.Empty(t, got.Changelog)
	assert.Equal(t, "https://example.com/dev/changes", got.ChangelogURL)
}

func TestRemoteCache(t *testing.T) {
	e := newFleet(t)
	m, clock := newTestManager(t, e)
	ctx := context.Background()

	_, err := m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)
	_, err = m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countCalls(e.CallLog(), "DistributionInspect:nginx:1.25"))
	assert.Equal(t, 1, countCalls(e.CallLog(), "DistributionInspect:local/dev:latest"), "failures are cached too")

	// Forced refresh bypasses the cache
	d, err := m.GetContainerUpdateInfo(ctx, "web", true)
	require.NoError(t, err)
	assert.Equal(t, StateUpToDate, d.State)
	assert.Equal(t, 2, countCalls(e.CallLog(), "DistributionInspect:nginx:1.25"))

	// Expiry follows the per-container frequency
	clock.Advance(59 * time.Minute)
	_, err = m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, countCalls(e.CallLog(), "DistributionInspect:nginx:1.25"))

	clock.Advance(2 * time.Minute)
	_, err = m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, countCalls(e.CallLog(), "DistributionInspect:nginx:1.25"))
}

func TestFrequencyShortensCache(t *testing.T) {
	e := newFleet(t)
	m, clock := newTestManager(t, e)
	ctx := context.Background()

	assert.Equal(t, MinFrequency, m.SetUpdateFrequency("web0000000000000000", 1))
	_, err := m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = m.CollectContainersInfoForUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, countCalls(e.CallLog(), "DistributionInspect:nginx:1.25"))
	assert.Equal(t, 1, countCalls(e.CallLog(), "DistributionInspect:ghcr.io/acme/app:latest"))
}

func TestSettings(t *testing.T) {
	e := newFleet(t)
	m, _ := newTestManager(t, e)

	assert.Equal(t, Settings{FrequencyMinutes: DefaultFrequency}, m.Settings("web0000000000000000"))
	assert.Equal(t, MaxFrequency, m.SetUpdateFrequency("web0000000000000000", 5000))
	assert.Equal(t, 30, m.SetUpdateFrequency("web0000000000000000", 30))
	assert.Equal(t, "1.26", m.SetUpdateTrack("web0000000000000000", "  1.26 "))
	assert.Equal(t, Settings{FrequencyMinutes: 30, Track: "1.26"}, m.Settings("web0000000000000000"))
	assert.Equal(t, "", m.SetUpdateTrack("web0000000000000000", "   "))
}

func TestTrackedTag(t *testing.T) {
	e := newFleet(t)
	e.Distributions["nginx:1.26"] = registry.DistributionInspect{Descriptor: ocispec.Descriptor{
		Digest: digest.Digest(digestB),
	}}
	m, _ := newTestManager(t, e)
	m.SetUpdateTrack("web0000000000000000", "1.26")

	d, err := m.GetContainerUpdateInfo(context.Background(), "web", false)
	require.NoError(t, err)
	assert.Contains(t, e.CallLog(), "DistributionInspect:nginx:1.26")
	assert.Equal(t, StateUpdateAvailable, d.State)
	assert.Equal(t, "1.26", d.CheckTag)
	assert.Equal(t, "1.26", d.RemoteTag)
	assert.Equal(t, "V. 1.26", d.RemoteDisplayVersion)
	assert.Equal(t, "https://hub.docker.com/_/nginx", d.RepoLink)
}

func TestGetContainerUpdateInfoNotFound(t *testing.T) {
	m, _ := newTestManager(t, newFleet(t))
	_, err := m.GetContainerUpdateInfo(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.InstalledInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstalledInfo(t *testing.T) {
	m, _ := newTestManager(t, newFleet(t))
	inst, err := m.InstalledInfo(context.Background(), "App")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/acme/app:latest", inst.ImageRef)
	assert.Equal(t, digestB, inst.Digest)
	assert.Equal(t, "1.0.0", inst.Version)
}

func TestCollectEngineDown(t *testing.T) {
	e := newFleet(t)
	e.ListErr = errors.New("connection refused")
	m, _ := newTestManager(t, e)
	_, err := m.CollectContainersInfoForUpdates(context.Background())
	require.Error(t, err)
}

func TestRepoLink(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"nginx:1.25", "https://hub.docker.com/_/nginx"},
		{"linuxserver/sonarr:latest", "https://hub.docker.com/r/linuxserver/sonarr"},
		{"ghcr.io/acme/app:1.0", "https://ghcr.io/acme/app"},
		{"sha256:abc", "sha256:abc"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, RepoLink(tt.ref))
		})
	}
}
