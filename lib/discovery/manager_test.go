package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/mqtt/mqtttest"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFleet struct {
	fleet.Manager
	mu        sync.Mutex
	running   bool
	refreshes int
}

func (f *fakeFleet) IsEngineRunning(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeFleet) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeFleet) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeImages struct {
	images.Manager
	unused []images.Image
	err    error
}

func (f *fakeImages) ListUnusedImages(ctx context.Context) ([]images.Image, error) {
	return f.unused, f.err
}

type fakeUpdates struct {
	updates.Manager
	mu         sync.Mutex
	containers []updates.ContainerUpdate
	onCollect  func()
}

func (f *fakeUpdates) CollectContainersInfoForUpdates(ctx context.Context) ([]updates.ContainerUpdate, error) {
	if f.onCollect != nil {
		f.onCollect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]updates.ContainerUpdate(nil), f.containers...), nil
}

func (f *fakeUpdates) set(c []updates.ContainerUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers = c
}

type fakeExecutor struct {
	actions.Executor
	mu    sync.Mutex
	calls []string
	errBy map[string]error
}

func (f *fakeExecutor) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.errBy[call]
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutor) ApplySimpleAction(ctx context.Context, id, action string) error {
	return f.record(action + ":" + id)
}

func (f *fakeExecutor) RemoveContainer(ctx context.Context, id string) error {
	return f.record("delete:" + id)
}

func (f *fakeExecutor) RecreateContainerWithLatestImage(ctx context.Context, id string) error {
	return f.record("full_update:" + id)
}

func (f *fakeExecutor) RemoveUnusedImages(ctx context.Context) (*images.RemovalResult, error) {
	if err := f.record("remove_unused_images"); err != nil {
		return nil, err
	}
	return &images.RemovalResult{}, nil
}

type fixture struct {
	mgr      *manager
	broker   *mqtttest.Broker
	fleet    *fakeFleet
	updates  *fakeUpdates
	executor *fakeExecutor
	prefs    preferences.Store
}

func sampleContainers() []updates.ContainerUpdate {
	return []updates.ContainerUpdate{
		{
			ID: "aaaa1111", ShortID: "aaaa1111", Name: "web", Stack: "site", StableID: "site_web",
			Status: "running", ImageRef: "nginx:1.25", InstalledVersion: "1.25.3", RemoteVersion: "1.25.3",
			State: updates.StateUpToDate,
			Ports: docker.Ports{Mode: "bridge", Bindings: []string{"8080->80/tcp"}},
		},
		{
			ID: "bbbb2222", ShortID: "bbbb2222", Name: "App", Stack: "site", StableID: "site_App",
			Status: "exited", ImageRef: "ghcr.io/acme/app:latest", InstalledVersion: "1.0.0", RemoteVersion: "1.1.0",
			State: updates.StateUpdateAvailable, Changelog: "fixes", BreakingChanges: "none",
		},
		{
			ID: "cccc3333", ShortID: "cccc3333", Name: "d2ha_server", StableID: "d2ha_server",
			Status: "running", ImageRef: "d2ha:latest", State: updates.StateUpdateAvailable,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:   mqtttest.New(),
		fleet:    &fakeFleet{running: true},
		updates:  &fakeUpdates{containers: sampleContainers()},
		executor: &fakeExecutor{errBy: map[string]error{}},
		prefs:    preferences.NewStore(filepath.Join(t.TempDir(), "prefs.json"), nil),
	}
	imgs := &fakeImages{unused: []images.Image{{ID: "sha256:1"}, {ID: "sha256:2"}}}
	mgr, err := NewManager(Config{}, f.broker, f.fleet, f.updates, imgs, f.executor, f.prefs, nil, nil, nil,
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	f.mgr = mgr.(*manager)
	return f
}

func retainedJSON(t *testing.T, b *mqtttest.Broker, topic string) map[string]any {
	t.Helper()
	raw, ok := b.Retained(topic)
	require.True(t, ok, "no retained payload on %s", topic)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestPublishFleetEntities(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.SyncOnce(context.Background()))

	cfg := retainedJSON(t, f.broker, "homeassistant/binary_sensor/d2ha_server/docker_status/config")
	assert.Equal(t, "d2ha_docker_status", cfg["unique_id"])
	assert.Equal(t, "d2ha_server/docker/state", cfg["state_topic"])
	assert.Equal(t, "connectivity", cfg["device_class"])

	state, _ := f.broker.Retained("d2ha_server/docker/state")
	assert.Equal(t, "on", state)

	attrs := retainedJSON(t, f.broker, "d2ha_server/docker/attributes")
	assert.EqualValues(t, 2, attrs["active_containers"])
	assert.EqualValues(t, 1, attrs["inactive_containers"])
	assert.EqualValues(t, 3, attrs["total_containers"])
	assert.EqualValues(t, 2, attrs["updates_pending"])
	assert.EqualValues(t, 2, attrs["unused_images"])

	button := retainedJSON(t, f.broker, "homeassistant/button/d2ha_server/docker_delete_unused_images/config")
	assert.Equal(t, "d2ha_server/docker/set/delete_unused_images", button["command_topic"])

	pending, _ := f.broker.Retained("d2ha_server/docker/updates/state")
	assert.Equal(t, "2", pending)
	overview := retainedJSON(t, f.broker, "homeassistant/sensor/d2ha_server/docker_updates/config")
	assert.Equal(t, "d2ha_server/docker/updates/attributes", overview["json_attr_t"])

	_, ok := f.broker.Retained("homeassistant/button/d2ha_server/docker_full_update_all/config")
	assert.True(t, ok)
}

func TestPublishContainerEntities(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.SyncOnce(context.Background()))

	cfg := retainedJSON(t, f.broker, "homeassistant/sensor/d2ha_server/app_bbbb2222_status/config")
	assert.Equal(t, "App Status", cfg["name"])
	assert.Equal(t, "d2ha_site_App_status", cfg["unique_id"])
	assert.Equal(t, "d2ha_server/app_bbbb2222/attributes", cfg["json_attributes_topic"])

	state, _ := f.broker.Retained("d2ha_server/app_bbbb2222/state")
	assert.Equal(t, "exited", state)

	attrs := retainedJSON(t, f.broker, "d2ha_server/app_bbbb2222/attributes")
	assert.Equal(t, "update_available", attrs["update_state"])
	assert.Equal(t, "1.1.0", attrs["remote_version"])
	assert.Equal(t, "fixes", attrs["changelog"])

	for _, b := range buttonLabels {
		btn := retainedJSON(t, f.broker, "homeassistant/button/d2ha_server/web_aaaa1111_"+b.action+"/config")
		assert.Equal(t, "web "+b.label, btn["name"])
		assert.Equal(t, "d2ha_server/web_aaaa1111/set/"+b.action, btn["command_topic"])
		assert.Equal(t, "d2ha_site_web_"+b.action, btn["unique_id"])
	}

	assert.Equal(t, map[string]string{"web_aaaa1111": "aaaa1111", "app_bbbb2222": "bbbb2222"}, f.mgr.SlugMap())
	for _, topic := range f.broker.RetainedTopics() {
		assert.NotContains(t, topic, "cccc3333", "self container must not be published")
	}
}

func TestPublishHonorsPreferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))

	_, err := f.prefs.SetPreferences("site_web", false, map[string]bool{"delete": false})
	require.NoError(t, err)
	_, err = f.prefs.SetGlobal(preferences.GlobalPreferences{DeleteUnusedImages: false, UpdatesOverview: false, FullUpdateAll: true})
	require.NoError(t, err)
	require.NoError(t, f.mgr.SyncOnce(ctx))

	for _, topic := range []string{
		"homeassistant/sensor/d2ha_server/web_aaaa1111_status/config",
		"d2ha_server/web_aaaa1111/state",
		"d2ha_server/web_aaaa1111/attributes",
		"homeassistant/button/d2ha_server/web_aaaa1111_delete/config",
		"homeassistant/button/d2ha_server/docker_delete_unused_images/config",
		"homeassistant/sensor/d2ha_server/docker_updates/config",
		"d2ha_server/docker/updates/state",
	} {
		_, ok := f.broker.Retained(topic)
		assert.False(t, ok, "expected %s to be cleared", topic)
	}
	_, ok := f.broker.Retained("homeassistant/button/d2ha_server/web_aaaa1111_restart/config")
	assert.True(t, ok)
}

// emptyRetained returns the topics that received a retained empty payload.
func emptyRetained(b *mqtttest.Broker) []string {
	var out []string
	for _, p := range b.Published() {
		if p.Retain && p.Payload == "" {
			out = append(out, p.Topic)
		}
	}
	return out
}

func TestStaleContainersAreRetracted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))

	f.broker.Reset()
	f.updates.set(sampleContainers()[:1])
	require.NoError(t, f.mgr.SyncOnce(ctx))

	assert.ElementsMatch(t, []string{
		"homeassistant/sensor/d2ha_server/app_bbbb2222_status/config",
		"d2ha_server/app_bbbb2222/state",
		"d2ha_server/app_bbbb2222/attributes",
		"homeassistant/button/d2ha_server/app_bbbb2222_start/config",
		"homeassistant/button/d2ha_server/app_bbbb2222_pause/config",
		"homeassistant/button/d2ha_server/app_bbbb2222_stop/config",
		"homeassistant/button/d2ha_server/app_bbbb2222_restart/config",
		"homeassistant/button/d2ha_server/app_bbbb2222_delete/config",
		"homeassistant/button/d2ha_server/app_bbbb2222_full_update/config",
	}, emptyRetained(f.broker))

	for _, topic := range f.broker.RetainedTopics() {
		assert.NotContains(t, topic, "bbbb2222", "stale topic %s survived", topic)
	}
	assert.Equal(t, map[string]string{"web_aaaa1111": "aaaa1111"}, f.mgr.SlugMap())
}

func TestUnchangedFleetPublishesNoClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))
	first := f.mgr.SlugMap()

	f.broker.Reset()
	require.NoError(t, f.mgr.SyncOnce(ctx))

	assert.Empty(t, emptyRetained(f.broker))
	assert.NotEmpty(t, f.broker.Published())
	assert.Equal(t, first, f.mgr.SlugMap())
}

func TestSyncCollectsUnderPassLock(t *testing.T) {
	f := newFixture(t)
	var unlocked atomic.Int32
	f.updates.onCollect = func() {
		if f.mgr.passMu.TryLock() {
			unlocked.Add(1)
			f.mgr.passMu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.mgr.SyncOnce(context.Background()))
		}()
	}
	wg.Wait()
	assert.Zero(t, unlocked.Load())
}

func TestPublishSkippedWhenDisconnected(t *testing.T) {
	f := newFixture(t)
	f.broker.SetConnected(false)
	require.NoError(t, f.mgr.SyncOnce(context.Background()))
	assert.Empty(t, f.broker.Published())
	assert.Empty(t, f.mgr.GetPublishHistory(0))
}

func TestPublishFailuresAreRecorded(t *testing.T) {
	f := newFixture(t)
	f.broker.PublishErr["d2ha_server/web_aaaa1111/state"] = errors.New("boom")
	require.NoError(t, f.mgr.SyncOnce(context.Background()))

	var failed []PublishRecord
	for _, r := range f.mgr.GetPublishHistory(0) {
		if r.Error != "" {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "d2ha_server/web_aaaa1111/state", failed[0].Topic)
	assert.Equal(t, testNow, failed[0].Timestamp)

	_, ok := f.broker.Retained("d2ha_server/app_bbbb2222/state")
	assert.True(t, ok, "other containers still publish")
}

func TestPublishHistoryLimit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.SyncOnce(context.Background()))

	all := f.mgr.GetPublishHistory(0)
	last := f.mgr.GetPublishHistory(3)
	require.Len(t, last, 3)
	assert.Equal(t, all[len(all)-3:], last)
	assert.True(t, last[0].Retain)
}

func TestHandleContainerCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))

	require.NoError(t, f.mgr.HandleCommand(ctx, "d2ha_server/web_aaaa1111/set/restart"))
	require.NoError(t, f.mgr.HandleCommand(ctx, "d2ha_server/app_bbbb2222/set/FULL_UPDATE"))
	require.NoError(t, f.mgr.HandleCommand(ctx, "d2ha_server/app_bbbb2222/set/delete"))

	assert.Equal(t, []string{"restart:aaaa1111", "full_update:bbbb2222", "delete:bbbb2222"}, f.executor.Calls())
	assert.Eventually(t, func() bool { return f.fleet.Refreshes() == 3 }, time.Second, 10*time.Millisecond)
}

func TestHandleCommandErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))

	err := f.mgr.HandleCommand(ctx, "d2ha_server/ghost/set/start")
	assert.ErrorIs(t, err, ErrUnknownSlug)

	err = f.mgr.HandleCommand(ctx, "d2ha_server/web_aaaa1111/set/explode")
	assert.ErrorIs(t, err, actions.ErrUnknownAction)

	err = f.mgr.HandleCommand(ctx, "other/web/set/start")
	assert.ErrorIs(t, err, ErrInvalidTopic)

	f.executor.errBy["stop:aaaa1111"] = actions.ErrActionFailed
	err = f.mgr.HandleCommand(ctx, "d2ha_server/web_aaaa1111/set/stop")
	assert.ErrorIs(t, err, actions.ErrActionFailed)

	assert.Equal(t, 0, f.fleet.Refreshes())
}

func TestFleetCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.HandleCommand(ctx, "d2ha_server/docker/set/delete_unused_images"))
	require.NoError(t, f.mgr.HandleCommand(ctx, "d2ha_server/docker/set/full_update_all"))

	assert.Equal(t, []string{"remove_unused_images", "full_update:bbbb2222"}, f.executor.Calls())
}

func TestSubscribeRoutesCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SyncOnce(ctx))
	require.NoError(t, f.mgr.Subscribe())
	assert.Equal(t, []string{"d2ha_server/+/set/+"}, f.broker.Filters())

	f.broker.Deliver(ctx, "d2ha_server/web_aaaa1111/set/pause", "PRESS")
	f.broker.Deliver(ctx, "d2ha_server/web_aaaa1111/state", "ignored")
	assert.Equal(t, []string{"pause:aaaa1111"}, f.executor.Calls())
}

func TestIsSelfContainer(t *testing.T) {
	f := newFixture(t)
	for name, want := range map[string]bool{
		"d2ha_server":         true,
		"D2HA":                true,
		"stack-d2ha-1":        true,
		"homelab_d2ha_server": true,
		"nginx":               false,
		"d2hax":               false,
		"":                    false,
	} {
		assert.Equal(t, want, f.mgr.IsSelfContainer(name), name)
	}
}

func TestPeriodicPublisherStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.StateInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mgr.PeriodicPublisher(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return len(f.broker.Published()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
