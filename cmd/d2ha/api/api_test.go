package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d2ha/d2ha/cmd/d2ha/config"
	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/discovery"
	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/docker/dockertest"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/mqtt/mqtttest"
	"github.com/d2ha/d2ha/lib/network"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/d2ha/d2ha/lib/volumes"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webID      = "aaaa000000000000000000000000000000000000000000000000000000000000"
	webImageID = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
)

type testEnv struct {
	svc    *ApiService
	engine *dockertest.Engine
	broker *mqtttest.Broker
	server *httptest.Server
}

// newTestService wires the real managers to a fake engine and an in-memory
// broker, with one running container "web" in stack "site".
func newTestService(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir()}

	engine := dockertest.New()
	engine.AddContainer(&dockertest.Container{
		Summary: container.Summary{
			ID: webID, Names: []string{"/web"}, Image: "nginx:1.25", ImageID: webImageID,
			State: "running", Labels: map[string]string{docker.StackLabel: "site"},
		},
		Inspect: container.InspectResponse{
			Config: &container.Config{Image: "nginx:1.25", Tty: true, Labels: map[string]string{docker.StackLabel: "site"}},
		},
		Logs: "line one\nline two\n",
	})
	engine.Images[webImageID] = image.InspectResponse{ID: webImageID, RepoTags: []string{"nginx:1.25"}}

	fleetMgr, err := fleet.NewManager(engine, nil, nil)
	require.NoError(t, err)
	imageMgr, err := images.NewManager(engine, nil, nil)
	require.NoError(t, err)
	updateMgr, err := updates.NewManager(engine, updates.NewEngineResolver(engine), nil, nil)
	require.NoError(t, err)
	executor, err := actions.NewExecutor(engine, imageMgr, nil, nil, nil)
	require.NoError(t, err)
	prefs := preferences.NewStore(filepath.Join(cfg.DataDir, "prefs.json"), nil)
	broker := mqtttest.New()
	discoveryMgr, err := discovery.NewManager(discovery.Config{}, broker, fleetMgr, updateMgr, imageMgr, executor, prefs, nil, nil, nil)
	require.NoError(t, err)

	svc := New(cfg, fleetMgr, updateMgr, imageMgr, network.NewManager(engine), volumes.NewManager(engine), executor, discoveryMgr, prefs)
	r := chi.NewRouter()
	svc.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{svc: svc, engine: engine, broker: broker, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","engine_running":true}`, string(body))
}

func TestOverview(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodGet, "/api/overview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OverviewResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Stacks, 1)
	assert.Equal(t, "site", out.Stacks[0].Name)
	require.Len(t, out.Stacks[0].Containers, 1)
	assert.Equal(t, "web", out.Stacks[0].Containers[0].Name)
}

func TestGetContainerNotFound(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodGet, "/api/containers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var e Error
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "not_found", e.Code)
}

func TestContainerActions(t *testing.T) {
	env := newTestService(t)

	resp, _ := env.do(t, http.MethodPost, "/api/containers/web/actions/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, env.engine.CallLog(), "ContainerStop:web")

	resp, body := env.do(t, http.MethodPost, "/api/containers/web/actions/explode", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "bad_request")
}

func TestUpdateSettings(t *testing.T) {
	env := newTestService(t)

	resp, body := env.do(t, http.MethodPut, "/api/containers/web/update/frequency", FrequencyRequest{Minutes: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"minutes":5}`, string(body))
	assert.Equal(t, updates.MinFrequency, env.svc.UpdateManager.Settings(webID).FrequencyMinutes)

	resp, body = env.do(t, http.MethodPut, "/api/containers/web/update/track", TrackRequest{Track: "1.26"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"track":"1.26"}`, string(body))
	assert.Equal(t, "1.26", env.svc.UpdateManager.Settings(webID).Track)

	resp, _ = env.do(t, http.MethodPut, "/api/containers/ghost/update/track", TrackRequest{Track: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListUpdates(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodGet, "/api/updates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []updates.ContainerUpdate
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "site_web", list[0].StableID)
}

func TestSyncAndHistory(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "web_aaaa00000000")

	_, ok := env.broker.Retained("d2ha_server/web_aaaa00000000/state")
	assert.True(t, ok)

	resp, body = env.do(t, http.MethodGet, "/api/mqtt/history?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []discovery.PublishRecord
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 2)
}

func TestPreferences(t *testing.T) {
	env := newTestService(t)

	resp, body := env.do(t, http.MethodPut, "/api/preferences/containers/site_web",
		preferences.EntityPreference{State: false, Actions: map[string]bool{"delete": false}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved preferences.EntityPreference
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.False(t, saved.State)
	assert.False(t, saved.ActionEnabled("delete"))
	assert.True(t, saved.ActionEnabled("restart"))

	resp, _ = env.do(t, http.MethodPut, "/api/preferences/containers/site_web",
		map[string]any{"state": true, "actions": map[string]bool{"launch": true}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, "/api/preferences/global", map[string]bool{"updates_overview": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"delete_unused_images":true,"updates_overview":false,"full_update_all":true}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/preferences", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out PreferencesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Global.UpdatesOverview)
	require.Len(t, out.Containers, 1)
	assert.Equal(t, "site_web", out.Containers[0].StableID)
	assert.False(t, out.Containers[0].Preferences.State)
	assert.Equal(t, preferences.Actions, out.Actions)
}

func TestContainerLogsText(t *testing.T) {
	env := newTestService(t)
	resp, body := env.do(t, http.MethodGet, "/api/containers/web/logs?tail=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "line one\nline two\n", string(body))
}

func TestContainerLogsWebsocket(t *testing.T) {
	env := newTestService(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/containers/web/logs"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var lines []string
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		lines = append(lines, string(msg))
	}
	assert.Equal(t, []string{"line one", "line two"}, lines)
}

func TestComposeFile(t *testing.T) {
	env := newTestService(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yml"), []byte("services: {}\n"), 0644))
	env.engine.AddContainer(&dockertest.Container{Summary: container.Summary{
		ID: "bbbb000000000000", Names: []string{"/api"}, Image: "api:1", State: "running",
		Labels: map[string]string{
			"com.docker.compose.project.config_files": "compose.yml",
			"com.docker.compose.project.working_dir":  dir,
		},
	}})

	resp, body := env.do(t, http.MethodGet, "/api/containers/api/compose", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got fleet.ComposeFile
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "services: {}\n", got.Content)

	resp, body = env.do(t, http.MethodPut, "/api/containers/api/compose", ComposeRequest{Content: "services:\n  api: {}\n"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "services:\n  api: {}\n", got.Content)

	resp, _ = env.do(t, http.MethodPut, "/api/containers/api/compose", ComposeRequest{Content: "services: [x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/containers/web/compose", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOperationEventsUnknown(t *testing.T) {
	env := newTestService(t)
	resp, _ := env.do(t, http.MethodGet, "/api/operations/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/operations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fleet.ErrNotFound, http.StatusNotFound},
		{fleet.ErrComposeNotFound, http.StatusNotFound},
		{fleet.ErrInvalidCompose, http.StatusBadRequest},
		{&actions.ActionError{Action: "full_update", Step: actions.StepInspect, Err: actions.ErrNotFound}, http.StatusNotFound},
		{network.ErrProtectedNetwork, http.StatusConflict},
		{volumes.ErrInUse, http.StatusConflict},
		{fleet.ErrEngineUnavailable, http.StatusServiceUnavailable},
		{preferences.ErrUnknownAction, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := classify(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
