package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/d2ha/d2ha/lib/docker/dockertest"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webID     = "web0000000000000000000000000000"
	oldImage  = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
	newImage  = "sha256:2222222222222222222222222222222222222222222222222222222222222222"
	pullLines = `{"status":"Pulling from library/nginx","id":"1.25"}
{"status":"Downloading","id":"abc","progressDetail":{"current":50,"total":100}}
{"status":"Pull complete","id":"abc"}
`
)

func newEngine(t *testing.T) *dockertest.Engine {
	t.Helper()
	e := dockertest.New()
	e.AddContainer(&dockertest.Container{
		Summary: container.Summary{
			ID: webID, Names: []string{"/web"}, Image: "nginx:1.25", ImageID: oldImage, State: "running",
		},
		Inspect: container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{
				HostConfig: &container.HostConfig{
					Binds:         []string{"/srv/web:/usr/share/nginx/html:ro"},
					RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
				},
			},
			Config: &container.Config{
				Image:      "nginx:1.25",
				Env:        []string{"TZ=Europe/Rome"},
				Labels:     map[string]string{"com.docker.compose.project": "site"},
				Cmd:        strslice.StrSlice{"nginx", "-g", "daemon off;"},
				WorkingDir: "/usr/share/nginx",
				User:       "101",
				Volumes:    map[string]struct{}{"/cache": {}},
			},
			NetworkSettings: &container.NetworkSettings{
				Networks: map[string]*network.EndpointSettings{
					"site_default": {Aliases: []string{"web"}, IPAddress: "172.20.0.4", EndpointID: "ep1"},
				},
			},
		},
	})
	e.Images[oldImage] = image.InspectResponse{ID: oldImage, RepoTags: []string{"nginx:1.25"}}
	e.PullOutput["nginx:1.25"] = pullLines
	return e
}

func newTestExecutor(t *testing.T, e *dockertest.Engine) Executor {
	t.Helper()
	imgs, err := images.NewManager(e, nil, nil)
	require.NoError(t, err)
	ex, err := NewExecutor(e, imgs, nil, nil, nil)
	require.NoError(t, err)
	return ex
}

func TestApplySimpleAction(t *testing.T) {
	tests := []struct {
		action string
		call   string
		state  container.ContainerState
	}{
		{ActionStop, "ContainerStop:web", "exited"},
		{ActionStart, "ContainerStart:web", "running"},
		{ActionPause, "ContainerPause:web", "paused"},
		{ActionUnpause, "ContainerUnpause:web", "running"},
		{ActionRestart, "ContainerRestart:web", "running"},
	}
	e := newEngine(t)
	ex := newTestExecutor(t, e)
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			require.NoError(t, ex.ApplySimpleAction(context.Background(), "web", tt.action))
			calls := e.CallLog()
			assert.Equal(t, tt.call, calls[len(calls)-1])
			assert.Equal(t, tt.state, e.Containers[webID].Summary.State)
		})
	}
}

func TestApplySimpleActionErrors(t *testing.T) {
	e := newEngine(t)
	ex := newTestExecutor(t, e)
	ctx := context.Background()

	err := ex.ApplySimpleAction(ctx, "web", "explode")
	assert.ErrorIs(t, err, ErrUnknownAction)

	assert.NoError(t, ex.ApplySimpleAction(ctx, "ghost", ActionStart), "missing containers are ignored")

	e.ErrByCall["ContainerStop"] = errors.New("daemon busy")
	err = ex.ApplySimpleAction(ctx, "web", ActionStop)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionFailed)
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionStop, actionErr.Step)
	assert.Equal(t, "web", actionErr.Container)
}

func TestDeleteAction(t *testing.T) {
	e := newEngine(t)
	ex := newTestExecutor(t, e)
	ctx := context.Background()

	require.NoError(t, ex.ApplySimpleAction(ctx, "web", ActionDelete))
	assert.Contains(t, e.CallLog(), "ContainerRemove:web")
	assert.NotContains(t, e.Containers, webID)

	assert.NoError(t, ex.RemoveContainer(ctx, "web"), "already removed")

	e.ErrByCall["ContainerRemove"] = errors.New("device busy")
	err := ex.RemoveContainer(ctx, "other")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.NotErrorIs(t, err, ErrRecreateFailed)
}

func TestRecreateContainerWithLatestImage(t *testing.T) {
	e := newEngine(t)
	ex := newTestExecutor(t, e)

	require.NoError(t, ex.RecreateContainerWithLatestImage(context.Background(), "web"))

	calls := e.CallLog()
	require.Len(t, calls, 5)
	assert.Equal(t, "ContainerRemove:"+webID, calls[0])
	assert.Equal(t, "ImageRemove:nginx:1.25", calls[1])
	assert.Equal(t, "ImagePull:nginx:1.25", calls[2])
	assert.Equal(t, "ContainerCreate:web", calls[3])
	assert.Contains(t, calls[4], "ContainerStart:")

	require.Len(t, e.Containers, 1)
	var recreated *dockertest.Container
	for _, c := range e.Containers {
		recreated = c
	}
	assert.Equal(t, container.ContainerState("running"), recreated.Summary.State)
	cfg := recreated.Inspect.Config
	assert.Equal(t, "nginx:1.25", cfg.Image)
	assert.Equal(t, []string{"TZ=Europe/Rome"}, cfg.Env)
	assert.Equal(t, "site", cfg.Labels["com.docker.compose.project"])
	assert.Equal(t, strslice.StrSlice{"nginx", "-g", "daemon off;"}, cfg.Cmd)
	assert.Equal(t, "/usr/share/nginx", cfg.WorkingDir)
	assert.Equal(t, "101", cfg.User)
	assert.Contains(t, cfg.Volumes, "/cache")
	assert.Equal(t, []string{"/srv/web:/usr/share/nginx/html:ro"}, recreated.Inspect.HostConfig.Binds)
	assert.Equal(t, container.RestartPolicyMode("unless-stopped"), recreated.Inspect.HostConfig.RestartPolicy.Name)

	ep := recreated.Inspect.NetworkSettings.Networks["site_default"]
	require.NotNil(t, ep)
	assert.Equal(t, []string{"web"}, ep.Aliases)
	assert.Empty(t, ep.IPAddress, "runtime fields are not copied")
	assert.Empty(t, ep.EndpointID)

	ops := ex.Operations()
	require.Len(t, ops, 1)
	assert.NotEmpty(t, ops[0].ID)
	assert.Equal(t, "web", ops[0].Container)
	assert.Equal(t, StepDone, ops[0].Step)
	assert.NotNil(t, ops[0].FinishedAt)
	assert.Empty(t, ops[0].Error)
	assert.Equal(t, images.StatusReady, ops[0].Progress.Status)
	assert.Equal(t, oldImage, ops[0].OldImageID)
}

func TestRecreateFailures(t *testing.T) {
	t.Run("missing container", func(t *testing.T) {
		ex := newTestExecutor(t, newEngine(t))
		err := ex.RecreateContainerWithLatestImage(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrRecreateFailed)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, ex.Operations())
	})

	t.Run("pull failure leaves the container removed", func(t *testing.T) {
		e := newEngine(t)
		e.ErrByCall["ImagePull"] = errors.New("registry unreachable")
		ex := newTestExecutor(t, e)

		err := ex.RecreateContainerWithLatestImage(context.Background(), "web")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRecreateFailed)
		assert.ErrorIs(t, err, images.ErrPullFailed)
		var actionErr *ActionError
		require.ErrorAs(t, err, &actionErr)
		assert.Equal(t, StepPull, actionErr.Step)
		assert.Empty(t, e.Containers)
		assert.NotContains(t, e.CallLog(), "ContainerCreate:web")

		ops := ex.Operations()
		require.Len(t, ops, 1)
		assert.Equal(t, StepPull, ops[0].Step)
		assert.NotEmpty(t, ops[0].Error)
	})

	t.Run("untag failure is tolerated", func(t *testing.T) {
		e := newEngine(t)
		e.ErrByCall["ImageRemove"] = errors.New("conflict")
		ex := newTestExecutor(t, e)
		require.NoError(t, ex.RecreateContainerWithLatestImage(context.Background(), "web"))
	})

	t.Run("create failure", func(t *testing.T) {
		e := newEngine(t)
		e.ErrByCall["ContainerCreate"] = errors.New("name in use")
		ex := newTestExecutor(t, e)
		err := ex.RecreateContainerWithLatestImage(context.Background(), "web")
		var actionErr *ActionError
		require.ErrorAs(t, err, &actionErr)
		assert.Equal(t, StepCreate, actionErr.Step)
	})
}

func TestSubscribeOperationUnknown(t *testing.T) {
	ex := newTestExecutor(t, newEngine(t))
	_, err := ex.SubscribeOperation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveUnusedImages(t *testing.T) {
	e := newEngine(t)
	e.Images["sha256:dead"] = image.InspectResponse{ID: "sha256:dead", RepoTags: []string{"old:1"}}
	ex := newTestExecutor(t, e)

	result, err := ex.RemoveUnusedImages(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, "sha256:dead", result.Removed[0].ID)
	assert.Contains(t, e.Images, oldImage, "images in use are kept")
}
