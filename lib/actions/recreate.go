package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/nrednav/cuid2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecreateContainerWithLatestImage replaces a container with one created from
// a fresh pull of its image reference, keeping its configuration. The old
// container is removed before the pull; nothing is rolled back on failure.
func (e *executor) RecreateContainerWithLatestImage(ctx context.Context, id string) (err error) {
	log := logger.FromContext(ctx)
	start := e.now()

	if e.metrics != nil && e.metrics.tracer != nil {
		var span trace.Span
		ctx, span = e.metrics.tracer.Start(ctx, "RecreateContainer",
			trace.WithAttributes(attribute.String("container", id)))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	defer func() { e.recordAction(ctx, ActionFullUpdate, start, err) }()

	fail := func(step string, cause error) error {
		return &ActionError{Action: ActionFullUpdate, Container: id, Step: step, Err: cause}
	}

	// 1. Capture the configuration before anything is removed
	full, err := e.engine.ContainerInspect(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fail(StepInspect, err)
	}
	img, _ := e.images.InspectImage(ctx, full.Image)
	installed := updates.InstalledFrom(full, img)
	ref := installed.ImageRef
	if _, perr := images.ParseRef(ref); perr != nil {
		return fail(StepInspect, perr)
	}
	name := strings.TrimPrefix(full.Name, "/")

	op := e.begin(name, ref, installed.ImageID)
	log = log.With("operation", op.ID, "container", name)
	ctx = logger.AddToContext(ctx, log)
	defer func() { e.finish(op, err) }()
	log.InfoContext(ctx, "starting full update", "image_ref", ref, "old_image", installed.ImageIDShort)

	// 2. Remove the container so its image tag can be dropped
	e.setStep(op, StepRemove)
	if err = e.engine.ContainerRemove(ctx, full.ID, container.RemoveOptions{Force: true}); err != nil {
		log.ErrorContext(ctx, "failed to remove container", "error", err)
		return fail(StepRemove, err)
	}

	// 3. Drop the local tag so the pull cannot be satisfied from cache
	e.setStep(op, StepUntag)
	if uerr := e.images.Untag(ctx, ref); uerr != nil {
		log.WarnContext(ctx, "could not remove image tag, pulling anyway", "error", uerr)
	}

	// 4. Pull
	e.setStep(op, StepPull)
	if err = e.images.Pull(ctx, ref, op.tracker); err != nil {
		log.ErrorContext(ctx, "pull failed", "error", err)
		return fail(StepPull, err)
	}
	if pulled, ierr := e.images.InspectImage(ctx, ref); ierr == nil {
		e.opsMu.Lock()
		op.NewImageID = pulled.ID
		e.opsMu.Unlock()
		if pulled.ID == installed.ImageID {
			log.WarnContext(ctx, "pulled image is unchanged", "image", docker.ShortID(pulled.ID))
		} else {
			log.InfoContext(ctx, "new image pulled", "old", installed.ImageIDShort, "new", docker.ShortID(pulled.ID))
		}
	}

	// 5. Create with the captured configuration and start
	e.setStep(op, StepCreate)
	cfg, hostCfg, netCfg := recreateConfig(full, ref)
	created, err := e.engine.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		log.ErrorContext(ctx, "create failed", "error", err)
		return fail(StepCreate, err)
	}
	for _, w := range created.Warnings {
		log.WarnContext(ctx, "create warning", "warning", w)
	}

	e.setStep(op, StepStart)
	if err = e.engine.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		log.ErrorContext(ctx, "start failed", "error", err)
		return fail(StepStart, err)
	}

	log.InfoContext(ctx, "full update completed", "new_id", docker.ShortID(created.ID),
		"duration_ms", e.now().Sub(start).Milliseconds())
	return nil
}

func (e *executor) begin(name, ref, oldImageID string) *operation {
	op := &operation{
		Operation: Operation{
			ID:         cuid2.Generate(),
			Container:  name,
			ImageRef:   ref,
			Step:       StepInspect,
			StartedAt:  e.now(),
			OldImageID: oldImageID,
		},
		tracker: images.NewProgressTracker(ref),
	}
	e.opsMu.Lock()
	e.ops[op.ID] = op
	e.opsMu.Unlock()
	return op
}

// recreateConfig copies what a recreated container keeps from the old one.
func recreateConfig(full container.InspectResponse, ref string) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	cfg := &container.Config{Image: ref}
	if old := full.Config; old != nil {
		cfg.Env = old.Env
		cfg.Labels = old.Labels
		cfg.Cmd = old.Cmd
		cfg.Entrypoint = old.Entrypoint
		cfg.WorkingDir = old.WorkingDir
		cfg.User = old.User
		cfg.Volumes = old.Volumes
	}

	var hostCfg *container.HostConfig
	if full.ContainerJSONBase != nil {
		hostCfg = full.HostConfig
	}

	var netCfg *network.NetworkingConfig
	if full.NetworkSettings != nil && len(full.NetworkSettings.Networks) > 0 {
		netCfg = &network.NetworkingConfig{EndpointsConfig: make(map[string]*network.EndpointSettings)}
		for name, ep := range full.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			// Runtime fields (addresses, endpoint ids) are assigned by the engine.
			netCfg.EndpointsConfig[name] = &network.EndpointSettings{
				IPAMConfig: ep.IPAMConfig,
				Links:      ep.Links,
				Aliases:    ep.Aliases,
				MacAddress: ep.MacAddress,
				DriverOpts: ep.DriverOpts,
			}
		}
	}
	return cfg, hostCfg, netCfg
}
