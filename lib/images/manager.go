package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.opentelemetry.io/otel/metric"
)

// Manager exposes the engine's local image inventory
type Manager interface {
	// Inventory
	ListImages(ctx context.Context) ([]Image, error)
	ListUnusedImages(ctx context.Context) ([]Image, error)
	InspectImage(ctx context.Context, id string) (*image.InspectResponse, error)

	// Mutations
	RemoveImage(ctx context.Context, id string) error
	RemoveUnusedImages(ctx context.Context) (*RemovalResult, error)
	Untag(ctx context.Context, ref string) error
	Pull(ctx context.Context, ref string, tracker *ProgressTracker) error
}

type manager struct {
	engine  docker.Engine
	logger  *slog.Logger
	metrics *Metrics
}

// NewManager creates an image manager backed by engine. meter may be nil.
func NewManager(engine docker.Engine, log *slog.Logger, meter metric.Meter) (Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &manager{engine: engine, logger: log}
	if meter != nil {
		metrics, err := newImageMetrics(meter, m)
		if err != nil {
			return nil, fmt.Errorf("create image metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

func (m *manager) usage(ctx context.Context) (map[string][]string, error) {
	containers, err := m.engine.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	usage := make(map[string][]string)
	for _, c := range containers {
		usage[c.ImageID] = append(usage[c.ImageID], docker.ContainerName(c.Names))
	}
	return usage, nil
}

func (m *manager) ListImages(ctx context.Context) ([]Image, error) {
	usage, err := m.usage(ctx)
	if err != nil {
		return nil, err
	}

	summaries, err := m.engine.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	out := make([]Image, 0, len(summaries))
	for _, s := range summaries {
		tags := s.RepoTags
		if len(tags) == 0 {
			tags = []string{NoneTag}
		}
		usedBy := usage[s.ID]
		if usedBy == nil {
			usedBy = []string{}
		}
		out = append(out, Image{
			ID:      s.ID,
			ShortID: docker.ShortID(s.ID),
			Tags:    tags,
			Size:    s.Size,
			Created: time.Unix(s.Created, 0).UTC(),
			UsedBy:  usedBy,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Tags[0]) < strings.ToLower(out[j].Tags[0])
	})
	return out, nil
}

func (m *manager) ListUnusedImages(ctx context.Context) ([]Image, error) {
	all, err := m.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	unused := make([]Image, 0, len(all))
	for _, img := range all {
		if len(img.UsedBy) == 0 {
			unused = append(unused, img)
		}
	}
	return unused, nil
}

func (m *manager) InspectImage(ctx context.Context, id string) (*image.InspectResponse, error) {
	insp, err := m.engine.ImageInspect(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("inspect image %s: %w", id, err)
	}
	return &insp, nil
}

func (m *manager) RemoveImage(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)
	if _, err := m.engine.ImageRemove(ctx, id, image.RemoveOptions{PruneChildren: true}); err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("remove image %s: %w", id, err)
	}
	log.InfoContext(ctx, "image removed", "id", id)
	return nil
}

func (m *manager) RemoveUnusedImages(ctx context.Context) (*RemovalResult, error) {
	log := logger.FromContext(ctx)

	unused, err := m.ListUnusedImages(ctx)
	if err != nil {
		return nil, err
	}

	result := &RemovalResult{Removed: []Image{}, Errors: []RemovalError{}}
	for _, img := range unused {
		if err := m.RemoveImage(ctx, img.ID); err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "unknown error"
			}
			result.Errors = append(result.Errors, RemovalError{Image: img, Error: msg})
			continue
		}
		result.Removed = append(result.Removed, img)
	}

	log.InfoContext(ctx, "unused images removed", "removed", len(result.Removed), "errors", len(result.Errors))
	return result, nil
}

// Untag drops the local tag ref without pruning parent layers, so a following
// pull fetches a fresh manifest.
func (m *manager) Untag(ctx context.Context, ref string) error {
	if _, err := m.engine.ImageRemove(ctx, ref, image.RemoveOptions{Force: false, PruneChildren: false}); err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("untag %s: %w", ref, err)
	}
	return nil
}

// Pull pulls ref and decodes the engine's progress stream into tracker, which
// may be nil. An error message inside the stream fails the pull.
func (m *manager) Pull(ctx context.Context, ref string, tracker *ProgressTracker) error {
	log := logger.FromContext(ctx)
	start := time.Now()

	log.InfoContext(ctx, "pulling image", "ref", ref)
	err := m.pull(ctx, ref, tracker)
	m.recordPull(ctx, start, err)
	if err != nil {
		if tracker != nil {
			tracker.Fail(err)
		}
		return err
	}
	if tracker != nil {
		tracker.Complete()
	}
	log.InfoContext(ctx, "image pulled", "ref", ref, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (m *manager) pull(ctx context.Context, ref string, tracker *ProgressTracker) error {
	rc, err := m.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPullFailed, ref, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %s: read stream: %v", ErrPullFailed, ref, err)
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %s: %s", ErrPullFailed, ref, msg.Error.Message)
		}
		if tracker != nil {
			tracker.Update(progressFromMessage(msg))
		}
	}
}

func progressFromMessage(msg jsonmessage.JSONMessage) ProgressUpdate {
	u := ProgressUpdate{
		Status:  StatusPulling,
		Layer:   msg.ID,
		Message: msg.Status,
	}
	if strings.HasPrefix(msg.Status, "Extracting") {
		u.Status = StatusExtracting
	}
	if msg.Progress != nil && msg.Progress.Total > 0 {
		u.Current = msg.Progress.Current
		u.Total = msg.Progress.Total
		u.Progress = int(msg.Progress.Current * 100 / msg.Progress.Total)
	}
	return u
}
