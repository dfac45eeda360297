package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/docker/docker/api/types/container"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// maxFinishedOperations bounds the finished recreations kept for inspection.
const maxFinishedOperations = 20

// Executor runs container commands
type Executor interface {
	// Container commands
	ApplySimpleAction(ctx context.Context, id, action string) error
	RemoveContainer(ctx context.Context, id string) error
	RecreateContainerWithLatestImage(ctx context.Context, id string) error

	// Images
	RemoveUnusedImages(ctx context.Context) (*images.RemovalResult, error)

	// Recreation progress
	Operations() []Operation
	SubscribeOperation(ctx context.Context, opID string) (chan images.ProgressUpdate, error)
}

// Option configures an executor.
type Option func(*executor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *executor) { e.now = now }
}

type executor struct {
	engine  docker.Engine
	images  images.Manager
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	opsMu sync.Mutex
	ops   map[string]*operation
}

type operation struct {
	Operation
	tracker *images.ProgressTracker
}

// NewExecutor creates an executor. meter and tracer may be nil.
func NewExecutor(engine docker.Engine, imgs images.Manager, log *slog.Logger, meter metric.Meter, tracer trace.Tracer, opts ...Option) (Executor, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &executor{
		engine: engine,
		images: imgs,
		logger: log,
		now:    time.Now,
		ops:    make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(e)
	}
	if meter != nil {
		metrics, err := newActionMetrics(meter, tracer, e)
		if err != nil {
			return nil, fmt.Errorf("create action metrics: %w", err)
		}
		e.metrics = metrics
	}
	return e, nil
}

// ApplySimpleAction runs a lifecycle action. Containers that no longer
// exist are ignored.
func (e *executor) ApplySimpleAction(ctx context.Context, id, action string) error {
	if !slices.Contains(SimpleActions, action) {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if action == ActionDelete {
		return e.RemoveContainer(ctx, id)
	}

	log := logger.FromContext(ctx)
	start := e.now()

	if _, err := e.engine.ContainerInspect(ctx, id); err != nil {
		if docker.IsNotFound(err) {
			log.DebugContext(ctx, "ignoring action for missing container", "id", id, "action", action)
			return nil
		}
		e.recordAction(ctx, action, start, err)
		return &ActionError{Action: action, Container: id, Step: StepInspect, Err: err}
	}

	var err error
	switch action {
	case ActionStart:
		err = e.engine.ContainerStart(ctx, id, container.StartOptions{})
	case ActionStop:
		err = e.engine.ContainerStop(ctx, id, container.StopOptions{})
	case ActionRestart:
		err = e.engine.ContainerRestart(ctx, id, container.StopOptions{})
	case ActionPause:
		err = e.engine.ContainerPause(ctx, id)
	case ActionUnpause:
		err = e.engine.ContainerUnpause(ctx, id)
	}
	e.recordAction(ctx, action, start, err)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil
		}
		log.ErrorContext(ctx, "container action failed", "id", id, "action", action, "error", err)
		return &ActionError{Action: action, Container: id, Step: action, Err: err}
	}
	log.InfoContext(ctx, "container action applied", "id", id, "action", action)
	return nil
}

// RemoveContainer force-removes a container. A missing container is not an error.
func (e *executor) RemoveContainer(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)
	start := e.now()

	err := e.engine.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && docker.IsNotFound(err) {
		log.DebugContext(ctx, "container already gone", "id", id)
		err = nil
	}
	e.recordAction(ctx, ActionDelete, start, err)
	if err != nil {
		log.ErrorContext(ctx, "failed to remove container", "id", id, "error", err)
		return &ActionError{Action: ActionDelete, Container: id, Step: StepRemove, Err: err}
	}
	log.InfoContext(ctx, "container removed", "id", id)
	return nil
}

func (e *executor) RemoveUnusedImages(ctx context.Context) (*images.RemovalResult, error) {
	start := e.now()
	result, err := e.images.RemoveUnusedImages(ctx)
	e.recordAction(ctx, "delete_unused_images", start, err)
	return result, err
}

// Operations returns recreations newest first.
func (e *executor) Operations() []Operation {
	e.opsMu.Lock()
	defer e.opsMu.Unlock()
	out := make([]Operation, 0, len(e.ops))
	for _, op := range e.ops {
		snap := op.Operation
		snap.Progress = op.tracker.Last()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// SubscribeOperation streams pull progress of a running recreation.
func (e *executor) SubscribeOperation(ctx context.Context, opID string) (chan images.ProgressUpdate, error) {
	e.opsMu.Lock()
	op, ok := e.ops[opID]
	e.opsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return op.tracker.Subscribe(ctx)
}

func (e *executor) setStep(op *operation, step string) {
	e.opsMu.Lock()
	op.Step = step
	e.opsMu.Unlock()
}

// finish closes op and evicts the oldest finished operations beyond the cap.
func (e *executor) finish(op *operation, err error) {
	now := e.now()
	e.opsMu.Lock()
	defer e.opsMu.Unlock()
	op.FinishedAt = &now
	if err != nil {
		op.Error = err.Error()
	} else {
		op.Step = StepDone
	}
	op.tracker.Close()

	var finished []*operation
	for _, o := range e.ops {
		if o.FinishedAt != nil {
			finished = append(finished, o)
		}
	}
	if len(finished) <= maxFinishedOperations {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, o := range finished[:len(finished)-maxFinishedOperations] {
		delete(e.ops, o.ID)
	}
}
