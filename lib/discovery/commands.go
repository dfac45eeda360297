package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/mqtt"
	"github.com/d2ha/d2ha/lib/updates"
)

// Subscribe registers the command handler on every command topic.
func (m *manager) Subscribe() error {
	if err := m.transport.Subscribe(m.commandFilter(), 0, m.onMessage); err != nil {
		return fmt.Errorf("subscribe to %s: %w", m.commandFilter(), err)
	}
	return nil
}

func (m *manager) onMessage(ctx context.Context, msg mqtt.Message) {
	if err := m.HandleCommand(ctx, msg.Topic); err != nil {
		m.logger.WarnContext(ctx, "command failed", "topic", msg.Topic, "error", err)
	}
}

// HandleCommand runs the action named by a command topic. The payload is
// ignored. Successful commands trigger a fleet refresh and a new pass in
// the background.
func (m *manager) HandleCommand(ctx context.Context, topic string) error {
	slug, action, ok := m.parseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	log := m.logger.With("slug", slug, "action", action)
	ctx = logger.AddToContext(ctx, log)

	var err error
	if slug == fleetSlug {
		err = m.handleFleetCommand(ctx, action)
	} else {
		err = m.handleContainerCommand(ctx, slug, action)
	}
	m.recordCommand(ctx, action, err)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "command executed")
	go m.followUp(context.WithoutCancel(ctx))
	return nil
}

func (m *manager) handleContainerCommand(ctx context.Context, slug, action string) error {
	m.slugMu.RLock()
	id, ok := m.slugs[slug]
	m.slugMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlug, slug)
	}

	switch action {
	case actions.ActionStart, actions.ActionStop, actions.ActionRestart, actions.ActionPause, actions.ActionUnpause:
		return m.actions.ApplySimpleAction(ctx, id, action)
	case actions.ActionDelete:
		return m.actions.RemoveContainer(ctx, id)
	case actions.ActionFullUpdate:
		return m.actions.RecreateContainerWithLatestImage(ctx, id)
	default:
		return fmt.Errorf("%w: %s", actions.ErrUnknownAction, action)
	}
}

func (m *manager) handleFleetCommand(ctx context.Context, action string) error {
	switch action {
	case CommandDeleteUnusedImages:
		result, err := m.actions.RemoveUnusedImages(ctx)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).InfoContext(ctx, "removed unused images", "removed", len(result.Removed), "failed", len(result.Errors))
		return nil
	case CommandFullUpdateAll:
		return m.updateAll(ctx)
	default:
		return fmt.Errorf("%w: %s", actions.ErrUnknownAction, action)
	}
}

// updateAll recreates every container with an update available, one after
// the other. Individual failures are logged and do not stop the run.
func (m *manager) updateAll(ctx context.Context) error {
	log := logger.FromContext(ctx)
	containers, err := m.updates.CollectContainersInfoForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("collect containers: %w", err)
	}
	var errs []error
	for _, c := range containers {
		if c.State != updates.StateUpdateAvailable || m.IsSelfContainer(c.Name) {
			continue
		}
		if err := m.actions.RecreateContainerWithLatestImage(ctx, c.ID); err != nil {
			log.ErrorContext(ctx, "full update failed", "container", c.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		log.InfoContext(ctx, "container updated", "container", c.Name)
	}
	if len(errs) > 0 {
		log.WarnContext(ctx, "full update finished with failures", "failed", len(errs))
	}
	return nil
}

// followUp refreshes the fleet cache and republishes.
func (m *manager) followUp(ctx context.Context) {
	log := logger.FromContext(ctx)
	if err := m.fleet.Refresh(ctx); err != nil {
		log.WarnContext(ctx, "fleet refresh after command failed", "error", err)
	}
	if err := m.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WarnContext(ctx, "publish after command failed", "error", err)
	}
}
