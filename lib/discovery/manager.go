package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/mqtt"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/updates"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Manager keeps Home Assistant's entities in line with the container fleet
type Manager interface {
	// Publishing
	PublishAutodiscoveryAndState(ctx context.Context, containers []updates.ContainerUpdate) error
	SyncOnce(ctx context.Context) error
	PeriodicPublisher(ctx context.Context)
	GetPublishHistory(limit int) []PublishRecord

	// Commands
	Subscribe() error
	HandleCommand(ctx context.Context, topic string) error

	// Identity
	IsSelfContainer(name string) bool
	SlugMap() map[string]string
}

// Option configures a manager.
type Option func(*manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

type manager struct {
	cfg       Config
	transport mqtt.Transport
	fleet     fleet.Manager
	updates   updates.Manager
	images    images.Manager
	actions   actions.Executor
	prefs     preferences.Store
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	// passMu serializes passes.
	passMu sync.Mutex

	slugMu sync.RWMutex
	slugs  map[string]string

	history *history
}

// NewManager creates a discovery manager. meter and tracer may be nil.
func NewManager(
	cfg Config,
	transport mqtt.Transport,
	fleetMgr fleet.Manager,
	updatesMgr updates.Manager,
	imagesMgr images.Manager,
	executor actions.Executor,
	prefs preferences.Store,
	log *slog.Logger,
	meter metric.Meter,
	tracer trace.Tracer,
	opts ...Option,
) (Manager, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	m := &manager{
		cfg:       cfg,
		transport: transport,
		fleet:     fleetMgr,
		updates:   updatesMgr,
		images:    imagesMgr,
		actions:   executor,
		prefs:     prefs,
		logger:    log,
		now:       time.Now,
		slugs:     make(map[string]string),
		history:   newHistory(HistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if meter != nil {
		metrics, err := newDiscoveryMetrics(meter, tracer, m)
		if err != nil {
			return nil, fmt.Errorf("create discovery metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

// SyncOnce collects update information for the fleet and publishes it.
// Collection runs under the pass lock, so passes publish views in the order
// they were collected.
func (m *manager) SyncOnce(ctx context.Context) error {
	if !m.transport.IsConnected() {
		m.logger.DebugContext(ctx, "skipping publish, broker not connected")
		return nil
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	containers, err := m.updates.CollectContainersInfoForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("collect containers: %w", err)
	}
	return m.runPass(ctx, containers)
}

// PeriodicPublisher runs SyncOnce every StateInterval until ctx is done.
func (m *manager) PeriodicPublisher(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.StateInterval)
	defer ticker.Stop()
	for {
		if err := m.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "periodic publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PublishAutodiscoveryAndState runs one pass: fleet-wide entities, then one
// sensor and six buttons per container, then retraction of containers seen
// in the previous pass but not in this one. Without a broker connection the
// pass does nothing. Per-entity failures are logged and skipped.
func (m *manager) PublishAutodiscoveryAndState(ctx context.Context, containers []updates.ContainerUpdate) error {
	if !m.transport.IsConnected() {
		m.logger.DebugContext(ctx, "skipping publish, broker not connected")
		return nil
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.runPass(ctx, containers)
}

// runPass publishes one pass. Callers hold passMu.
func (m *manager) runPass(ctx context.Context, containers []updates.ContainerUpdate) (err error) {
	start := m.now()
	if m.metrics != nil && m.metrics.tracer != nil {
		var span trace.Span
		ctx, span = m.metrics.tracer.Start(ctx, "PublishAutodiscoveryAndState",
			trace.WithAttributes(attribute.Int("containers", len(containers))))
		defer func() {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	device := DefaultDevice()
	global := m.prefs.GetGlobal()
	if ferr := m.publishFleet(ctx, containers, device, global); ferr != nil {
		m.logger.ErrorContext(ctx, "failed to publish docker status", "error", ferr)
	}

	current := make(map[string]string, len(containers))
	failed := 0
	for _, c := range containers {
		if m.IsSelfContainer(c.Name) {
			continue
		}
		slug := fleet.Slug(c.Name, c.ShortID)
		current[slug] = c.ID

		pref := m.prefs.GetWithDefaults(c.StableID)
		if cerr := m.publishContainer(ctx, slug, c, device, pref); cerr != nil {
			failed++
			m.logger.ErrorContext(ctx, "failed to publish container", "container", c.Name, "error", cerr)
		}
	}

	m.slugMu.RLock()
	previous := m.slugs
	m.slugMu.RUnlock()

	stale := 0
	for slug := range previous {
		if _, ok := current[slug]; ok {
			continue
		}
		stale++
		if serr := m.clearContainer(ctx, slug); serr != nil {
			m.logger.ErrorContext(ctx, "failed to clear stale container", "slug", slug, "error", serr)
		}
	}

	m.slugMu.Lock()
	m.slugs = current
	m.slugMu.Unlock()

	m.recordPass(ctx, start, stale, failed)
	m.logger.DebugContext(ctx, "discovery pass complete",
		"containers", len(current), "stale", stale, "failed", failed)
	return nil
}

func (m *manager) publishFleet(ctx context.Context, containers []updates.ContainerUpdate, device Device, global preferences.GlobalPreferences) error {
	running, pending := 0, 0
	var pendingNames []string
	for _, c := range containers {
		if c.Status == "running" {
			running++
		}
		if c.State == updates.StateUpdateAvailable {
			pending++
			if c.Name != "" {
				pendingNames = append(pendingNames, c.Name)
			}
		}
	}

	unused := 0
	if imgs, err := m.images.ListUnusedImages(ctx); err == nil {
		unused = len(imgs)
	} else {
		m.logger.WarnContext(ctx, "unable to count unused images", "error", err)
	}

	state := "off"
	if m.fleet.IsEngineRunning(ctx) {
		state = "on"
	}

	statusSlug := fleetSlug
	var errs []error
	errs = append(errs,
		m.publishJSON(ctx, m.configTopic(ComponentBinarySensor, "docker_status"), sensorConfig{
			Name:                "Docker engine",
			StateTopic:          m.stateTopic(statusSlug),
			JSONAttributesTopic: m.attributesTopic(statusSlug),
			UniqueID:            "d2ha_docker_status",
			Device:              device,
			Icon:                "mdi:docker",
			PayloadOn:           "on",
			PayloadOff:          "off",
			DeviceClass:         "connectivity",
		}),
		m.publish(ctx, m.stateTopic(statusSlug), state),
		m.publishJSON(ctx, m.attributesTopic(statusSlug), fleetAttributes{
			ActiveContainers:   running,
			InactiveContainers: max(len(containers)-running, 0),
			TotalContainers:    len(containers),
			UpdatesPending:     pending,
			UnusedImages:       unused,
		}),
	)

	deleteTopic := m.configTopic(ComponentButton, "docker_delete_unused_images")
	if global.DeleteUnusedImages {
		errs = append(errs, m.publishJSON(ctx, deleteTopic, buttonConfig{
			Name:         "Delete unused images",
			CommandTopic: m.commandTopic(fleetSlug, CommandDeleteUnusedImages),
			UniqueID:     "d2ha_delete_unused_images",
			Device:       device,
			Icon:         "mdi:trash-can-outline",
		}))
	} else {
		errs = append(errs, m.clear(ctx, deleteTopic))
	}

	updatesSlug := fleetSlug + "/updates"
	updatesConfig := m.configTopic(ComponentSensor, "docker_updates")
	if global.UpdatesOverview {
		if pendingNames == nil {
			pendingNames = []string{}
		}
		errs = append(errs,
			m.publishJSON(ctx, updatesConfig, sensorConfig{
				Name:       "Containers to update",
				StateTopic: m.stateTopic(updatesSlug),
				JSONAttrT:  m.attributesTopic(updatesSlug),
				UniqueID:   "d2ha_docker_updates",
				Device:     device,
				Icon:       "mdi:update",
			}),
			m.publish(ctx, m.stateTopic(updatesSlug), fmt.Sprint(pending)),
			m.publishJSON(ctx, m.attributesTopic(updatesSlug), updatesAttributes{
				Containers:     pendingNames,
				UpdatesPending: pending,
			}),
		)
	} else {
		errs = append(errs,
			m.clear(ctx, updatesConfig),
			m.clear(ctx, m.stateTopic(updatesSlug)),
			m.clear(ctx, m.attributesTopic(updatesSlug)),
		)
	}

	allTopic := m.configTopic(ComponentButton, "docker_full_update_all")
	if global.FullUpdateAll {
		errs = append(errs, m.publishJSON(ctx, allTopic, buttonConfig{
			Name:         "Update all containers",
			CommandTopic: m.commandTopic(fleetSlug, CommandFullUpdateAll),
			UniqueID:     "d2ha_full_update_all",
			Device:       device,
			Icon:         "mdi:update-all",
		}))
	} else {
		errs = append(errs, m.clear(ctx, allTopic))
	}
	return errors.Join(errs...)
}

type containerAttributes struct {
	Container        string        `json:"container"`
	Stack            string        `json:"stack"`
	Image            string        `json:"image"`
	InstalledVersion string        `json:"installed_version"`
	RemoteVersion    string        `json:"remote_version"`
	UpdateState      updates.State `json:"update_state"`
	Changelog        string        `json:"changelog"`
	BreakingChanges  string        `json:"breaking_changes"`
	Ports            docker.Ports  `json:"ports"`
}

func (m *manager) publishContainer(ctx context.Context, slug string, c updates.ContainerUpdate, device Device, pref preferences.EntityPreference) error {
	var errs []error
	if pref.State {
		errs = append(errs,
			m.publishJSON(ctx, m.configTopic(ComponentSensor, slug+"_status"), sensorConfig{
				Name:                c.Name + " Status",
				StateTopic:          m.stateTopic(slug),
				JSONAttributesTopic: m.attributesTopic(slug),
				UniqueID:            "d2ha_" + c.StableID + "_status",
				Device:              device,
				Icon:                "mdi:docker",
			}),
			m.publish(ctx, m.stateTopic(slug), c.Status),
			m.publishJSON(ctx, m.attributesTopic(slug), containerAttributes{
				Container:        c.Name,
				Stack:            c.Stack,
				Image:            c.ImageRef,
				InstalledVersion: c.InstalledVersion,
				RemoteVersion:    c.RemoteVersion,
				UpdateState:      c.State,
				Changelog:        c.Changelog,
				BreakingChanges:  c.BreakingChanges,
				Ports:            c.Ports,
			}),
		)
	} else {
		errs = append(errs, m.clearSensor(ctx, slug))
	}

	for _, b := range buttonLabels {
		topic := m.configTopic(ComponentButton, slug+"_"+b.action)
		if !pref.ActionEnabled(b.action) {
			errs = append(errs, m.clear(ctx, topic))
			continue
		}
		errs = append(errs, m.publishJSON(ctx, topic, buttonConfig{
			Name:         c.Name + " " + b.label,
			CommandTopic: m.commandTopic(slug, b.action),
			UniqueID:     "d2ha_" + c.StableID + "_" + b.action,
			Device:       device,
		}))
	}
	return errors.Join(errs...)
}

// clearContainer retracts the sensor and every button of slug.
func (m *manager) clearContainer(ctx context.Context, slug string) error {
	errs := []error{m.clearSensor(ctx, slug)}
	for _, b := range buttonLabels {
		errs = append(errs, m.clear(ctx, m.configTopic(ComponentButton, slug+"_"+b.action)))
	}
	return errors.Join(errs...)
}

func (m *manager) clearSensor(ctx context.Context, slug string) error {
	return errors.Join(
		m.clear(ctx, m.configTopic(ComponentSensor, slug+"_status")),
		m.clear(ctx, m.stateTopic(slug)),
		m.clear(ctx, m.attributesTopic(slug)),
	)
}

func (m *manager) clear(ctx context.Context, topic string) error {
	return m.publish(ctx, topic, "")
}

func (m *manager) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return m.publish(ctx, topic, string(payload))
}

// publish sends a retained QoS 0 message and records the attempt.
func (m *manager) publish(ctx context.Context, topic, payload string) error {
	err := m.transport.Publish(ctx, topic, 0, true, []byte(payload))
	rec := PublishRecord{Topic: topic, Payload: payload, QoS: 0, Retain: true, Timestamp: m.now().UTC()}
	if err != nil {
		rec.Error = err.Error()
	}
	m.history.add(rec)
	return err
}

// GetPublishHistory returns the newest limit records oldest first, or all
// records when limit <= 0.
func (m *manager) GetPublishHistory(limit int) []PublishRecord {
	return m.history.last(limit)
}

// SlugMap returns a copy of the slug to container id map of the last pass.
func (m *manager) SlugMap() map[string]string {
	m.slugMu.RLock()
	defer m.slugMu.RUnlock()
	out := make(map[string]string, len(m.slugs))
	for k, v := range m.slugs {
		out[k] = v
	}
	return out
}
