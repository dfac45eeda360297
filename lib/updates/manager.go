package updates

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/releases"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// collectConcurrency bounds parallel inspections during a collection.
const collectConcurrency = 8

// Manager classifies containers against their upstream images
type Manager interface {
	// Collection
	CollectContainersInfoForUpdates(ctx context.Context) ([]ContainerUpdate, error)
	GetContainerUpdateInfo(ctx context.Context, id string, force bool) (*Detail, error)
	InstalledInfo(ctx context.Context, id string) (*Installed, error)

	// Per-container settings, keyed by full container id
	SetUpdateFrequency(id string, minutes int) int
	SetUpdateTrack(id, track string) string
	Settings(id string) Settings
}

// Option configures a manager.
type Option func(*manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

// WithReleases enables release note enrichment.
func WithReleases(c releases.Client) Option {
	return func(m *manager) { m.notes = c }
}

type manager struct {
	engine   docker.Engine
	resolver Resolver
	notes    releases.Client
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	settingsMu sync.RWMutex
	settings   map[string]Settings

	remoteMu sync.Mutex
	remote   map[string]RemoteInfo
	group    singleflight.Group

	countsMu   sync.RWMutex
	lastCounts map[State]int64
}

// NewManager creates an update manager. meter may be nil.
func NewManager(engine docker.Engine, resolver Resolver, log *slog.Logger, meter metric.Meter, opts ...Option) (Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &manager{
		engine:   engine,
		resolver: resolver,
		logger:   log,
		now:      time.Now,
		settings: make(map[string]Settings),
		remote:   make(map[string]RemoteInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	if meter != nil {
		metrics, err := newUpdateMetrics(meter, m)
		if err != nil {
			return nil, fmt.Errorf("create update metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

func (m *manager) Settings(id string) Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	s := m.settings[id]
	s.FrequencyMinutes = ClampFrequency(s.FrequencyMinutes)
	return s
}

// SetUpdateFrequency stores the check frequency and returns the clamped value.
func (m *manager) SetUpdateFrequency(id string, minutes int) int {
	minutes = max(MinFrequency, min(minutes, MaxFrequency))
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	s := m.settings[id]
	s.FrequencyMinutes = minutes
	m.settings[id] = s
	return minutes
}

// SetUpdateTrack stores the tracked tag. An empty track follows the installed tag.
func (m *manager) SetUpdateTrack(id, track string) string {
	track = strings.TrimSpace(track)
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	s := m.settings[id]
	s.Track = track
	m.settings[id] = s
	return track
}

// CollectContainersInfoForUpdates classifies every container, sorted by stack
// then name.
func (m *manager) CollectContainersInfoForUpdates(ctx context.Context) ([]ContainerUpdate, error) {
	summaries, err := m.engine.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fleet.ErrEngineUnavailable, err)
	}

	now := m.now()
	out := make([]ContainerUpdate, len(summaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectConcurrency)
	for i, s := range summaries {
		g.Go(func() error {
			out[i] = m.collectOne(gctx, s, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stack != out[j].Stack {
			return out[i].Stack < out[j].Stack
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	m.storeCounts(out)
	return out, nil
}

func (m *manager) collectOne(ctx context.Context, s container.Summary, now time.Time) ContainerUpdate {
	name := docker.ContainerName(s.Names)
	stack := docker.StackName(s.Labels)
	u := ContainerUpdate{
		ID:       s.ID,
		ShortID:  docker.ShortID(s.ID),
		Name:     name,
		Stack:    stack,
		StableID: fleet.StableID(stack, name),
		Status:   string(s.State),
		Uptime:   "-",
		Ports:    docker.Ports{Bindings: []string{}},
	}

	full, err := m.engine.ContainerInspect(ctx, s.ID)
	if err != nil || full.ContainerJSONBase == nil {
		m.logger.DebugContext(ctx, "inspect failed", "id", s.ID, "error", err)
		full = container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{ID: s.ID, Image: s.ImageID},
			Config:            &container.Config{Image: s.Image},
		}
	}
	if full.State != nil {
		u.Status = string(full.State.Status)
		u.Uptime = fleet.Uptime(full.State, now)
	}
	if full.HostConfig != nil {
		u.Ports = fleet.PortsOf(full)
	}

	img := m.inspectImage(ctx, full.Image)
	inst := InstalledFrom(full, img)
	u.Image = imageLabel(img, inst)
	m.classify(ctx, &u, s.ID, inst, false)
	return u
}

// GetContainerUpdateInfo classifies a single container. force bypasses the
// remote cache.
func (m *manager) GetContainerUpdateInfo(ctx context.Context, id string, force bool) (*Detail, error) {
	full, err := m.engine.ContainerInspect(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("inspect container %s: %w", id, err)
	}

	name := strings.TrimPrefix(full.Name, "/")
	var labels map[string]string
	if full.Config != nil {
		labels = full.Config.Labels
	}
	stack := docker.StackName(labels)
	d := &Detail{ContainerUpdate: ContainerUpdate{
		ID:       full.ID,
		ShortID:  docker.ShortID(full.ID),
		Name:     name,
		Stack:    stack,
		StableID: fleet.StableID(stack, name),
		Uptime:   "-",
		Ports:    docker.Ports{Bindings: []string{}},
	}}
	if full.State != nil {
		d.Status = string(full.State.Status)
		d.Uptime = fleet.Uptime(full.State, m.now())
	}
	if full.HostConfig != nil {
		d.Ports = fleet.PortsOf(full)
	}

	img := m.inspectImage(ctx, full.Image)
	inst := InstalledFrom(full, img)
	d.Image = imageLabel(img, inst)
	m.classify(ctx, &d.ContainerUpdate, full.ID, inst, force)
	d.RepoLink = RepoLink(inst.ImageRef)
	return d, nil
}

// InstalledInfo describes the image a container currently runs.
func (m *manager) InstalledInfo(ctx context.Context, id string) (*Installed, error) {
	full, err := m.engine.ContainerInspect(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("inspect container %s: %w", id, err)
	}
	inst := InstalledFrom(full, m.inspectImage(ctx, full.Image))
	return &inst, nil
}

func (m *manager) classify(ctx context.Context, u *ContainerUpdate, settingsID string, inst Installed, force bool) {
	settings := m.Settings(settingsID)
	checkRef := CheckReference(inst.ImageRef, settings.Track)

	remote := m.remoteInfo(ctx, checkRef, settings.TTL(), force)
	merged := Merge(inst, remote)

	u.ImageRef = inst.ImageRef
	u.InstalledIDShort = inst.DigestShort
	if u.InstalledIDShort == "" {
		u.InstalledIDShort = inst.ImageIDShort
	}
	u.InstalledVersion = inst.Version
	u.InstalledTag = inst.Tag
	u.InstalledDisplayVersion = DisplayVersion(inst.Tag, inst.Version, inst.DigestShort)
	u.RemoteIDShort = merged.DigestShort
	u.RemoteVersion = merged.Version
	u.RemoteTag = merged.Tag
	u.RemoteDisplayVersion = DisplayVersion(merged.Tag, merged.Version, merged.DigestShort)
	u.State = Classify(merged.Digest, inst.CompareRef())
	u.Changelog = merged.Changelog
	if u.Changelog == "" && !IsURL(inst.Changelog) {
		u.Changelog = inst.Changelog
	}
	u.ChangelogURL = merged.ChangelogURL
	u.BreakingChanges = merged.BreakingChanges
	if u.BreakingChanges == "" {
		u.BreakingChanges = inst.Breaking
	}
	u.ReleaseDate = merged.ReleaseDate
	u.CheckTag = settings.Track
	u.FrequencyMinutes = settings.FrequencyMinutes
	u.Degraded = remote.Degraded
	u.Cause = remote.Error
}

func (m *manager) inspectImage(ctx context.Context, id string) *image.InspectResponse {
	if id == "" {
		return nil
	}
	img, err := m.engine.ImageInspect(ctx, id)
	if err != nil {
		m.logger.DebugContext(ctx, "image inspect failed", "image", id, "error", err)
		return nil
	}
	return &img
}

// remoteInfo returns the cached lookup for ref when younger than ttl, else
// resolves it. Concurrent lookups of one ref share a single request.
func (m *manager) remoteInfo(ctx context.Context, ref string, ttl time.Duration, force bool) RemoteInfo {
	if !force {
		m.remoteMu.Lock()
		cached, ok := m.remote[ref]
		m.remoteMu.Unlock()
		if ok && m.now().Sub(cached.FetchedAt) < ttl {
			m.recordLookup(ctx, "cache_hit")
			return cached
		}
	}

	v, _, _ := m.group.Do(ref, func() (any, error) {
		info := m.fetchRemote(ctx, ref)
		m.remoteMu.Lock()
		m.remote[ref] = info
		m.remoteMu.Unlock()
		return info, nil
	})
	return v.(RemoteInfo)
}

func (m *manager) fetchRemote(ctx context.Context, ref string) RemoteInfo {
	start := m.now()
	tag := images.TagOf(ref)

	desc, err := m.resolver.Resolve(ctx, ref)
	if err != nil {
		m.logger.WarnContext(ctx, "remote lookup failed", "ref", ref, "error", err)
		m.recordLookup(ctx, "failed")
		return RemoteInfo{Tag: tag, Degraded: true, Error: err.Error(), FetchedAt: m.now()}
	}
	m.recordResolve(ctx, start)

	info := RemoteInfo{
		Digest:      desc.Digest,
		DigestShort: ShortDigest(desc.Digest),
		Tag:         tag,
		FetchedAt:   m.now(),
	}
	annotations := desc.Annotations
	info.Version = firstOf(annotations, versionKeys)
	if info.Version == "" {
		info.Version = tag
	}
	if info.Version == "" {
		info.Version = info.DigestShort
	}

	info.Changelog = annotations[annotationChangelog]
	info.BreakingChanges = annotations[annotationBreaking]
	if IsURL(info.Changelog) {
		info.ChangelogURL = info.Changelog
		info.Changelog = ""
	}
	if info.Changelog == "" && m.notes != nil {
		m.enrich(ctx, &info, annotations, ref)
	}
	m.recordLookup(ctx, "fetched")
	return info
}

// enrich fills release notes from the GitHub repository behind the image.
func (m *manager) enrich(ctx context.Context, info *RemoteInfo, annotations map[string]string, ref string) {
	repo, ok := releases.RepoFor(annotations, ref)
	if !ok {
		return
	}
	notes := m.notes.Lookup(ctx, repo, info.Version)
	if notes.IsZero() {
		return
	}
	if notes.Changelog != "" {
		info.Changelog = notes.Changelog
	}
	if notes.ChangelogURL != "" {
		info.ChangelogURL = notes.ChangelogURL
	}
	info.ReleaseDate = notes.ReleaseDate
	if looksLikeVersion(notes.ReleaseName) {
		info.Version = notes.ReleaseName
	}
	if info.BreakingChanges == "" {
		info.BreakingChanges = notes.BreakingChanges
	}
}

func (m *manager) storeCounts(updates []ContainerUpdate) {
	counts := lo.MapValues(
		lo.CountValuesBy(updates, func(u ContainerUpdate) State { return u.State }),
		func(n int, _ State) int64 { return int64(n) },
	)
	m.countsMu.Lock()
	m.lastCounts = counts
	m.countsMu.Unlock()
}

// imageLabel is the image name shown in lists: its first tag, else its short id.
func imageLabel(img *image.InspectResponse, inst Installed) string {
	if img != nil && len(img.RepoTags) > 0 {
		return img.RepoTags[0]
	}
	return inst.ImageIDShort
}

// RepoLink points at the registry page of an image reference. Docker Hub
// repositories link to their Hub page; other registries link to the
// repository host.
func RepoLink(imageRef string) string {
	ref, err := images.ParseRef(imageRef)
	if err != nil {
		return imageRef
	}
	if ref.Domain() != "docker.io" {
		return "https://" + ref.Repository()
	}
	familiar := ref.FamiliarRepository()
	if !strings.Contains(familiar, "/") {
		return "https://hub.docker.com/_/" + familiar
	}
	return "https://hub.docker.com/r/" + familiar
}
