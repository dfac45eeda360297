package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/d2ha/d2ha/lib/units"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/system"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// DefaultRefreshInterval is the period of the background refresher.
const DefaultRefreshInterval = 5 * time.Second

// statsConcurrency bounds parallel stats requests during a refresh.
const statsConcurrency = 8

// Manager keeps a cached view of the container fleet
type Manager interface {
	// Overview cache
	Refresh(ctx context.Context) error
	GetCached(ctx context.Context) ([]Stack, error)
	StartRefresher(ctx context.Context, interval time.Duration)
	LastRefreshed() time.Time

	// Engine
	IsEngineRunning(ctx context.Context) bool
	HostName(ctx context.Context) string
	HostInfo(ctx context.Context) (system.Info, error)
	DiskUsage(ctx context.Context) (types.DiskUsage, error)
	ListEvents(ctx context.Context, window time.Duration, limit int) ([]Event, error)

	// Single container
	ContainerDetail(ctx context.Context, id string) (*Detail, error)
	LiveStats(ctx context.Context, id string) (*Stats, error)
	StreamLogs(ctx context.Context, id string, opts LogOptions) (<-chan string, error)
	Logs(ctx context.Context, id string, tail int) (string, error)

	// Compose
	ComposeFile(ctx context.Context, id string) (*ComposeFile, error)
	SaveComposeFile(ctx context.Context, id, content string) error
}

// Option configures a manager.
type Option func(*manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

// WithStatsTTL overrides DefaultStatsTTL.
func WithStatsTTL(ttl time.Duration) Option {
	return func(m *manager) { m.statsTTL = ttl }
}

type manager struct {
	engine  docker.Engine
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu          sync.RWMutex
	cache       []Stack
	refreshedAt time.Time

	statsMu  sync.Mutex
	stats    map[string]statsEntry
	statsTTL time.Duration

	refresherStarted atomic.Bool

	hostOnce sync.Once
	hostName string
}

// NewManager creates a fleet manager backed by engine. meter may be nil.
func NewManager(engine docker.Engine, log *slog.Logger, meter metric.Meter, opts ...Option) (Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &manager{
		engine:   engine,
		logger:   log,
		now:      time.Now,
		stats:    make(map[string]statsEntry),
		statsTTL: DefaultStatsTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if meter != nil {
		metrics, err := newFleetMetrics(meter, m)
		if err != nil {
			return nil, fmt.Errorf("create fleet metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

// Refresh queries the engine and replaces the cached overview. On failure the
// previous snapshot is kept.
func (m *manager) Refresh(ctx context.Context) error {
	start := m.now()
	stacks, err := m.listStacks(ctx)
	m.recordRefresh(ctx, start, err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cache = stacks
	m.refreshedAt = m.now()
	m.mu.Unlock()
	return nil
}

// GetCached returns a copy of the last good overview. The engine is queried
// directly only when nothing has been cached yet.
func (m *manager) GetCached(ctx context.Context) ([]Stack, error) {
	m.mu.RLock()
	if !m.refreshedAt.IsZero() {
		out := copyStacks(m.cache)
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStacks(m.cache), nil
}

// StartRefresher refreshes immediately and then every interval until ctx is
// done. Only the first call starts a goroutine.
func (m *manager) StartRefresher(ctx context.Context, interval time.Duration) {
	if !m.refresherStarted.CompareAndSwap(false, true) {
		return
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "failed to refresh fleet overview", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *manager) LastRefreshed() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshedAt
}

func (m *manager) IsEngineRunning(ctx context.Context) bool {
	_, err := m.engine.Ping(ctx)
	return err == nil
}

// HostName is the engine's host name, falling back to the local host name.
func (m *manager) HostName(ctx context.Context) string {
	m.hostOnce.Do(func() {
		if info, err := m.engine.Info(ctx); err == nil && info.Name != "" {
			m.hostName = info.Name
			return
		}
		m.hostName, _ = os.Hostname()
	})
	return m.hostName
}

func (m *manager) HostInfo(ctx context.Context) (system.Info, error) {
	info, err := m.engine.Info(ctx)
	if err != nil {
		return system.Info{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return info, nil
}

func (m *manager) DiskUsage(ctx context.Context) (types.DiskUsage, error) {
	du, err := m.engine.DiskUsage(ctx, types.DiskUsageOptions{})
	if err != nil {
		return types.DiskUsage{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return du, nil
}

func (m *manager) LiveStats(ctx context.Context, id string) (*Stats, error) {
	if _, err := m.inspect(ctx, id); err != nil {
		return nil, err
	}
	s, err := m.sample(ctx, id)
	if err != nil {
		return nil, err
	}
	s.CPUPercent = round1(s.CPUPercent)
	s.MemPercent = round1(s.MemPercent)
	return &s, nil
}

func (m *manager) inspect(ctx context.Context, id string) (container.InspectResponse, error) {
	c, err := m.engine.ContainerInspect(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			return container.InspectResponse{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return container.InspectResponse{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	if c.ContainerJSONBase == nil {
		return container.InspectResponse{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// imageNames maps image ids to their first tag, or the short id when untagged.
func (m *manager) imageNames(ctx context.Context) map[string]string {
	names := make(map[string]string)
	imgs, err := m.engine.ImageList(ctx, image.ListOptions{})
	if err != nil {
		m.logger.WarnContext(ctx, "unable to list images", "error", err)
		return names
	}
	for _, img := range imgs {
		if len(img.RepoTags) > 0 && img.RepoTags[0] != "<none>:<none>" {
			names[img.ID] = img.RepoTags[0]
		}
	}
	return names
}

func imageName(names map[string]string, imageID string) string {
	if n, ok := names[imageID]; ok {
		return n
	}
	return docker.ShortID(imageID)
}

func (m *manager) listStacks(ctx context.Context) ([]Stack, error) {
	summaries, err := m.engine.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	images := m.imageNames(ctx)
	now := m.now()

	containers := make([]Container, len(summaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for i, s := range summaries {
		g.Go(func() error {
			containers[i] = m.snapshot(gctx, s, images, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.forgetStats(lo.SliceToMap(summaries, func(s container.Summary) (string, bool) { return s.ID, true }))
	return groupStacks(containers), nil
}

// snapshot builds the view of one container. Inspect failures degrade to the
// list summary.
func (m *manager) snapshot(ctx context.Context, s container.Summary, images map[string]string, now time.Time) Container {
	c := Container{
		ID:       s.ID,
		ShortID:  docker.ShortID(s.ID),
		Name:     docker.ContainerName(s.Names),
		Stack:    docker.StackName(s.Labels),
		Image:    imageName(images, s.ImageID),
		Status:   string(s.State),
		Uptime:   "-",
		Networks: []NetworkAttachment{},
		Ports:    docker.Ports{Bindings: []string{}},
	}

	if full, err := m.engine.ContainerInspect(ctx, s.ID); err == nil && full.ContainerJSONBase != nil {
		if full.State != nil {
			c.Status = string(full.State.Status)
			c.Uptime = Uptime(full.State, now)
		}
		c.Restarts = full.RestartCount
		c.Networks = networksOf(full.NetworkSettings)
		c.Ports = PortsOf(full)
	} else if err != nil {
		m.logger.DebugContext(ctx, "inspect failed", "id", s.ID, "error", err)
	}

	var st Stats
	if c.Status == "running" {
		st = m.cachedStats(ctx, s.ID)
	}
	c.CPUPercent = round1(st.CPUPercent)
	c.MemUsageBytes = st.MemUsage
	c.MemUsage = units.HumanBytes(float64(st.MemUsage))
	c.MemPercent = round1(st.MemPercent)
	c.NetRxBytes = st.NetRx
	c.NetTxBytes = st.NetTx
	return c
}

// Uptime formats how long a running container has been up, or "-".
func Uptime(state *container.State, now time.Time) string {
	if state.Status != "running" || state.StartedAt == "" {
		return "-"
	}
	started, err := time.Parse(time.RFC3339Nano, state.StartedAt)
	if err != nil {
		return "-"
	}
	return units.FormatTimedelta(now.Sub(started))
}

func networksOf(ns *container.NetworkSettings) []NetworkAttachment {
	out := []NetworkAttachment{}
	if ns == nil {
		return out
	}
	for name, ep := range ns.Networks {
		ip := ""
		if ep != nil {
			ip = ep.IPAddress
		}
		out = append(out, NetworkAttachment{Name: name, IP: ip})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PortsOf renders the published ports of an inspected container.
func PortsOf(c container.InspectResponse) docker.Ports {
	mode := ""
	if c.HostConfig != nil {
		mode = string(c.HostConfig.NetworkMode)
	}
	if c.NetworkSettings == nil {
		return docker.FormatPorts(mode, nil)
	}
	return docker.FormatPorts(mode, c.NetworkSettings.Ports)
}

// groupStacks groups containers by stack. Containers are sorted by name and
// stacks by name with the no-stack group last, both case-insensitively.
func groupStacks(containers []Container) []Stack {
	grouped := lo.GroupBy(containers, func(c Container) string { return c.Stack })

	stacks := make([]Stack, 0, len(grouped))
	for name, cs := range grouped {
		sort.SliceStable(cs, func(i, j int) bool {
			return strings.ToLower(cs[i].Name) < strings.ToLower(cs[j].Name)
		})
		stacks = append(stacks, Stack{Name: name, Containers: cs})
	}
	sort.Slice(stacks, func(i, j int) bool {
		ni, nj := stacks[i].Name == docker.NoStack, stacks[j].Name == docker.NoStack
		if ni != nj {
			return nj
		}
		return strings.ToLower(stacks[i].Name) < strings.ToLower(stacks[j].Name)
	})
	return stacks
}

func copyStacks(in []Stack) []Stack {
	out := make([]Stack, len(in))
	for i, s := range in {
		out[i] = Stack{Name: s.Name, Containers: append([]Container(nil), s.Containers...)}
	}
	return out
}
