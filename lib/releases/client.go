package releases

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "https://api.github.com"
	DefaultTimeout     = 10 * time.Second
	DefaultCacheTTL    = time.Hour
	DefaultMaxBody     = datasize.MB
	DefaultPerHour     = 60
	DefaultBurst       = 10
	MaxCachedReleases  = 20
	defaultUserAgent   = "d2ha"
	acceptGitHubHeader = "application/vnd.github.v3+json"
)

// Config configures the releases client.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
	// MaxBody caps how much of a response body is read.
	MaxBody datasize.ByteSize
	// PerHour is the local request budget.
	PerHour int
	Burst   int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.MaxBody == 0 {
		c.MaxBody = DefaultMaxBody
	}
	if c.PerHour <= 0 {
		c.PerHour = DefaultPerHour
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
}

// Client looks up release notes for repositories
type Client interface {
	// Lookup returns notes for the release matching version, or the latest
	// release when none matches. Failures yield an empty Info.
	Lookup(ctx context.Context, repo Repo, version string) Info
	// Releases returns the most recent releases of repo.
	Releases(ctx context.Context, repo Repo) ([]Release, error)
}

type cacheEntry struct {
	at       time.Time
	releases []Release
}

type client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewClient creates a releases client. meter may be nil.
func NewClient(cfg Config, log *slog.Logger, meter metric.Meter) (Client, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	c := &client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.PerHour)/3600), cfg.Burst),
		logger:  log,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
	if meter != nil {
		metrics, err := newReleaseMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create release metrics: %w", err)
		}
		c.metrics = metrics
	}
	return c, nil
}

func (c *client) Lookup(ctx context.Context, repo Repo, version string) Info {
	if repo.IsZero() {
		return Info{}
	}
	releases, err := c.Releases(ctx, repo)
	if err != nil {
		c.logger.DebugContext(ctx, "release lookup failed", "repo", repo.String(), "error", err)
		return Info{}
	}
	r, ok := pick(releases, version)
	if !ok {
		return Info{}
	}
	return InfoFrom(r)
}

// Releases returns cached releases when fresh. Failed fetches are cached as
// empty so a broken repository is not retried until the entry expires.
// Rate limited calls are not cached.
func (c *client) Releases(ctx context.Context, repo Repo) ([]Release, error) {
	key := strings.ToLower(repo.String())

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.at) < c.cfg.CacheTTL {
		c.recordLookup(ctx, "hit")
		return entry.releases, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		c.recordLookup(ctx, "rate_limited")
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	releases, fetchErr := c.fetch(ctx, repo)
	if fetchErr != nil {
		c.recordLookup(ctx, "failed")
		releases = nil
	} else {
		c.recordLookup(ctx, "fetched")
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{at: c.now(), releases: releases}
	c.mu.Unlock()
	return releases, fetchErr
}

func (c *client) fetch(ctx context.Context, repo Repo) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases", c.cfg.BaseURL, repo.Owner, repo.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptGitHubHeader)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, repo)
	}

	var releases []Release
	body := io.LimitReader(resp.Body, int64(c.cfg.MaxBody.Bytes()))
	if err := json.NewDecoder(body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode releases of %s: %w", repo, err)
	}
	if len(releases) > MaxCachedReleases {
		releases = releases[:MaxCachedReleases]
	}
	return releases, nil
}
