// Package logger provides subsystem-scoped slog loggers and context helpers.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Subsystem names a component that gets its own logger and level.
type Subsystem string

const (
	SubsystemAPI         Subsystem = "API"
	SubsystemFleet       Subsystem = "FLEET"
	SubsystemImages      Subsystem = "IMAGES"
	SubsystemUpdates     Subsystem = "UPDATES"
	SubsystemReleases    Subsystem = "RELEASES"
	SubsystemPreferences Subsystem = "PREFERENCES"
	SubsystemActions     Subsystem = "ACTIONS"
	SubsystemDiscovery   Subsystem = "DISCOVERY"
	SubsystemMQTT        Subsystem = "MQTT"
)

// Config holds the default level plus per-subsystem overrides.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[Subsystem]slog.Level
	AddSource       bool
}

// NewConfig reads LOG_LEVEL and LOG_LEVEL_<SUBSYSTEM> from the environment.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    parseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo),
		SubsystemLevels: make(map[Subsystem]slog.Level),
		AddSource:       os.Getenv("LOG_ADD_SOURCE") == "true",
	}
	for _, s := range []Subsystem{
		SubsystemAPI, SubsystemFleet, SubsystemImages, SubsystemUpdates, SubsystemReleases,
		SubsystemPreferences, SubsystemActions, SubsystemDiscovery, SubsystemMQTT,
	} {
		if v := os.Getenv("LOG_LEVEL_" + string(s)); v != "" {
			cfg.SubsystemLevels[s] = parseLevel(v, cfg.DefaultLevel)
		}
	}
	return cfg
}

// LevelFor returns the effective level for a subsystem.
func (c Config) LevelFor(s Subsystem) slog.Level {
	if lvl, ok := c.SubsystemLevels[s]; ok {
		return lvl
	}
	return c.DefaultLevel
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// NewSubsystemLogger builds a JSON logger on stdout tagged with the subsystem.
// When otelHandler is non-nil records are also forwarded to it.
func NewSubsystemLogger(s Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	level := cfg.LevelFor(s)
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
	if otelHandler != nil {
		h = &fanoutHandler{
			level:    level,
			handlers: []slog.Handler{h, otelHandler},
		}
	}
	return slog.New(h).With("subsystem", string(s))
}

type ctxKey struct{}

// AddToContext returns a context carrying log.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	return slog.Default()
}

// fanoutHandler duplicates records to several handlers.
type fanoutHandler struct {
	level    slog.Level
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= f.level
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{level: f.level, handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{level: f.level, handlers: next}
}
