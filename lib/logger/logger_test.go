package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestAddToContext(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := AddToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}

func TestConfigLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL_MQTT", "debug")

	cfg := NewConfig()
	assert.Equal(t, slog.LevelWarn, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor(SubsystemMQTT))
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor(SubsystemFleet))
}

func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanoutHandler{
		level: slog.LevelInfo,
		handlers: []slog.Handler{
			slog.NewTextHandler(&a, nil),
			slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
		},
	}
	log := slog.New(h).With("k", "v")

	log.Debug("dropped")
	log.Info("hello")
	require.Contains(t, a.String(), "hello")
	assert.Contains(t, a.String(), "k=v")
	assert.NotContains(t, a.String(), "dropped")
	assert.Empty(t, b.String())

	log.Error("boom")
	assert.Contains(t, b.String(), "boom")
}
