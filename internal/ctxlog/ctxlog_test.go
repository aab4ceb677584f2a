package ctxlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpataki/polyrun/internal/ctxlog"
)

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), ctxlog.FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)
	assert.Same(t, logger, ctxlog.FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ctxlog.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ctxlog.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ctxlog.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ctxlog.ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ctxlog.ParseLevel("nonsense"))
}

func TestFanout(t *testing.T) {
	var debug, warn bytes.Buffer
	h := ctxlog.NewFanout(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("run", 7)

	logger.Debug("details")
	logger.Warn("careful")

	assert.Contains(t, debug.String(), "msg=details")
	assert.Contains(t, debug.String(), "msg=careful")
	assert.NotContains(t, warn.String(), "details")
	assert.Contains(t, warn.String(), "run=7")

	assert.False(t, ctxlog.NewFanout().Enabled(context.Background(), slog.LevelError))
}
