package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "docqa dev\n", out.String())
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	debug := newLogger("DEBUG", "json")
	assert.True(t, debug.Enabled(ctx, slog.LevelDebug))
	assert.IsType(t, &slog.JSONHandler{}, debug.Handler())

	warn := newLogger("warn", "text")
	assert.False(t, warn.Enabled(ctx, slog.LevelInfo))
	assert.True(t, warn.Enabled(ctx, slog.LevelWarn))
	assert.IsType(t, &slog.TextHandler{}, warn.Handler())

	assert.True(t, newLogger("", "").Enabled(ctx, slog.LevelInfo))
}
