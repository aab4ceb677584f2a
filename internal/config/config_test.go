package config

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POLYRUN_DATA_DIR", dir)
	t.Setenv("POLYRUN_LOG_LEVEL", "debug")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, filepath.Join(dir, "polyrun.db"), c.DBPath)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)

	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.WorkspacesDir())
	assert.DirExists(t, c.BlobsDir())
	assert.Equal(t, filepath.Join(dir, "tasks"), c.TasksDir())
}
