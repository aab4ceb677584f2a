package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndOpen(t *testing.T) {
	base := t.TempDir()

	w, err := Create(base, 7)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Path))
	assert.Equal(t, "run-7", filepath.Base(w.Path))
	assert.DirExists(t, filepath.Join(w.Path, metadataDir))

	opened, err := Open(base, 7)
	require.NoError(t, err)
	assert.Equal(t, w.Path, opened.Path)

	_, err = Open(base, 8)
	assert.ErrorContains(t, err, "does not exist")

	require.NoError(t, w.Remove())
	assert.NoDirExists(t, w.Path)
}

func TestResolve(t *testing.T) {
	w, err := Create(t.TempDir(), 1)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(w.Path, "out", "a.json"), w.Resolve("out/a.json"))
	assert.Equal(t, "/etc/hosts", w.Resolve("/etc/../etc/hosts"))
}

func TestCreateTempFile(t *testing.T) {
	w, err := Create(t.TempDir(), 1)
	require.NoError(t, err)

	for _, ext := range []string{".jsonl", "jsonl"} {
		f, err := w.CreateTempFile(ext)
		require.NoError(t, err)
		f.Close()
		assert.Equal(t, ".jsonl", filepath.Ext(f.Name()))
		assert.Equal(t, w.Path, filepath.Dir(f.Name()))
	}
}

func TestWriteModule(t *testing.T) {
	w, err := Create(t.TempDir(), 1)
	require.NoError(t, err)

	require.NoError(t, w.WriteModule("util.js", []byte("exports.x = 1")))
	data, err := os.ReadFile(filepath.Join(w.ModulesDir(), "util.js"))
	require.NoError(t, err)
	assert.Equal(t, "exports.x = 1", string(data))

	for _, name := range []string{"", "../escape.js", "nested/util.js"} {
		assert.Error(t, w.WriteModule(name, nil), "name %q", name)
	}
}

func TestRunMetadata(t *testing.T) {
	w, err := Create(t.TempDir(), 3)
	require.NoError(t, err)

	_, err = w.ReadRunMetadata()
	assert.ErrorContains(t, err, "not found")

	meta := &RunMetadata{
		RunID:     3,
		TaskID:    "clean-orders",
		Kind:      "transform",
		Language:  "lua",
		CreatedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, w.WriteRunMetadata(meta))

	got, err := w.ReadRunMetadata()
	require.NoError(t, err)
	assert.Equal(t, meta.TaskID, got.TaskID)
	assert.Equal(t, meta.Language, got.Language)
	assert.Equal(t, int64(3), got.RunID)
	assert.True(t, meta.CreatedAt.Equal(got.CreatedAt))
}
