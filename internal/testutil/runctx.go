// Package testutil holds helpers shared by package tests
package testutil

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
	"github.com/mpataki/polyrun/internal/workspace"
)

// Run bundles a run context with the in-memory sinks behind it
type Run struct {
	Context *runctx.RunContext
	Metrics *runctx.MemoryMetrics
	Store   *runctx.MemoryStore
	Logs    *LogRecorder
}

// NewRun builds a run context over memory sinks and a workspace in a
// temporary directory
func NewRun(t *testing.T, vars *polyglot.Map) *Run {
	t.Helper()

	ws, err := workspace.Create(t.TempDir(), 1)
	require.NoError(t, err)

	r := &Run{
		Metrics: &runctx.MemoryMetrics{},
		Store:   runctx.NewMemoryStore(),
		Logs:    NewLogRecorder(),
	}
	r.Context = &runctx.RunContext{
		Variables: vars,
		Logger:    r.Logs.Logger(),
		Metrics:   r.Metrics,
		Storage:   r.Store,
		WorkDir:   ws,
	}
	return r
}

// Records decodes the JSON lines stored under uri
func (r *Run) Records(t *testing.T, uri string) []any {
	t.Helper()

	data, ok := r.Store.Bytes(uri)
	require.True(t, ok, "no blob stored at %s", uri)

	var out []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		v, err := polyglot.DecodeJSON(scanner.Bytes())
		require.NoError(t, err)
		out = append(out, v)
	}
	require.NoError(t, scanner.Err())
	return out
}
