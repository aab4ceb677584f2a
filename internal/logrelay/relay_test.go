package logrelay_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/logrelay"
	"github.com/mpataki/polyrun/internal/testutil"
)

func TestRelayLevels(t *testing.T) {
	logs := testutil.NewLogRecorder()

	r := logrelay.Start(logs.Logger(),
		strings.NewReader("first\nsecond\nno newline"),
		strings.NewReader("bad thing\n"),
	)
	r.Wait()

	assert.Equal(t, []string{"first", "second", "no newline"}, logs.Messages(slog.LevelInfo))
	assert.Equal(t, []string{"bad thing"}, logs.Messages(slog.LevelError))
	assert.Equal(t, []string{"bad thing"}, logs.Stream("stderr"))
}

func TestRelayNilStream(t *testing.T) {
	logs := testutil.NewLogRecorder()

	r := logrelay.Start(logs.Logger(), strings.NewReader("only\n"), nil)
	r.Wait()

	assert.Equal(t, []string{"only"}, logs.Stream("stdout"))
}

func TestRelayDrainsPipeUntilClosed(t *testing.T) {
	logs := testutil.NewLogRecorder()
	pr, pw := io.Pipe()

	r := logrelay.Start(logs.Logger(), pr, nil)
	for _, line := range []string{"a", "b", "c"} {
		_, err := io.WriteString(pw, line+"\n")
		assert.NoError(t, err)
	}
	pw.Close()
	r.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, logs.Stream("stdout"))
}

func TestRelaySplitsOverlongLine(t *testing.T) {
	logs := testutil.NewLogRecorder()
	pr, pw := io.Pipe()

	r := logrelay.Start(logs.Logger(), pr, nil)
	go func() {
		io.WriteString(pw, "before\n"+strings.Repeat("x", logrelay.MaxLineSize+10)+"\nafter1\nafter2\n")
		pw.Close()
	}()
	r.Wait()

	lines := logs.Stream("stdout")
	require.Len(t, lines, 5)
	assert.Equal(t, "before", lines[0])
	assert.Len(t, lines[1], logrelay.MaxLineSize)
	assert.Equal(t, strings.Repeat("x", 10), lines[2])
	assert.Equal(t, []string{"after1", "after2"}, lines[3:])
	assert.Empty(t, logs.Messages(slog.LevelWarn))
}

func TestRelayStopsOnInvalidUTF8(t *testing.T) {
	logs := testutil.NewLogRecorder()
	pr, pw := io.Pipe()

	r := logrelay.Start(logs.Logger(), nil, pr)
	go func() {
		// the writer must not block once the relay gives up
		io.WriteString(pw, "\xff\xfe\n")
		io.WriteString(pw, "more\n")
		pw.Close()
	}()
	r.Wait()

	assert.Contains(t, logs.Messages(slog.LevelWarn), "guest output relay stopped")
	assert.NotContains(t, logs.Stream("stderr"), "more")
}
