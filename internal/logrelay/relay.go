// Package logrelay forwards guest stdout and stderr lines to a logger
package logrelay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// MaxLineSize is the longest line the relay will log in one piece. Longer
// lines are logged as consecutive records of at most MaxLineSize bytes
const MaxLineSize = 1 << 20

// Relay drains two guest output streams until they reach EOF
type Relay struct {
	wg sync.WaitGroup
}

// Start begins draining stdout at info level and stderr at error level.
// Either reader may be nil
func Start(logger *slog.Logger, stdout, stderr io.Reader) *Relay {
	r := &Relay{}
	if stdout != nil {
		r.wg.Add(1)
		go r.drain(logger, stdout, "stdout", slog.LevelInfo)
	}
	if stderr != nil {
		r.wg.Add(1)
		go r.drain(logger, stderr, "stderr", slog.LevelError)
	}
	return r
}

// Wait blocks until both streams have been drained
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) drain(logger *slog.Logger, src io.Reader, stream string, level slog.Level) {
	defer r.wg.Done()

	// lines longer than the buffer come back in MaxLineSize pieces
	br := bufio.NewReaderSize(transform.NewReader(src, encoding.UTF8Validator), MaxLineSize)

	ctx := context.Background()
	for {
		line, _, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("guest output relay stopped", "stream", stream, "error", err)
				// writers must never block on a dead reader
				io.Copy(io.Discard, src)
			}
			return
		}
		logger.Log(ctx, level, string(line), slog.String("stream", stream))
	}
}
