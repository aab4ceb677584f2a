package task

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
)

// RecordsMetric counts the records a transform emitted
const RecordsMetric = "records"

// Transform runs a script once per input record. Each record may be dropped,
// passed through (possibly modified) or fanned out into several records
type Transform struct {
	Language string
	Script   string
	// From is a storage URI of JSON lines, or inline JSON
	From string
	// Concurrent starts that many workers when at least 2
	Concurrent int
	Modules    map[string]string
}

type TransformOutput struct {
	URI     string
	Records int64
}

func (t *Transform) Run(ctx context.Context, rc *runctx.RunContext) (*TransformOutput, error) {
	reader, err := OpenRecords(ctx, rc, t.From)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	session, err := openSession(ctx, rc, t.Language, t.Modules)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	prog, err := session.Compile("transform", t.Script)
	if err != nil {
		return nil, err
	}

	f, err := rc.TempFile(".jsonl")
	if err != nil {
		return nil, err
	}
	out := newRecordWriter(f)

	p := &pipeline{session: session, prog: prog, rc: rc, out: out}
	if t.Concurrent >= 2 {
		err = p.runParallel(ctx, reader, t.Concurrent)
	} else {
		err = p.runSequential(ctx, reader)
	}
	if err == nil {
		err = out.flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	defer os.Remove(f.Name())
	if err != nil {
		return nil, err
	}

	uri, err := rc.PutFile(ctx, f.Name())
	if err != nil {
		return nil, err
	}

	count := out.count()
	if err := rc.Record(models.NewCounter(RecordsMetric, float64(count))); err != nil {
		return nil, err
	}
	session.Logger().Debug("transform finished",
		slog.String("uri", uri),
		slog.Int64("records", count),
	)
	return &TransformOutput{URI: uri, Records: count}, nil
}

// recordWriter appends records as JSON lines. Safe for concurrent use
type recordWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
	n  int64
}

func newRecordWriter(f *os.File) *recordWriter {
	return &recordWriter{w: bufio.NewWriter(f)}
}

func (r *recordWriter) write(record any) error {
	data, err := polyglot.MarshalValue(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	r.n++
	return nil
}

func (r *recordWriter) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

func (r *recordWriter) count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
