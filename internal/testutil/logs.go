package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is a captured log line with its attributes flattened
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logStore struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogRecorder is a slog.Handler that keeps every record in memory. Handlers
// derived with WithAttrs share the recorder's records
type LogRecorder struct {
	store *logStore
	attrs []slog.Attr
}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{store: &logStore{}}
}

// Logger returns a logger writing to the recorder
func (r *LogRecorder) Logger() *slog.Logger {
	return slog.New(r)
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, len(r.attrs)+rec.NumAttrs())
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Resolve().Any()
		return true
	})

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.records = append(r.store.records, LogRecord{Level: rec.Level, Message: rec.Message, Attrs: attrs})
	return nil
}

func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogRecorder{store: r.store, attrs: append(append([]slog.Attr(nil), r.attrs...), attrs...)}
}

func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

func (r *LogRecorder) Records() []LogRecord {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]LogRecord, len(r.store.records))
	copy(out, r.store.records)
	return out
}

// Messages returns the message of every record at level, in order
func (r *LogRecorder) Messages(level slog.Level) []string {
	var out []string
	for _, rec := range r.Records() {
		if rec.Level == level {
			out = append(out, rec.Message)
		}
	}
	return out
}

// Stream returns the messages relayed from one guest output stream
func (r *LogRecorder) Stream(name string) []string {
	var out []string
	for _, rec := range r.Records() {
		if rec.Attrs["stream"] == name {
			out = append(out, rec.Message)
		}
	}
	return out
}
