package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mpataki/polyrun/internal/models"
)

// LogHandler is a slog.Handler that persists records into the logs table
type LogHandler struct {
	s      *Storage
	runID  int64
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// LogHandler returns a handler storing records of level and above for a run
func (s *Storage) LogHandler(runID int64, level slog.Leveler) *LogHandler {
	return &LogHandler{s: s, runID: runID, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		addAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, prefix, a)
		return true
	})

	var attrsJSON *string
	if len(attrs) > 0 {
		data, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal log attrs: %w", err)
		}
		str := string(data)
		attrsJSON = &str
	}

	_, err := h.s.db.Exec(
		`INSERT INTO logs (run_id, time, level, message, attrs) VALUES (?, ?, ?, ?, ?)`,
		h.runID, r.Time.UTC(), r.Level.String(), r.Message, attrsJSON,
	)
	return err
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	prefix := strings.Join(h.groups, ".")
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(dst, key, ga)
		}
		return
	}

	switch v := a.Value.Any().(type) {
	case error:
		dst[key] = v.Error()
	case fmt.Stringer:
		dst[key] = v.String()
	default:
		dst[key] = v
	}
}

func (s *Storage) LogsForRun(runID int64) ([]*models.LogLine, error) {
	rows, err := s.db.Query(
		`SELECT id, time, level, message, attrs FROM logs WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*models.LogLine
	for rows.Next() {
		line := models.LogLine{RunID: runID}
		var attrsJSON *string

		if err := rows.Scan(&line.ID, &line.Time, &line.Level, &line.Message, &attrsJSON); err != nil {
			return nil, err
		}
		if attrsJSON != nil {
			if err := json.Unmarshal([]byte(*attrsJSON), &line.Attrs); err != nil {
				return nil, err
			}
		}

		lines = append(lines, &line)
	}

	return lines, rows.Err()
}
