package storage

import (
	"encoding/json"
	"time"

	"github.com/mpataki/polyrun/internal/models"
)

// MetricSink records counters for one run
type MetricSink struct {
	s     *Storage
	runID int64
}

func (s *Storage) Metrics(runID int64) *MetricSink {
	return &MetricSink{s: s, runID: runID}
}

func (m *MetricSink) Record(c models.Counter) error {
	return m.s.RecordMetric(m.runID, c)
}

func (s *Storage) RecordMetric(runID int64, c models.Counter) error {
	var tagsJSON *string
	if len(c.Tags) > 0 {
		data, err := json.Marshal(c.Tags)
		if err != nil {
			return err
		}
		str := string(data)
		tagsJSON = &str
	}

	_, err := s.db.Exec(
		`INSERT INTO metrics (run_id, name, value, tags, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		runID, c.Name, c.Value, tagsJSON, time.Now().UTC(),
	)
	return err
}

func (s *Storage) MetricsForRun(runID int64) ([]*models.MetricPoint, error) {
	rows, err := s.db.Query(
		`SELECT name, value, tags, recorded_at FROM metrics WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*models.MetricPoint
	for rows.Next() {
		p := models.MetricPoint{RunID: runID}
		var tagsJSON *string

		if err := rows.Scan(&p.Counter.Name, &p.Counter.Value, &tagsJSON, &p.RecordedAt); err != nil {
			return nil, err
		}
		if tagsJSON != nil {
			if err := json.Unmarshal([]byte(*tagsJSON), &p.Counter.Tags); err != nil {
				return nil, err
			}
		}

		points = append(points, &p)
	}

	return points, rows.Err()
}
