package storage

import (
	"database/sql"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mpataki/polyrun/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; log handlers and metric sinks write concurrently
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		language TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		workspace_path TEXT NOT NULL DEFAULT '',
		output_uri TEXT,
		outputs TEXT,
		result TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		value REAL NOT NULL,
		tags TEXT,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		time TIMESTAMP NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		attrs TEXT
	);

	CREATE TABLE IF NOT EXISTS blobs (
		uri TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON logs(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (task_id, kind, language, status, workspace_path)
		 VALUES (?, ?, ?, ?, ?)`,
		run.TaskID, run.Kind, run.Language, run.Status, run.WorkspacePath,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const runColumns = `id, created_at, completed_at, task_id, kind, language, status, workspace_path, output_uri, outputs, result, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var outputURI, outputs, result, errText sql.NullString

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.TaskID, &run.Kind, &run.Language,
		&run.Status, &run.WorkspacePath, &outputURI, &outputs, &result, &errText,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.OutputURI = outputURI.String
	run.Outputs = outputs.String
	run.Result = result.String
	run.Error = errText.String

	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, workspace_path = ?, output_uri = ?, outputs = ?, result = ?, error = ?
		 WHERE id = ?`,
		run.CompletedAt, run.Status, run.WorkspacePath, nullString(run.OutputURI),
		nullString(run.Outputs), nullString(run.Result), nullString(run.Error), run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM metrics WHERE run_id = ?`,
		`DELETE FROM logs WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FormatTimeAgo formats t relative to now for display
func FormatTimeAgo(t time.Time) string {
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}
