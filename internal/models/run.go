package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

type TaskKind string

const (
	TaskKindEval      TaskKind = "eval"
	TaskKindTransform TaskKind = "transform"
)

type Run struct {
	ID            int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
	TaskID        string
	Kind          TaskKind
	Language      string
	Status        RunStatus
	WorkspacePath string
	OutputURI     string
	Outputs       string // JSON object, declared outputs in order
	Result        string
	Error         string
}

type LogLine struct {
	ID      int64
	RunID   int64
	Time    time.Time
	Level   string
	Message string
	Attrs   map[string]any
}

// Blob is a stored file addressed by a polyrun:// URI
type Blob struct {
	URI       string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// StoragePrefix marks URIs served by the blob store
const StoragePrefix = "polyrun://"
