package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	modulesDir  = "__modules"
	metadataDir = ".polyrun"
)

// Workspace is the working directory of one run. Guest file I/O, temp
// files and guest modules live under it
type Workspace struct {
	Path string
}

type RunMetadata struct {
	RunID     int64     `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

func Create(baseDir string, runID int64) (*Workspace, error) {
	path, err := filepath.Abs(filepath.Join(baseDir, fmt.Sprintf("run-%d", runID)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	w := &Workspace{Path: path}

	dirs := []string{
		path,
		filepath.Join(path, metadataDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return w, nil
}

func Open(baseDir string, runID int64) (*Workspace, error) {
	path, err := filepath.Abs(filepath.Join(baseDir, fmt.Sprintf("run-%d", runID)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %d does not exist", runID)
	}

	return &Workspace{Path: path}, nil
}

// Remove deletes the workspace directory and everything in it
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Path)
}

// Resolve returns the absolute path of name inside the workspace. Absolute
// names are returned unchanged
func (w *Workspace) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(w.Path, name)
}

// CreateTempFile creates an empty file with the given extension in the
// workspace. The caller closes it
func (w *Workspace) CreateTempFile(ext string) (*os.File, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	f, err := os.CreateTemp(w.Path, "tmp-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return f, nil
}

func (w *Workspace) ModulesDir() string {
	return filepath.Join(w.Path, modulesDir)
}

// WriteModule writes a guest module into the module search path
func (w *Workspace) WriteModule(name string, data []byte) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("invalid module name %q", name)
	}
	if err := os.MkdirAll(w.ModulesDir(), 0755); err != nil {
		return fmt.Errorf("failed to create modules directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.ModulesDir(), name), data, 0644); err != nil {
		return fmt.Errorf("failed to write module %s: %w", name, err)
	}
	return nil
}

func (w *Workspace) WriteRunMetadata(meta *RunMetadata) error {
	path := filepath.Join(w.Path, metadataDir, "run.json")

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run.json: %w", err)
	}

	return nil
}

func (w *Workspace) ReadRunMetadata() (*RunMetadata, error) {
	path := filepath.Join(w.Path, metadataDir, "run.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run metadata not found in %s", w.Path)
		}
		return nil, fmt.Errorf("failed to read run.json: %w", err)
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse run.json: %w", err)
	}
	return &meta, nil
}
