package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mpataki/polyrun/internal/ctxlog"
	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
	"github.com/mpataki/polyrun/internal/spec"
	"github.com/mpataki/polyrun/internal/storage"
	"github.com/mpataki/polyrun/internal/task"
	"github.com/mpataki/polyrun/internal/workspace"
)

type Orchestrator struct {
	storage      *storage.Storage
	blobs        *storage.BlobStore
	workspaceDir string

	// console receives every run log next to the run's stored logs
	console slog.Handler
	level   slog.Leveler
}

func New(store *storage.Storage, blobs *storage.BlobStore, workspaceDir string, console slog.Handler, level slog.Leveler) *Orchestrator {
	return &Orchestrator{
		storage:      store,
		blobs:        blobs,
		workspaceDir: workspaceDir,
		console:      console,
		level:        level,
	}
}

// Run validates a task, records a run for it and executes it
func (o *Orchestrator) Run(ctx context.Context, def *models.TaskDef) (*models.Run, error) {
	if err := spec.Validate(def); err != nil {
		return nil, err
	}
	run, err := o.StartRun(def)
	if err != nil {
		return nil, err
	}
	return run, o.Execute(ctx, run, def)
}

func (o *Orchestrator) StartRun(def *models.TaskDef) (*models.Run, error) {
	// Create run record
	run := &models.Run{
		TaskID:   def.ID,
		Kind:     def.Type,
		Language: def.Language,
		Status:   models.RunStatusPending,
	}

	runID, err := o.storage.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	run.ID = runID
	run.CreatedAt = time.Now()

	ws, err := workspace.Create(o.workspaceDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	run.WorkspacePath = ws.Path
	if err := o.storage.UpdateRun(run); err != nil {
		return nil, fmt.Errorf("failed to update run with workspace path: %w", err)
	}

	meta := &workspace.RunMetadata{
		RunID:     run.ID,
		TaskID:    def.ID,
		Kind:      string(def.Type),
		Language:  def.Language,
		CreatedAt: run.CreatedAt,
	}
	if err := ws.WriteRunMetadata(meta); err != nil {
		return nil, err
	}

	return run, nil
}

func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, def *models.TaskDef) error {
	ws, err := workspace.Open(o.workspaceDir, run.ID)
	if err != nil {
		return err
	}

	logger := o.runLogger(run)
	ctx = ctxlog.WithLogger(ctx, logger)

	vars, err := spec.Variables(def)
	if err != nil {
		return o.failRun(ctx, run, err)
	}

	// Update run status to running
	run.Status = models.RunStatusRunning
	if err := o.storage.UpdateRun(run); err != nil {
		return err
	}
	logger.Info("run started", slog.String("task", def.ID), slog.String("language", def.Language))

	rc := &runctx.RunContext{
		Variables: vars,
		Logger:    logger,
		Metrics:   o.storage.Metrics(run.ID),
		Storage:   o.blobs,
		WorkDir:   ws,
	}

	switch def.Type {
	case models.TaskKindEval:
		t := &task.Eval{
			Language: def.Language,
			Script:   def.Script,
			Outputs:  def.Outputs,
			Modules:  def.Modules,
		}
		out, err := t.Run(ctx, rc)
		if err != nil {
			return o.failRun(ctx, run, err)
		}
		if err := recordEvalOutput(run, out); err != nil {
			return o.failRun(ctx, run, err)
		}

	case models.TaskKindTransform:
		t := &task.Transform{
			Language:   def.Language,
			Script:     def.Script,
			From:       def.From,
			Concurrent: def.Concurrent,
			Modules:    def.Modules,
		}
		out, err := t.Run(ctx, rc)
		if err != nil {
			return o.failRun(ctx, run, err)
		}
		run.OutputURI = out.URI

	default:
		return o.failRun(ctx, run, fmt.Errorf("unknown task type %q", def.Type))
	}

	return o.completeRun(ctx, run)
}

// runLogger writes to the console and to the run's stored logs
func (o *Orchestrator) runLogger(run *models.Run) *slog.Logger {
	handlers := []slog.Handler{o.storage.LogHandler(run.ID, o.level)}
	if o.console != nil {
		handlers = append(handlers, o.console)
	}
	return slog.New(ctxlog.NewFanout(handlers...)).With(slog.Int64("run", run.ID))
}

func recordEvalOutput(run *models.Run, out *task.EvalOutput) error {
	if out.Outputs != nil {
		data, err := out.Outputs.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode outputs: %w", err)
		}
		run.Outputs = string(data)
	}
	if out.Result != nil {
		run.Result = fmt.Sprint(out.Result)
	}
	return nil
}

func (o *Orchestrator) completeRun(ctx context.Context, run *models.Run) error {
	now := time.Now()
	run.Status = models.RunStatusComplete
	run.CompletedAt = &now
	ctxlog.FromContext(ctx).Info("run complete")
	return o.storage.UpdateRun(run)
}

func (o *Orchestrator) failRun(ctx context.Context, run *models.Run, cause error) error {
	now := time.Now()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.Error = cause.Error()

	logger := ctxlog.FromContext(ctx)
	var evalErr *polyglot.EvalError
	if errors.As(cause, &evalErr) && evalErr.Stack != "" {
		logger.Error("run failed", slog.Any("error", cause), slog.String("stack", evalErr.Stack))
	} else {
		logger.Error("run failed", slog.Any("error", cause))
	}

	if err := o.storage.UpdateRun(run); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Read methods for TUI

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	return o.storage.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	return o.storage.GetRun(id)
}

func (o *Orchestrator) MetricsForRun(runID int64) ([]*models.MetricPoint, error) {
	return o.storage.MetricsForRun(runID)
}

func (o *Orchestrator) LogsForRun(runID int64) ([]*models.LogLine, error) {
	return o.storage.LogsForRun(runID)
}

func (o *Orchestrator) DeleteRun(runID int64) error {
	run, err := o.storage.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	// Remove workspace directory
	if run.WorkspacePath != "" {
		os.RemoveAll(run.WorkspacePath)
	}

	// Delete from database
	return o.storage.DeleteRun(runID)
}
