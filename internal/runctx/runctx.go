// Package runctx holds the run context handed to tasks: workflow variables,
// the run logger, metric and blob sinks and the working directory, plus the
// guest-facing runContext and logger host objects
package runctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/workspace"
)

type MetricSink interface {
	Record(c models.Counter) error
}

type BlobStore interface {
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
	Put(ctx context.Context, r io.Reader) (string, error)
}

type RunContext struct {
	Variables *polyglot.Map
	Logger    *slog.Logger
	Metrics   MetricSink
	Storage   BlobStore
	WorkDir   *workspace.Workspace

	once   sync.Once
	handle *polyglot.HostObject
	logObj *polyglot.HostObject
}

// IsStorageURI reports whether s addresses the blob store
func IsStorageURI(s string) bool {
	return strings.HasPrefix(s, models.StoragePrefix)
}

func (rc *RunContext) logger() *slog.Logger {
	if rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

// Record records a counter, ignoring a missing sink
func (rc *RunContext) Record(c models.Counter) error {
	if rc.Metrics == nil {
		return nil
	}
	if err := rc.Metrics.Record(c); err != nil {
		return fmt.Errorf("recording %s: %w", c.Name, err)
	}
	return nil
}

// Bind attaches every workflow variable, runContext and logger to b. The
// host objects are built once per run context; ctx is the context their
// storage calls run under
func (rc *RunContext) Bind(ctx context.Context, b polyglot.Bindings) error {
	if rc.Variables != nil {
		var err error
		rc.Variables.Range(func(name string, v any) bool {
			err = b.Put(name, v)
			return err == nil
		})
		if err != nil {
			return err
		}
	}

	rc.once.Do(func() {
		rc.logObj = LoggerObject(ctx, rc.logger())
		rc.handle = rc.hostObject(ctx)
	})
	if err := b.Put("runContext", rc.handle); err != nil {
		return err
	}
	return b.Put("logger", rc.logObj)
}

func (rc *RunContext) hostObject(ctx context.Context) *polyglot.HostObject {
	storage := &polyglot.HostObject{
		Name: "runContext.storage",
		Methods: map[string]polyglot.HostFunc{
			"putFile": func(args []any) (any, error) {
				path, err := polyglot.StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return rc.PutFile(ctx, path)
			},
			"getFile": func(args []any) (any, error) {
				uri, err := polyglot.StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return rc.GetFile(ctx, uri)
			},
		},
	}

	workDir := &polyglot.HostObject{
		Name: "runContext.workingDir",
		Methods: map[string]polyglot.HostFunc{
			"path": func([]any) (any, error) {
				if rc.WorkDir == nil {
					return nil, nil
				}
				return rc.WorkDir.Path, nil
			},
			"createTempFile": func(args []any) (any, error) {
				ext := ""
				if len(args) > 0 {
					ext = fmt.Sprint(args[0])
				}
				return rc.CreateTempFile(ext)
			},
			"resolve": func(args []any) (any, error) {
				name, err := polyglot.StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				if rc.WorkDir == nil {
					return name, nil
				}
				return rc.WorkDir.Resolve(name), nil
			},
		},
	}

	return &polyglot.HostObject{
		Name: "runContext",
		Methods: map[string]polyglot.HostFunc{
			"variables": func([]any) (any, error) {
				if rc.Variables == nil {
					return polyglot.NewMap(), nil
				}
				return rc.Variables.Clone(), nil
			},
			"metric": func(args []any) (any, error) {
				c, ok := polyglot.Arg(args, 0).(models.Counter)
				if !ok {
					return nil, fmt.Errorf("metric: %w: expected a counter", polyglot.ErrTypeMismatch)
				}
				return nil, rc.Record(c)
			},
			"counter": func(args []any) (any, error) {
				name, err := polyglot.StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				value, err := polyglot.FloatArg(args, 1)
				if err != nil {
					return nil, err
				}
				tags, err := polyglot.StringArgs(args, 2)
				if err != nil {
					return nil, err
				}
				return nil, rc.Record(models.NewCounter(name, value, tags...))
			},
			"storage":    func([]any) (any, error) { return storage, nil },
			"workingDir": func([]any) (any, error) { return workDir, nil },
			"logger":     func([]any) (any, error) { return rc.logObj, nil },
		},
	}
}
