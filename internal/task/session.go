package task

import (
	"context"
	"fmt"
	"io"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
)

// openSession builds the guest session for a task, writing its modules into
// the working directory first
func openSession(ctx context.Context, rc *runctx.RunContext, language string, modules map[string]string) (*polyglot.Session, error) {
	cfg := polyglot.SessionConfig{
		Language: language,
		Logger:   rc.Logger,
	}
	if rc.WorkDir != nil {
		cfg.WorkDir = rc.WorkDir.Path
	}

	if len(modules) > 0 {
		if rc.WorkDir == nil {
			return nil, fmt.Errorf("modules require a working directory")
		}
		if err := writeModules(ctx, rc, modules); err != nil {
			return nil, err
		}
		cfg.ModulePath = rc.WorkDir.ModulesDir()
	}

	return polyglot.NewSession(ctx, cfg)
}

// writeModules materializes each module from inline text or a blob URI
func writeModules(ctx context.Context, rc *runctx.RunContext, modules map[string]string) error {
	for name, src := range modules {
		data := []byte(src)
		if runctx.IsStorageURI(src) {
			if rc.Storage == nil {
				return fmt.Errorf("module %s: run context has no blob store", name)
			}
			r, err := rc.Storage.Get(ctx, src)
			if err != nil {
				return fmt.Errorf("module %s: %w", name, err)
			}
			data, err = io.ReadAll(r)
			r.Close()
			if err != nil {
				return fmt.Errorf("module %s: %w", name, err)
			}
		}
		if err := rc.WorkDir.WriteModule(name, data); err != nil {
			return err
		}
	}
	return nil
}
