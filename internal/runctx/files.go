package runctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var errNoStorage = errors.New("run context has no blob store")

func (rc *RunContext) resolve(path string) string {
	if rc.WorkDir == nil || filepath.IsAbs(path) {
		return path
	}
	return rc.WorkDir.Resolve(path)
}

// PutFile stores a working directory file in the blob store and returns its URI
func (rc *RunContext) PutFile(ctx context.Context, path string) (string, error) {
	if rc.Storage == nil {
		return "", errNoStorage
	}
	f, err := os.Open(rc.resolve(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	uri, err := rc.Storage.Put(ctx, f)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", path, err)
	}
	return uri, nil
}

// GetFile copies a blob into a new working directory file and returns its path
func (rc *RunContext) GetFile(ctx context.Context, uri string) (string, error) {
	if rc.Storage == nil {
		return "", errNoStorage
	}
	r, err := rc.Storage.Get(ctx, uri)
	if err != nil {
		return "", err
	}
	defer r.Close()

	f, err := rc.TempFile("")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("fetching %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// CreateTempFile creates an empty file in the working directory and returns its path
func (rc *RunContext) CreateTempFile(ext string) (string, error) {
	f, err := rc.TempFile(ext)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (rc *RunContext) TempFile(ext string) (*os.File, error) {
	if rc.WorkDir != nil {
		return rc.WorkDir.CreateTempFile(ext)
	}
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return os.CreateTemp("", "polyrun-*"+ext)
}
