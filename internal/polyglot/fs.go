package polyglot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// FS returns the fs host object for a policy. Relative paths resolve against
// the policy working directory; absolute paths are used as given
func FS(p Policy) *HostObject {
	resolve := func(args []any) (string, error) {
		path, err := StringArg(args, 0)
		if err != nil {
			return "", fmt.Errorf("path: %w", err)
		}
		if filepath.IsAbs(path) || p.WorkDir == "" {
			return filepath.Clean(path), nil
		}
		return filepath.Join(p.WorkDir, path), nil
	}

	return &HostObject{Name: "fs", Methods: map[string]HostFunc{
		"read": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
		"write": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			data, err := StringArg(args, 1)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				return nil, err
			}
			return path, nil
		},
		"append": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			data, err := StringArg(args, 1)
			if err != nil {
				return nil, err
			}
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(data); err != nil {
				f.Close()
				return nil, err
			}
			return path, f.Close()
		},
		"exists": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			_, err = os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return err == nil, err
		},
		"remove": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			return nil, os.RemoveAll(path)
		},
		"list": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			slices.Sort(names)
			out := make([]any, len(names))
			for i, n := range names {
				out[i] = n
			}
			return out, nil
		},
		"mkdir": func(args []any) (any, error) {
			path, err := resolve(args)
			if err != nil {
				return nil, err
			}
			return path, os.MkdirAll(path, 0755)
		},
		"tempFile": func(args []any) (any, error) {
			pattern := "tmp-*"
			if ext, ok := Arg(args, 0).(string); ok && ext != "" {
				pattern += ext
			}
			f, err := os.CreateTemp(p.WorkDir, pattern)
			if err != nil {
				return nil, err
			}
			return f.Name(), f.Close()
		},
	}}
}
