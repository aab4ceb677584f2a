package polyglot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mpataki/polyrun/internal/models"
)

// HostFunc is a host function callable from guest code. Arguments arrive
// converted to host values
type HostFunc func(args []any) (any, error)

// HostObject is a named bundle of host functions exposed to guests as an
// object (JavaScript), a table (Lua) or a module (Starlark)
type HostObject struct {
	Name    string
	Methods map[string]HostFunc
}

// MethodNames returns the method names in sorted order
func (o *HostObject) MethodNames() []string {
	names := make([]string, 0, len(o.Methods))
	for name := range o.Methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (o *HostObject) String() string {
	return "<host " + o.Name + ">"
}

// Arg returns args[i] or nil when it is missing
func Arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// StringArg returns args[i] as a string
func StringArg(args []any, i int) (string, error) {
	switch v := Arg(args, i).(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("argument %d: missing", i+1)
	default:
		return "", fmt.Errorf("argument %d: expected string, got %T", i+1, v)
	}
}

// FloatArg returns args[i] as a float64
func FloatArg(args []any, i int) (float64, error) {
	switch v := Arg(args, i).(type) {
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %d: expected number, got %T", i+1, v)
	}
}

// StringArgs returns args[from:] as strings
func StringArgs(args []any, from int) ([]string, error) {
	var out []string
	for i := from; i < len(args); i++ {
		s, err := StringArg(args, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func defaultHostTypes() map[string]*HostObject {
	types := []*HostObject{
		{Name: "std.time", Methods: map[string]HostFunc{
			"now": func(args []any) (any, error) {
				return time.Now().UTC().Format(time.RFC3339Nano), nil
			},
			"unix": func(args []any) (any, error) {
				return time.Now().Unix(), nil
			},
			"format": func(args []any) (any, error) {
				sec, err := FloatArg(args, 0)
				if err != nil {
					return nil, err
				}
				layout := time.RFC3339
				if s, ok := Arg(args, 1).(string); ok {
					layout = s
				}
				return time.Unix(int64(sec), 0).UTC().Format(layout), nil
			},
		}},
		{Name: "std.strings", Methods: map[string]HostFunc{
			"upper":     unaryString(strings.ToUpper),
			"lower":     unaryString(strings.ToLower),
			"trim":      unaryString(strings.TrimSpace),
			"contains":  binaryString(strings.Contains),
			"hasPrefix": binaryString(strings.HasPrefix),
			"hasSuffix": binaryString(strings.HasSuffix),
			"split": func(args []any) (any, error) {
				s, err := StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				sep, err := StringArg(args, 1)
				if err != nil {
					return nil, err
				}
				var out []any
				for _, part := range strings.Split(s, sep) {
					out = append(out, part)
				}
				return out, nil
			},
			"join": func(args []any) (any, error) {
				parts, ok := Arg(args, 0).([]any)
				if !ok {
					return nil, fmt.Errorf("argument 1: expected list, got %T", Arg(args, 0))
				}
				sep, err := StringArg(args, 1)
				if err != nil {
					return nil, err
				}
				strs := make([]string, len(parts))
				for i, p := range parts {
					strs[i] = fmt.Sprint(p)
				}
				return strings.Join(strs, sep), nil
			},
			"replace": func(args []any) (any, error) {
				strs, err := StringArgs(args, 0)
				if err != nil {
					return nil, err
				}
				if len(strs) != 3 {
					return nil, fmt.Errorf("replace takes 3 arguments, got %d", len(strs))
				}
				return strings.ReplaceAll(strs[0], strs[1], strs[2]), nil
			},
		}},
		{Name: "std.path", Methods: map[string]HostFunc{
			"join": func(args []any) (any, error) {
				parts, err := StringArgs(args, 0)
				if err != nil {
					return nil, err
				}
				return filepath.Join(parts...), nil
			},
			"base": unaryString(filepath.Base),
			"dir":  unaryString(filepath.Dir),
			"ext":  unaryString(filepath.Ext),
		}},
		{Name: "std.json", Methods: map[string]HostFunc{
			"encode": func(args []any) (any, error) {
				b, err := json.Marshal(Arg(args, 0))
				if err != nil {
					return nil, err
				}
				return string(b), nil
			},
			"decode": func(args []any) (any, error) {
				s, err := StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return DecodeJSON([]byte(s))
			},
		}},
		{Name: "models.Counter", Methods: map[string]HostFunc{
			"of": func(args []any) (any, error) {
				name, err := StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				value, err := FloatArg(args, 1)
				if err != nil {
					return nil, err
				}
				tags, err := StringArgs(args, 2)
				if err != nil {
					return nil, err
				}
				return models.NewCounter(name, value, tags...), nil
			},
		}},
		{Name: "internal.env", Methods: map[string]HostFunc{
			"get": func(args []any) (any, error) {
				key, err := StringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return os.Getenv(key), nil
			},
		}},
	}

	out := make(map[string]*HostObject, len(types))
	for _, t := range types {
		out[t.Name] = t
	}
	return out
}

func unaryString(fn func(string) string) HostFunc {
	return func(args []any) (any, error) {
		s, err := StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func binaryString(fn func(string, string) bool) HostFunc {
	return func(args []any) (any, error) {
		a, err := StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := StringArg(args, 1)
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}
}
