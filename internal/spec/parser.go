package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/polyglot"
)

func Parse(path string) (*models.TaskDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	def, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}

	// Use the file name when the task has no id
	if def.ID == "" {
		def.ID = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}
	return def, nil
}

func ParseBytes(data []byte) (*models.TaskDef, error) {
	var def models.TaskDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse task YAML: %w", err)
	}
	return &def, nil
}

func LoadAll(dirs []string) (map[string]*models.TaskDef, error) {
	defs := make(map[string]*models.TaskDef)

	for _, dir := range dirs {
		if err := loadFromDir(dir, defs); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return defs, nil
}

func loadFromDir(dir string, defs map[string]*models.TaskDef) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		def, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		defs[def.ID] = def
	}

	return nil
}

func Validate(def *models.TaskDef) error {
	switch def.Type {
	case models.TaskKindEval, models.TaskKindTransform:
	case "":
		return fmt.Errorf("task must have a type")
	default:
		return fmt.Errorf("unknown task type %q", def.Type)
	}

	if def.Language == "" {
		return fmt.Errorf("task must have a language")
	}
	if !slices.Contains(polyglot.Languages(), def.Language) {
		return fmt.Errorf("unknown language %q (available: %s)", def.Language, strings.Join(polyglot.Languages(), ", "))
	}

	if strings.TrimSpace(def.Script) == "" {
		return fmt.Errorf("task must have a script")
	}

	if def.Type == models.TaskKindTransform && def.From == "" {
		return fmt.Errorf("transform task must have a 'from' field")
	}
	if def.Type == models.TaskKindEval && (def.From != "" || def.Concurrent != 0) {
		return fmt.Errorf("'from' and 'concurrent' only apply to transform tasks")
	}
	if def.Concurrent != 0 && def.Concurrent < 2 {
		return fmt.Errorf("concurrent must be at least 2, got %d", def.Concurrent)
	}

	for name := range def.Modules {
		if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return fmt.Errorf("invalid module name %q", name)
		}
	}

	return nil
}

// Variables decodes the task variables, keeping mapping key order
func Variables(def *models.TaskDef) (*polyglot.Map, error) {
	if def.Variables.Kind == 0 {
		return polyglot.NewMap(), nil
	}
	v, err := decodeNode(&def.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to decode variables: %w", err)
	}
	m, ok := v.(*polyglot.Map)
	if !ok {
		if v == nil {
			return polyglot.NewMap(), nil
		}
		return nil, fmt.Errorf("variables must be a mapping")
	}
	return m, nil
}

func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return decodeNode(n.Content[0])
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.MappingNode:
		m := polyglot.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			v, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m.Set(key, v)
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case int:
			return polyglot.Number{Int: int64(x), IsInt: true}.Narrow(), nil
		case uint64:
			return polyglot.Number{Float: float64(x)}.Narrow(), nil
		case float64:
			return polyglot.Number{Float: x}.Narrow(), nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported YAML node at line %d", n.Line)
}
