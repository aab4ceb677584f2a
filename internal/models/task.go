package models

import "gopkg.in/yaml.v3"

// TaskDef is a task file as written by users
type TaskDef struct {
	ID         string            `yaml:"id"`
	Type       TaskKind          `yaml:"type"`
	Language   string            `yaml:"language"`
	Script     string            `yaml:"script"`
	Outputs    []string          `yaml:"outputs,omitempty"`
	From       string            `yaml:"from,omitempty"`
	Concurrent int               `yaml:"concurrent,omitempty"`
	Modules    map[string]string `yaml:"modules,omitempty"`
	Variables  yaml.Node         `yaml:"variables,omitempty"`
}
