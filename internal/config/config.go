package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mpataki/polyrun/internal/ctxlog"
)

type Config struct {
	DataDir  string
	DBPath   string
	LogLevel slog.Level
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("POLYRUN_DATA_DIR", filepath.Join(homeDir, ".polyrun"))

	c := &Config{
		DataDir:  dataDir,
		DBPath:   filepath.Join(dataDir, "polyrun.db"),
		LogLevel: ctxlog.ParseLevel(getEnv("POLYRUN_LOG_LEVEL", "info")),
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.WorkspacesDir(), c.BlobsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

func (c *Config) TasksDir() string {
	return filepath.Join(c.DataDir, "tasks")
}

func (c *Config) BlobsDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
