package config

import (
	"path/filepath"

	"github.com/mattjoyce/pathwarden/internal/artifact"
)

// FileName is the per-project configuration file.
const FileName = ".pathwarden.yaml"

// Config represents the complete pathwarden configuration.
type Config struct {
	ProjectRoot          string         `yaml:"project_root"`
	ArtifactsRoot        string         `yaml:"artifacts_root"`
	DefaultRetentionDays int            `yaml:"default_retention_days"`
	Retention            map[string]int `yaml:"retention,omitempty"`
	SourceDirs           []string       `yaml:"source_dirs,omitempty"`
	Quiet                bool           `yaml:"quiet,omitempty"`
	Log                  LogConfig      `yaml:"log"`
	Ledger               LedgerConfig   `yaml:"ledger"`

	// SourcePath is the file this config was read from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig defines the optional SQLite allocation ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults. Paths are relative
// until resolved against a project root.
func Defaults() *Config {
	return &Config{
		ProjectRoot:          ".",
		ArtifactsRoot:        "artifacts",
		DefaultRetentionDays: 7,
		Retention:            map[string]int{},
		SourceDirs:           []string{"src", "tools", "tests", ".git"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			Enabled: false,
			Path:    ".ledger.db",
		},
	}
}

// RetentionFor returns the configured retention window for t, falling back
// to DefaultRetentionDays.
func (c *Config) RetentionFor(t artifact.Type) int {
	if days, ok := c.Retention[string(t)]; ok && days > 0 {
		return days
	}
	return c.DefaultRetentionDays
}

// TypeDir returns the category directory under the artifacts root.
func (c *Config) TypeDir(t artifact.Type) string {
	return filepath.Join(c.ArtifactsRoot, string(t))
}

// LockPath is the cleanup PID lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.TypeDir(artifact.TypeTmp), ".cleanup.lock")
}

// LedgerPath resolves the ledger database path against the artifacts root.
func (c *Config) LedgerPath() string {
	if filepath.IsAbs(c.Ledger.Path) {
		return c.Ledger.Path
	}
	return filepath.Join(c.ArtifactsRoot, c.Ledger.Path)
}
