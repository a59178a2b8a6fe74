package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pathwarden/internal/artifact"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Relative project_root
// is resolved against the file's directory, and relative artifacts_root
// against the project root.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, FileName)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", FileName, absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := cfg.resolvePaths(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ForProject returns the defaults anchored at projectRoot, for projects
// without a config file.
func ForProject(projectRoot string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.resolvePaths(projectRoot); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(baseDir string) error {
	root := c.ProjectRoot
	if root == "" {
		root = "."
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve project_root %q: %w", c.ProjectRoot, err)
	}
	c.ProjectRoot = absRoot

	artifacts := c.ArtifactsRoot
	if artifacts == "" {
		artifacts = Defaults().ArtifactsRoot
	}
	if !filepath.IsAbs(artifacts) {
		artifacts = filepath.Join(c.ProjectRoot, artifacts)
	}
	c.ArtifactsRoot = filepath.Clean(artifacts)
	return nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate rejects unresolved placeholders in paths.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.DefaultRetentionDays <= 0 {
		return fmt.Errorf("default_retention_days must be positive (got %d)", cfg.DefaultRetentionDays)
	}

	for name, days := range cfg.Retention {
		t, err := artifact.ParseType(name)
		if err != nil {
			return fmt.Errorf("retention.%s: %w", name, err)
		}
		if days <= 0 {
			return fmt.Errorf("retention.%s must be positive (got %d)", t, days)
		}
	}

	for _, p := range []struct{ field, value string }{
		{"project_root", cfg.ProjectRoot},
		{"artifacts_root", cfg.ArtifactsRoot},
		{"ledger.path", cfg.Ledger.Path},
	} {
		if matches := envVarPattern.FindStringSubmatch(p.value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", p.field, matches[1])
		}
	}

	if cfg.ArtifactsRoot == cfg.ProjectRoot {
		return fmt.Errorf("artifacts_root must not be the project root itself")
	}

	for i, dir := range cfg.SourceDirs {
		clean := filepath.Clean(dir)
		if dir == "" || filepath.IsAbs(dir) || clean == "." || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("source_dirs[%d]: %q must be a relative directory inside the project", i, dir)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	if cfg.Ledger.Enabled && strings.TrimSpace(cfg.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}
	return nil
}
