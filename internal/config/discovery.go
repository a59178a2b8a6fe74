package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides config discovery.
const EnvConfigPath = "PATHWARDEN_CONFIG"

// Discover finds the configuration for a run started in startDir.
// Priority order: explicit path, $PATHWARDEN_CONFIG, the nearest
// .pathwarden.yaml walking up from startDir, then defaults anchored at the
// nearest enclosing git checkout (or startDir when there is none).
func Discover(explicit, startDir string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if path := os.Getenv(EnvConfigPath); path != "" {
		return Load(path)
	}

	absStart, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start directory %q: %w", startDir, err)
	}

	if path, ok := findUpward(absStart, FileName, fileExists); ok {
		return Load(path)
	}
	if gitDir, ok := findUpward(absStart, ".git", exists); ok {
		return ForProject(filepath.Dir(gitDir))
	}
	return ForProject(absStart)
}

// findUpward returns the first dir/name that satisfies match, walking from
// dir to the filesystem root.
func findUpward(dir, name string, match func(string) bool) (string, bool) {
	for {
		candidate := filepath.Join(dir, name)
		if match(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
