package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mattjoyce/pathwarden/internal/artifact"
)

// IgnoreMarker is written at the artifacts root so version control never
// picks up generated output.
const IgnoreMarker = ".gitignore"

const ignoreMarkerContent = "*\n!" + IgnoreMarker + "\n"

// EnsureLayout creates the artifacts root, one directory per artifact type
// and the ignore marker. Existing entries are left untouched, so repeated
// calls are harmless. It returns the paths it created.
func EnsureLayout(root string) ([]string, error) {
	var created []string

	dirs := []string{root}
	for _, t := range artifact.Types {
		dirs = append(dirs, filepath.Join(root, string(t)))
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return created, fmt.Errorf("%s exists and is not a directory", dir)
			}
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("stat %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return created, fmt.Errorf("create %s: %w", dir, err)
		}
		created = append(created, dir)
	}

	marker := filepath.Join(root, IgnoreMarker)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case errors.Is(err, fs.ErrExist):
		return created, nil
	case err != nil:
		return created, fmt.Errorf("create ignore marker: %w", err)
	}
	if _, err := f.WriteString(ignoreMarkerContent); err != nil {
		_ = f.Close()
		return created, fmt.Errorf("write ignore marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return created, fmt.Errorf("close ignore marker: %w", err)
	}
	return append(created, marker), nil
}
