package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/manifest"
)

// Listing is one canonical directory found on disk. ManifestErr is set
// when the manifest had to be reconstructed from directory metadata.
type Listing struct {
	Type        artifact.Type
	Dir         string
	Manifest    manifest.Manifest
	ManifestErr error
}

// Inventory lists the canonical directories under root, newest first. An
// empty t lists every type.
func Inventory(ctx context.Context, root string, t artifact.Type, store *manifest.Store) ([]Listing, error) {
	if t != "" && !t.Valid() {
		return nil, fmt.Errorf("%w: %q", artifact.ErrInvalidArtifactType, string(t))
	}
	if store == nil {
		store = manifest.NewStore()
	}

	var out []Listing
	for _, typ := range artifact.Types {
		if t != "" && typ != t {
			continue
		}
		typeDir := filepath.Join(root, string(typ))
		entries, err := os.ReadDir(typeDir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", typeDir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(typeDir, entry.Name())
			m, err := store.Read(dir)
			out = append(out, Listing{Type: typ, Dir: dir, Manifest: m, ManifestErr: err})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Manifest.Created.Equal(out[j].Manifest.Created) {
			return out[i].Manifest.Created.After(out[j].Manifest.Created)
		}
		return out[i].Dir < out[j].Dir
	})
	return out, nil
}
