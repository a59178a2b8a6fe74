// Package manifest reads and writes manifest.json, the provenance and
// retention sidecar stored inside every canonical artifact directory.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/callsite"
)

// FileName is the sidecar name inside a canonical directory.
const FileName = "manifest.json"

// DefaultRetentionDays applies when neither the caller nor config says otherwise.
const DefaultRetentionDays = 7

// Packages whose frames are skipped when attributing a manifest to a caller.
var internalPackages = []string{
	"github.com/mattjoyce/pathwarden/internal/manifest",
	"github.com/mattjoyce/pathwarden/internal/workspace",
}

// Manifest is the on-disk provenance record.
type Manifest struct {
	Created       time.Time `json:"created"`
	Owner         string    `json:"owner"`
	GitCommit     string    `json:"git_commit"`
	CIJob         string    `json:"ci_job"`
	PID           int       `json:"pid"`
	RetentionDays int       `json:"retention_days"`
	Context       Context   `json:"context"`
}

// Context records who asked for the directory and why.
type Context struct {
	Script      string `json:"script"`
	FullPath    string `json:"full_path"`
	Description string `json:"description"`
}

// Age returns how long ago the manifest was created relative to now.
func (m Manifest) Age(now time.Time) time.Duration {
	return now.Sub(m.Created)
}

// Store writes and reads manifests.
type Store struct {
	now func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for created timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a manifest store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write records a new manifest in dir and returns it together with the
// BLAKE3 fingerprint of the bytes written. A non-positive retentionDays
// stores DefaultRetentionDays.
func (s *Store) Write(dir string, id artifact.Identity, retentionDays int, description string) (Manifest, string, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	caller := callsite.Outside(internalPackages...)

	m := Manifest{
		Created:       s.now().UTC(),
		Owner:         id.Owner,
		GitCommit:     id.Revision,
		CIJob:         id.Job,
		PID:           id.PID,
		RetentionDays: retentionDays,
		Context: Context{
			Script:      caller.Script(),
			FullPath:    caller.FullPath(),
			Description: description,
		},
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, "", fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return Manifest{}, "", fmt.Errorf("write manifest in %s: %w", dir, err)
	}
	return m, Fingerprint(data), nil
}

// Read returns the manifest stored in dir. It always returns a usable
// Manifest: when the file is missing, unreadable or malformed the result
// carries RetentionDays 0 (caller applies its default) and Created set to
// the directory's modification time, and the error wraps
// artifact.ErrManifestMissing or artifact.ErrManifestCorrupt. If the
// directory itself cannot be inspected, Created is zero.
func (s *Store) Read(dir string) (Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fallback(dir), fmt.Errorf("%w: %s", artifact.ErrManifestMissing, path)
		}
		return fallback(dir), fmt.Errorf("%w: %s: %v", artifact.ErrManifestMissing, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fallback(dir), fmt.Errorf("%w: %s: %v", artifact.ErrManifestCorrupt, path, err)
	}
	if m.Created.IsZero() {
		fb := fallback(dir)
		m.Created = fb.Created
		return m, fmt.Errorf("%w: %s: missing created timestamp", artifact.ErrManifestCorrupt, path)
	}
	if m.RetentionDays < 0 {
		m.RetentionDays = 0
	}
	return m, nil
}

func fallback(dir string) Manifest {
	m := Manifest{Owner: callsite.Unknown}
	if info, err := os.Stat(dir); err == nil {
		m.Created = info.ModTime().UTC()
	}
	return m
}

// Fingerprint returns the hex BLAKE3-256 digest of manifest bytes.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile hashes the manifest currently stored in dir.
func FingerprintFile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return Fingerprint(data), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
