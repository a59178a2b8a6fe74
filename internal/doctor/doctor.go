// Package doctor inspects an artifacts tree and reports layout, lock,
// filesystem and manifest integrity problems.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/config"
	"github.com/mattjoyce/pathwarden/internal/lock"
	"github.com/mattjoyce/pathwarden/internal/manifest"
	"github.com/mattjoyce/pathwarden/internal/storage"
	"github.com/mattjoyce/pathwarden/internal/workspace"
)

// Result holds the outcome of a doctor run.
type Result struct {
	Valid    bool    `json:"valid"`
	Root     string  `json:"root"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
}

// Ledger is the subset of the allocation ledger the doctor reads.
type Ledger interface {
	List(ctx context.Context, filter storage.ListFilter) ([]storage.Entry, error)
}

// Doctor checks one artifacts tree.
type Doctor struct {
	cfg       *config.Config
	locks     *lock.Manager
	ledger    Ledger
	manifests *manifest.Store
	fsCheck   func(string) error
}

// Option customizes a Doctor.
type Option func(*Doctor)

// WithLedger enables fingerprint verification against l.
func WithLedger(l Ledger) Option {
	return func(d *Doctor) { d.ledger = l }
}

// WithLockManager overrides the lock manager used to inspect the cleanup lock.
func WithLockManager(m *lock.Manager) Option {
	return func(d *Doctor) { d.locks = m }
}

// WithFilesystemCheck overrides the local-filesystem check.
func WithFilesystemCheck(check func(string) error) Option {
	return func(d *Doctor) { d.fsCheck = check }
}

// New creates a Doctor for cfg.
func New(cfg *config.Config, opts ...Option) (*Doctor, error) {
	d := &Doctor{
		cfg:       cfg,
		manifests: manifest.NewStore(),
		fsCheck:   storage.CheckLocalFilesystem,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.locks == nil {
		m, err := lock.New(cfg.LockPath())
		if err != nil {
			return nil, err
		}
		d.locks = m
	}
	return d, nil
}

// Check runs every check and returns the result.
func (d *Doctor) Check(ctx context.Context) *Result {
	r := &Result{Root: d.cfg.ArtifactsRoot}

	if d.checkLayout(r) {
		d.checkFilesystem(r)
		d.checkLock(r)
		d.checkManifests(r)
		d.checkLedger(ctx, r)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, path, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Path: path, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, path, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Path: path, Message: msg})
}

// checkLayout reports whether the root exists so the remaining checks can run.
func (d *Doctor) checkLayout(r *Result) bool {
	root := d.cfg.ArtifactsRoot
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		d.addError(r, "layout", root, "artifacts root does not exist; run `pathwarden setup`")
		return false
	}

	for _, t := range artifact.Types {
		dir := d.cfg.TypeDir(t)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.addWarning(r, "layout", dir, fmt.Sprintf("%s directory missing; run `pathwarden setup`", t))
		}
	}
	if _, err := os.Stat(filepath.Join(root, workspace.IgnoreMarker)); err != nil {
		d.addWarning(r, "layout", root, "ignore marker missing; generated output may be committed")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		d.addError(r, "layout", root, fmt.Sprintf("read artifacts root: %v", err))
		return false
	}
	ledgerPath := filepath.Clean(d.cfg.LedgerPath())
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.Name() == workspace.IgnoreMarker || strings.HasPrefix(path, ledgerPath) {
			continue
		}
		if entry.IsDir() && artifact.Type(entry.Name()).Valid() {
			continue
		}
		d.addWarning(r, "layout", path, "entry is not a known artifact type; nothing will clean it up")
	}
	return true
}

func (d *Doctor) checkFilesystem(r *Result) {
	err := d.fsCheck(d.cfg.ArtifactsRoot)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNetworkFilesystem):
		d.addError(r, "filesystem", d.cfg.ArtifactsRoot, err.Error())
	default:
		d.addWarning(r, "filesystem", d.cfg.ArtifactsRoot, fmt.Sprintf("could not determine filesystem type: %v", err))
	}
}

func (d *Doctor) checkLock(r *Result) {
	state, err := d.locks.Inspect()
	path := d.locks.Path()
	switch {
	case err != nil:
		d.addWarning(r, "lock", path, fmt.Sprintf("cleanup lock unreadable; next cleanup will replace it: %v", err))
	case !state.Exists:
	case state.Malformed:
		d.addWarning(r, "lock", path, "cleanup lock is malformed; next cleanup will replace it")
	case state.Alive:
		d.addWarning(r, "lock", path, fmt.Sprintf("cleanup in progress (pid=%d)", state.PID))
	default:
		d.addWarning(r, "lock", path, fmt.Sprintf("stale cleanup lock from dead pid %d; next cleanup will replace it", state.PID))
	}
}

func (d *Doctor) checkManifests(r *Result) {
	for _, t := range artifact.Types {
		if t == artifact.TypeTmp {
			continue
		}
		typeDir := d.cfg.TypeDir(t)
		entries, err := os.ReadDir(typeDir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			d.addError(r, "manifest", typeDir, fmt.Sprintf("read directory: %v", err))
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(typeDir, entry.Name())
			if !entry.IsDir() {
				d.addWarning(r, "layout", path, "stray file in a type directory; write inside an allocated directory")
				continue
			}
			m, err := d.manifests.Read(path)
			switch {
			case errors.Is(err, artifact.ErrManifestMissing):
				d.addWarning(r, "manifest", path, "no manifest; retention falls back to directory age")
			case errors.Is(err, artifact.ErrManifestCorrupt):
				d.addWarning(r, "manifest", path, fmt.Sprintf("manifest corrupt; retention falls back to directory age: %v", err))
			}
			if m.Created.IsZero() {
				d.addError(r, "manifest", path, "age unknown; cleanup will never remove this directory")
			}
		}
	}
}

func (d *Doctor) checkLedger(ctx context.Context, r *Result) {
	if d.ledger == nil {
		return
	}
	entries, err := d.ledger.List(ctx, storage.ListFilter{})
	if err != nil {
		d.addError(r, "ledger", d.cfg.LedgerPath(), fmt.Sprintf("list allocations: %v", err))
		return
	}
	for _, e := range entries {
		if e.Type == artifact.TypeTmp {
			continue
		}
		if _, err := os.Stat(e.Dir); errors.Is(err, fs.ErrNotExist) {
			d.addWarning(r, "ledger", e.Dir, "recorded allocation no longer exists on disk")
			continue
		}
		fp, err := manifest.FingerprintFile(e.Dir)
		if err != nil {
			d.addWarning(r, "integrity", e.Dir, fmt.Sprintf("cannot fingerprint manifest: %v", err))
			continue
		}
		if fp != e.Fingerprint {
			d.addError(r, "integrity", e.Dir, "manifest changed since allocation")
		}
	}
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Artifacts tree %s healthy.\n", r.Root)
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "Artifacts tree %s healthy (%d warning(s))\n", r.Root, len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Artifacts tree %s has problems (%d error(s), %d warning(s))\n", r.Root, len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Path != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Path, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
