// Package sprawl audits a tree for artifact directories living outside the
// canonical artifacts root.
package sprawl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/vcs"
)

// Ignorer reports whether a path is explicitly excluded, typically by
// version control ignore rules.
type Ignorer interface {
	IsIgnored(ctx context.Context, path string) bool
}

// Report is the outcome of one scan.
type Report struct {
	Root      string
	Compliant bool
	Offending []string
}

// Detector flags directories named like the artifacts root anywhere but
// at the canonical location.
type Detector struct {
	canonical string
	name      string
	ignorer   Ignorer
	logger    *slog.Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithIgnorer overrides the ignore check.
func WithIgnorer(i Ignorer) Option {
	return func(d *Detector) { d.ignorer = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector builds a detector for the canonical artifacts root. By
// default ignore rules come from git, evaluated in the scanned tree.
func NewDetector(artifactsRoot string, opts ...Option) (*Detector, error) {
	abs, err := filepath.Abs(artifactsRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts root: %w", err)
	}
	d := &Detector{
		canonical: abs,
		name:      filepath.Base(abs),
		logger:    log.WithComponent("sprawl"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Scan walks root. The canonical root and .git directories are never
// descended into; an offending directory is recorded once and its
// contents skipped.
func (d *Detector) Scan(ctx context.Context, root string) (Report, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Report{}, fmt.Errorf("resolve scan root: %w", err)
	}
	ignorer := d.ignorer
	if ignorer == nil {
		ignorer = vcs.NewRepository(absRoot)
	}

	report := Report{Root: absRoot}
	walkErr := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			d.logger.Debug("skipping unreadable entry", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path == d.canonical {
			return filepath.SkipDir
		}
		if entry.Name() == ".git" {
			return filepath.SkipDir
		}
		if entry.Name() != d.name || path == absRoot {
			return nil
		}
		if ignorer.IsIgnored(ctx, path) {
			d.logger.Debug("ignored artifact-like directory", "path", path)
			return filepath.SkipDir
		}
		report.Offending = append(report.Offending, path)
		return filepath.SkipDir
	})
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipDir) {
		return report, fmt.Errorf("scan %s: %w", absRoot, walkErr)
	}

	report.Compliant = len(report.Offending) == 0
	return report, nil
}
