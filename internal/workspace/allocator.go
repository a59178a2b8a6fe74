package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/manifest"
	"github.com/mattjoyce/pathwarden/internal/validator"
)

// Allocator creates canonical output directories under a single
// artifacts root.
type Allocator struct {
	root      string
	identity  artifact.Identity
	manifests *manifest.Store
	recorder  Recorder
	validator *validator.Validator
	retention map[artifact.Type]int
	now       func() time.Time
	logger    *slog.Logger
}

// AllocatorOption customizes an Allocator during construction.
type AllocatorOption func(*Allocator)

// WithManifestStore overrides the manifest store.
func WithManifestStore(s *manifest.Store) AllocatorOption {
	return func(a *Allocator) { a.manifests = s }
}

// WithRecorder sets where allocations are reported.
func WithRecorder(r Recorder) AllocatorOption {
	return func(a *Allocator) { a.recorder = r }
}

// WithValidator sets the validator used for the post-allocation check.
func WithValidator(v *validator.Validator) AllocatorOption {
	return func(a *Allocator) { a.validator = v }
}

// WithTypeRetention sets per-type retention windows stamped into new
// manifests when the caller does not pass one.
func WithTypeRetention(days map[artifact.Type]int) AllocatorOption {
	return func(a *Allocator) { a.retention = days }
}

// WithAllocatorClock overrides the clock used for directory timestamps and,
// unless a store is supplied, manifest creation times.
func WithAllocatorClock(clock func() time.Time) AllocatorOption {
	return func(a *Allocator) { a.now = clock }
}

// WithAllocatorLogger sets the logger.
func WithAllocatorLogger(l *slog.Logger) AllocatorOption {
	return func(a *Allocator) { a.logger = l }
}

// NewAllocator builds an allocator for root stamping directories with id.
func NewAllocator(root string, id artifact.Identity, opts ...AllocatorOption) (*Allocator, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("artifacts root is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts root: %w", err)
	}

	a := &Allocator{
		root:     abs,
		identity: id,
		recorder: NewMemoryRecorder(),
		now:      time.Now,
		logger:   log.WithComponent("allocator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.manifests == nil {
		a.manifests = manifest.NewStore(manifest.WithClock(a.now))
	}
	if a.validator == nil {
		a.validator = validator.New(a.root, filepath.Dir(a.root))
	}
	return a, nil
}

// Root returns the absolute artifacts root.
func (a *Allocator) Root() string { return a.root }

// Recorder returns the recorder allocations are reported to.
func (a *Allocator) Recorder() Recorder { return a.recorder }

type allocateConfig struct {
	retentionDays int
	description   string
}

// AllocateOption customizes a single allocation.
type AllocateOption func(*allocateConfig)

// WithRetention stores days as the directory's retention window.
func WithRetention(days int) AllocateOption {
	return func(c *allocateConfig) { c.retentionDays = days }
}

// WithDescription overrides the manifest description, which defaults to
// the unsanitized context label.
func WithDescription(desc string) AllocateOption {
	return func(c *allocateConfig) { c.description = desc }
}

// Allocate creates <root>/<type>/<dir-id>, writes its manifest and
// reports the allocation. Two calls with the same label in the same
// process within one second resolve to the same directory; the second
// manifest replaces the first.
func (a *Allocator) Allocate(ctx context.Context, t artifact.Type, label string, opts ...AllocateOption) (Allocation, error) {
	if err := ctx.Err(); err != nil {
		return Allocation{}, err
	}
	if !t.Valid() {
		return Allocation{}, fmt.Errorf("%w: %q", artifact.ErrInvalidArtifactType, string(t))
	}

	cfg := allocateConfig{
		retentionDays: a.retention[t],
		description:   label,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	typeDir := filepath.Join(a.root, string(t))
	dir := filepath.Join(typeDir, artifact.DirID(label, a.identity, a.now()))
	if filepath.Dir(dir) != typeDir {
		return Allocation{}, fmt.Errorf("%w: directory id for %s escapes %s",
			artifact.ErrPathViolation, dir, typeDir)
	}
	if verdict := a.validator.Classify(dir); !verdict.Valid {
		return Allocation{}, fmt.Errorf("%w: allocated %s rejected by %s: %s",
			artifact.ErrPathViolation, dir, verdict.Rule, verdict.Reason)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Allocation{}, fmt.Errorf("create %s directory: %w", t, err)
	}

	m, fingerprint, err := a.manifests.Write(dir, a.identity, cfg.retentionDays, cfg.description)
	if err != nil {
		return Allocation{}, err
	}

	alloc := Allocation{Type: t, Dir: dir, Manifest: m, Fingerprint: fingerprint}
	if err := a.recorder.RecordAllocation(ctx, alloc); err != nil {
		a.logger.Warn("failed to record allocation", "dir", dir, "error", err)
	}
	a.logger.Debug("allocated directory", "type", string(t), "dir", dir, "retention_days", m.RetentionDays)
	return alloc, nil
}
