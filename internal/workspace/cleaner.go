package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/lock"
	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/manifest"
)

const day = 24 * time.Hour

// Cleaner removes expired canonical directories and empties the tmp
// category. Passes are serialized across processes by the cleanup lock.
type Cleaner struct {
	root      string
	locks     *lock.Manager
	manifests *manifest.Store
	recorder  Recorder
	retention map[artifact.Type]int
	now       func() time.Time
	logger    *slog.Logger
}

// CleanerOption customizes a Cleaner during construction.
type CleanerOption func(*Cleaner)

// WithCleanerRecorder sets where removals are reported.
func WithCleanerRecorder(r Recorder) CleanerOption {
	return func(c *Cleaner) { c.recorder = r }
}

// WithCleanerRetention sets per-type windows used when a manifest carries
// none.
func WithCleanerRetention(days map[artifact.Type]int) CleanerOption {
	return func(c *Cleaner) { c.retention = days }
}

// WithCleanerClock overrides the clock used to age directories.
func WithCleanerClock(clock func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = clock }
}

// WithCleanerLogger sets the logger.
func WithCleanerLogger(l *slog.Logger) CleanerOption {
	return func(c *Cleaner) { c.logger = l }
}

// NewCleaner builds a cleaner for root guarded by locks.
func NewCleaner(root string, locks *lock.Manager, opts ...CleanerOption) (*Cleaner, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("artifacts root is empty")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager is nil")
	}
	c := &Cleaner{
		root:      filepath.Clean(trimmed),
		locks:     locks,
		manifests: manifest.NewStore(),
		recorder:  NewMemoryRecorder(),
		now:       time.Now,
		logger:    log.WithComponent("cleaner"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cleanup runs one pass. If another live process holds the lock the error
// wraps artifact.ErrLockHeld and nothing is touched. Failures on individual
// directories are collected and returned together once the pass finishes.
func (c *Cleaner) Cleanup(ctx context.Context, opts CleanupOptions) (report CleanupReport, err error) {
	if opts.Type != "" && !opts.Type.Valid() {
		return report, fmt.Errorf("%w: %q", artifact.ErrInvalidArtifactType, string(opts.Type))
	}
	defaultDays := opts.DefaultRetentionDays
	if defaultDays <= 0 {
		defaultDays = manifest.DefaultRetentionDays
	}

	held, err := c.locks.Acquire()
	if err != nil {
		return report, err
	}
	defer func() {
		if rerr := held.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release cleanup lock: %w", rerr))
		}
	}()

	report.RunID = uuid.NewString()
	logger := c.logger.With("run_id", report.RunID)
	logger.Info("cleanup started", "root", c.root, "type", string(opts.Type), "default_retention_days", defaultDays)

	var errs []error
	for _, t := range artifact.Types {
		if t == artifact.TypeTmp || (opts.Type != "" && opts.Type != t) {
			continue
		}
		if err := c.expire(ctx, logger, t, defaultDays, &report, &errs); err != nil {
			return report, errors.Join(append(errs, err)...)
		}
	}
	if err := c.clearTmp(ctx, logger, &report, &errs); err != nil {
		return report, errors.Join(append(errs, err)...)
	}

	logger.Info("cleanup finished",
		"expired", report.Expired, "tmp_cleared", report.TmpCleared, "skipped", len(report.Skipped), "errors", len(errs))
	return report, errors.Join(errs...)
}

// expire removes directories of type t older than their retention window.
// The returned error is fatal to the pass; per-directory failures go to errs.
func (c *Cleaner) expire(ctx context.Context, logger *slog.Logger, t artifact.Type, defaultDays int, report *CleanupReport, errs *[]error) error {
	typeDir := filepath.Join(c.root, string(t))
	entries, err := os.ReadDir(typeDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		*errs = append(*errs, fmt.Errorf("read %s: %w", typeDir, err))
		return nil
	}

	now := c.now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(typeDir, entry.Name())

		m, readErr := c.manifests.Read(dir)
		if readErr != nil {
			logger.Debug("manifest unavailable, using fallback", "dir", dir, "error", readErr)
		}
		if m.Created.IsZero() {
			logger.Warn("skipping directory with unknown age", "dir", dir)
			report.Skipped = append(report.Skipped, dir)
			continue
		}

		days := c.effectiveRetention(t, m.RetentionDays, defaultDays)
		if m.Age(now) <= time.Duration(days)*day {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			*errs = append(*errs, fmt.Errorf("remove expired %s: %w", dir, err))
			continue
		}
		report.Expired++
		report.Removed = append(report.Removed, dir)
		c.record(ctx, logger, Removal{RunID: report.RunID, Type: t, Dir: dir, Reason: ReasonExpired, At: now})
		logger.Info("removed expired directory", "dir", dir, "age", m.Age(now).Round(time.Second).String(), "retention_days", days)
	}
	return nil
}

// clearTmp empties the tmp category, keeping only the lock file.
func (c *Cleaner) clearTmp(ctx context.Context, logger *slog.Logger, report *CleanupReport, errs *[]error) error {
	tmpDir := filepath.Join(c.root, string(artifact.TypeTmp))
	entries, err := os.ReadDir(tmpDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		*errs = append(*errs, fmt.Errorf("read %s: %w", tmpDir, err))
		return nil
	}

	lockPath := filepath.Clean(c.locks.Path())
	now := c.now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(tmpDir, entry.Name())
		if path == lockPath {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			*errs = append(*errs, fmt.Errorf("clear tmp entry %s: %w", path, err))
			continue
		}
		report.TmpCleared++
		report.Removed = append(report.Removed, path)
		c.record(ctx, logger, Removal{RunID: report.RunID, Type: artifact.TypeTmp, Dir: path, Reason: ReasonTmp, At: now})
	}
	return nil
}

func (c *Cleaner) effectiveRetention(t artifact.Type, manifestDays, defaultDays int) int {
	if manifestDays > 0 {
		return manifestDays
	}
	if days := c.retention[t]; days > 0 {
		return days
	}
	return defaultDays
}

func (c *Cleaner) record(ctx context.Context, logger *slog.Logger, r Removal) {
	if err := c.recorder.RecordRemoval(ctx, r); err != nil {
		logger.Warn("failed to record removal", "dir", r.Dir, "error", err)
	}
}
