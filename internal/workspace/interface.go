// Package workspace owns the canonical artifacts tree: it allocates
// provenance-stamped output directories and reclaims them once their
// retention window has passed.
package workspace

import (
	"context"
	"time"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/manifest"
)

// Allocation describes a freshly created canonical directory.
type Allocation struct {
	Type        artifact.Type
	Dir         string
	Manifest    manifest.Manifest
	Fingerprint string
}

// RemovalReason says why the cleaner deleted a directory.
type RemovalReason string

const (
	ReasonExpired RemovalReason = "expired"
	ReasonTmp     RemovalReason = "tmp"
)

// Removal records a directory reclaimed by a cleanup run.
type Removal struct {
	RunID  string
	Type   artifact.Type
	Dir    string
	Reason RemovalReason
	At     time.Time
}

// Recorder receives allocation and removal events. The allocator and
// cleaner treat recorder failures as warnings; the filesystem stays the
// source of truth.
type Recorder interface {
	RecordAllocation(ctx context.Context, a Allocation) error
	RecordRemoval(ctx context.Context, r Removal) error
}

// CleanupOptions tunes a single cleanup pass.
type CleanupOptions struct {
	// DefaultRetentionDays applies when neither the manifest nor a
	// per-type override sets a window. Non-positive means 7.
	DefaultRetentionDays int
	// Type restricts expiry to one category. The tmp category is emptied
	// regardless.
	Type artifact.Type
}

// CleanupReport summarizes a cleanup pass.
type CleanupReport struct {
	RunID      string
	Expired    int
	TmpCleared int
	// Skipped lists directories left alone because their age could not be
	// established.
	Skipped []string
	Removed []string
}

// Total is the number of directories removed.
func (r CleanupReport) Total() int {
	return r.Expired + r.TmpCleared
}
