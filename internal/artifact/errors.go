package artifact

import "errors"

var (
	// ErrInvalidArtifactType is returned when a category outside Types is requested.
	ErrInvalidArtifactType = errors.New("invalid artifact type")
	// ErrPathViolation marks a write attempted outside the canonical structure.
	ErrPathViolation = errors.New("path violation")
	// ErrLockHeld means another live process owns the cleanup lock.
	ErrLockHeld = errors.New("cleanup lock held")
	// ErrManifestCorrupt means manifest.json exists but could not be decoded.
	ErrManifestCorrupt = errors.New("manifest corrupt")
	// ErrManifestMissing means the directory has no readable manifest.json.
	ErrManifestMissing = errors.New("manifest missing")
)

// Remediation is appended to every rejection so callers know how to get a
// compliant path.
const Remediation = "allocate an output directory with `pathwarden create <type> <context>` (or workspace.Allocator.Allocate) and write inside it"
